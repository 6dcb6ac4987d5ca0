package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// EncodeCommand validates cmd and serializes it into the single worker argument.
func EncodeCommand(cmd *Command) (string, error) {
	if err := cmd.Validate(); err != nil {
		return "", err
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return "", fmt.Errorf("failed to encode command: %w", err)
	}
	return string(data), nil
}

// DecodeCommand parses the worker argument. Unknown keys are rejected so that
// argument-name drift between the two sides surfaces as an error.
func DecodeCommand(arg string) (*Command, error) {
	if strings.TrimSpace(arg) == "" {
		return nil, fmt.Errorf("no input JSON provided")
	}

	var cmd Command
	dec := json.NewDecoder(strings.NewReader(arg))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cmd); err != nil {
		return nil, fmt.Errorf("invalid command JSON: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("invalid command JSON: trailing data after command object")
	}
	return &cmd, nil
}

// EncodeResult writes res to w as a single JSON document.
func EncodeResult(w io.Writer, res *Result) error {
	if res == nil {
		return fmt.Errorf("result is nil")
	}
	if !res.Success && res.Error == "" {
		return fmt.Errorf("failed result requires an error message")
	}
	if err := json.NewEncoder(w).Encode(res); err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return nil
}

// DecodeResult parses worker stdout. On failure the raw bytes are returned
// alongside the error so callers can surface them.
func DecodeResult(data []byte) (*Result, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("worker produced no output on stdout")
	}

	var res Result
	if err := json.Unmarshal(trimmed, &res); err != nil {
		return nil, fmt.Errorf("worker output is not valid JSON: %w", err)
	}

	if !res.Success && res.Error == "" {
		return nil, fmt.Errorf("result has success=false but no error message")
	}
	if !res.Success && res.Kind == "" {
		res.Kind = KindOperation
	}
	return &res, nil
}
