package protocol

import (
	"bytes"
	"strings"
	"testing"
)

func TestEncodeCommand(t *testing.T) {
	tests := []struct {
		name    string
		cmd     *Command
		wantErr string
		checkFn func(t *testing.T, output string)
	}{
		{
			name: "spawn with ordered tags",
			cmd: &Command{
				Command: CommandSpawn,
				JWKPath: "wallet.json",
				Source:  "JArYBF-D8q2OmZ4Mok00sD2Y_6SYEQ7Hjx-6VZ_jl3g",
				Tags: []Tag{
					{Name: "Authority", Value: "fcoN_xJeisVsPXA-trzVAuIiqO3ydLQxM-L4XbrQKzY"},
					{Name: "Another-Tag", Value: "another-value"},
				},
			},
			checkFn: func(t *testing.T, output string) {
				if !strings.Contains(output, `"command":"spawn"`) {
					t.Error("missing command field")
				}
				if !strings.Contains(output, `"jwkPath":"wallet.json"`) {
					t.Error("missing jwkPath field")
				}
				first := strings.Index(output, "Authority")
				second := strings.Index(output, "Another-Tag")
				if first < 0 || second < 0 || first > second {
					t.Errorf("tag order not preserved: %s", output)
				}
			},
		},
		{
			name: "create_wallet carries no arguments",
			cmd:  &Command{Command: CommandCreateWallet},
			checkFn: func(t *testing.T, output string) {
				if output != `{"command":"create_wallet"}` {
					t.Errorf("unexpected encoding: %s", output)
				}
			},
		},
		{
			name:    "unknown command",
			cmd:     &Command{Command: "explode"},
			wantErr: "unknown command",
		},
		{
			name:    "message missing process and body",
			cmd:     &Command{Command: CommandMessage, JWKPath: "w.json"},
			wantErr: "missing required argument: processId, message",
		},
		{
			name:    "results rejects a source argument",
			cmd:     &Command{Command: CommandResults, ProcessID: "p", Source: "m"},
			wantErr: "unexpected argument: source",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := EncodeCommand(tt.cmd)
			if tt.wantErr != "" {
				if err == nil || err.Error() != tt.wantErr {
					t.Fatalf("EncodeCommand() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("EncodeCommand() unexpected error: %v", err)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, out)
			}
		})
	}
}

func TestDecodeCommand(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{name: "valid", input: `{"command":"results","processId":"p1","options":{"limit":5}}`},
		{name: "empty argument", input: "  ", wantErr: "no input JSON provided"},
		{name: "unknown key", input: `{"command":"results","processId":"p1","proccessId":"typo"}`, wantErr: "invalid command JSON"},
		{name: "not json", input: `{command`, wantErr: "invalid command JSON"},
		{name: "two objects", input: `{"command":"health"}{"command":"health"}`, wantErr: "trailing data"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := DecodeCommand(tt.input)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("DecodeCommand() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeCommand() unexpected error: %v", err)
			}
			if cmd.Command != CommandResults || cmd.ProcessID != "p1" {
				t.Errorf("decoded wrong command: %+v", cmd)
			}
		})
	}
}

func TestDecodeResult(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		checkFn func(t *testing.T, res *Result)
	}{
		{
			name:  "spawn success",
			input: `{"success":true,"processId":"abc"}` + "\n",
			checkFn: func(t *testing.T, res *Result) {
				if !res.Success || res.ProcessID != "abc" {
					t.Errorf("unexpected result: %+v", res)
				}
			},
		},
		{
			name:  "operation failure defaults kind",
			input: `{"success":false,"error":"process not found","stack":"Error: ..."}`,
			checkFn: func(t *testing.T, res *Result) {
				if res.Kind != KindOperation {
					t.Errorf("want kind=operation, got %q", res.Kind)
				}
				if res.Error != "process not found" {
					t.Errorf("want error message, got %q", res.Error)
				}
			},
		},
		{
			name:  "worker-reported invalid kind is kept",
			input: `{"success":false,"kind":"invalid","error":"unknown command"}`,
			checkFn: func(t *testing.T, res *Result) {
				if res.Kind != KindInvalid {
					t.Errorf("want kind=invalid, got %q", res.Kind)
				}
			},
		},
		{
			name:  "results page",
			input: `{"success":true,"results":{"edges":[{"cursor":"c1","node":{}},{"cursor":"c2","node":{}}]}}`,
			checkFn: func(t *testing.T, res *Result) {
				if len(res.Results.Edges) != 2 || res.Results.LastCursor() != "c2" {
					t.Errorf("edges not parsed: %+v", res.Results)
				}
			},
		},
		{name: "failure without message", input: `{"success":false}`, wantErr: true},
		{name: "object without success", input: `{"processId":"abc"}`, wantErr: true},
		{name: "truncated", input: `{"success":true,"processId":"ab`, wantErr: true},
		{name: "empty", input: ``, wantErr: true},
		{name: "plain text", input: `Error: Cannot find module '@permaweb/aoconnect'`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := DecodeResult([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeResult() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && tt.checkFn != nil {
				tt.checkFn(t, res)
			}
		})
	}
}

func TestEncodeResult(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeResult(&buf, &Result{Success: true, MessageID: "m1"}); err != nil {
		t.Fatalf("EncodeResult() error = %v", err)
	}
	if got := buf.String(); got != `{"success":true,"messageId":"m1"}`+"\n" {
		t.Errorf("unexpected encoding: %q", got)
	}

	if err := EncodeResult(&buf, &Result{Success: false}); err == nil {
		t.Error("expected error for failed result without message")
	}
}
