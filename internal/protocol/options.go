package protocol

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Sort orders accepted by the compute unit.
const (
	SortAscending  = "ASC"
	SortDescending = "DESC"
)

// ResultsOptions is the typed view of the free-form results options map.
// Keys it does not recognise are kept in Extra and forwarded verbatim.
type ResultsOptions struct {
	Sort  string         `mapstructure:"sort"`
	Limit int            `mapstructure:"limit"`
	From  string         `mapstructure:"from"`
	To    string         `mapstructure:"to"`
	Extra map[string]any `mapstructure:",remain"`
}

// ParseResultsOptions decodes and normalizes a results options map.
func ParseResultsOptions(raw map[string]any) (*ResultsOptions, error) {
	opts := &ResultsOptions{}
	if len(raw) == 0 {
		return opts, nil
	}

	if v, ok := raw["limit"].(float64); ok && v != math.Trunc(v) {
		return nil, fmt.Errorf("limit must be a positive integer, got %v", v)
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           opts,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, err
	}

	if opts.Sort != "" {
		s, err := normalizeSort(opts.Sort)
		if err != nil {
			return nil, err
		}
		opts.Sort = s
	}
	if _, set := raw["limit"]; set && opts.Limit <= 0 {
		return nil, fmt.Errorf("limit must be a positive integer, got %d", opts.Limit)
	}
	return opts, nil
}

func normalizeSort(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "asc", "ascending":
		return SortAscending, nil
	case "desc", "descending":
		return SortDescending, nil
	default:
		return "", fmt.Errorf("sort must be ascending or descending, got %q", s)
	}
}

// Query flattens the options into compute unit query parameters.
// Extra keys are emitted in sorted order after the recognised ones.
func (o *ResultsOptions) Query() [][2]string {
	var out [][2]string
	if o == nil {
		return out
	}
	if o.From != "" {
		out = append(out, [2]string{"from", o.From})
	}
	if o.To != "" {
		out = append(out, [2]string{"to", o.To})
	}
	if o.Sort != "" {
		out = append(out, [2]string{"sort", o.Sort})
	}
	if o.Limit > 0 {
		out = append(out, [2]string{"limit", strconv.Itoa(o.Limit)})
	}

	keys := make([]string, 0, len(o.Extra))
	for k := range o.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, [2]string{k, fmt.Sprint(o.Extra[k])})
	}
	return out
}

// Map converts the options back into the loose map form carried by Command.
func (o *ResultsOptions) Map() map[string]any {
	if o == nil {
		return nil
	}
	m := make(map[string]any, len(o.Extra)+4)
	for k, v := range o.Extra {
		m[k] = v
	}
	if o.Sort != "" {
		m["sort"] = o.Sort
	}
	if o.Limit > 0 {
		m["limit"] = o.Limit
	}
	if o.From != "" {
		m["from"] = o.From
	}
	if o.To != "" {
		m["to"] = o.To
	}
	if len(m) == 0 {
		return nil
	}
	return m
}
