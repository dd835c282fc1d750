package mcpserver

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cast"

	"curator/internal/etl"
)

func stdinReader() io.Reader { return os.Stdin }
func stdoutWriter() io.Writer { return os.Stdout }

// rawJSONArg returns an argument as JSON text. Clients send structured
// arguments either as a JSON string or as an already decoded value.
func rawJSONArg(args map[string]any, key string) ([]byte, bool, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, false, nil
	}
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, false, nil
		}
		return []byte(s), true, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", key, err)
	}
	return data, true, nil
}

// selectionArg parses an "ids" style argument into a selection. A missing
// argument is the empty selection.
func selectionArg(args map[string]any, key string) (etl.Selection, error) {
	data, ok, err := rawJSONArg(args, key)
	if err != nil || !ok {
		return etl.Selection{}, err
	}
	v, err := etl.Parse(data)
	if err != nil {
		return etl.Selection{}, fmt.Errorf("%s: %w", key, err)
	}
	if v.Kind() != etl.KindArray {
		return etl.Selection{}, fmt.Errorf("%s must be a JSON array of record ids", key)
	}
	return etl.SelectionFromValues(v.Items())
}

// stringListArg accepts a JSON array of strings or a comma-separated string.
func stringListArg(args map[string]any, key string) ([]string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, nil
	}
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if strings.HasPrefix(s, "[") {
			var out []string
			if err := json.Unmarshal([]byte(s), &out); err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			return out, nil
		}
		var out []string
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	}
	return cast.ToStringSliceE(v)
}

// intArg coerces numbers, numeric strings and missing values.
func intArg(args map[string]any, key string, def int) int {
	v, ok := args[key]
	if !ok || v == nil {
		return def
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return def
	}
	return n
}
