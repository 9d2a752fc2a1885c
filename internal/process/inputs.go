package process

import (
	"sort"
	"strings"

	"github.com/opencdms/opencdms-process/internal/core/model"
	"github.com/opencdms/opencdms-process/internal/filter"
)

var filterKeys = []string{filter.KeySrcID, filter.KeyStationID, filter.KeyPeriod, filter.KeyYear, filter.KeyElements}

// FilterInputs returns the observation filter carried by inputs and the
// inputs left over.
func FilterInputs(inputs map[string]any) (model.FilterSpec, map[string]any) {
	f := model.FilterSpec{}
	rest := map[string]any{}
	for k, v := range inputs {
		rest[k] = v
	}
	for _, k := range filterKeys {
		if v, ok := rest[k]; ok {
			f[k] = v
			delete(rest, k)
		}
	}
	return f, rest
}

// FilterSchema describes the filter inputs every archive-reading process takes.
func FilterSchema() map[string]Input {
	return map[string]Input{
		filter.KeySrcID: {
			Title:       "Source ID",
			Description: "Source ID of the observation data.",
			Schema:      map[string]any{"type": "integer"},
			MinOccurs:   0,
			MaxOccurs:   1,
			Keywords:    []string{"src_id", "midas-open"},
		},
		filter.KeyPeriod: {
			Title:       "Period",
			Description: "Period of the observation data.",
			Schema:      map[string]any{"type": "string", "enum": []string{"hourly", "daily", "monthly"}},
			MinOccurs:   0,
			MaxOccurs:   1,
			Keywords:    []string{"period", "midas-open"},
		},
		filter.KeyYear: {
			Title:       "Year",
			Description: "Year, or inclusive year range, of the observation data.",
			Schema:      map[string]any{"oneOf": []any{map[string]any{"type": "integer"}, map[string]any{"type": "string"}}},
			MinOccurs:   0,
			MaxOccurs:   1,
			Keywords:    []string{"year", "midas-open"},
		},
		filter.KeyElements: {
			Title:       "Elements",
			Description: "Elements of the observation data.",
			Schema:      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			MinOccurs:   0,
			MaxOccurs:   1,
			Keywords:    []string{"elements", "midas-open"},
		},
	}
}

func String(inputs map[string]any, key, def string) (string, error) {
	v, ok := inputs[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", InvalidInput("%s must be a string, got %T", key, v)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	return s, nil
}

func Bool(inputs map[string]any, key string, def bool) (bool, error) {
	v, ok := inputs[key]
	if !ok || v == nil {
		return def, nil
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no":
			return false, nil
		}
	}
	return false, InvalidInput("%s must be a boolean, got %v", key, v)
}

func Strings(inputs map[string]any, key string, def []string) ([]string, error) {
	v, ok := inputs[key]
	if !ok || v == nil {
		return def, nil
	}
	switch t := v.(type) {
	case string:
		return []string{t}, nil
	case []string:
		return t, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, it := range t {
			s, ok := it.(string)
			if !ok {
				return nil, InvalidInput("%s must be a list of strings, got item %T", key, it)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, InvalidInput("%s must be a list of strings, got %T", key, v)
}

// Unexpected reports leftover inputs a process does not know.
func Unexpected(rest map[string]any, known ...string) error {
	for _, k := range known {
		delete(rest, k)
	}
	if len(rest) == 0 {
		return nil
	}
	keys := make([]string, 0, len(rest))
	for k := range rest {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return InvalidInput("unknown inputs: %s", strings.Join(keys, ", "))
}
