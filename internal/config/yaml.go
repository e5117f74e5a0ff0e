package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// decodeFileBytes returns the config file contents as JSON bytes. Files
// with a .yaml/.yml extension are converted first; everything else is
// assumed to already be JSON. Both formats then flow through the one
// strict decoder in Load, so unknown keys in a YAML config are rejected
// exactly like unknown keys in a JSON one.
func decodeFileBytes(path string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return data, nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	j, err := json.Marshal(stringifyKeys(doc))
	if err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	return j, nil
}

// stringifyKeys rewrites nested map keys to strings. yaml/v3 decodes some
// mappings as map[any]any, which json.Marshal refuses.
func stringifyKeys(v any) any {
	switch x := v.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, val := range x {
			m[fmt.Sprint(k)] = stringifyKeys(val)
		}
		return m
	case map[string]any:
		for k, val := range x {
			x[k] = stringifyKeys(val)
		}
		return x
	case []any:
		for i := range x {
			x[i] = stringifyKeys(x[i])
		}
		return x
	default:
		return v
	}
}
