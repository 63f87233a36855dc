// Package selectors holds the versioned table of DOM queries for the target
// site. The site changes its markup often, so the table can be refreshed from a
// remote endpoint and patched at runtime without a new release.
package selectors

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/buger/jsonparser"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Table maps a dotted logical key (video.repostButton) to candidate selectors
// in priority order.
type Table map[string][]string

// Clone returns a deep copy of t.
func (t Table) Clone() Table {
	out := make(Table, len(t))
	for k, v := range t {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Keys returns the table keys in sorted order.
func (t Table) Keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot is an immutable, versioned table. Readers hold a *Snapshot and
// never observe a partially applied update.
type Snapshot struct {
	SchemaVersion int       `json:"schema_version"`
	Version       string    `json:"version"`
	UpdatedAt     time.Time `json:"updated_at"`
	Selectors     Table     `json:"selectors"`
}

type yamlDocument struct {
	SchemaVersion int            `yaml:"schema_version"`
	Version       string         `yaml:"version"`
	UpdatedAt     string         `yaml:"updated_at"`
	Selectors     map[string]any `yaml:"selectors"`
}

// Default returns the table bundled with the binary.
func Default() *Snapshot {
	snap, err := ParseYAML(defaultsYAML)
	if err != nil {
		// The embedded file is part of the build; a parse failure is a programming error.
		panic(fmt.Sprintf("selectors: bundled defaults: %v", err))
	}
	return snap
}

// ParseYAML decodes a YAML selector document with nested keys.
func ParseYAML(data []byte) (*Snapshot, error) {
	var doc yamlDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse selector yaml: %w", err)
	}

	table := make(Table)
	if err := flattenTree("", doc.Selectors, table); err != nil {
		return nil, err
	}

	snap := &Snapshot{
		SchemaVersion: doc.SchemaVersion,
		Version:       doc.Version,
		Selectors:     table,
	}
	if doc.UpdatedAt != "" {
		if t, err := time.Parse(time.RFC3339, doc.UpdatedAt); err == nil {
			snap.UpdatedAt = t
		}
	}
	return snap, nil
}

func flattenTree(prefix string, node map[string]any, out Table) error {
	for k, v := range node {
		key := joinKey(prefix, k)
		switch val := v.(type) {
		case string:
			out[key] = []string{val}
		case []any:
			list := make([]string, 0, len(val))
			for _, item := range val {
				s, ok := item.(string)
				if !ok {
					return fmt.Errorf("selector %s: list item is %T, want string", key, item)
				}
				list = append(list, s)
			}
			out[key] = list
		case map[string]any:
			if err := flattenTree(key, val, out); err != nil {
				return err
			}
		default:
			return fmt.Errorf("selector %s: unsupported value type %T", key, v)
		}
	}
	return nil
}

// ParseRemote decodes the remote payload
// {schema_version, version, updated_at, selectors: {...nested keys...}}.
func ParseRemote(data []byte) (*Snapshot, error) {
	snap := &Snapshot{Selectors: make(Table)}

	if v, err := jsonparser.GetInt(data, "schema_version"); err == nil {
		snap.SchemaVersion = int(v)
	}
	if v, err := jsonparser.GetString(data, "version"); err == nil {
		snap.Version = v
	} else if n, err := jsonparser.GetInt(data, "version"); err == nil {
		snap.Version = fmt.Sprint(n)
	}
	if v, err := jsonparser.GetString(data, "updated_at"); err == nil {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			snap.UpdatedAt = t
		}
	}

	raw, dataType, _, err := jsonparser.Get(data, "selectors")
	if err != nil {
		return nil, fmt.Errorf("remote selectors: %w", err)
	}
	if dataType != jsonparser.Object {
		return nil, fmt.Errorf("remote selectors: expected object, got %s", dataType)
	}
	if err := flattenJSON("", raw, snap.Selectors); err != nil {
		return nil, err
	}
	if len(snap.Selectors) == 0 {
		return nil, fmt.Errorf("remote selectors: table is empty")
	}
	return snap, nil
}

// ParseVersion decodes the lightweight version-check payload.
func ParseVersion(data []byte) (string, error) {
	if v, err := jsonparser.GetString(data, "version"); err == nil {
		return v, nil
	}
	n, err := jsonparser.GetInt(data, "version")
	if err != nil {
		return "", fmt.Errorf("version payload: %w", err)
	}
	return fmt.Sprint(n), nil
}

func flattenJSON(prefix string, obj []byte, out Table) error {
	return jsonparser.ObjectEach(obj, func(k []byte, value []byte, dataType jsonparser.ValueType, _ int) error {
		key := joinKey(prefix, string(k))
		switch dataType {
		case jsonparser.String:
			s, err := jsonparser.ParseString(value)
			if err != nil {
				return fmt.Errorf("selector %s: %w", key, err)
			}
			out[key] = []string{s}
		case jsonparser.Array:
			var list []string
			var itemErr error
			_, err := jsonparser.ArrayEach(value, func(item []byte, t jsonparser.ValueType, _ int, _ error) {
				if t != jsonparser.String {
					itemErr = fmt.Errorf("selector %s: list item is %s, want string", key, t)
					return
				}
				s, err := jsonparser.ParseString(item)
				if err != nil {
					itemErr = err
					return
				}
				list = append(list, s)
			})
			if err != nil {
				return fmt.Errorf("selector %s: %w", key, err)
			}
			if itemErr != nil {
				return itemErr
			}
			out[key] = list
		case jsonparser.Object:
			return flattenJSON(key, value, out)
		default:
			return fmt.Errorf("selector %s: unsupported value type %s", key, dataType)
		}
		return nil
	})
}

func joinKey(prefix, k string) string {
	if prefix == "" {
		return k
	}
	return prefix + "." + k
}

// normalize drops blank candidates and surrounding whitespace.
func normalize(list []string) []string {
	out := list[:0:0]
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
