package credentials

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvMap is the credential mapping supplied through configuration. Explicit entries
// bind a resource id to its credential; Loose credentials carry no id and must be
// identified against the upstream.
type EnvMap struct {
	Explicit map[string]string
	Loose    []string
}

var entrySplitter = regexp.MustCompile(`[\n,]+`)

// entrySeparators are tried in order; the first one present in an entry wins.
var entrySeparators = []string{"|", ":", "="}

// ParseEnvMap parses the raw page-token setting. A value starting with "{" is a
// structured mapping (JSON or YAML flow style); anything else is a list of
// "id|token", "id:token" or "id=token" entries separated by newlines or commas, where
// entries without a separator are loose credentials.
func ParseEnvMap(raw string) (EnvMap, error) {
	out := EnvMap{Explicit: make(map[string]string)}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return out, nil
	}

	if strings.HasPrefix(raw, "{") {
		var structured map[string]any
		if err := yaml.Unmarshal([]byte(raw), &structured); err != nil {
			return out, fmt.Errorf("parse structured credential map: %w", err)
		}
		for id, value := range structured {
			id = strings.TrimSpace(id)
			token := strings.TrimSpace(fmt.Sprint(value))
			if id == "" || value == nil || token == "" {
				continue
			}
			out.Explicit[id] = token
		}
		return out, nil
	}

	for _, entry := range entrySplitter.Split(raw, -1) {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, token, ok := splitEntry(entry)
		if !ok {
			out.Loose = append(out.Loose, entry)
			continue
		}
		if id != "" && token != "" {
			out.Explicit[id] = token
		}
	}
	return out, nil
}

func splitEntry(entry string) (string, string, bool) {
	for _, sep := range entrySeparators {
		if id, token, found := strings.Cut(entry, sep); found {
			return strings.TrimSpace(id), strings.TrimSpace(token), true
		}
	}
	return "", "", false
}

// Merge overlays explicit entries on top of the parsed map.
func (m EnvMap) Merge(explicit map[string]string) EnvMap {
	merged := EnvMap{
		Explicit: make(map[string]string, len(m.Explicit)+len(explicit)),
		Loose:    append([]string(nil), m.Loose...),
	}
	for id, token := range m.Explicit {
		merged.Explicit[id] = token
	}
	for id, token := range explicit {
		id = strings.TrimSpace(id)
		token = strings.TrimSpace(token)
		if id != "" && token != "" {
			merged.Explicit[id] = token
		}
	}
	return merged
}

// Lookup returns the explicit credential for id.
func (m EnvMap) Lookup(id string) (string, bool) {
	token, ok := m.Explicit[strings.TrimSpace(id)]
	return token, ok && token != ""
}

// IDs returns the explicit resource ids in sorted order.
func (m EnvMap) IDs() []string {
	ids := make([]string, 0, len(m.Explicit))
	for id := range m.Explicit {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Empty reports whether the map carries no credentials at all.
func (m EnvMap) Empty() bool {
	return len(m.Explicit) == 0 && len(m.Loose) == 0
}
