package pages

import (
	"encoding/json"

	"github.com/pagegate/pagegate/internal/core"
)

func encodeJSONField(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// fillSenderNames copies participant names onto messages whose sender carries only
// an id.
func fillSenderNames(thread map[string]any) {
	names := make(map[string]string)
	for _, participant := range dataList(thread["participants"]) {
		id := core.StringField(participant, "id")
		name := core.StringField(participant, "name")
		if id != "" && name != "" {
			names[id] = name
		}
	}
	if len(names) == 0 {
		return
	}

	for _, message := range dataList(thread["messages"]) {
		from, ok := message["from"].(map[string]any)
		if !ok {
			continue
		}
		id := core.StringField(from, "id")
		if id == "" || core.StringField(from, "name") != "" {
			continue
		}
		if name, found := names[id]; found {
			from["name"] = name
		}
	}
}

// dataList unwraps an upstream edge of the form {"data": [...]}.
func dataList(edge any) []map[string]any {
	wrapper, ok := edge.(map[string]any)
	if !ok {
		return nil
	}
	items, _ := wrapper["data"].([]any)
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if entry, ok := item.(map[string]any); ok {
			out = append(out, entry)
		}
	}
	return out
}
