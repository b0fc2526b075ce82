package orchestrator

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// PayloadKind discriminates the shapes a DONE task's result can take.
type PayloadKind int

const (
	PayloadAbsent PayloadKind = iota // field missing
	PayloadText                      // JSON string (may itself hold JSON)
	PayloadObject                    // JSON object
	PayloadOther                     // number, bool, array or null
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadText:
		return "text"
	case PayloadObject:
		return "object"
	case PayloadOther:
		return "other"
	default:
		return "absent"
	}
}

// ResultPayload is the decoded `result` field of a task status response.
// Text is set for PayloadText; Raw holds the original JSON for every kind
// except PayloadAbsent.
type ResultPayload struct {
	Kind PayloadKind
	Text string
	Raw  json.RawMessage
}

func (p *ResultPayload) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		*p = ResultPayload{Kind: PayloadAbsent}
		return nil
	}

	raw := append(json.RawMessage(nil), b...)
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("decode result text: %w", err)
		}
		*p = ResultPayload{Kind: PayloadText, Text: s, Raw: raw}
	case '{':
		*p = ResultPayload{Kind: PayloadObject, Raw: raw}
	default:
		*p = ResultPayload{Kind: PayloadOther, Raw: raw}
	}
	return nil
}

// TextPayload builds a PayloadText value, mostly for tests and fakes.
func TextPayload(s string) ResultPayload {
	raw, _ := json.Marshal(s)
	return ResultPayload{Kind: PayloadText, Text: s, Raw: raw}
}

// ObjectPayload builds a PayloadObject value from raw JSON.
func ObjectPayload(raw string) ResultPayload {
	return ResultPayload{Kind: PayloadObject, Raw: json.RawMessage(raw)}
}

// TaskResult is what gets delivered back to the chat.
type TaskResult struct {
	Message string
	Files   []string
}

// Normalize resolves a result payload into a TaskResult.
//
// Text holding a JSON object yields its message/files; any other text is
// the message verbatim. Objects yield message/files with the compact JSON
// of the whole object as the message fallback. Nothing here fails: a
// malformed payload degrades to its raw text.
func Normalize(p ResultPayload) (res TaskResult) {
	defer func() {
		if r := recover(); r != nil {
			res = TaskResult{Message: p.rawString()}
		}
	}()

	switch p.Kind {
	case PayloadAbsent:
		return TaskResult{}
	case PayloadText:
		obj, ok := decodeObject([]byte(p.Text))
		if !ok {
			return TaskResult{Message: p.Text}
		}
		return TaskResult{
			Message: stringField(obj, "message", p.Text),
			Files:   filesField(obj),
		}
	case PayloadObject:
		obj, ok := decodeObject(p.Raw)
		if !ok {
			return TaskResult{Message: p.rawString()}
		}
		return TaskResult{
			Message: stringField(obj, "message", compactJSON(p.Raw)),
			Files:   filesField(obj),
		}
	default:
		return TaskResult{Message: compactJSON(p.Raw)}
	}
}

func (p ResultPayload) rawString() string {
	if p.Kind == PayloadText {
		return p.Text
	}
	return string(p.Raw)
}

func decodeObject(b []byte) (map[string]json.RawMessage, bool) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '{' {
		return nil, false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// stringField returns obj[key] when it is a non-empty string, else fallback.
func stringField(obj map[string]json.RawMessage, key, fallback string) string {
	raw, ok := obj[key]
	if !ok {
		return fallback
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return fallback
	}
	return s
}

// filesField returns the string entries of obj["files"], skipping anything
// that is not a string.
func filesField(obj map[string]json.RawMessage) []string {
	raw, ok := obj["files"]
	if !ok {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	files := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil && s != "" {
			files = append(files, s)
		}
	}
	return files
}

func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
