package observe

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Preview truncation limits, in characters.
const (
	messagePreviewLen = 120
	textPreviewLen    = 200
)

// Observer logs request and response metadata without ever affecting the
// forwarding outcome. With body logging disabled only method/path/status/size
// lines are emitted and no payload is inspected.
type Observer struct {
	trace     *traceLog
	live      io.Writer
	logBodies bool
}

// New creates an Observer. Trace lines go to trace; incremental streamed
// model text goes raw and unframed to live.
func New(trace, live io.Writer, logBodies bool) *Observer {
	return &Observer{
		trace:     newTraceLog(trace),
		live:      live,
		logBodies: logBodies,
	}
}

// Request logs the inbound request summary and, when body logging is
// enabled, a structured preview of the JSON body. A body that is not a
// JSON object degrades to a single byte-count line; that is an
// informational branch, not an error.
func (o *Observer) Request(method, path string, body []byte) {
	o.trace.event(toneCyan, "REQUEST", method+" "+path)

	if !o.logBodies || len(body) == 0 {
		return
	}

	fields, ok := parseObject(body)
	if !ok {
		o.trace.event(toneDim, "BODY", fmt.Sprintf("%d bytes (not JSON)", len(body)))
		return
	}

	o.trace.event(toneCyan, "MODEL", stringField(fields, "model", "?"))

	if raw, present := fields["messages"]; present {
		var msgs []json.RawMessage
		if err := json.Unmarshal(raw, &msgs); err == nil {
			o.trace.event(toneCyan, "MESSAGES", fmt.Sprintf("%d message(s)", len(msgs)))
			tail := msgs
			if len(tail) > 3 {
				tail = tail[len(tail)-3:]
			}
			for _, m := range tail {
				role, preview := messagePreview(m)
				o.trace.event(toneDim, role, preview)
			}
		}
	}

	if truthy(fields["stream"]) {
		o.trace.event(toneYellow, "STREAM", "enabled")
	}
}

// Response logs the buffered response summary and, when body logging is
// enabled, text or error previews extracted from the JSON body. Unparseable
// bodies and absent fields are skipped silently.
func (o *Observer) Response(status int, body []byte) {
	o.trace.event(toneGreen, "RESPONSE", fmt.Sprintf("%d (%d bytes)", status, len(body)))

	if !o.logBodies || len(body) == 0 {
		return
	}

	fields, ok := parseObject(body)
	if !ok {
		return
	}

	if raw, present := fields["content"]; present {
		var blocks []json.RawMessage
		if err := json.Unmarshal(raw, &blocks); err != nil {
			return
		}
		for _, b := range blocks {
			block, ok := parseObject(b)
			if !ok {
				continue
			}
			if stringField(block, "type", "") != "text" {
				continue
			}
			o.trace.event(toneGreen, "TEXT", preview(stringField(block, "text", ""), textPreviewLen))
		}
		return
	}

	if raw, present := fields["error"]; present {
		o.trace.event(toneRed, "ERROR", string(raw))
	}
}

// parseObject is the explicit parse boundary of the observer: it reports
// whether b is a JSON object, with its fields kept raw for lenient
// per-field extraction.
func parseObject(b []byte) (map[string]json.RawMessage, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, false
	}
	if fields == nil { // JSON null
		return nil, false
	}
	return fields, true
}

// stringField extracts a string field, falling back when the field is
// absent or not a string.
func stringField(fields map[string]json.RawMessage, key, fallback string) string {
	raw, present := fields[key]
	if !present {
		return fallback
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return fallback
	}
	return s
}

// messagePreview extracts the role label and a content preview from one
// chat message. String content is truncated; structured content is
// summarized by block count.
func messagePreview(m json.RawMessage) (role, prev string) {
	msg, ok := parseObject(m)
	if !ok {
		return "?", ""
	}

	role = stringField(msg, "role", "?")

	raw, present := msg["content"]
	if !present {
		return role, ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return role, preview(s, messagePreviewLen)
	}

	var blocks []json.RawMessage
	if err := json.Unmarshal(raw, &blocks); err == nil {
		return role, fmt.Sprintf("[%d content blocks]", len(blocks))
	}
	return role, ""
}

// preview truncates s to at most n characters and flattens newlines so the
// result stays on one trace line.
func preview(s string, n int) string {
	runes := []rune(s)
	if len(runes) > n {
		s = string(runes[:n])
	}
	return strings.ReplaceAll(s, "\n", " ")
}

// truthy applies JSON truthiness to a raw field value: false, 0, "", null,
// empty array/object and absent fields are falsy, everything else is truthy.
func truthy(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case float64:
		return val != 0
	case string:
		return val != ""
	case []interface{}:
		return len(val) > 0
	case map[string]interface{}:
		return len(val) > 0
	default:
		return false
	}
}
