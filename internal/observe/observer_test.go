package observe

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"
)

var testTime = time.Date(2025, 6, 1, 13, 4, 5, 7_000_000, time.UTC)

// newTestObserver returns an Observer writing to buffers, with a pinned
// clock. Buffers are not terminals, so lines come out uncolored.
func newTestObserver(logBodies bool) (*Observer, *bytes.Buffer, *bytes.Buffer) {
	trace := &bytes.Buffer{}
	live := &bytes.Buffer{}
	o := New(trace, live, logBodies)
	o.trace.now = func() time.Time { return testTime }
	return o, trace, live
}

// line renders one expected trace line for the pinned clock.
func line(label, msg string) string {
	return fmt.Sprintf("13:04:05.007 %10s  %s\n", label, msg)
}

func TestRequest_MethodPathOnly(t *testing.T) {
	o, trace, _ := newTestObserver(false)

	o.Request("POST", "/v1/messages", []byte(`{"model":"llama3"}`))

	want := line("REQUEST", "POST /v1/messages")
	if trace.String() != want {
		t.Errorf("trace = %q, want %q (no body inspection with logging disabled)", trace.String(), want)
	}
}

func TestRequest_NotJSON(t *testing.T) {
	o, trace, _ := newTestObserver(true)

	body := []byte("plain text payload")
	o.Request("POST", "/api/generate", body)

	want := line("REQUEST", "POST /api/generate") +
		line("BODY", fmt.Sprintf("%d bytes (not JSON)", len(body)))
	if trace.String() != want {
		t.Errorf("trace = %q, want %q", trace.String(), want)
	}
}

func TestRequest_NonObjectJSON(t *testing.T) {
	for _, body := range []string{`["a","b"]`, `null`, `42`, `"str"`} {
		o, trace, _ := newTestObserver(true)

		o.Request("POST", "/api/generate", []byte(body))

		want := line("REQUEST", "POST /api/generate") +
			line("BODY", fmt.Sprintf("%d bytes (not JSON)", len(body)))
		if trace.String() != want {
			t.Errorf("body %s: trace = %q, want %q", body, trace.String(), want)
		}
	}
}

func TestRequest_FullPreview(t *testing.T) {
	o, trace, _ := newTestObserver(true)

	longContent := strings.Repeat("A", 200)
	body := []byte(`{
		"model": "llama3:8b",
		"stream": true,
		"messages": [
			{"role": "system", "content": "be brief"},
			{"role": "user", "content": "one"},
			{"role": "assistant", "content": "two"},
			{"role": "user", "content": "line1\nline2"},
			{"role": "user", "content": "` + longContent + `"}
		]
	}`)

	o.Request("POST", "/v1/messages", body)

	want := line("REQUEST", "POST /v1/messages") +
		line("MODEL", "llama3:8b") +
		line("MESSAGES", "5 message(s)") +
		line("assistant", "two") +
		line("user", "line1 line2") +
		line("user", strings.Repeat("A", 120)) +
		line("STREAM", "enabled")
	if trace.String() != want {
		t.Errorf("trace = %q, want %q", trace.String(), want)
	}
}

func TestRequest_ContentBlocks(t *testing.T) {
	o, trace, _ := newTestObserver(true)

	body := []byte(`{
		"model": "llama3",
		"messages": [
			{"role": "user", "content": [{"type":"text","text":"hi"},{"type":"image","source":"..."}]}
		]
	}`)

	o.Request("POST", "/v1/messages", body)

	want := line("REQUEST", "POST /v1/messages") +
		line("MODEL", "llama3") +
		line("MESSAGES", "1 message(s)") +
		line("user", "[2 content blocks]")
	if trace.String() != want {
		t.Errorf("trace = %q, want %q", trace.String(), want)
	}
}

func TestRequest_DefaultsForMissingFields(t *testing.T) {
	o, trace, _ := newTestObserver(true)

	o.Request("POST", "/v1/messages", []byte(`{"messages":[{"content":"hi"}]}`))

	want := line("REQUEST", "POST /v1/messages") +
		line("MODEL", "?") +
		line("MESSAGES", "1 message(s)") +
		line("?", "hi")
	if trace.String() != want {
		t.Errorf("trace = %q, want %q", trace.String(), want)
	}
}

func TestRequest_MessagesNotArraySkipped(t *testing.T) {
	o, trace, _ := newTestObserver(true)

	o.Request("POST", "/v1/messages", []byte(`{"model":"m","messages":"oops"}`))

	want := line("REQUEST", "POST /v1/messages") +
		line("MODEL", "m")
	if trace.String() != want {
		t.Errorf("trace = %q, want %q", trace.String(), want)
	}
}

func TestRequest_StreamFalsy(t *testing.T) {
	o, trace, _ := newTestObserver(true)

	o.Request("POST", "/v1/messages", []byte(`{"model":"m","stream":false}`))

	if strings.Contains(trace.String(), "STREAM") {
		t.Errorf("trace contains STREAM line for stream=false: %q", trace.String())
	}
}

func TestResponse_Buffered(t *testing.T) {
	o, trace, _ := newTestObserver(true)

	body := []byte(`{"content":[{"type":"text","text":"Hi there"}]}`)
	o.Response(200, body)

	want := line("RESPONSE", fmt.Sprintf("200 (%d bytes)", len(body))) +
		line("TEXT", "Hi there")
	if trace.String() != want {
		t.Errorf("trace = %q, want %q", trace.String(), want)
	}
}

func TestResponse_TextPreviewTruncated(t *testing.T) {
	o, trace, _ := newTestObserver(true)

	long := strings.Repeat("x", 300)
	body := []byte(`{"content":[{"type":"text","text":"` + long + `"},{"type":"tool_use","id":"t1"}]}`)
	o.Response(200, body)

	want := line("RESPONSE", fmt.Sprintf("200 (%d bytes)", len(body))) +
		line("TEXT", strings.Repeat("x", 200))
	if trace.String() != want {
		t.Errorf("trace = %q, want %q", trace.String(), want)
	}
}

func TestResponse_ErrorField(t *testing.T) {
	o, trace, _ := newTestObserver(true)

	body := []byte(`{"error":{"type":"overloaded"}}`)
	o.Response(529, body)

	want := line("RESPONSE", fmt.Sprintf("529 (%d bytes)", len(body))) +
		line("ERROR", `{"type":"overloaded"}`)
	if trace.String() != want {
		t.Errorf("trace = %q, want %q", trace.String(), want)
	}
}

func TestResponse_NotJSONSilent(t *testing.T) {
	o, trace, _ := newTestObserver(true)

	body := []byte("<html>oops</html>")
	o.Response(502, body)

	want := line("RESPONSE", fmt.Sprintf("502 (%d bytes)", len(body)))
	if trace.String() != want {
		t.Errorf("trace = %q, want %q (malformed response body must stay silent)", trace.String(), want)
	}
}

func TestResponse_BodyLoggingDisabled(t *testing.T) {
	o, trace, _ := newTestObserver(false)

	body := []byte(`{"content":[{"type":"text","text":"hidden"}]}`)
	o.Response(200, body)

	want := line("RESPONSE", fmt.Sprintf("200 (%d bytes)", len(body)))
	if trace.String() != want {
		t.Errorf("trace = %q, want %q", trace.String(), want)
	}
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"true", `true`, true},
		{"false", `false`, false},
		{"absent", ``, false},
		{"null", `null`, false},
		{"zero", `0`, false},
		{"nonzero", `1`, true},
		{"empty string", `""`, false},
		{"string", `"yes"`, true},
		{"empty array", `[]`, false},
		{"array", `[1]`, true},
		{"empty object", `{}`, false},
		{"object", `{"a":1}`, true},
		{"garbage", `{`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truthy([]byte(tt.raw)); got != tt.want {
				t.Errorf("truthy(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestPreview(t *testing.T) {
	if got := preview("a\nb\nc", 120); got != "a b c" {
		t.Errorf("preview = %q, want %q", got, "a b c")
	}
	if got := preview(strings.Repeat("é", 130), 120); got != strings.Repeat("é", 120) {
		t.Errorf("preview truncation is not rune-aware: %q", got)
	}
}
