package observe

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// dataPrefix and doneSentinel are the event-stream line framing: each unit
// is `data: <json>` and `data: [DONE]` marks completion.
const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"
)

// streamEvent is the slice of the event-stream payload the observer cares
// about. Pointer fields distinguish "absent" from "empty".
type streamEvent struct {
	Delta *struct {
		Text *string `json:"text"`
	} `json:"delta"`
}

// StreamObserver watches one event-stream response as it is relayed,
// writing extracted text deltas to the live output. It never fails and
// never alters the relayed bytes.
type StreamObserver struct {
	o     *Observer
	wrote bool
}

// Stream logs the streaming response line and returns a StreamObserver for
// the relay. Call Observe with each relayed chunk and Done when the stream
// ends cleanly.
func (o *Observer) Stream(status int) *StreamObserver {
	o.trace.event(toneGreen, "RESPONSE", fmt.Sprintf("%d (streaming)", status))
	return &StreamObserver{o: o}
}

// Observe extracts text deltas from one relayed chunk. Lines that fail to
// parse are skipped silently: a `data: ` line split across two network
// chunks is dropped rather than reassembled, a known limitation that loses
// the occasional delta from the live view but never affects the relay
// itself.
func (s *StreamObserver) Observe(chunk []byte) {
	if !s.o.logBodies {
		return
	}

	text := strings.ToValidUTF8(string(chunk), "�")
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		payload, found := strings.CutPrefix(line, dataPrefix)
		if !found || payload == doneSentinel {
			continue
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			continue
		}
		if ev.Delta == nil || ev.Delta.Text == nil {
			continue
		}

		_, _ = io.WriteString(s.o.live, *ev.Delta.Text)
		s.wrote = true
	}
}

// Done finishes the live output (trailing newline, only if any text was
// written) and logs stream completion. Skip it when the relay was truncated.
func (s *StreamObserver) Done() {
	if !s.o.logBodies {
		return
	}
	if s.wrote {
		_, _ = io.WriteString(s.o.live, "\n")
	}
	s.o.trace.event(toneGreen, "DONE", "stream complete")
}
