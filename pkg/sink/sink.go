// Package sink is the boundary to the downstream consumer: an ordered
// sequence of typed records per stream plus periodic full-state
// snapshots. Delivery is at-least-once; a restart may replay records from
// an interrupted page and the consumer must tolerate the overlap.
package sink

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/ecomsync/easyecom-extract/pkg/state"
)

// Sink accepts records and state snapshots from the fetch engine.
type Sink interface {
	// WriteRecord forwards one validated record for a stream.
	WriteRecord(stream string, record map[string]any) error

	// WriteState forwards an immutable state snapshot keyed by stream.
	WriteState(snapshot map[string]state.Bookmark) error
}

// recordMessage is the RECORD wire shape.
type recordMessage struct {
	Type   string         `json:"type"`
	Stream string         `json:"stream"`
	Record map[string]any `json:"record"`
}

// stateMessage is the STATE wire shape.
type stateMessage struct {
	Type  string     `json:"type"`
	Value stateValue `json:"value"`
}

type stateValue struct {
	Bookmarks map[string]state.Bookmark `json:"bookmarks"`
}

// JSONWriter emits RECORD and STATE messages as JSON lines, one message
// per line, to a single writer (normally stdout).
type JSONWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONWriter creates a JSON-lines sink.
func NewJSONWriter(w io.Writer) *JSONWriter {
	return &JSONWriter{enc: json.NewEncoder(w)}
}

// WriteRecord implements Sink.
func (j *JSONWriter) WriteRecord(stream string, record map[string]any) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.enc.Encode(recordMessage{Type: "RECORD", Stream: stream, Record: record}); err != nil {
		return fmt.Errorf("write record message: %w", err)
	}
	return nil
}

// WriteState implements Sink.
func (j *JSONWriter) WriteState(snapshot map[string]state.Bookmark) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.enc.Encode(stateMessage{Type: "STATE", Value: stateValue{Bookmarks: snapshot}}); err != nil {
		return fmt.Errorf("write state message: %w", err)
	}
	return nil
}
