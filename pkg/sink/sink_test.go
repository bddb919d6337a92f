package sink

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/ecomsync/easyecom-extract/pkg/state"
)

func TestJSONWriter_RecordMessage(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONWriter(&buf)

	err := w.WriteRecord("products", map[string]any{"product_id": 42, "sku": "SKU-42"})
	if err != nil {
		t.Fatalf("WriteRecord() error: %v", err)
	}

	var msg map[string]any
	if err := json.Unmarshal(buf.Bytes(), &msg); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if msg["type"] != "RECORD" {
		t.Errorf("type = %v, want RECORD", msg["type"])
	}
	if msg["stream"] != "products" {
		t.Errorf("stream = %v, want products", msg["stream"])
	}
	record, ok := msg["record"].(map[string]any)
	if !ok || record["sku"] != "SKU-42" {
		t.Errorf("record = %v, want original fields", msg["record"])
	}
}

func TestJSONWriter_StateMessage(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONWriter(&buf)

	err := w.WriteState(map[string]state.Bookmark{
		"sell_orders": {ReplicationKeyValue: "2024-01-03 09:00:00"},
	})
	if err != nil {
		t.Fatalf("WriteState() error: %v", err)
	}

	var msg struct {
		Type  string `json:"type"`
		Value struct {
			Bookmarks map[string]state.Bookmark `json:"bookmarks"`
		} `json:"value"`
	}
	if err := json.Unmarshal(buf.Bytes(), &msg); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if msg.Type != "STATE" {
		t.Errorf("type = %q, want STATE", msg.Type)
	}
	if got := msg.Value.Bookmarks["sell_orders"].ReplicationKeyValue; got != "2024-01-03 09:00:00" {
		t.Errorf("bookmark = %q, want snapshot value", got)
	}
}

func TestJSONWriter_OneMessagePerLine(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONWriter(&buf)

	_ = w.WriteRecord("products", map[string]any{"id": 1})
	_ = w.WriteRecord("products", map[string]any{"id": 2})
	_ = w.WriteState(map[string]state.Bookmark{})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3", len(lines))
	}
	for i, line := range lines {
		if !json.Valid([]byte(line)) {
			t.Errorf("line %d is not standalone JSON: %s", i, line)
		}
	}
}
