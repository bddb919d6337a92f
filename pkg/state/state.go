// Package state holds per-stream replication bookmarks and persists them
// across runs so a restarted extraction resumes where it left off.
package state

import (
	"encoding/json"
	"time"
)

// ReplicationKeyLayout is the timestamp layout the API uses for
// replication-key values and date filters.
const ReplicationKeyLayout = "2006-01-02 15:04:05"

// collapseStreams lists streams whose bookmark carries a partitioned
// sub-structure that would otherwise grow without bound. Their partitions
// are rewritten to an empty form before any snapshot leaves this package.
var collapseStreams = map[string]bool{
	"gl_entries_dimensions": true,
}

// Bookmark is the highest replication-key value confirmed emitted for one
// stream, plus any partitioned sub-state some streams carry.
type Bookmark struct {
	ReplicationKeyValue string            `json:"replication_key_value,omitempty"`
	Partitions          []json.RawMessage `json:"partitions,omitempty"`
}

// Time parses the bookmark value. The zero time means no bookmark yet.
func (b Bookmark) Time() time.Time {
	if b.ReplicationKeyValue == "" {
		return time.Time{}
	}
	t, err := time.Parse(ReplicationKeyLayout, b.ReplicationKeyValue)
	if err != nil {
		return time.Time{}
	}
	return t
}

// TokenState is the persisted credential triple, reused across runs while
// still valid.
type TokenState struct {
	AccessToken    string  `json:"access_token,omitempty"`
	ExpiresIn      int64   `json:"expires_in,omitempty"`
	TokenCreatedAt float64 `json:"token_created_at,omitempty"`
}

// RunState maps stream names to their bookmarks for one run. It is owned
// by the fetch engine; everything leaving the package is a deep copy.
type RunState struct {
	Bookmarks map[string]Bookmark `json:"bookmarks"`
	Token     *TokenState         `json:"token,omitempty"`
}

// NewRunState returns an empty run state.
func NewRunState() *RunState {
	return &RunState{Bookmarks: map[string]Bookmark{}}
}

// Bookmark returns the bookmark for a stream, zero when absent.
func (s *RunState) Bookmark(stream string) Bookmark {
	return s.Bookmarks[stream]
}

// Advance moves a stream's bookmark forward. Bookmarks are monotonically
// non-decreasing: an older or equal value is a no-op.
func (s *RunState) Advance(stream, value string) {
	if value == "" {
		return
	}
	current := s.Bookmarks[stream]
	if current.ReplicationKeyValue != "" && value <= current.ReplicationKeyValue {
		return
	}
	current.ReplicationKeyValue = value
	s.Bookmarks[stream] = current
}

// Snapshot returns an immutable deep copy with the collapse rule applied:
// streams in the collapse list that carry non-empty partitions are
// rewritten to an empty-partitions bookmark. Other streams pass through
// unmodified.
func (s *RunState) Snapshot() map[string]Bookmark {
	out := make(map[string]Bookmark, len(s.Bookmarks))
	for name, bm := range s.Bookmarks {
		if collapseStreams[name] && len(bm.Partitions) > 0 {
			out[name] = Bookmark{Partitions: []json.RawMessage{}}
			continue
		}
		copied := bm
		if bm.Partitions != nil {
			copied.Partitions = make([]json.RawMessage, len(bm.Partitions))
			for i, p := range bm.Partitions {
				copied.Partitions[i] = append(json.RawMessage(nil), p...)
			}
		}
		out[name] = copied
	}
	return out
}
