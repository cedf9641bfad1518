package memory

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/journal"
)

const defaultRecentCap = 1000

// MemoryJournal implements outbound.Journal with a bounded in-memory ring
// buffer. When built with a writer, every entry is also written to it as a
// JSON line.
type MemoryJournal struct {
	encoder *json.Encoder
	mu      sync.Mutex
	// recent is a bounded ring buffer of the most recent entries.
	recent []journal.Entry
	cap    int
}

// resolveCapacity returns the first positive capacity value, or defaultRecentCap.
func resolveCapacity(capacity ...int) int {
	if len(capacity) > 0 && capacity[0] > 0 {
		return capacity[0]
	}
	return defaultRecentCap
}

// NewJournal creates an in-memory journal.
// An optional capacity parameter sets the ring buffer size (default 1000).
func NewJournal(capacity ...int) *MemoryJournal {
	cap := resolveCapacity(capacity...)
	return &MemoryJournal{
		recent: make([]journal.Entry, 0, cap),
		cap:    cap,
	}
}

// NewJournalWithWriter creates a journal that also writes entries to w.
func NewJournalWithWriter(w io.Writer, capacity ...int) *MemoryJournal {
	j := NewJournal(capacity...)
	j.encoder = json.NewEncoder(w)
	return j
}

// Record appends an entry, evicting the oldest when full.
func (j *MemoryJournal) Record(ctx context.Context, entry journal.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.encoder != nil {
		if err := j.encoder.Encode(entry); err != nil {
			return err
		}
	}
	if len(j.recent) >= j.cap {
		copy(j.recent, j.recent[1:])
		j.recent = j.recent[:len(j.recent)-1]
	}
	j.recent = append(j.recent, entry)
	return nil
}

// Recent returns up to limit entries for identity, newest first. An empty
// identity matches every entry; a non-positive limit returns everything.
func (j *MemoryJournal) Recent(ctx context.Context, identity string, limit int) ([]journal.Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]journal.Entry, 0)
	for i := len(j.recent) - 1; i >= 0; i-- {
		e := j.recent[i]
		if identity != "" && e.Identity != identity {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
