package resilience

import (
	"sync"

	"github.com/sells-group/tender-cli/internal/model"
)

// SkipList remembers inputs that failed permanently during one run so the
// same input is not sent to the same service again. Safe for concurrent use.
type SkipList struct {
	mu      sync.Mutex
	entries map[string]model.FailureRecord
}

// NewSkipList creates an empty skip-list.
func NewSkipList() *SkipList {
	return &SkipList{entries: make(map[string]model.FailureRecord)}
}

// Add records a permanent failure for key. Transient failures are ignored
// since a later attempt may succeed.
func (s *SkipList) Add(key string, f model.FailureRecord) {
	if s == nil || f.Class == model.ClassTransientNetwork {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = f
}

// Lookup returns the recorded failure for key, if any.
func (s *SkipList) Lookup(key string) (model.FailureRecord, bool) {
	if s == nil {
		return model.FailureRecord{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.entries[key]
	return f, ok
}

// Len returns the number of skipped inputs.
func (s *SkipList) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
