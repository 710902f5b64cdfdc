package executor

import (
	"fmt"
	"sync"
)

// DefaultRetryCeiling is the failure count at which an action key is given up.
const DefaultRetryCeiling = 3

// ActionKey identifies one action against one target, e.g. click on btn_3.
type ActionKey struct {
	Op     string
	Target string
}

func (k ActionKey) String() string {
	return fmt.Sprintf("%s:%s", k.Op, k.Target)
}

type retryRecord struct {
	attempts int
	ceiling  int
}

// RetryState counts consecutive failures per action key for one browser
// session. Records are created on first failure and removed on success or
// when the ceiling is reached.
type RetryState struct {
	mu      sync.Mutex
	ceiling int
	records map[ActionKey]*retryRecord
}

func NewRetryState(ceiling int) *RetryState {
	if ceiling <= 0 {
		ceiling = DefaultRetryCeiling
	}
	return &RetryState{
		ceiling: ceiling,
		records: make(map[ActionKey]*retryRecord),
	}
}

// Fail records one failure. It returns the failure count and whether the
// ceiling was reached, in which case the record has already been cleared.
func (r *RetryState) Fail(key ActionKey) (attempts int, exhausted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok {
		rec = &retryRecord{ceiling: r.ceiling}
		r.records[key] = rec
	}
	rec.attempts++
	if rec.attempts >= rec.ceiling {
		delete(r.records, key)
		return rec.attempts, true
	}
	return rec.attempts, false
}

// Succeed clears the failure streak for key.
func (r *RetryState) Succeed(key ActionKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, key)
}

// Attempts reports the current failure streak for key.
func (r *RetryState) Attempts(key ActionKey) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[key]; ok {
		return rec.attempts
	}
	return 0
}

func (r *RetryState) Ceiling() int {
	return r.ceiling
}

// Len is the number of keys with an open failure streak.
func (r *RetryState) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
