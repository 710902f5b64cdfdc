package snapshot

import (
	"errors"
	"fmt"
	"sync"
)

// ErrStaleReference marks a ref that the current snapshot does not contain.
// The caller must take a fresh snapshot.
var ErrStaleReference = errors.New("stale reference")

// StaleError explains why a ref could not be resolved.
type StaleError struct {
	Ref            string
	Version        uint64 // version the caller asked about, 0 if unspecified
	CurrentVersion uint64
}

func (e *StaleError) Error() string {
	if e.Version != 0 && e.Version != e.CurrentVersion {
		return fmt.Sprintf("stale reference %q: snapshot v%d was replaced by v%d, re-snapshot with get_page_context", e.Ref, e.Version, e.CurrentVersion)
	}
	return fmt.Sprintf("stale reference %q: not in snapshot v%d, re-snapshot with get_page_context", e.Ref, e.CurrentVersion)
}

func (e *StaleError) Unwrap() error { return ErrStaleReference }

// RefMap holds ref -> selector for the most recent snapshot only. Each
// Replace swaps the whole map and bumps the version; nothing is merged.
type RefMap struct {
	mu        sync.RWMutex
	version   uint64
	selectors map[string]string
}

func NewRefMap() *RefMap {
	return &RefMap{selectors: make(map[string]string)}
}

// Replace installs the elements of a fresh snapshot and returns its version.
func (m *RefMap) Replace(elements []Element) uint64 {
	next := make(map[string]string, len(elements))
	for _, el := range elements {
		next[el.Ref] = el.Selector
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.version++
	m.selectors = next
	return m.version
}

// Invalidate empties the map, e.g. after navigation.
func (m *RefMap) Invalidate() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.version++
	m.selectors = make(map[string]string)
	return m.version
}

// Resolve looks ref up in the current snapshot. No liveness check is done.
func (m *RefMap) Resolve(ref string) (string, error) {
	return m.ResolveAt(0, ref)
}

// ResolveAt is Resolve pinned to a snapshot version; version 0 means current.
func (m *RefMap) ResolveAt(version uint64, ref string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if version != 0 && version != m.version {
		return "", &StaleError{Ref: ref, Version: version, CurrentVersion: m.version}
	}
	sel, ok := m.selectors[ref]
	if !ok {
		return "", &StaleError{Ref: ref, CurrentVersion: m.version}
	}
	return sel, nil
}

func (m *RefMap) Version() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

func (m *RefMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.selectors)
}
