package snapshot

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefMapReplaceNeverMerges(t *testing.T) {
	m := NewRefMap()
	v1 := m.Replace([]Element{{Ref: "btn_1", Selector: "#a"}, {Ref: "btn_2", Selector: "#b"}})
	v2 := m.Replace([]Element{{Ref: "btn_1", Selector: "#c"}})

	assert.Equal(t, uint64(1), v1)
	assert.Equal(t, uint64(2), v2)
	assert.Equal(t, 1, m.Len())

	sel, err := m.Resolve("btn_1")
	require.NoError(t, err)
	assert.Equal(t, "#c", sel)

	_, err = m.Resolve("btn_2")
	assert.ErrorIs(t, err, ErrStaleReference)
}

func TestRefMapStaleAcrossSnapshots(t *testing.T) {
	m := NewRefMap()
	v1 := m.Replace([]Element{{Ref: "link_4", Selector: "#old"}})
	m.Replace([]Element{{Ref: "link_1", Selector: "#new"}})

	// Unknown in the current map.
	_, err := m.Resolve("link_4")
	var stale *StaleError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, uint64(2), stale.CurrentVersion)
	assert.Contains(t, err.Error(), "re-snapshot")

	// Pinned to an old version: explicit mismatch even when the ref exists now.
	_, err = m.ResolveAt(v1, "link_1")
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, v1, stale.Version)
	assert.Contains(t, err.Error(), "v1 was replaced by v2")
	assert.True(t, errors.Is(err, ErrStaleReference))
}

func TestRefMapInvalidate(t *testing.T) {
	m := NewRefMap()
	m.Replace([]Element{{Ref: "input_1", Selector: "#q"}})
	v := m.Invalidate()

	assert.Equal(t, uint64(2), v)
	assert.Zero(t, m.Len())
	_, err := m.Resolve("input_1")
	assert.ErrorIs(t, err, ErrStaleReference)
}

func TestRefMapResolveNeverYieldsOldSelector(t *testing.T) {
	m := NewRefMap()
	for round := 0; round < 50; round++ {
		els := make([]Element, round%7)
		for i := range els {
			els[i] = Element{Ref: "btn_" + string(rune('a'+i)), Selector: "#r" + string(rune('0'+round%10))}
		}
		m.Replace(els)
		for i := len(els); i < 7; i++ {
			_, err := m.Resolve("btn_" + string(rune('a'+i)))
			assert.ErrorIs(t, err, ErrStaleReference)
		}
	}
}

func TestRefMapConcurrentReaders(t *testing.T) {
	m := NewRefMap()
	m.Replace([]Element{{Ref: "btn_1", Selector: "#a"}})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = m.Resolve("btn_1")
				_ = m.Version()
			}
		}()
	}
	m.Replace([]Element{{Ref: "btn_2", Selector: "#b"}})
	wg.Wait()
	assert.Equal(t, uint64(2), m.Version())
}
