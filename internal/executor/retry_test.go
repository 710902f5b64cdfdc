package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestRetryStateLifecycle(t *testing.T) {
	r := NewRetryState(3)
	key := ActionKey{Op: "click", Target: "btn_3"}

	assert.Zero(t, r.Attempts(key))
	n, done := r.Fail(key)
	assert.Equal(t, 1, n)
	assert.False(t, done)

	r.Succeed(key)
	assert.Zero(t, r.Len())

	r.Fail(key)
	r.Fail(key)
	n, done = r.Fail(key)
	assert.Equal(t, 3, n)
	assert.True(t, done)
	assert.Zero(t, r.Len())
}

func TestRetryStateKeysAreIndependent(t *testing.T) {
	r := NewRetryState(3)
	a := ActionKey{Op: "click", Target: "btn_1"}
	b := ActionKey{Op: "type_text", Target: "btn_1"}

	r.Fail(a)
	r.Fail(a)
	r.Fail(b)
	assert.Equal(t, 2, r.Attempts(a))
	assert.Equal(t, 1, r.Attempts(b))
	assert.Equal(t, "click:btn_1", a.String())
}

func TestRetryStateDefaultCeiling(t *testing.T) {
	assert.Equal(t, DefaultRetryCeiling, NewRetryState(0).Ceiling())
}

// Any failure streak of length k reports exhaustion exactly on every
// ceiling-th failure and never keeps a counter at or above the ceiling.
func TestPropertyRetryCeiling(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ceiling := rapid.IntRange(1, 6).Draw(rt, "ceiling")
		r := NewRetryState(ceiling)
		key := ActionKey{Op: "click", Target: "btn_1"}

		streak := 0
		steps := rapid.SliceOfN(rapid.Bool(), 1, 50).Draw(rt, "fail")
		for _, fail := range steps {
			if !fail {
				r.Succeed(key)
				streak = 0
				continue
			}
			streak++
			n, exhausted := r.Fail(key)
			require.Equal(rt, streak, n)
			require.Equal(rt, streak == ceiling, exhausted)
			if exhausted {
				streak = 0
			}
			require.Less(rt, r.Attempts(key), ceiling)
		}
	})
}
