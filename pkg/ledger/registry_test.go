package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_GetCreatesOncePerKey(t *testing.T) {
	r := NewRegistry(Config{Limit: 10}, nil)

	a := r.Get("s1")
	assert.Same(t, a, r.Get("s1"))
	assert.NotSame(t, a, r.Get("s2"))
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 10, a.Remaining())
}

func TestRegistry_LimitFunc(t *testing.T) {
	r := NewRegistry(Config{Limit: 10}, func(key string) int {
		if key == "gold-user" {
			return 200
		}
		return 0
	})

	assert.Equal(t, 200, r.Get("gold-user").Remaining())
	assert.Equal(t, 10, r.Get("someone").Remaining(), "non-positive falls back to config limit")
}

func TestRegistry_Forget(t *testing.T) {
	logger := &recordingLogger{}
	r := NewRegistry(Config{Limit: 10, Logger: logger}, nil)

	require.NoError(t, r.Get("s1").RecordUsage("analysis", 4))
	r.Forget("s1")

	assert.Len(t, logger.lines(), 1, "pending burst flushed")
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 10, r.Get("s1").Remaining(), "new ledger after forget")

	r.Forget("missing")
}

func TestRegistry_Flush(t *testing.T) {
	logger := &recordingLogger{}
	r := NewRegistry(Config{Limit: 10, Logger: logger}, nil)

	require.NoError(t, r.Get("s1").RecordUsage("analysis", 1))
	require.NoError(t, r.Get("s2").RecordUsage("analysis", 1))
	r.Flush()

	assert.Len(t, logger.lines(), 2)
	assert.Equal(t, 2, r.Len())
}
