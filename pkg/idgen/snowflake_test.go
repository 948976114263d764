package idgen

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextIDUniqueAndIncreasing(t *testing.T) {
	g := NewSnowflakeIDGenerator(7)
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return fixed }

	prev := int64(-1)
	for i := 0; i < 2500; i++ {
		id := g.NextID()
		require.Greater(t, id, prev)
		prev = id
	}
}

func TestNextIDConcurrent(t *testing.T) {
	g := NewSnowflakeIDGenerator(1)

	var mu sync.Mutex
	seen := make(map[int64]struct{})
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := g.NextID()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 1600)
}

func TestMachineIDOutOfRange(t *testing.T) {
	g := NewSnowflakeIDGenerator(500)
	assert.Equal(t, int64(0), g.machineID)
	assert.NotEmpty(t, g.NextString())
}
