package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7Generator_ValidFormat(t *testing.T) {
	id := UUIDv7Generator{}.Generate()

	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.Regexp(t, `^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`, id)
}

func TestUUIDv7Generator_Concurrent(t *testing.T) {
	gen := UUIDv7Generator{}
	const goroutines = 100

	ids := make(chan string, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- gen.Generate()
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool, goroutines)
	for id := range ids {
		require.False(t, seen[id], "id %s generated twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, goroutines)
}

func TestFixedGenerator_Sequential(t *testing.T) {
	gen := NewFixedGenerator("pass-1", "pass-2")
	assert.Equal(t, "pass-1", gen.Generate())
	assert.Equal(t, "pass-2", gen.Generate())
	assert.PanicsWithValue(t, "FixedGenerator: all ids exhausted", func() { gen.Generate() })
}

func TestOrchestrator_PassIDFromGenerator(t *testing.T) {
	src, dest := newStacks(typeNode)
	src.Put(typeNode, 1, "a")

	retrier, _ := newTestRetrier()
	orch := NewOrchestrator(src, dest, testOptions(t),
		WithLogger(quietLogger()),
		WithPassRetrier(retrier),
		WithPassIDGenerator(NewFixedGenerator("pass-1", "pass-2")))

	first, err := orch.Run(context.Background(), false)
	require.NoError(t, err)
	second, err := orch.Run(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, "pass-1", first.PassID)
	assert.Equal(t, "pass-2", second.PassID)
}
