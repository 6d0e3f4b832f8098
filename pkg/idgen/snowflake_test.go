package idgen

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsOutOfRangeWorker(t *testing.T) {
	_, err := New(-1)
	assert.Error(t, err)
	_, err = New(maxWorkerID + 1)
	assert.Error(t, err)
}

func TestGenerateIsUniqueAndIncreasing(t *testing.T) {
	g, err := New(7)
	require.NoError(t, err)

	prev := int64(0)
	for i := 0; i < 10000; i++ {
		id := g.Generate()
		require.Greater(t, id, prev)
		prev = id
	}
}

func TestGenerateTransactionNoConcurrent(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				no := GenerateTransactionNo()
				mu.Lock()
				seen[no] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 4000)
	for no := range seen {
		assert.True(t, strings.HasPrefix(no, "TXN"))
		break
	}
}
