package randid

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerate(t *testing.T) {
	id := Generate(12)
	assert.Len(t, id, 12)
	assert.Empty(t, strings.Trim(id, chars))
}

func TestSequence_Unique(t *testing.T) {
	var seq Sequence
	var mu sync.Mutex
	seen := map[string]bool{}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < 100; n++ {
				// one random char makes collisions without the suffix certain
				id := seq.Next(1)
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 1000)
}
