package social

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPairLocks_SerializesSamePair(t *testing.T) {
	var locks pairLocks
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock(3, 7)
			defer unlock()
			counter++
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}
