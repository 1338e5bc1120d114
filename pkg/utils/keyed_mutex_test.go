package utils

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutex_ReleasesKeys(t *testing.T) {
	k := NewKeyedMutex()
	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	assert.Len(t, k.locks, 2)
	unlockA()
	unlockB()
	assert.Empty(t, k.locks)
}

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	k := NewKeyedMutex()
	unlock := k.Lock("a")

	var wg sync.WaitGroup
	acquired := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer k.Lock("a")()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second holder got the key while it was held")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	wg.Wait()
	assert.Empty(t, k.locks)
}
