package lock

import (
	"sync"
	"testing"
)

func TestKeyedMutex_SerializesPerKey(t *testing.T) {
	km := NewKeyedMutex()

	var mu sync.Mutex
	active := 0
	maxActive := 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("catalog")
			defer unlock()

			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Fatalf("expected at most 1 concurrent holder, saw %d", maxActive)
	}
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	km := NewKeyedMutex()
	unlockA := km.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := km.Lock("b")
		unlockB()
		close(done)
	}()
	<-done
	unlockA()
}
