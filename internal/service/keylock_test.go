package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"parkd/internal/db"
)

func TestKeyLock_SerialisesSameKey(t *testing.T) {
	k := NewKeyLock()
	var (
		wg      sync.WaitGroup
		inside  int
		maxSeen int
		mu      sync.Mutex
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("s1", db.VehicleCar)
			defer unlock()
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
	assert.Zero(t, k.size())
}

func TestKeyLock_IndependentKeys(t *testing.T) {
	k := NewKeyLock()
	unlockCar := k.Lock("s1", db.VehicleCar)
	defer unlockCar()

	done := make(chan struct{})
	go func() {
		unlock := k.Lock("s1", db.VehicleBike)
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on another pool blocked")
	}
	assert.Equal(t, 1, k.size())
}
