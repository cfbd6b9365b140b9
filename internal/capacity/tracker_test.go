package capacity

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrackerCounting(t *testing.T) {
	tr := New(0)
	assert.Equal(t, 0, tr.Current())
	tr.Increment()
	tr.Increment()
	assert.Equal(t, 2, tr.Current())
	tr.Decrement()
	assert.Equal(t, 1, tr.Current())
	tr.Decrement()
	tr.Decrement()
	assert.Equal(t, 0, tr.Current(), "decrement must not go below zero")
}

func TestTrackerRecompute(t *testing.T) {
	tr := New(-4)
	assert.Equal(t, 0, tr.Current())
	tr.RecomputeFrom(7)
	assert.Equal(t, 7, tr.Current())
	tr.RecomputeFrom(-1)
	assert.Equal(t, 0, tr.Current())
}

func TestTrackerAdmit(t *testing.T) {
	tr := New(1)
	assert.True(t, tr.Admit(2))
	tr.Increment()
	assert.False(t, tr.Admit(2))
	assert.False(t, New(0).Admit(0))
}

func TestTrackerReserveRelease(t *testing.T) {
	tr := New(0)
	assert.True(t, tr.Reserve(2))
	assert.True(t, tr.Reserve(2))
	assert.False(t, tr.Reserve(2))
	assert.Equal(t, 2, tr.Current())
	tr.Release()
	assert.Equal(t, 1, tr.Current())
	assert.True(t, tr.Reserve(2))
}

func TestTrackerReserveNeverOvershoots(t *testing.T) {
	const ceiling = 25
	tr := New(0)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tr.Reserve(ceiling) {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, ceiling, granted)
	assert.Equal(t, ceiling, tr.Current())
}
