package parallel

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParallelize_CoversAllItems(t *testing.T) {
	seen := make([]int32, 1000)
	Parallelize(len(seen), func(start, end int) {
		for i := start; i < end; i++ {
			atomic.AddInt32(&seen[i], 1)
		}
	})
	for i, v := range seen {
		assert.Equal(t, int32(1), v, "index %d", i)
	}
}

func TestParallelizeWithThreshold_Sequential(t *testing.T) {
	calls := 0
	ParallelizeWithThreshold(10, 100, func(start, end int) {
		calls++
		assert.Equal(t, 0, start)
		assert.Equal(t, 10, end)
	})
	assert.Equal(t, 1, calls)
}

func TestForEach(t *testing.T) {
	var sum int64
	err := ForEach(100, 4, func(i int) error {
		atomic.AddInt64(&sum, int64(i))
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, int64(4950), sum)
}

func TestForEach_ReturnsLowestIndexError(t *testing.T) {
	errA := errors.New("fold 3 failed")
	errB := errors.New("fold 7 failed")
	for _, workers := range []int{1, 4} {
		err := ForEach(10, workers, func(i int) error {
			switch i {
			case 3:
				return errA
			case 7:
				return errB
			}
			return nil
		})
		assert.Same(t, errA, err)
	}
}

func TestWorkers(t *testing.T) {
	assert.Equal(t, 1, Workers(0))
	assert.Equal(t, 3, Workers(3))
	assert.Greater(t, Workers(-1), 0)
}
