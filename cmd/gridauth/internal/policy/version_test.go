package policy

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersion(t *testing.T) {
	t.Parallel()

	v := NewVersion(7)
	assert.Equal(t, uint64(7), v.Current())
	assert.Equal(t, uint64(8), v.Bump())
	assert.Equal(t, "8", v.String())
}

func TestVersion_ConcurrentBumps(t *testing.T) {
	t.Parallel()

	v := NewVersion(0)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v.Bump()
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(100), v.Current())
}

func TestVersion_Independent(t *testing.T) {
	t.Parallel()

	a, b := NewVersion(1), NewVersion(1)
	a.Bump()
	assert.Equal(t, uint64(2), a.Current())
	assert.Equal(t, uint64(1), b.Current())
}
