package executor

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockedBufferConcurrentAccess(t *testing.T) {
	var buf lockedBuffer
	var wg sync.WaitGroup

	// A writer and a reader race the way the output copier races the
	// timeout path
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			buf.Write([]byte("chunk."))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			partial := buf.String()
			assert.Equal(t, strings.Count(partial, "."), len(partial)/6)
		}
	}()
	wg.Wait()

	assert.Len(t, buf.String(), 6000)
}
