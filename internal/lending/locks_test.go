package lending

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	k := newKeyedMutex()

	unlock := k.lock(bookKey(1))
	acquired := make(chan struct{})
	go func() {
		release := k.lock(bookKey(1), studentKey(2))
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while the key was held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	<-acquired
	assert.Equal(t, 0, k.size())
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	k := newKeyedMutex()

	unlock := k.lock(bookKey(1))
	defer unlock()

	done := make(chan struct{})
	go func() {
		k.lock(bookKey(2))()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on an unrelated key blocked")
	}
}

func TestKeyedMutexOverlappingSetsDoNotDeadlock(t *testing.T) {
	k := newKeyedMutex()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			k.lock(bookKey(1), studentKey(1))()
		}()
		go func() {
			defer wg.Done()
			k.lock(studentKey(1), bookKey(1), bookKey(1))()
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, k.size())
}

func TestUniqueSorted(t *testing.T) {
	assert.Equal(t, []string{"book:1", "student:2"}, uniqueSorted([]string{"student:2", "book:1", "student:2"}))
}
