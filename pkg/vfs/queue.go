package vfs

import (
	"slices"
	"sync"
)

// pathQueues orders deferred operations per global path. Every path keeps the
// completion channel of the last operation queued on it; a new operation
// waits for those channels and becomes the new tail. Tails are dropped once
// the operation that owns them finishes without a successor.
type pathQueues struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

func newPathQueues() *pathQueues {
	return &pathQueues{tails: make(map[string]chan struct{})}
}

// enqueue queues an operation on paths without blocking. The caller waits
// on wait before running and calls done afterwards. Duplicate paths are
// queued once.
func (l *pathQueues) enqueue(paths ...string) (wait func(), done func()) {
	keys := slices.Clone(paths)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	mine := make(chan struct{})
	var prev []chan struct{}

	l.mu.Lock()
	for _, k := range keys {
		if tail, ok := l.tails[k]; ok {
			prev = append(prev, tail)
		}
		l.tails[k] = mine
	}
	l.mu.Unlock()

	wait = func() {
		for _, ch := range prev {
			<-ch
		}
	}
	done = func() {
		l.mu.Lock()
		for _, k := range keys {
			if l.tails[k] == mine {
				delete(l.tails, k)
			}
		}
		l.mu.Unlock()
		close(mine)
	}
	return wait, done
}

// size reports the number of paths with queued operations.
func (l *pathQueues) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tails)
}
