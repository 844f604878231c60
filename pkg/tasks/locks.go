package tasks

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 64

// taskLocks orders the accept → audit → publish sequence per task id.
// Distinct tasks may share a stripe; that only costs concurrency.
type taskLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *taskLocks) lock(taskID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(taskID))
	mu := &l.stripes[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}
