package registry

import (
	"hash/fnv"
	"sync"
)

// accountLocks provides per-account mutual exclusion via lock striping.
// Distinct accounts may share a stripe; that only costs contention, never
// correctness.
type accountLocks struct {
	stripes [64]sync.Mutex
}

func (l *accountLocks) lock(accountID string) (unlock func()) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(accountID))

	mu := &l.stripes[h.Sum32()%uint32(len(l.stripes))]
	mu.Lock()

	return mu.Unlock
}
