package social

import (
	"hash/fnv"
	"strconv"
	"sync"
)

const lockStripes = 64

// pairLocks serializes mutations of the same canonical pair within one process.
type pairLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (p *pairLocks) lock(low, high int64) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strconv.FormatInt(low, 10) + ":" + strconv.FormatInt(high, 10)))
	mu := &p.stripes[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}
