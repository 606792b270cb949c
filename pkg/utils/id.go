package utils

import (
	"fmt"
	"sync/atomic"
	"time"
)

// idSeq disambiguates ids generated within the same nanosecond.
var idSeq uint64

// GenMessageID returns a creation-time-derived id that sorts in generation
// order within a process.
func GenMessageID() string {
	n := time.Now().UTC().UnixNano()
	s := atomic.AddUint64(&idSeq, 1)
	return fmt.Sprintf("msg-%d-%d", n, s)
}
