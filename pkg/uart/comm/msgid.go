package comm

import "sync/atomic"

// MessageIDAllocator generates msgIDs for outgoing requests.
// 0 is never returned as it means no correlation requested.
type MessageIDAllocator struct {
	last atomic.Uint32
}

// Next allocates the next msgID in [1, 65535].
func (a *MessageIDAllocator) Next() uint16 {
	for {
		cur := a.last.Load()
		n := (cur + 1) & 0xffff
		if n == 0 {
			n = 1
		}
		if a.last.CompareAndSwap(cur, n) {
			return uint16(n)
		}
	}
}

// Last returns the most recently allocated msgID, 0 if none.
func (a *MessageIDAllocator) Last() uint16 {
	return uint16(a.last.Load())
}
