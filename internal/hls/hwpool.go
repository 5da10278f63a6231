package hls

import "sync/atomic"

// HwSlotPool bounds the number of concurrent hardware encoder sessions.
// Acquire never blocks: callers that lose the race fall back to software
// encoding.
type HwSlotPool struct {
	maxSlots int32
	inUse    atomic.Int32
}

func NewHwSlotPool(maxSlots int) *HwSlotPool {
	if maxSlots < 0 {
		maxSlots = 0
	}
	return &HwSlotPool{maxSlots: int32(maxSlots)}
}

// Acquire attempts to take one slot and reports whether the caller may use
// hardware encoding.
func (p *HwSlotPool) Acquire() bool {
	for {
		current := p.inUse.Load()
		if current >= p.maxSlots {
			return false
		}
		if p.inUse.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

// Release returns one slot. Releasing more than was acquired is a no-op;
// the counter never goes below zero.
func (p *HwSlotPool) Release() {
	for {
		current := p.inUse.Load()
		if current <= 0 {
			return
		}
		if p.inUse.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// InUse returns the number of currently held slots.
func (p *HwSlotPool) InUse() int {
	return int(p.inUse.Load())
}
