package rkmedia

// frameSlot pairs a pipeline frame with what an engine holds of it.
type frameSlot struct {
	frame  *Frame
	engine *EngineFrame // encoder input handle, nil for the accelerator
	image  *RGAImage    // accelerator surface, nil for the encoder
	queued bool         // handed to an engine and not yet reclaimed
	locked bool         // referenced by an unfinished accelerator job
}

// slotArena is a grow-only set of frame slots with a free list. A slot is
// free exactly when it is not queued.
type slotArena struct {
	slots []frameSlot
	free  []int
}

// acquire returns the index of a free slot, growing the arena if none is
// left, and marks it queued.
func (a *slotArena) acquire() int {
	var i int
	if n := len(a.free); n > 0 {
		i = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, frameSlot{})
		i = len(a.slots) - 1
	}
	a.slots[i] = frameSlot{queued: true}
	return i
}

func (a *slotArena) at(i int) *frameSlot { return &a.slots[i] }

// release frees the frame and engine handle of slot i and returns it to the
// free list.
func (a *slotArena) release(i int) {
	s := &a.slots[i]
	if !s.queued {
		return
	}
	if s.engine != nil {
		if s.engine.Buffer != nil {
			_ = s.engine.Buffer.Release()
		}
		s.engine.Release()
	}
	if s.frame != nil {
		s.frame.Release()
	}
	*s = frameSlot{}
	a.free = append(a.free, i)
}

// reclaim releases every queued slot for which done reports true.
func (a *slotArena) reclaim(done func(*frameSlot) bool) int {
	n := 0
	for i := range a.slots {
		if a.slots[i].queued && done(&a.slots[i]) {
			a.release(i)
			n++
		}
	}
	return n
}

// inFlight counts queued slots that still hold a frame or an engine handle.
func (a *slotArena) inFlight() int {
	n := 0
	for i := range a.slots {
		s := &a.slots[i]
		if s.queued && (s.frame != nil || s.engine != nil) {
			n++
		}
	}
	return n
}

// len returns the number of slots ever created.
func (a *slotArena) len() int { return len(a.slots) }

// clear releases every slot and empties the arena.
func (a *slotArena) clear() {
	for i := range a.slots {
		a.release(i)
	}
	a.slots = nil
	a.free = nil
}
