package hwbuffer

type retired struct {
	serial  uint64
	release func()
}

// ReleaseQueue holds cleanup for resources the GPU may still be reading.
// Entries tagged with frame serial N run once serial N has completed.
// Not safe for concurrent use; it belongs to the render thread.
type ReleaseQueue struct {
	entries []retired
}

// Defer schedules release to run once serial completes.
func (q *ReleaseQueue) Defer(serial uint64, release func()) {
	q.entries = append(q.entries, retired{serial: serial, release: release})
}

// Collect runs every release whose serial is at or below completed, in
// the order they were deferred, and returns how many ran.
func (q *ReleaseQueue) Collect(completed uint64) int {
	kept := q.entries[:0]
	var ready []retired
	for _, e := range q.entries {
		if e.serial <= completed {
			ready = append(ready, e)
		} else {
			kept = append(kept, e)
		}
	}
	q.entries = kept
	for _, e := range ready {
		e.release()
	}
	return len(ready)
}

// Drain runs every pending release. Call only after the device is idle.
func (q *ReleaseQueue) Drain() int {
	entries := q.entries
	q.entries = nil
	for _, e := range entries {
		e.release()
	}
	return len(entries)
}

func (q *ReleaseQueue) Len() int {
	return len(q.entries)
}
