package vkdriver

import "sync"

// table issues opaque handles for driver objects. The zero handle is never
// issued.
type table[H ~uint64, T any] struct {
	mu    sync.Mutex
	next  H
	items map[H]T
}

func (t *table[H, T]) put(v T) H {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.items == nil {
		t.items = map[H]T{}
	}
	t.next++
	t.items[t.next] = v
	return t.next
}

func (t *table[H, T]) get(h H) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.items[h]
	return v, ok
}

// take removes h and returns what it referred to.
func (t *table[H, T]) take(h H) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.items[h]
	delete(t.items, h)
	return v, ok
}

func (t *table[H, T]) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

// removeIf drops every entry matching pred without releasing anything.
func (t *table[H, T]) removeIf(pred func(T) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for h, v := range t.items {
		if pred(v) {
			delete(t.items, h)
		}
	}
}
