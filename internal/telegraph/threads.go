package telegraph

import "sync"

// DefaultThreadCapacity bounds how many thread roots an adapter remembers.
const DefaultThreadCapacity = 512

// Threads maps a notice thread key to the platform id of the first message
// posted for it, so escalations can be attached to the original post.
// Oldest keys are forgotten once capacity is reached.
type Threads struct {
	mu    sync.Mutex
	ids   map[string]string
	order []string
	max   int
}

// NewThreads returns an index holding at most capacity keys.
func NewThreads(capacity int) *Threads {
	if capacity <= 0 {
		capacity = DefaultThreadCapacity
	}
	return &Threads{ids: make(map[string]string), max: capacity}
}

// Root returns the platform id recorded for key.
func (t *Threads) Root(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.ids[key]
	return id, ok
}

// Remember records id as the root of key. An existing root is kept.
func (t *Threads) Remember(key, id string) {
	if key == "" || id == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.ids[key]; ok {
		return
	}
	if len(t.order) >= t.max {
		delete(t.ids, t.order[0])
		t.order = t.order[1:]
	}
	t.ids[key] = id
	t.order = append(t.order, key)
}

// Len reports how many roots are held.
func (t *Threads) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ids)
}
