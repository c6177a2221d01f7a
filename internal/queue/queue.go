package queue

import (
	"sync"

	"github.com/samber/lo"
)

// Item represents a single song in the play queue. Items are immutable once
// queued; identity is ID.
type Item struct {
	ID           string `json:"id"`
	DisplayID    string `json:"displayId"`
	Title        string `json:"title"`
	Artist       string `json:"artist"`
	DurationSecs int    `json:"durationSeconds"`
	CoverURL     string `json:"coverUrl"`
}

// Queue manages the ordered list of songs and the id considered "current" for
// navigation. Every read and write goes through mu, including the lookups the
// coordinator performs when it auto-advances on track end.
type Queue struct {
	mu     sync.Mutex
	items  []Item
	target string // id being resolved (metadata/download in flight)
	loaded string // id handed to the player
}

// New creates a Queue from the given items. Duplicate ids are dropped.
func New(items ...Item) *Queue {
	return &Queue{items: dedupe(items)}
}

// Items returns a copy of the queued items in play order.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, len(q.items))
	copy(out, q.items)
	return out
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Contains reports whether an item with id is queued.
func (q *Queue) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.indexLocked(id) >= 0
}

// IndexOf returns the position of id, or -1.
func (q *Queue) IndexOf(id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.indexLocked(id)
}

// Get returns the queued item with id.
func (q *Queue) Get(id string) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.indexLocked(id)
	if i < 0 {
		return Item{}, false
	}
	return q.items[i], true
}

func (q *Queue) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	_, i, ok := lo.FindIndexOf(q.items, func(it Item) bool { return it.ID == id })
	if !ok {
		return -1
	}
	return i
}

// Insert adds item to the queue. Re-adding a queued id changes nothing and
// returns false. With appendTail the item goes to the end; otherwise it is
// placed right after the effective current item, or at the head when nothing
// is current.
func (q *Queue) Insert(item Item, appendTail bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.indexLocked(item.ID) >= 0 {
		return false
	}
	if appendTail {
		q.items = append(q.items, item)
		return true
	}

	at := q.indexLocked(q.effectiveLocked()) + 1 // -1 → head
	q.items = append(q.items, Item{})
	copy(q.items[at+1:], q.items[at:])
	q.items[at] = item
	return true
}

// Replace swaps the whole queue for items and forgets the current tracking.
func (q *Queue) Replace(items []Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = dedupe(items)
	q.target = ""
	q.loaded = ""
}

// Remove filters id out of the queue. Returns false if it was not queued.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.indexLocked(id) < 0 {
		return false
	}
	q.items = lo.Filter(q.items, func(it Item, _ int) bool { return it.ID != id })
	if q.target == id {
		q.target = ""
	}
	if q.loaded == id {
		q.loaded = ""
	}
	return true
}

// RemoveAdvancing removes id in one critical section. When id is the
// effective current item and other items remain, the item after it becomes
// the resolving target first and is returned as next. wasCurrent reports
// whether id was the effective current item.
func (q *Queue) RemoveAdvancing(id string) (next Item, wasCurrent, removed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.indexLocked(id)
	if i < 0 {
		return Item{}, false, false
	}
	wasCurrent = q.effectiveLocked() == id
	if wasCurrent && len(q.items) >= 2 {
		next = q.items[WrapIndex(i, 1, len(q.items))]
		q.target = next.ID
	}
	q.items = lo.Filter(q.items, func(it Item, _ int) bool { return it.ID != id })
	if q.target == id {
		q.target = ""
	}
	if q.loaded == id {
		q.loaded = ""
	}
	return next, wasCurrent, true
}

// SetTarget records the id whose metadata/bytes are being resolved.
func (q *Queue) SetTarget(id string) {
	q.mu.Lock()
	q.target = id
	q.mu.Unlock()
}

// ClearTarget forgets the resolving id, but only if it is still id.
func (q *Queue) ClearTarget(id string) {
	q.mu.Lock()
	if q.target == id {
		q.target = ""
	}
	q.mu.Unlock()
}

// SetLoaded records the id actually handed to the player.
func (q *Queue) SetLoaded(id string) {
	q.mu.Lock()
	q.loaded = id
	q.mu.Unlock()
}

// Reset forgets both the resolving and the loaded id.
func (q *Queue) Reset() {
	q.mu.Lock()
	q.target = ""
	q.loaded = ""
	q.mu.Unlock()
}

// Effective returns the id used for navigation: the resolving id while a
// fetch is in flight, otherwise the loaded id.
func (q *Queue) Effective() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.effectiveLocked()
}

func (q *Queue) effectiveLocked() string {
	if q.target != "" {
		return q.target
	}
	return q.loaded
}

// CurrentIndex returns the index of the effective id, or -1.
func (q *Queue) CurrentIndex() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.indexLocked(q.effectiveLocked())
}

// Step returns the item delta positions away from the effective current item,
// wrapping around both ends. If the current item cannot be found the first
// item is returned. ok is false only for an empty queue.
func (q *Queue) Step(delta int) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	if n == 0 {
		return Item{}, false
	}
	i := WrapIndex(q.indexLocked(q.effectiveLocked()), delta, n)
	return q.items[i], true
}

// WrapIndex moves cur by delta within [0,n) circularly. An unknown cur (-1)
// always resolves to 0.
func WrapIndex(cur, delta, n int) int {
	if n <= 0 || cur < 0 || cur >= n {
		return 0
	}
	return ((cur+delta)%n + n) % n
}

func dedupe(items []Item) []Item {
	return lo.UniqBy(items, func(it Item) string { return it.ID })
}
