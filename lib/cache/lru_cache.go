package cache

import "time"

// Node is an entry of the LRU doubly linked list.
type Node[K comparable, V any] struct {
	Key       K
	Val       V
	ExpiresAt time.Time

	Prev *Node[K, V]
	Next *Node[K, V]
}

// LRU is a capacity bounded cache that evicts the least recently used entry.
// Entries older than ttl are treated as missing, a zero ttl disables expiry.
// LRU is not safe for concurrent use.
type LRU[K comparable, V any] struct {
	capacity int
	ttl      time.Duration
	cache    map[K]*Node[K, V]
	now      func() time.Time

	left  *Node[K, V]
	right *Node[K, V]
}

func NewLRU[K comparable, V any](capacity int, ttl time.Duration) *LRU[K, V] {
	left, right := &Node[K, V]{}, &Node[K, V]{}

	left.Next = right
	right.Prev = left

	return &LRU[K, V]{
		left:     left,
		right:    right,
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		cache:    make(map[K]*Node[K, V]),
	}
}

// SetClock replaces the time source used for expiry.
func (l *LRU[K, V]) SetClock(now func() time.Time) {
	l.now = now
}

func (l *LRU[K, V]) Put(key K, value V) {
	node, exists := l.cache[key]
	if exists {
		l.deleteNode(node)
	}

	node = &Node[K, V]{Key: key, Val: value}
	if l.ttl > 0 {
		node.ExpiresAt = l.now().Add(l.ttl)
	}

	l.cache[key] = node
	l.insertNode(node)

	if l.CapacityReached() {
		l.Evict()
	}
}

func (l *LRU[K, V]) Get(key K) (V, bool) {
	var zero V

	node, exists := l.cache[key]
	if !exists {
		return zero, false
	}

	if l.expired(node) {
		l.Delete(key)
		return zero, false
	}

	l.deleteNode(node)
	l.insertNode(node)

	return node.Val, true
}

// Peek returns the value for key without refreshing its recency.
func (l *LRU[K, V]) Peek(key K) (V, bool) {
	var zero V

	node, exists := l.cache[key]
	if !exists || l.expired(node) {
		return zero, false
	}

	return node.Val, true
}

func (l *LRU[K, V]) Delete(key K) {
	node, exists := l.cache[key]
	if !exists {
		return
	}

	l.deleteNode(node)
	delete(l.cache, key)
}

func (l *LRU[K, V]) Len() int {
	return len(l.cache)
}

func (l *LRU[K, V]) CapacityReached() bool {
	return len(l.cache) > l.capacity
}

func (l *LRU[K, V]) Evict() {
	lru := l.left.Next
	if lru == l.right {
		return
	}

	l.deleteNode(lru)
	delete(l.cache, lru.Key)
}

func (l *LRU[K, V]) expired(node *Node[K, V]) bool {
	return l.ttl > 0 && !l.now().Before(node.ExpiresAt)
}

func (l *LRU[K, V]) insertNode(node *Node[K, V]) {
	prev, next := l.right.Prev, l.right

	node.Prev = prev
	node.Next = next

	prev.Next = node
	next.Prev = node
}

func (l *LRU[K, V]) deleteNode(node *Node[K, V]) {
	prev, next := node.Prev, node.Next

	prev.Next = next
	next.Prev = prev
}
