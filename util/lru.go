package util

import (
	"fmt"
	"strings"
	"sync"
)

/*
LRU is a size-weighted least-recently-used list. Each entry carries a weight,
and Put discards entries from the cold end until the total weight fits the
capacity. Callers that want to decide for themselves what leaves the list (a
write-back buffer, an eviction policy with its own locking rules) construct it
with an unbounded capacity and use Oldest, Backward and Delete.
*/

////////////////////////////////////////////////////////////////////////////////

// Unbounded is a capacity that never causes Put to discard entries.
const Unbounded = ^uint64(0)

// LRU is a simple LRU cache.
type LRU[K comparable, V any] struct {
	cache      map[K]*listNode[K, V]
	head, tail *listNode[K, V]
	size       uint64
	cap        uint64
	mtx        *sync.Mutex
}

type listNode[K comparable, V any] struct {
	key        K
	value      V
	size       uint64
	prev, next *listNode[K, V]
}

// NewLRU returns a new LRU cache with the given capacity.
func NewLRU[K comparable, V any](capacity uint64) *LRU[K, V] {
	head, tail := &listNode[K, V]{}, &listNode[K, V]{}
	head.next = tail
	tail.prev = head
	return &LRU[K, V]{
		cache: make(map[K]*listNode[K, V]),
		head:  head,
		tail:  tail,
		cap:   capacity,
		mtx:   &sync.Mutex{},
	}
}

// Reset clears the cache.
func (lru *LRU[K, V]) Reset() {
	lru.mtx.Lock()
	defer lru.mtx.Unlock()
	lru.cache = make(map[K]*listNode[K, V])
	lru.head.next = lru.tail
	lru.tail.prev = lru.head
	lru.size = 0
}

func (lru *LRU[K, V]) addToFront(node *listNode[K, V]) {
	node.next = lru.head.next
	node.prev = lru.head
	lru.head.next.prev = node
	lru.head.next = node
}

func (lru *LRU[K, V]) removeNode(node *listNode[K, V]) {
	node.prev.next = node.next
	node.next.prev = node.prev
}

func (lru *LRU[K, V]) moveToFront(node *listNode[K, V]) {
	lru.removeNode(node)
	lru.addToFront(node)
}

// Put adds a new key-value pair with the given weight to the cache. If the
// key already exists, the value is updated and moved to the front. Values
// heavier than the whole capacity are not cached.
func (lru *LRU[K, V]) Put(key K, value V, size uint64) {
	lru.mtx.Lock()
	defer lru.mtx.Unlock()
	if size > lru.cap {
		lru.delete(key)
		return
	}
	if node, exists := lru.cache[key]; exists {
		lru.size = lru.size - node.size + size
		node.value = value
		node.size = size
		lru.moveToFront(node)
	} else {
		node := &listNode[K, V]{key: key, value: value, size: size}
		lru.cache[key] = node
		lru.addToFront(node)
		lru.size += size
	}
	for lru.size > lru.cap {
		lru.evict()
	}
}

// Get returns the value associated with the given key and moves it to the
// front. The second return value is true if the key exists in the cache.
func (lru *LRU[K, V]) Get(key K) (V, bool) {
	lru.mtx.Lock()
	defer lru.mtx.Unlock()
	if node, exists := lru.cache[key]; exists {
		lru.moveToFront(node)
		return node.value, true
	}
	var v V
	return v, false
}

// Peek returns the value associated with the given key without changing its
// position.
func (lru *LRU[K, V]) Peek(key K) (V, bool) {
	lru.mtx.Lock()
	defer lru.mtx.Unlock()
	if node, exists := lru.cache[key]; exists {
		return node.value, true
	}
	var v V
	return v, false
}

// Delete removes the key from the cache. It reports whether the key was
// present.
func (lru *LRU[K, V]) Delete(key K) bool {
	lru.mtx.Lock()
	defer lru.mtx.Unlock()
	return lru.delete(key)
}

func (lru *LRU[K, V]) delete(key K) bool {
	node, exists := lru.cache[key]
	if !exists {
		return false
	}
	lru.removeNode(node)
	delete(lru.cache, key)
	lru.size -= node.size
	return true
}

// Oldest returns the least recently used entry without removing it.
func (lru *LRU[K, V]) Oldest() (K, V, bool) {
	lru.mtx.Lock()
	defer lru.mtx.Unlock()
	if lru.tail.prev == lru.head {
		var k K
		var v V
		return k, v, false
	}
	node := lru.tail.prev
	return node.key, node.value, true
}

// Backward calls f on each entry from least to most recently used, while
// holding the cache lock. Iteration stops when f returns false. f must not
// call back into the cache.
func (lru *LRU[K, V]) Backward(f func(K, V) bool) {
	lru.mtx.Lock()
	defer lru.mtx.Unlock()
	for node := lru.tail.prev; node != lru.head; node = node.prev {
		if !f(node.key, node.value) {
			return
		}
	}
}

// Len returns the number of entries in the cache.
func (lru *LRU[K, V]) Len() int {
	lru.mtx.Lock()
	defer lru.mtx.Unlock()
	return len(lru.cache)
}

// Size returns the total weight of the entries in the cache.
func (lru *LRU[K, V]) Size() uint64 {
	lru.mtx.Lock()
	defer lru.mtx.Unlock()
	return lru.size
}

func (lru *LRU[K, V]) evict() {
	if lru.tail.prev == lru.head {
		return // Cache is empty
	}
	node := lru.tail.prev
	lru.size -= node.size
	delete(lru.cache, node.key)
	lru.removeNode(node)
}

// String returns a string representation of the cache.
func (lru *LRU[K, V]) String() string {
	lru.mtx.Lock()
	defer lru.mtx.Unlock()
	sb := &strings.Builder{}
	if lru.cap == Unbounded {
		sb.WriteString(fmt.Sprintf("(%d) [", lru.size))
	} else {
		sb.WriteString(fmt.Sprintf("(%d/%d) [", lru.size, lru.cap))
	}
	for node := lru.head.next; node != lru.tail; node = node.next {
		sb.WriteString(fmt.Sprintf("%v:%v", node.key, node.value))
		if node.next != lru.tail {
			sb.WriteString(" ")
		}
	}
	sb.WriteString("]")
	return sb.String()
}
