package preferences

// orderedIndex is the ordered key/value index backing Memory. It is a
// lock-coupled concurrent skip list, the same algorithm the teacher's
// database package used for its in-memory document index, trimmed down to
// exactly what a preferences store needs: string keys, json.RawMessage
// values, point lookup, upsert, removal, and a sorted key listing. There is
// no range query, no generic key/value type parameters, and no separate
// "check function" for conditional updates, because Memory never needs any
// of that - every Set is an unconditional replace.
import (
	"encoding/json"
	"math/rand"
	"sync"
	"sync/atomic"
)

// maxIndexLevel bounds how many forward pointers a node can have, mirroring
// the teacher's skip list constant.
const maxIndexLevel = 11

// indexNode is one entry in an orderedIndex. marked flags a node pending
// removal; fullyLinked flags a node whose forward pointers are all in place
// and safe to traverse.
type indexNode struct {
	mutex       sync.Mutex
	key         string
	value       atomic.Pointer[json.RawMessage]
	topLevel    int
	marked      atomic.Bool
	fullyLinked atomic.Bool
	next        []atomic.Pointer[indexNode]
}

// orderedIndex is an ordered map from preference key to raw JSON value.
// count tracks successful structural mutations so Keys can detect and retry
// a traversal that raced a concurrent Upsert/Remove.
type orderedIndex struct {
	head, tail *indexNode
	count      atomic.Int64
}

func newOrderedIndex() *orderedIndex {
	tail := &indexNode{next: make([]atomic.Pointer[indexNode], maxIndexLevel), topLevel: maxIndexLevel}
	head := &indexNode{next: make([]atomic.Pointer[indexNode], maxIndexLevel), topLevel: maxIndexLevel}
	for level := 0; level < maxIndexLevel; level++ {
		head.next[level].Store(tail)
	}
	return &orderedIndex{head: head, tail: tail}
}

func randomIndexLevel() int {
	level := 1
	for rand.Float64() < 0.5 && level < maxIndexLevel-1 {
		level++
	}
	return level
}

// find locates key's predecessor and successor nodes at every level,
// returning the level key was found at, or -1 if it isn't present.
func (idx *orderedIndex) find(key string) (foundLevel int, preds, succs []*indexNode) {
	preds = make([]*indexNode, maxIndexLevel)
	succs = make([]*indexNode, maxIndexLevel)
	foundLevel = -1

	pred := idx.head
	for level := maxIndexLevel - 1; level >= 0; level-- {
		curr := pred.next[level].Load()
		for curr != idx.tail && key > curr.key {
			pred = curr
			curr = pred.next[level].Load()
		}
		if foundLevel == -1 && curr != idx.tail && key == curr.key {
			foundLevel = level
		}
		preds[level] = pred
		succs[level] = curr
	}
	return foundLevel, preds, succs
}

// Find returns key's current value, reporting false if it's absent or the
// node found is mid-removal.
func (idx *orderedIndex) Find(key string) (json.RawMessage, bool) {
	level, _, succs := idx.find(key)
	if level == -1 {
		return nil, false
	}
	node := succs[level]
	if node.marked.Load() || !node.fullyLinked.Load() {
		return nil, false
	}
	return *node.value.Load(), true
}

// Upsert replaces key's value, inserting a new node if key isn't present.
func (idx *orderedIndex) Upsert(key string, value json.RawMessage) {
	for {
		level, preds, succs := idx.find(key)
		locked := make(map[*indexNode]bool)

		if level != -1 {
			node := succs[level]
			node.mutex.Lock()
			if node.marked.Load() || !node.fullyLinked.Load() {
				node.mutex.Unlock()
				continue
			}
			node.value.Store(&value)
			node.mutex.Unlock()
			return
		}

		topLevel := randomIndexLevel()
		highestLocked := -1
		valid := true
		for level := 0; valid && level <= topLevel; level++ {
			pred, succ := preds[level], succs[level]
			if !locked[pred] {
				pred.mutex.Lock()
				locked[pred] = true
			}
			highestLocked = level
			valid = !pred.marked.Load() && !succ.marked.Load() && pred.next[level].Load() == succ
		}
		if !valid {
			unlockPreds(preds, locked, highestLocked)
			continue
		}

		node := &indexNode{key: key, next: make([]atomic.Pointer[indexNode], topLevel+1), topLevel: topLevel}
		node.value.Store(&value)
		for level := 0; level <= topLevel; level++ {
			node.next[level].Store(succs[level])
			preds[level].next[level].Store(node)
		}
		node.fullyLinked.Store(true)
		unlockPreds(preds, locked, highestLocked)
		idx.count.Add(1)
		return
	}
}

func unlockPreds(preds []*indexNode, locked map[*indexNode]bool, highestLocked int) {
	for level := highestLocked; level >= 0; level-- {
		if pred := preds[level]; locked[pred] {
			pred.mutex.Unlock()
			delete(locked, pred)
		}
	}
}

// Remove deletes key, reporting whether it was present.
func (idx *orderedIndex) Remove(key string) bool {
	for {
		level, preds, succs := idx.find(key)
		if level == -1 {
			return false
		}
		victim := succs[level]
		if !victim.fullyLinked.Load() || victim.marked.Load() || victim.topLevel != level {
			return false
		}

		victim.mutex.Lock()
		victim.marked.Store(true)
		locked := map[*indexNode]bool{victim: true}

		highestLocked := -1
		valid := true
		for level := 0; valid && level <= victim.topLevel; level++ {
			pred := preds[level]
			if !locked[pred] {
				pred.mutex.Lock()
				locked[pred] = true
			}
			highestLocked = level
			valid = !pred.marked.Load() && pred.next[level].Load() == victim
		}
		if !valid {
			victim.mutex.Unlock()
			delete(locked, victim)
			unlockPreds(preds, locked, highestLocked)
			continue
		}

		for level := victim.topLevel; level >= 0; level-- {
			preds[level].next[level].Store(victim.next[level].Load())
		}
		victim.mutex.Unlock()
		unlockPreds(preds, locked, highestLocked)
		idx.count.Add(1)
		return true
	}
}

// Keys returns every key currently in the index in sorted order, retrying
// the traversal if a concurrent Upsert/Remove changed the index mid-walk.
func (idx *orderedIndex) Keys() []string {
	for {
		preCount := idx.count.Load()

		var keys []string
		for node := idx.head.next[0].Load(); node != idx.tail; node = node.next[0].Load() {
			if node.fullyLinked.Load() && !node.marked.Load() {
				keys = append(keys, node.key)
			}
		}

		if idx.count.Load() == preCount {
			return keys
		}
	}
}
