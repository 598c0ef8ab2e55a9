// Package list implements an intrusive, sentinel-based circular doubly linked list.
//
// Nodes live in an Arena and are addressed by their index (Ref) rather than by
// pointer. A list is identified by its sentinel node: the sentinel's next is the
// head of the list and its prev is the tail. An empty list has both links
// pointing back at the sentinel.
//
// Every node is either detached (both links Nil) or a member of exactly one list.
// The owner of a node is the sentinel of the list it belongs to.
//
// Adding a node that is already linked corrupts both lists. Release builds do not
// check for it; building with the listdebug tag turns it into a panic.
//
// An Arena is not safe for concurrent use.
package list

import (
	"errors"
	"fmt"
	"iter"
	"unsafe"
)

// Ref is the index of a node in an Arena.
type Ref int32

// Nil marks the absence of a node.
const Nil Ref = -1

var (
	ErrPreconditionViolation = errors.New("list: precondition violation")
	ErrCorrupted             = errors.New("list: corrupted")

	errEmpty = fmt.Errorf("%w: list is empty", ErrPreconditionViolation)
)

type node struct {
	next  Ref
	prev  Ref
	owner Ref // Sentinel of the list the node is linked into, or Nil.
}

// NodeSize is the size of a node's links, in bytes.
const NodeSize = int(unsafe.Sizeof(node{}))

// Arena owns the nodes of one or more lists.
type Arena struct {
	nodes []node
}

// NewArena creates an arena of n detached nodes, addressed 0..n-1.
func NewArena(n int) *Arena {
	a := &Arena{nodes: make([]node, n, n+2)}
	for i := range a.nodes {
		a.nodes[i] = node{next: Nil, prev: Nil, owner: Nil}
	}
	return a
}

// Len returns the number of nodes in the arena, sentinels included.
func (a *Arena) Len() int {
	return len(a.nodes)
}

// NewList appends a node to the arena, initializes it as an empty list and
// returns it as the list's sentinel.
func (a *Arena) NewList() Ref {
	s := Ref(len(a.nodes))
	a.nodes = append(a.nodes, node{})
	a.Init(s)
	return s
}

// Init makes s the sentinel of an empty list.
func (a *Arena) Init(s Ref) {
	a.nodes[s] = node{next: s, prev: s, owner: s}
}

// IsEmpty reports whether the list identified by s has no members.
func (a *Arena) IsEmpty(s Ref) bool {
	return a.nodes[s].next == s
}

// Head returns the first node of the list.
func (a *Arena) Head(s Ref) (Ref, error) {
	if a.IsEmpty(s) {
		return Nil, errEmpty
	}
	return a.nodes[s].next, nil
}

// Tail returns the last node of the list.
func (a *Arena) Tail(s Ref) (Ref, error) {
	if a.IsEmpty(s) {
		return Nil, errEmpty
	}
	return a.nodes[s].prev, nil
}

// RemoveHead detaches and returns the first node of the list.
func (a *Arena) RemoveHead(s Ref) (Ref, error) {
	if a.IsEmpty(s) {
		return Nil, errEmpty
	}
	n := a.nodes[s].next
	a.unlink(n)
	return n, nil
}

// RemoveTail detaches and returns the last node of the list.
func (a *Arena) RemoveTail(s Ref) (Ref, error) {
	if a.IsEmpty(s) {
		return Nil, errEmpty
	}
	n := a.nodes[s].prev
	a.unlink(n)
	return n, nil
}

// Remove detaches n from whichever list it is linked into.
// It is a no-op for a detached node.
func (a *Arena) Remove(n Ref) {
	if a.nodes[n].owner == Nil {
		return
	}
	a.unlink(n)
}

// AddHead links n as the new head of the list. n must be detached.
func (a *Arena) AddHead(s, n Ref) {
	a.insert(s, n, s, a.nodes[s].next)
}

// AddTail links n as the new tail of the list. n must be detached.
func (a *Arena) AddTail(s, n Ref) {
	a.insert(s, n, a.nodes[s].prev, s)
}

// Start returns the first node of a forward iteration.
func (a *Arena) Start(s Ref) (Ref, error) {
	return a.Head(s)
}

// IsEnd reports whether the iteration over the list s has wrapped back to its sentinel.
func (a *Arena) IsEnd(s, n Ref) bool {
	return n == s
}

// Next returns the node following n. Mutating the list while iterating is undefined.
func (a *Arena) Next(n Ref) Ref {
	return a.nodes[n].next
}

// All returns an iterator over the members of the list, head to tail.
func (a *Arena) All(s Ref) iter.Seq[Ref] {
	return func(yield func(Ref) bool) {
		for n := a.nodes[s].next; !a.IsEnd(s, n); n = a.Next(n) {
			if !yield(n) {
				return
			}
		}
	}
}

// Owner returns the sentinel of the list n is linked into, or Nil if n is detached.
func (a *Arena) Owner(n Ref) Ref {
	return a.nodes[n].owner
}

// IsDetached reports whether n is not a member of any list.
func (a *Arena) IsDetached(n Ref) bool {
	return a.nodes[n].owner == Nil
}

// Verify walks the list checking link symmetry and ownership of every member.
// It returns the number of members.
func (a *Arena) Verify(s Ref) (int, error) {
	if a.nodes[s].owner != s {
		return 0, fmt.Errorf("%w: node %d is not a sentinel", ErrCorrupted, s)
	}
	count := 0
	prev := s
	for n := a.nodes[s].next; n != s; n = a.nodes[n].next {
		if n < 0 || int(n) >= len(a.nodes) {
			return count, fmt.Errorf("%w: link %d->%d out of range", ErrCorrupted, prev, n)
		}
		if a.nodes[n].prev != prev {
			return count, fmt.Errorf("%w: node %d prev is %d, expected %d", ErrCorrupted, n, a.nodes[n].prev, prev)
		}
		if a.nodes[n].owner != s {
			return count, fmt.Errorf("%w: node %d owned by %d, expected %d", ErrCorrupted, n, a.nodes[n].owner, s)
		}
		count++
		if count > len(a.nodes) {
			return count, fmt.Errorf("%w: cycle without sentinel", ErrCorrupted)
		}
		prev = n
	}
	if a.nodes[s].prev != prev {
		return count, fmt.Errorf("%w: sentinel %d prev is %d, expected tail %d", ErrCorrupted, s, a.nodes[s].prev, prev)
	}
	return count, nil
}

func (a *Arena) insert(s, n, prev, next Ref) {
	if checked && a.nodes[n].owner != Nil {
		panic(fmt.Errorf("%w: node %d is already linked into list %d", ErrCorrupted, n, a.nodes[n].owner))
	}
	a.nodes[prev].next = n
	a.nodes[n] = node{next: next, prev: prev, owner: s}
	a.nodes[next].prev = n
}

func (a *Arena) unlink(n Ref) {
	nd := &a.nodes[n]
	if checked && (a.nodes[nd.prev].next != n || a.nodes[nd.next].prev != n) {
		panic(fmt.Errorf("%w: asymmetric links around node %d", ErrCorrupted, n))
	}
	a.nodes[nd.prev].next = nd.next
	a.nodes[nd.next].prev = nd.prev
	*nd = node{next: Nil, prev: Nil, owner: Nil}
}
