// Package entity provides typed integer indices and arena vectors indexed by them.
//
// An Id[T] is a compact index tagged with the type of thing it indexes, so a rect
// index cannot be passed where a job index is expected. Vec[T, V] is a slice whose
// elements are addressed by Id[T].
package entity

import (
	"fmt"
	"iter"
)

// Id is an index into a Vec[T, V]. The tag T is never instantiated.
type Id[T any] uint32

// Idx returns the index as an int
func (id Id[T]) Idx() int {
	return int(id)
}

// String formats the id as its bare index
func (id Id[T]) String() string {
	return fmt.Sprintf("%d", uint32(id))
}

// FromIdx converts an int index into an Id, panicking on negative or oversized values
func FromIdx[T any](idx int) Id[T] {
	if idx < 0 || uint64(idx) > uint64(^uint32(0)) {
		panic(fmt.Sprintf("entity index %d out of range", idx))
	}
	return Id[T](idx)
}

// Vec is an append-only arena. Ids returned by Push stay valid for the Vec's lifetime.
type Vec[T any, V any] struct {
	items []V
}

// NewVec creates a Vec with capacity for n items
func NewVec[T any, V any](n int) *Vec[T, V] {
	return &Vec[T, V]{items: make([]V, 0, n)}
}

// Push appends v and returns its id
func (v *Vec[T, V]) Push(val V) Id[T] {
	id := FromIdx[T](len(v.items))
	v.items = append(v.items, val)
	return id
}

// Len returns the number of items
func (v *Vec[T, V]) Len() int {
	return len(v.items)
}

// Get returns the item at id; ok is false when id is out of range
func (v *Vec[T, V]) Get(id Id[T]) (val V, ok bool) {
	if id.Idx() >= len(v.items) {
		return val, false
	}
	return v.items[id], true
}

// At returns a pointer to the item at id and panics if id is out of range
func (v *Vec[T, V]) At(id Id[T]) *V {
	return &v.items[id]
}

// NextId returns the id the next Push will assign
func (v *Vec[T, V]) NextId() Id[T] {
	return FromIdx[T](len(v.items))
}

// All iterates over ids and values in index order
func (v *Vec[T, V]) All() iter.Seq2[Id[T], V] {
	return func(yield func(Id[T], V) bool) {
		for i, val := range v.items {
			if !yield(Id[T](i), val) {
				return
			}
		}
	}
}

// Ids iterates over every valid id
func (v *Vec[T, V]) Ids() iter.Seq[Id[T]] {
	return func(yield func(Id[T]) bool) {
		for i := range v.items {
			if !yield(Id[T](i)) {
				return
			}
		}
	}
}
