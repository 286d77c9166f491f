// Package chain implements an immutable, append-only list of callbacks.
// Appending returns a new list that shares its prefix with the receiver, so
// an effect can be extended without mutating any earlier copy.
package chain

type node[S any] struct {
	prev *node[S]
	fn   func(S)
}

// List is an ordered sequence of callbacks. The zero value is empty.
type List[S any] struct {
	last *node[S]
	n    int
}

// Append returns a list with fn after every existing callback.
// A nil fn is ignored.
func (l List[S]) Append(fn func(S)) List[S] {
	if fn == nil {
		return l
	}
	return List[S]{last: &node[S]{prev: l.last, fn: fn}, n: l.n + 1}
}

// Len reports the number of callbacks.
func (l List[S]) Len() int { return l.n }

// Run invokes every callback with state in the order they were appended.
func (l List[S]) Run(state S) {
	if l.n == 0 {
		return
	}
	fns := make([]func(S), l.n)
	i := l.n - 1
	for nd := l.last; nd != nil; nd = nd.prev {
		fns[i] = nd.fn
		i--
	}
	for _, fn := range fns {
		fn(state)
	}
}
