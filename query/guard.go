package query

import "sync/atomic"

/*
Guard is a request token counter for one call site.

Every outgoing request takes the next token (increment, then capture).
When the response arrives it may only be committed if its token is still
the current one; anything older was superseded and is dropped, whatever
order the network delivered things in.
*/
type Guard struct {
	current atomic.Uint64
}

// Next issues the token for a new request.
func (g *Guard) Next() uint64 {
	return g.current.Add(1)
}

// Current returns the token of the latest issued request.
func (g *Guard) Current() uint64 {
	return g.current.Load()
}

// IsCurrent reports whether a response tagged token may still be committed.
func (g *Guard) IsCurrent(token uint64) bool {
	return g.current.Load() == token
}
