package surface

import "context"

// Ticket identifies one load request. Results carrying a ticket that is no
// longer current belong to a superseded load and must be dropped.
type Ticket struct {
	Generation uint64
	Ref        Ref
}

// Loader tracks the current load generation. Starting a load cancels the
// context of the previous one. It is meant to be driven from a single event
// loop and is not safe for concurrent use.
type Loader struct {
	generation uint64
	cancel     context.CancelFunc
}

// Begin starts a new generation and returns its ticket plus a context that is
// cancelled when the load is superseded or the loader is cancelled.
func (l *Loader) Begin(parent context.Context, ref Ref) (Ticket, context.Context) {
	if l.cancel != nil {
		l.cancel()
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	l.generation++
	l.cancel = cancel
	return Ticket{Generation: l.generation, Ref: ref}, ctx
}

// Current reports whether t belongs to the latest, uncancelled load.
func (l *Loader) Current(t Ticket) bool {
	return l.cancel != nil && t.Generation == l.generation
}

// Finish releases the context of a completed current load.
func (l *Loader) Finish(t Ticket) {
	if !l.Current(t) {
		return
	}
	l.cancel()
	l.cancel = nil
}

// Cancel invalidates every outstanding ticket.
func (l *Loader) Cancel() {
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.generation++
}

// Generation returns the generation of the most recent Begin or Cancel.
func (l *Loader) Generation() uint64 {
	return l.generation
}
