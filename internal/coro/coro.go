// Package coro implements the execution context switch used by cosched tasks.
//
// Each [Context] made with [Make] owns a goroutine, which acts as its stack.
// Control is only ever transferred by a synchronous channel handshake, via
// [Swap], meaning that exactly one of the contexts participating in a switch
// graph executes at any instant. The goroutine scheduler is never relied on
// for ordering: a suspended context is parked on its own channel, and may
// only continue once another context hands control to it.
//
// Nothing in this package is safe for concurrent use, in the sense that the
// caller of Swap must be the goroutine that currently owns the from context.
package coro

import (
	"runtime"
)

// Return values of [Swap].
const (
	// Finished indicates that the context which handed control back did so
	// because its entry function returned (or it was killed).
	Finished = 0
	// Yielded indicates that control was handed back voluntarily, and the
	// context that did so may be resumed later.
	Yielded = 1
)

type signal uint8

const (
	sigResume signal = iota
	sigFinish
	sigKill
)

// Context is a saved execution state. The zero value is not usable, see
// [Main] and [Make].
type Context struct {
	ch       chan signal
	caller   *Context
	entry    func(arg any)
	arg      any
	started  bool
	finished bool
	dying    bool
}

// Main returns a context representing the calling goroutine. It has no entry
// function, and will never finish.
func Main() *Context {
	return &Context{ch: make(chan signal), started: true}
}

// Make prepares a context that, when first resumed, will call entry(arg) on
// its own goroutine.
func Make(entry func(arg any), arg any) *Context {
	if entry == nil {
		panic(`coro: nil entry`)
	}
	return &Context{ch: make(chan signal), entry: entry, arg: arg}
}

// Started reports whether the context has been resumed at least once.
func (c *Context) Started() bool { return c.started }

// Finished reports whether the entry function of the context has returned, or
// the context was killed.
func (c *Context) Finished() bool { return c.finished }

// Swap suspends from, which must be the context of the caller, and transfers
// control to to. It returns once control is transferred back to from, with
// either [Finished] or [Yielded], see the constants for details.
//
// When to finishes, control goes to the context that last resumed it, where
// swapping back to one's own resumer does not count as resuming it.
//
// If from is being killed, Swap returns Finished immediately, without
// transferring control.
func Swap(from, to *Context) int {
	if from.dying {
		return Finished
	}
	if to.finished {
		return Finished
	}
	// handing control back to the resumer is not a resume: the link must
	// continue to point at whoever is waiting for to to finish
	if to.entry != nil && from.caller != to {
		to.caller = from
	}
	if !to.started {
		to.started = true
		go to.run()
	}
	to.ch <- sigResume
	return from.await()
}

// Kill destroys c, which must be suspended, handing control to it such that
// its goroutine unwinds (deferred calls are run, on that goroutine). Control
// is returned to from once unwinding completes. Contexts that were never
// started are simply marked finished.
func (c *Context) Kill(from *Context) {
	if c.finished || c == from {
		return
	}
	if !c.started {
		c.started = true
		c.finished = true
		return
	}
	c.caller = from
	c.ch <- sigKill
	from.await()
}

func (c *Context) await() int {
	switch <-c.ch {
	case sigFinish:
		return Finished
	case sigKill:
		c.dying = true
		runtime.Goexit()
	}
	return Yielded
}

func (c *Context) run() {
	defer func() {
		c.finished = true
		c.caller.ch <- sigFinish
	}()
	if c.await() != Yielded {
		return
	}
	c.entry(c.arg)
}
