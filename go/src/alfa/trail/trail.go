// Package trail models one attempt of a transactional operation against
// the backing store: a handle to that transaction plus an arena-like
// scratch allocation scope whose lifetime is exactly one attempt.
package trail

import (
	"context"
	"log"

	"code.harrowgate.dev/repdelta/go/src/_/interfaces"
)

// Txn is the transaction handle a backing-store adapter consumes to scope
// reads and writes to one attempt. TxnId identifies the owning mutable
// scope for representations created under this trail (spec's `txn_id`);
// it is empty for read-only trails.
type Txn interface {
	TxnId() string
	Context() context.Context
}

type simpleTxn struct {
	id  string
	ctx context.Context
}

func (t simpleTxn) TxnId() string { return t.id }

func (t simpleTxn) Context() context.Context { return t.ctx }

func MakeTxn(ctx context.Context, txnId string) Txn {
	return simpleTxn{id: txnId, ctx: ctx}
}

// Scope is a child allocation scope. Every scratch allocation made inside
// one composition step belongs to a Scope created for that step; Release
// returns the scope's resources (via each allocation's FuncRepool) to
// their pools. Scopes are opened only from a Trail (ChildScope) and do not
// nest; each one is released independently of the others.
type Scope struct {
	trail    *Trail
	repools  []interfaces.FuncRepool
	released bool
}

// Borrow runs get, which is expected to be one of the alfa/pool
// Get*-style accessors, and tracks its FuncRepool in this scope so the
// caller does not have to thread repool funcs through the composition
// loop by hand.
func Borrow[T any](scope *Scope, get func() (T, interfaces.FuncRepool)) T {
	value, repool := get()
	scope.repools = append(scope.repools, repool)
	return value
}

// Release returns every borrow made in this scope to its pool. Safe to
// call more than once; only the first call has effect.
func (scope *Scope) Release() {
	if scope.released {
		return
	}

	scope.released = true

	for i := len(scope.repools) - 1; i >= 0; i-- {
		scope.repools[i]()
	}

	scope.repools = nil
}

// Trail is one attempt of a transactional operation, holding its Txn.
// The Trail itself holds no scope; that attempt's scratch allocations
// live in the child scopes opened with ChildScope.
type Trail struct {
	Txn Txn
}

func New(txn Txn) *Trail {
	return &Trail{Txn: txn}
}

// ChildScope opens a new Scope belonging to this trail. Callers are
// expected to `defer scope.Release()` immediately, matching the
// composition engine's discipline of keeping at most two adjacent
// windows' worth of scratch memory alive at once.
func (trail *Trail) ChildScope() *Scope {
	return &Scope{trail: trail}
}

// RetryTxn is the retry harness: it runs fn inside a fresh Trail,
// replaying on a Transient error up to maxAttempts times. Corruption and
// contract-violation errors are never retried — fn's caller is expected
// to classify its own errors via alfa/errors' Typed sentinels, and
// isTransient below is the hook a backing-store adapter registers to
// recognize its own transient failures.
func RetryTxn(
	ctx context.Context,
	maxAttempts int,
	makeTxn func(ctx context.Context) (Txn, error),
	isTransient func(error) bool,
	fn func(trail *Trail) error,
) (err error) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var txn Txn

		if txn, err = makeTxn(ctx); err != nil {
			return err
		}

		trail := New(txn)

		err = fn(trail)
		if err == nil {
			return nil
		}

		if !isTransient(err) {
			return err
		}

		if attempt < maxAttempts {
			log.Printf("trail: attempt %d/%d failed transiently, retrying: %v", attempt, maxAttempts, err)
		} else {
			log.Printf("trail: attempt %d/%d failed transiently, giving up: %v", attempt, maxAttempts, err)
		}
	}

	return err
}
