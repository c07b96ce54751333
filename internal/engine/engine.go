// Package engine runs every mutation of the timeline core as one ordered,
// atomic pipeline: invariant gate, entity store write, projection sync,
// hierarchy maintenance, aggregate deltas. Mutations for the same owner are
// serialized; different owners only contend on the database.
package engine

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"timeline/core/internal/invariant"
	"timeline/core/internal/logging"
	"timeline/core/internal/timeline"

	"gorm.io/gorm"
)

type Options struct {
	Logger     *slog.Logger
	Categories invariant.CategoryChecker
	Publisher  Publisher
	Now        func() time.Time
}

type Engine struct {
	db         *gorm.DB
	log        *slog.Logger
	categories invariant.CategoryChecker
	publisher  Publisher
	now        func() time.Time
	locks      *ownerLocks
}

func New(db *gorm.DB, opts Options) (*Engine, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	lg := opts.Logger
	if lg == nil {
		lg = logging.Discard()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		db:         db,
		log:        lg,
		categories: opts.Categories,
		publisher:  opts.Publisher,
		now:        now,
		locks:      newOwnerLocks(),
	}, nil
}

// DB exposes the underlying handle for read-side tooling such as audits.
func (e *Engine) DB() *gorm.DB { return e.db }

// mutate runs fn in one transaction while holding the owner's lock. Events
// collected by fn are published only after commit.
func (e *Engine) mutate(op, actor string, fn func(*txn) error) error {
	unlock := e.locks.lock(actor)
	defer unlock()

	var events []Event
	err := e.db.Transaction(func(tx *gorm.DB) error {
		t := &txn{
			db:  tx,
			now: e.now().UTC().Truncate(time.Second),
		}
		t.gate = invariant.Gate{Reader: t, Categories: e.categories}
		if err := fn(t); err != nil {
			return err
		}
		events = t.events
		return nil
	})
	lg := logging.ForMutation(e.log, op, actor)
	if err != nil {
		err = timeline.WithOp(op, err)
		if code := timeline.CodeOf(err); code != "" {
			lg.Info("mutation rejected", logging.Code(string(code)), logging.Err(err))
		} else {
			lg.Error("mutation failed", logging.Err(err))
		}
		return err
	}
	lg.Debug("mutation committed", "events", len(events))
	if e.publisher != nil {
		for _, evt := range events {
			e.publisher.Publish(evt)
		}
	}
	return nil
}

type ownerLocks struct {
	mu    sync.Mutex
	locks map[string]*ownerLock
}

type ownerLock struct {
	mu   sync.Mutex
	refs int
}

func newOwnerLocks() *ownerLocks {
	return &ownerLocks{locks: map[string]*ownerLock{}}
}

func (l *ownerLocks) lock(owner string) func() {
	l.mu.Lock()
	ol, ok := l.locks[owner]
	if !ok {
		ol = &ownerLock{}
		l.locks[owner] = ol
	}
	ol.refs++
	l.mu.Unlock()

	ol.mu.Lock()
	return func() {
		ol.mu.Unlock()
		l.mu.Lock()
		ol.refs--
		if ol.refs == 0 {
			delete(l.locks, owner)
		}
		l.mu.Unlock()
	}
}
