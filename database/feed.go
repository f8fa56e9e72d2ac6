package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/Raytar/helpqueue/models"
)

// ErrPostCommit marks errors raised by change handlers. The transaction
// that produced the change has already been committed.
var ErrPostCommit = errors.New("change handler failed after commit")

type ChangeKind uint8

const (
	KindInsert ChangeKind = iota + 1
	KindUpdate
	KindDelete
)

func (k ChangeKind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	}
	return "unknown"
}

// Change is a row mutation observed by the gateway. Old is nil for inserts
// and New is nil for deletes.
type Change struct {
	Table string
	Kind  ChangeKind
	Old   models.Row
	New   models.Row
}

type ChangeHandler func(ctx context.Context, c Change) error

// Subscribe registers h for changes to table. Handlers run on the
// committing goroutine after commit, in the order the changes were made.
func (db *Database) Subscribe(table string, h ChangeHandler) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.feeds[table] = append(db.feeds[table], h)
}

func (db *Database) dispatch(ctx context.Context, changes []Change) error {
	var errs []error
	for _, c := range changes {
		db.mu.RLock()
		handlers := db.feeds[c.Table]
		db.mu.RUnlock()
		for _, h := range handlers {
			if err := h(ctx, c); err != nil {
				errs = append(errs, fmt.Errorf("%s %s: %w", c.Table, c.Kind, err))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrPostCommit, errors.Join(errs...))
	}
	return nil
}
