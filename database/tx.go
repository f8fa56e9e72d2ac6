package database

import (
	"context"
	"fmt"
	"time"

	"github.com/Raytar/helpqueue/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Tx is a unit of work. Writes made through it are recorded and delivered
// to change subscribers once the transaction commits.
type Tx struct {
	ctx     context.Context
	db      *Database
	conn    *gorm.DB
	now     time.Time
	held    map[uint64]func()
	courses map[uint64]func()
	changes []Change
}

// Tx runs fn inside a database transaction. Locks taken by fn are
// released after the transaction commits or rolls back. Change handlers
// run after commit; their errors are returned wrapped in ErrPostCommit.
func (db *Database) Tx(ctx context.Context, fn func(tx *Tx) error) error {
	tx := &Tx{
		ctx:     ctx,
		db:      db,
		now:     db.Now(),
		held:    make(map[uint64]func()),
		courses: make(map[uint64]func()),
	}
	err := db.conn.WithContext(ctx).Transaction(func(conn *gorm.DB) error {
		tx.conn = conn
		return fn(tx)
	})
	for _, unlock := range tx.held {
		unlock()
	}
	for _, unlock := range tx.courses {
		unlock()
	}
	if err != nil {
		return err
	}
	return db.dispatch(context.WithoutCancel(ctx), tx.changes)
}

// Conn returns the transaction's connection for reads.
func (tx *Tx) Conn() *gorm.DB { return tx.conn }

// Now returns the time the transaction started. All writes in the
// transaction use it.
func (tx *Tx) Now() time.Time { return tx.now }

// LockUser takes an exclusive lock on behalf of userID that is held until
// the transaction ends. Locking the same user twice is a no-op.
func (tx *Tx) LockUser(userID uint64) error {
	if _, ok := tx.held[userID]; ok {
		return nil
	}
	unlock, err := tx.db.locks.lock(tx.ctx, userID)
	if err != nil {
		return fmt.Errorf("lock user %d: %w", userID, err)
	}
	tx.held[userID] = unlock
	if !tx.db.rowLocks {
		return nil
	}
	if err := tx.conn.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.UserLock{UserID: userID}).Error; err != nil {
		return fmt.Errorf("lock user %d: %w", userID, err)
	}
	var l models.UserLock
	if err := tx.conn.Clauses(clause.Locking{Strength: "UPDATE"}).Where("user_id = ?", userID).First(&l).Error; err != nil {
		return fmt.Errorf("lock user %d: %w", userID, err)
	}
	return nil
}

// courseLockSpace is the high word of the postgres advisory lock keys
// taken by LockCourse.
const courseLockSpace int64 = 0x4851 << 32

// LockCourse serializes writers of a course's configuration until the
// transaction ends. Locking the same course twice is a no-op.
func (tx *Tx) LockCourse(courseID uint64) error {
	if _, ok := tx.courses[courseID]; ok {
		return nil
	}
	unlock, err := tx.db.courseLocks.lock(tx.ctx, courseID)
	if err != nil {
		return fmt.Errorf("lock course %d: %w", courseID, err)
	}
	tx.courses[courseID] = unlock
	if !tx.db.rowLocks {
		return nil
	}
	if err := tx.conn.Exec("SELECT pg_advisory_xact_lock(?)", courseLockSpace|int64(uint32(courseID))).Error; err != nil {
		return fmt.Errorf("lock course %d: %w", courseID, err)
	}
	return nil
}

// Insert creates rec and records the insert.
func (tx *Tx) Insert(rec models.Record) error {
	if err := tx.conn.Create(rec).Error; err != nil {
		return err
	}
	tx.changes = append(tx.changes, Change{Table: rec.TableName(), Kind: KindInsert, New: rec.Row()})
	return nil
}

// Scope narrows a query.
type Scope func(*gorm.DB) *gorm.DB

// Update loads the rows selected by scope, applies mutate to each and writes
// back only the columns that changed. It returns the number of rows written.
// Rows are locked for update on databases that support it.
func Update[T any, P interface {
	*T
	models.Record
}](tx *Tx, scope Scope, mutate func(P)) (int64, error) {
	var rows []T
	q := scope(tx.conn.Model(new(T)))
	if tx.db.rowLocks {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.Find(&rows).Error; err != nil {
		return 0, err
	}
	var n int64
	for i := range rows {
		rec := P(&rows[i])
		old := rec.Row()
		mutate(rec)
		cur := rec.Row()
		cols := make(map[string]any)
		for col, v := range cur {
			if !models.Equal(old[col], v) {
				cols[col] = v
			}
		}
		if len(cols) == 0 {
			continue
		}
		if err := tx.conn.Model(new(T)).Where("id = ?", old["id"]).Updates(cols).Error; err != nil {
			return n, err
		}
		tx.changes = append(tx.changes, Change{Table: rec.TableName(), Kind: KindUpdate, Old: old, New: cur})
		n++
	}
	return n, nil
}

// Delete removes the rows selected by scope and records each deletion.
func Delete[T any, P interface {
	*T
	models.Record
}](tx *Tx, scope Scope) (int64, error) {
	var rows []T
	if err := scope(tx.conn.Model(new(T))).Find(&rows).Error; err != nil {
		return 0, err
	}
	for i := range rows {
		rec := P(&rows[i])
		old := rec.Row()
		if err := tx.conn.Where("id = ?", old["id"]).Delete(new(T)).Error; err != nil {
			return int64(i), err
		}
		tx.changes = append(tx.changes, Change{Table: rec.TableName(), Kind: KindDelete, Old: old})
	}
	return int64(len(rows)), nil
}
