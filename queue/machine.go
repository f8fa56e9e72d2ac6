// Package queue implements the question lifecycle: adding, answering,
// returning, freezing and closing questions, and the queue configuration
// each course keeps.
//
// Every operation runs in one transaction and takes the acting user's lock
// before it evaluates its guard, so two calls for the same student or CA
// cannot both pass the check.
package queue

import (
	"context"
	"time"

	"github.com/Raytar/helpqueue/database"
	"github.com/Raytar/helpqueue/metrics"
	"github.com/Raytar/helpqueue/models"
	"github.com/Raytar/helpqueue/predicate"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DefaultMaxFreeze is the freeze duration used by courses without
// queue meta.
const DefaultMaxFreeze = 5 * time.Minute

type Machine struct {
	db        *database.Database
	log       *logrus.Logger
	schemas   *schemas
	maxFreeze time.Duration
}

// New returns a state machine over db. A non-positive maxFreeze selects
// DefaultMaxFreeze.
func New(db *database.Database, log *logrus.Logger, maxFreeze time.Duration) (*Machine, error) {
	s, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	if maxFreeze <= 0 {
		maxFreeze = DefaultMaxFreeze
	}
	return &Machine{db: db, log: log, schemas: s, maxFreeze: maxFreeze}, nil
}

// run executes fn in a transaction and records the outcome.
func (m *Machine) run(ctx context.Context, op string, fields logrus.Fields, fn func(tx *database.Tx) error) error {
	err := m.db.Tx(ctx, fn)
	log := m.log.WithFields(fields).WithField("op", op)
	switch {
	case err == nil:
		metrics.Observe(op, "ok")
	case IsRejection(err):
		metrics.Observe(op, "rejected")
		log.Infoln("Rejected:", err)
	default:
		metrics.Observe(op, "error")
		log.Errorln("Failed:", err)
	}
	return err
}

func ptr[T any](v T) *T { return &v }

func byStudent(id uint64) database.Scope {
	return func(q *gorm.DB) *gorm.DB { return q.Where("questions.student_user_id = ?", id) }
}

func byCA(id uint64) database.Scope {
	return func(q *gorm.DB) *gorm.DB { return q.Where("questions.ca_user_id = ?", id) }
}

func byID(id uint64) database.Scope {
	return func(q *gorm.DB) *gorm.DB { return q.Where("questions.id = ?", id) }
}

func oldestFirst(q *gorm.DB) *gorm.DB {
	return q.Order("questions.on_time asc").Order("questions.id asc").Limit(1)
}

// NewQuestion is the input to Add.
type NewQuestion struct {
	StudentUserID uint64 `json:"student_user_id"`
	TopicID       uint64 `json:"topic_id"`
	LocationID    uint64 `json:"location_id"`
	HelpText      string `json:"help_text"`
	CourseID      uint64 `json:"course_id"`
}

// Add validates a JSON encoded NewQuestion and puts it on the queue.
// It fails with ErrQueueClosed if the course queue is closed and with
// ErrDoubleAdd if the student already has an open question there.
func (m *Machine) Add(ctx context.Context, payload []byte) (*models.Question, error) {
	var in NewQuestion
	if err := validate(ctx, "add", m.schemas.add, payload, &in); err != nil {
		m.log.WithField("op", "add").Infoln("Rejected input:", err)
		metrics.Observe("add", "invalid")
		return nil, err
	}
	q := &models.Question{
		CourseID:      in.CourseID,
		StudentUserID: in.StudentUserID,
		TopicID:       in.TopicID,
		LocationID:    in.LocationID,
		HelpText:      in.HelpText,
	}
	fields := logrus.Fields{"student": in.StudentUserID, "course": in.CourseID}
	err := m.run(ctx, "add", fields, func(tx *database.Tx) error {
		meta, err := tx.CurrentMeta(in.CourseID)
		if err != nil {
			return err
		}
		if meta == nil || !meta.Open {
			return ErrQueueClosed
		}
		if err := tx.LockUser(in.StudentUserID); err != nil {
			return err
		}
		open, err := tx.CountQuestions(database.Scopes(
			database.InCourse(in.CourseID), database.Where(predicate.IsOpen), byStudent(in.StudentUserID),
		))
		if err != nil {
			return err
		}
		if open > 0 {
			return ErrDoubleAdd
		}
		q.OnTime = tx.Now()
		return tx.Insert(q)
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

// Answer assigns the oldest waiting question of the course to the CA and
// returns the number of questions assigned, which is zero when nobody is
// waiting. It fails with ErrDoubleAnswer if the CA is already answering.
func (m *Machine) Answer(ctx context.Context, caUserID, courseID uint64) (int64, error) {
	var n int64
	fields := logrus.Fields{"ca": caUserID, "course": courseID}
	err := m.run(ctx, "answer", fields, func(tx *database.Tx) error {
		if err := tx.LockUser(caUserID); err != nil {
			return err
		}
		now := tx.Now()
		answering, err := tx.CountQuestions(database.Scopes(
			database.InCourse(courseID),
			database.Where(predicate.And(predicate.IsNotFrozen(now), predicate.IsOpen, predicate.IsAnswering)),
			byCA(caUserID),
		))
		if err != nil {
			return err
		}
		if answering > 0 {
			return ErrDoubleAnswer
		}
		n, err = database.Update(tx, database.Scopes(
			database.InCourse(courseID),
			database.Where(predicate.And(predicate.IsNotFrozen(now), predicate.IsOpen, predicate.IsNotAnswering)),
			oldestFirst,
		), func(q *models.Question) {
			q.HelpTime = ptr(now)
			q.CAUserID = ptr(caUserID)
		})
		return err
	})
	return n, err
}

// Return puts the question the CA is answering back in the queue.
func (m *Machine) Return(ctx context.Context, caUserID, courseID uint64) error {
	fields := logrus.Fields{"ca": caUserID, "course": courseID}
	return m.run(ctx, "return", fields, func(tx *database.Tx) error {
		if err := tx.LockUser(caUserID); err != nil {
			return err
		}
		_, err := database.Update(tx, database.Scopes(
			database.InCourse(courseID), database.Where(predicate.IsAnswering), byCA(caUserID),
		), func(q *models.Question) {
			q.HelpTime = nil
			q.CAUserID = nil
		})
		return err
	})
}

func (m *Machine) maxFreezeFor(tx *database.Tx, courseID uint64) (time.Duration, error) {
	meta, err := tx.CurrentMeta(courseID)
	if err != nil {
		return 0, err
	}
	if meta == nil || meta.MaxFreeze <= 0 {
		return m.maxFreeze, nil
	}
	return time.Duration(meta.MaxFreeze) * time.Second, nil
}

// freeze parks the questions selected by scope for the course's max freeze
// duration and returns them to the unanswered pool.
func (m *Machine) freeze(ctx context.Context, op string, actor, frozenBy, courseID uint64, scope database.Scope) (int64, error) {
	var n int64
	fields := logrus.Fields{"actor": actor, "course": courseID}
	err := m.run(ctx, op, fields, func(tx *database.Tx) error {
		if err := tx.LockUser(actor); err != nil {
			return err
		}
		d, err := m.maxFreezeFor(tx, courseID)
		if err != nil {
			return err
		}
		now := tx.Now()
		end := now.Add(d)
		n, err = database.Update(tx, database.Scopes(
			database.InCourse(courseID), database.Where(predicate.CanFreeze), scope,
		), func(q *models.Question) {
			q.FrozenBy = ptr(frozenBy)
			q.FrozenTime = ptr(now)
			q.FrozenEndTime = ptr(end)
			q.FrozenEndMaxTime = ptr(end)
			q.InitialHelpTime = q.HelpTime
			q.InitialCAUserID = q.CAUserID
			q.HelpTime = nil
			q.CAUserID = nil
		})
		return err
	})
	return n, err
}

// FreezeStudent freezes the student's open question if nobody is answering it.
func (m *Machine) FreezeStudent(ctx context.Context, studentID, courseID uint64) (int64, error) {
	return m.freeze(ctx, "freeze_student", studentID, studentID, courseID, database.Scopes(
		byStudent(studentID), database.Where(predicate.IsNotAnswering),
	))
}

// FreezeCA freezes the question the CA is answering.
func (m *Machine) FreezeCA(ctx context.Context, caUserID, courseID uint64) (int64, error) {
	return m.freeze(ctx, "freeze_ca", caUserID, caUserID, courseID, database.Scopes(
		byCA(caUserID), database.Where(predicate.IsAnswering),
	))
}

// FreezeByID freezes any question that can be frozen.
func (m *Machine) FreezeByID(ctx context.Context, questionID, frozenBy, courseID uint64) (int64, error) {
	return m.freeze(ctx, "freeze_id", frozenBy, frozenBy, courseID, byID(questionID))
}

// Unfreeze ends the freeze of the student's open question now. The help
// assignment cleared by the freeze is not restored.
func (m *Machine) Unfreeze(ctx context.Context, studentID, courseID uint64) (int64, error) {
	var n int64
	fields := logrus.Fields{"student": studentID, "course": courseID}
	err := m.run(ctx, "unfreeze", fields, func(tx *database.Tx) error {
		if err := tx.LockUser(studentID); err != nil {
			return err
		}
		now := tx.Now()
		var err error
		n, err = database.Update(tx, database.Scopes(
			database.InCourse(courseID),
			database.Where(predicate.And(predicate.IsOpen, predicate.IsFrozen(now))),
			byStudent(studentID),
		), func(q *models.Question) {
			q.FrozenEndTime = ptr(now)
		})
		return err
	})
	return n, err
}

// close marks the questions selected by scope closed. Closed questions are
// never selected again, so closing twice changes nothing.
func (m *Machine) close(ctx context.Context, op string, actor uint64, reason models.OffReason, courseID uint64, scope database.Scope) (int64, error) {
	if !reason.Valid() {
		err := &ValidationError{Op: op, Reason: "unknown close reason " + string(reason)}
		metrics.Observe(op, "invalid")
		return 0, err
	}
	var n int64
	fields := logrus.Fields{"actor": actor, "course": courseID, "reason": reason}
	err := m.run(ctx, op, fields, func(tx *database.Tx) error {
		if err := tx.LockUser(actor); err != nil {
			return err
		}
		now := tx.Now()
		var err error
		n, err = database.Update(tx, database.Scopes(
			database.InCourse(courseID), database.Where(predicate.IsOpen), scope,
		), func(q *models.Question) {
			q.OffTime = ptr(now)
			q.OffReason = ptr(reason)
			q.OffBy = ptr(actor)
		})
		return err
	})
	return n, err
}

// CloseStudent closes the student's own open question.
func (m *Machine) CloseStudent(ctx context.Context, studentID, courseID uint64) (int64, error) {
	return m.close(ctx, "close_student", studentID, models.OffSelfKick, courseID, byStudent(studentID))
}

// CloseCA closes the question the CA is answering.
func (m *Machine) CloseCA(ctx context.Context, caUserID uint64, reason models.OffReason, courseID uint64) (int64, error) {
	return m.close(ctx, "close_ca", caUserID, reason, courseID, database.Scopes(
		byCA(caUserID), database.Where(predicate.IsAnswering),
	))
}

// CloseByID closes any open question.
func (m *Machine) CloseByID(ctx context.Context, actorID uint64, reason models.OffReason, questionID, courseID uint64) (int64, error) {
	return m.close(ctx, "close_id", actorID, reason, courseID, byID(questionID))
}

// QuestionPatch is the input to UpdateMeta. Absent fields are left alone.
type QuestionPatch struct {
	LocationID *uint64 `json:"location_id"`
	TopicID    *uint64 `json:"topic_id"`
	HelpText   *string `json:"help_text"`
}

// UpdateMeta applies a JSON encoded QuestionPatch to the user's open question.
func (m *Machine) UpdateMeta(ctx context.Context, userID, courseID uint64, payload []byte) (int64, error) {
	var patch QuestionPatch
	if err := validate(ctx, "update_meta", m.schemas.update, payload, &patch); err != nil {
		m.log.WithField("op", "update_meta").Infoln("Rejected input:", err)
		metrics.Observe("update_meta", "invalid")
		return 0, err
	}
	var n int64
	fields := logrus.Fields{"student": userID, "course": courseID}
	err := m.run(ctx, "update_meta", fields, func(tx *database.Tx) error {
		if err := tx.LockUser(userID); err != nil {
			return err
		}
		var err error
		n, err = database.Update(tx, database.Scopes(
			database.InCourse(courseID), database.Where(predicate.IsOpen), byStudent(userID),
		), func(q *models.Question) {
			if patch.LocationID != nil {
				q.LocationID = *patch.LocationID
			}
			if patch.TopicID != nil {
				q.TopicID = *patch.TopicID
			}
			if patch.HelpText != nil {
				q.HelpText = *patch.HelpText
			}
		})
		return err
	})
	return n, err
}
