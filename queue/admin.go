package queue

import (
	"context"
	"fmt"

	"github.com/Raytar/helpqueue/database"
	"github.com/Raytar/helpqueue/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// appendMeta writes a new queue meta entry derived from the current one.
func (m *Machine) appendMeta(ctx context.Context, op string, userID, courseID uint64, mutate func(*models.QueueMeta)) error {
	fields := logrus.Fields{"user": userID, "course": courseID}
	return m.run(ctx, op, fields, func(tx *database.Tx) error {
		if err := tx.LockCourse(courseID); err != nil {
			return err
		}
		cur, err := tx.CurrentMeta(courseID)
		if err != nil {
			return err
		}
		next := models.QueueMeta{MaxFreeze: int(m.maxFreeze.Seconds())}
		if cur != nil {
			next = *cur
		}
		next.ID = 0
		next.CourseID = courseID
		mutate(&next)
		next.UserID = userID
		next.Time = tx.Now()
		return tx.Insert(&next)
	})
}

func (m *Machine) OpenQueue(ctx context.Context, userID, courseID uint64) error {
	return m.appendMeta(ctx, "open_queue", userID, courseID, func(meta *models.QueueMeta) { meta.Open = true })
}

func (m *Machine) CloseQueue(ctx context.Context, userID, courseID uint64) error {
	return m.appendMeta(ctx, "close_queue", userID, courseID, func(meta *models.QueueMeta) { meta.Open = false })
}

// SetTimeLimit sets how many minutes a CA should spend per student.
func (m *Machine) SetTimeLimit(ctx context.Context, minutes int, userID, courseID uint64) error {
	if minutes <= 0 {
		return &ValidationError{Op: "set_time_limit", Reason: fmt.Sprintf("time limit must be positive, got %d", minutes)}
	}
	return m.appendMeta(ctx, "set_time_limit", userID, courseID, func(meta *models.QueueMeta) { meta.TimeLimit = minutes })
}

// SetMaxFreeze sets how many seconds a question stays frozen.
func (m *Machine) SetMaxFreeze(ctx context.Context, seconds int, userID, courseID uint64) error {
	if seconds <= 0 {
		return &ValidationError{Op: "set_max_freeze", Reason: fmt.Sprintf("max freeze must be positive, got %d", seconds)}
	}
	return m.appendMeta(ctx, "set_max_freeze", userID, courseID, func(meta *models.QueueMeta) { meta.MaxFreeze = seconds })
}

// CurrentMeta returns the course's queue meta. A course without any entry
// is closed and uses the default max freeze.
func (m *Machine) CurrentMeta(ctx context.Context, courseID uint64) (*models.QueueMeta, error) {
	meta, err := m.db.CurrentMeta(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		meta = &models.QueueMeta{CourseID: courseID, MaxFreeze: int(m.maxFreeze.Seconds())}
	}
	return meta, nil
}

func inCourseByID(id, courseID uint64) database.Scope {
	return func(q *gorm.DB) *gorm.DB { return q.Where("id = ? AND course_id = ?", id, courseID) }
}

func (m *Machine) AddTopic(ctx context.Context, label string, courseID uint64) (*models.Topic, error) {
	if label == "" {
		return nil, &ValidationError{Op: "add_topic", Reason: "empty label"}
	}
	t := &models.Topic{CourseID: courseID, Label: label, Enabled: true}
	err := m.run(ctx, "add_topic", logrus.Fields{"course": courseID}, func(tx *database.Tx) error {
		return tx.Insert(t)
	})
	return t, err
}

func (m *Machine) setTopicEnabled(ctx context.Context, id, courseID uint64, enabled bool) error {
	return m.run(ctx, "set_topic", logrus.Fields{"topic": id, "course": courseID}, func(tx *database.Tx) error {
		_, err := database.Update(tx, inCourseByID(id, courseID), func(t *models.Topic) { t.Enabled = enabled })
		return err
	})
}

func (m *Machine) EnableTopic(ctx context.Context, id, courseID uint64) error {
	return m.setTopicEnabled(ctx, id, courseID, true)
}

func (m *Machine) DisableTopic(ctx context.Context, id, courseID uint64) error {
	return m.setTopicEnabled(ctx, id, courseID, false)
}

func (m *Machine) AddLocation(ctx context.Context, label string, courseID uint64) (*models.Location, error) {
	if label == "" {
		return nil, &ValidationError{Op: "add_location", Reason: "empty label"}
	}
	l := &models.Location{CourseID: courseID, Label: label, Enabled: true}
	err := m.run(ctx, "add_location", logrus.Fields{"course": courseID}, func(tx *database.Tx) error {
		return tx.Insert(l)
	})
	return l, err
}

func (m *Machine) setLocationEnabled(ctx context.Context, id, courseID uint64, enabled bool) error {
	return m.run(ctx, "set_location", logrus.Fields{"location": id, "course": courseID}, func(tx *database.Tx) error {
		_, err := database.Update(tx, inCourseByID(id, courseID), func(l *models.Location) { l.Enabled = enabled })
		return err
	})
}

func (m *Machine) EnableLocation(ctx context.Context, id, courseID uint64) error {
	return m.setLocationEnabled(ctx, id, courseID, true)
}

func (m *Machine) DisableLocation(ctx context.Context, id, courseID uint64) error {
	return m.setLocationEnabled(ctx, id, courseID, false)
}

// AddUser creates a user and assigns their roles.
func (m *Machine) AddUser(ctx context.Context, u *models.User, roles ...models.Role) error {
	err := m.run(ctx, "add_user", logrus.Fields{"identifier": u.Identifier}, func(tx *database.Tx) error {
		return tx.Insert(u)
	})
	if err != nil {
		return err
	}
	for _, r := range roles {
		r.UserID = u.ID
		if err := m.db.SetRole(ctx, &r); err != nil {
			return err
		}
	}
	return nil
}

// RenameUser changes a user's display name.
func (m *Machine) RenameUser(ctx context.Context, userID uint64, first, last string) error {
	return m.run(ctx, "rename_user", logrus.Fields{"user": userID}, func(tx *database.Tx) error {
		_, err := database.Update(tx, func(q *gorm.DB) *gorm.DB { return q.Where("id = ?", userID) }, func(u *models.User) {
			u.FirstName = first
			u.LastName = last
		})
		return err
	})
}
