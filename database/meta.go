package database

import (
	"context"
	"errors"
	"time"

	"github.com/Raytar/helpqueue/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func currentMeta(conn *gorm.DB, courseID uint64) (*models.QueueMeta, error) {
	var meta models.QueueMeta
	err := conn.Where("course_id = ?", courseID).Order("id desc").First(&meta).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

// CurrentMeta returns the latest queue meta of a course, or nil if the
// course has none.
func (db *Database) CurrentMeta(ctx context.Context, courseID uint64) (*models.QueueMeta, error) {
	meta, err := currentMeta(db.conn.WithContext(ctx), courseID)
	if err != nil {
		db.log.Errorln("Failed to get queue meta from DB:", err)
	}
	return meta, err
}

// CurrentMeta reads the latest queue meta of a course within tx.
func (tx *Tx) CurrentMeta(courseID uint64) (*models.QueueMeta, error) {
	return currentMeta(tx.conn, courseID)
}

// MetaHistory returns the queue meta log of a course, oldest first.
func (db *Database) MetaHistory(ctx context.Context, courseID uint64) ([]models.QueueMeta, error) {
	var log []models.QueueMeta
	if err := db.conn.WithContext(ctx).Where("course_id = ?", courseID).Order("id asc").Find(&log).Error; err != nil {
		db.log.Errorln("Failed to get queue meta log from DB:", err)
		return nil, err
	}
	return log, nil
}

func (db *Database) Topics(ctx context.Context, courseID uint64, enabledOnly bool) ([]models.Topic, error) {
	var topics []models.Topic
	q := db.conn.WithContext(ctx).Where("course_id = ?", courseID)
	if enabledOnly {
		q = q.Where("enabled = ?", true)
	}
	if err := q.Order("id asc").Find(&topics).Error; err != nil {
		db.log.Errorln("Failed to get topics from DB:", err)
		return nil, err
	}
	return topics, nil
}

func (db *Database) Locations(ctx context.Context, courseID uint64, enabledOnly bool) ([]models.Location, error) {
	var locations []models.Location
	q := db.conn.WithContext(ctx).Where("course_id = ?", courseID)
	if enabledOnly {
		q = q.Where("enabled = ?", true)
	}
	if err := q.Order("id asc").Find(&locations).Error; err != nil {
		db.log.Errorln("Failed to get locations from DB:", err)
		return nil, err
	}
	return locations, nil
}

// Topic returns the topic with the given id, or nil.
func (tx *Tx) Topic(id uint64) (*models.Topic, error) {
	var t models.Topic
	err := tx.conn.Where("id = ?", id).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &t, err
}

// Location returns the location with the given id, or nil.
func (tx *Tx) Location(id uint64) (*models.Location, error) {
	var l models.Location
	err := tx.conn.Where("id = ?", id).First(&l).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &l, err
}

func (db *Database) User(ctx context.Context, id uint64) (*models.User, error) {
	var u models.User
	err := db.conn.WithContext(ctx).Where("id = ?", id).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		db.log.Errorln("Failed to get user from DB:", err)
		return nil, err
	}
	return &u, nil
}

// SetRole assigns a user's role in a course, replacing any previous role.
func (db *Database) SetRole(ctx context.Context, role *models.Role) error {
	err := db.conn.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "course_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role"}),
	}).Create(role).Error
	if err != nil {
		db.log.Errorln("Failed to set role:", err)
	}
	return err
}

// CoursesWithRole returns the courses in which the user has role.
func (db *Database) CoursesWithRole(ctx context.Context, userID uint64, role models.RoleKind) ([]uint64, error) {
	var ids []uint64
	err := db.conn.WithContext(ctx).Model(&models.Role{}).
		Where("user_id = ? AND role = ?", userID, role).
		Pluck("course_id", &ids).Error
	if err != nil {
		db.log.Errorln("Failed to get roles from DB:", err)
	}
	return ids, err
}

func (db *Database) CreateCourse(ctx context.Context, course *models.Course) error {
	return db.conn.WithContext(ctx).Create(course).Error
}

func (db *Database) Courses(ctx context.Context) ([]models.Course, error) {
	var courses []models.Course
	if err := db.conn.WithContext(ctx).Order("id asc").Find(&courses).Error; err != nil {
		db.log.Errorln("Failed to get courses from DB:", err)
		return nil, err
	}
	return courses, nil
}

// ActiveCAs returns the CAs of a course that are answering a question, or
// that closed or froze one after since.
func (db *Database) ActiveCAs(ctx context.Context, courseID uint64, since time.Time) ([]models.User, error) {
	conn := db.conn.WithContext(ctx)
	answering := conn.Model(&models.Question{}).Select("ca_user_id").
		Where("course_id = ? AND ca_user_id IS NOT NULL AND off_time IS NULL", courseID)
	closed := conn.Model(&models.Question{}).Select("ca_user_id").
		Where("course_id = ? AND ca_user_id IS NOT NULL AND off_time > ?", courseID, since)
	froze := conn.Model(&models.Question{}).Select("initial_ca_user_id").
		Where("course_id = ? AND initial_ca_user_id IS NOT NULL AND frozen_time > ?", courseID, since)
	cas := conn.Model(&models.Role{}).Select("user_id").Where("course_id = ? AND role = ?", courseID, models.RoleCA)

	var users []models.User
	err := conn.Where("id IN (?)", cas).
		Where("id IN (?) OR id IN (?) OR id IN (?)", answering, closed, froze).
		Order("id asc").
		Find(&users).Error
	if err != nil {
		db.log.Errorln("Failed to get active CAs from DB:", err)
	}
	return users, err
}

// Activity is a moment at which a CA interacted with a question.
type Activity struct {
	CourseID uint64
	Time     time.Time
}

// RecentActivity lists CA closes and freezes that happened after since.
func (db *Database) RecentActivity(ctx context.Context, since time.Time) ([]Activity, error) {
	var qs []models.Question
	err := db.conn.WithContext(ctx).
		Where("(off_time > ? AND off_reason IN ?) OR frozen_time > ?",
			since, []string{string(models.OffNormal), string(models.OffCAKick)}, since).
		Find(&qs).Error
	if err != nil {
		db.log.Errorln("Failed to get CA activity from DB:", err)
		return nil, err
	}
	var out []Activity
	for _, q := range qs {
		if q.OffTime != nil && q.OffTime.After(since) && q.OffReason != nil &&
			(*q.OffReason == models.OffNormal || *q.OffReason == models.OffCAKick) {
			out = append(out, Activity{CourseID: q.CourseID, Time: *q.OffTime})
		}
		if q.FrozenTime != nil && q.FrozenTime.After(since) {
			out = append(out, Activity{CourseID: q.CourseID, Time: *q.FrozenTime})
		}
	}
	return out, nil
}
