package database

import (
	"context"
	"errors"
	"time"

	"github.com/Raytar/helpqueue/models"
	"github.com/Raytar/helpqueue/predicate"
	"gorm.io/gorm"
)

const questions = "questions"

// Where filters questions by a predicate.
func Where(e predicate.Expr) Scope {
	return func(q *gorm.DB) *gorm.DB { return q.Where(predicate.SQL(e, questions)) }
}

// InCourse restricts questions to one course.
func InCourse(courseID uint64) Scope {
	return func(q *gorm.DB) *gorm.DB { return q.Where("questions.course_id = ?", courseID) }
}

// Scopes combines scopes into one.
func Scopes(scopes ...Scope) Scope {
	return func(q *gorm.DB) *gorm.DB {
		for _, s := range scopes {
			q = s(q)
		}
		return q
	}
}

// CountQuestions counts the questions selected by scope within tx.
func (tx *Tx) CountQuestions(scope Scope) (int64, error) {
	var n int64
	err := scope(tx.conn.Model(&models.Question{})).Count(&n).Error
	return n, err
}

// Question returns the question with the given id, or nil if there is none.
func (db *Database) Question(ctx context.Context, id uint64) (*models.Question, error) {
	var q models.Question
	if err := db.conn.WithContext(ctx).Where("id = ?", id).First(&q).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		db.log.Errorln("Failed to get question from DB:", err)
		return nil, err
	}
	return &q, nil
}

// QuestionView returns the hydrated question with the given id, or nil if
// there is none.
func (db *Database) QuestionView(ctx context.Context, id uint64) (*models.QuestionView, error) {
	q, err := db.Question(ctx, id)
	if err != nil || q == nil {
		return nil, err
	}
	views, err := db.hydrate(ctx, []models.Question{*q})
	if err != nil {
		return nil, err
	}
	return views[0], nil
}

// FindQuestions returns hydrated questions selected by scope.
func (db *Database) FindQuestions(ctx context.Context, scope Scope) ([]*models.QuestionView, error) {
	var qs []models.Question
	if err := scope(db.conn.WithContext(ctx).Model(&models.Question{})).Find(&qs).Error; err != nil {
		db.log.Errorln("Failed to get questions from DB:", err)
		return nil, err
	}
	return db.hydrate(ctx, qs)
}

func (db *Database) findOne(ctx context.Context, scope Scope) (*models.QuestionView, error) {
	views, err := db.FindQuestions(ctx, Scopes(scope, func(q *gorm.DB) *gorm.DB { return q.Limit(1) }))
	if err != nil || len(views) == 0 {
		return nil, err
	}
	return views[0], nil
}

// OpenQuestions returns the open questions of a course, newest first.
func (db *Database) OpenQuestions(ctx context.Context, courseID uint64) ([]*models.QuestionView, error) {
	return db.FindQuestions(ctx, Scopes(InCourse(courseID), Where(predicate.IsOpen), func(q *gorm.DB) *gorm.DB {
		return q.Order("questions.on_time desc")
	}))
}

// OpenCount returns the number of open questions nobody is answering.
func (db *Database) OpenCount(ctx context.Context, courseID uint64) (int64, error) {
	var n int64
	err := Scopes(InCourse(courseID), Where(predicate.And(predicate.IsOpen, predicate.IsNotAnswering)))(
		db.conn.WithContext(ctx).Model(&models.Question{}),
	).Count(&n).Error
	if err != nil {
		db.log.Errorln("Failed to count open questions:", err)
	}
	return n, err
}

// OpenQuestionByStudent returns the student's open question, or nil.
func (db *Database) OpenQuestionByStudent(ctx context.Context, studentID, courseID uint64) (*models.QuestionView, error) {
	return db.findOne(ctx, Scopes(InCourse(courseID), Where(predicate.IsOpen), func(q *gorm.DB) *gorm.DB {
		return q.Where("questions.student_user_id = ?", studentID)
	}))
}

// AnsweringQuestionByCA returns the question the CA is answering, or nil.
func (db *Database) AnsweringQuestionByCA(ctx context.Context, caUserID, courseID uint64) (*models.QuestionView, error) {
	return db.findOne(ctx, Scopes(InCourse(courseID), Where(predicate.IsAnswering), func(q *gorm.DB) *gorm.DB {
		return q.Where("questions.ca_user_id = ?", caUserID)
	}))
}

// LatestClosed returns the n most recently closed questions of a course.
// A non-zero studentID restricts the result to that student.
func (db *Database) LatestClosed(ctx context.Context, n int, studentID, courseID uint64) ([]*models.QuestionView, error) {
	return db.FindQuestions(ctx, Scopes(InCourse(courseID), Where(predicate.IsClosed), func(q *gorm.DB) *gorm.DB {
		if studentID != 0 {
			q = q.Where("questions.student_user_id = ?", studentID)
		}
		return q.Order("questions.off_time desc").Limit(n)
	}))
}

// PendingUnfreezes returns open questions in every course whose freeze ends
// after now.
func (db *Database) PendingUnfreezes(ctx context.Context, now time.Time) ([]models.Question, error) {
	var qs []models.Question
	err := db.conn.WithContext(ctx).
		Where(predicate.SQL(predicate.And(predicate.IsOpen, predicate.After("frozen_end_time", now)), questions)).
		Find(&qs).Error
	if err != nil {
		db.log.Errorln("Failed to get frozen questions from DB:", err)
	}
	return qs, err
}

// HelpedBetween returns closed or answering questions of a course whose
// help time lies in [start, end).
func (db *Database) HelpedBetween(ctx context.Context, start, end time.Time, courseID uint64) ([]models.Question, error) {
	var qs []models.Question
	err := db.conn.WithContext(ctx).
		Where("questions.course_id = ? AND questions.help_time >= ? AND questions.help_time < ?", courseID, Timestamp(start), Timestamp(end)).
		Where(predicate.SQL(predicate.Or(predicate.IsClosed, predicate.IsAnswering), questions)).
		Order("questions.help_time asc").
		Find(&qs).Error
	if err != nil {
		db.log.Errorln("Failed to get answered questions from DB:", err)
	}
	return qs, err
}

func (db *Database) queuePosition(ctx context.Context, q *models.Question) (int64, error) {
	var n int64
	err := db.conn.WithContext(ctx).Model(&models.Question{}).
		Where(predicate.SQL(predicate.And(predicate.IsOpen, predicate.IsNotAnswering), questions)).
		Where("questions.course_id = ? AND questions.on_time < ? AND questions.id <> ?", q.CourseID, q.OnTime, q.ID).
		Count(&n).Error
	return n, err
}

// hydrate joins questions with the users, topics and locations they refer
// to and computes their derived state.
func (db *Database) hydrate(ctx context.Context, qs []models.Question) ([]*models.QuestionView, error) {
	if len(qs) == 0 {
		return nil, nil
	}
	var userIDs, topicIDs, locationIDs []uint64
	for _, q := range qs {
		userIDs = append(userIDs, q.StudentUserID)
		for _, id := range []*uint64{q.CAUserID, q.InitialCAUserID, q.FrozenBy} {
			if id != nil {
				userIDs = append(userIDs, *id)
			}
		}
		topicIDs = append(topicIDs, q.TopicID)
		locationIDs = append(locationIDs, q.LocationID)
	}
	conn := db.conn.WithContext(ctx)

	var users []models.User
	if err := conn.Where("id IN ?", userIDs).Find(&users).Error; err != nil {
		db.log.Errorln("Failed to get users from DB:", err)
		return nil, err
	}
	var topics []models.Topic
	if err := conn.Where("id IN ?", topicIDs).Find(&topics).Error; err != nil {
		db.log.Errorln("Failed to get topics from DB:", err)
		return nil, err
	}
	var locations []models.Location
	if err := conn.Where("id IN ?", locationIDs).Find(&locations).Error; err != nil {
		db.log.Errorln("Failed to get locations from DB:", err)
		return nil, err
	}
	userByID := make(map[uint64]*models.User, len(users))
	for i := range users {
		userByID[users[i].ID] = &users[i]
	}
	topicByID := make(map[uint64]*models.Topic, len(topics))
	for i := range topics {
		topicByID[topics[i].ID] = &topics[i]
	}
	locationByID := make(map[uint64]*models.Location, len(locations))
	for i := range locations {
		locationByID[locations[i].ID] = &locations[i]
	}
	user := func(id *uint64) *models.User {
		if id == nil {
			return nil
		}
		return userByID[*id]
	}

	now := db.Now()
	views := make([]*models.QuestionView, 0, len(qs))
	for _, q := range qs {
		row := q.Row()
		v := &models.QuestionView{
			Question:     q,
			Student:      userByID[q.StudentUserID],
			CA:           user(q.CAUserID),
			InitialCA:    user(q.InitialCAUserID),
			FrozenByUser: user(q.FrozenBy),
			Topic:        topicByID[q.TopicID],
			Location:     locationByID[q.LocationID],
			IsOpen:       predicate.Holds(predicate.IsOpen, row),
			IsAnswering:  predicate.Holds(predicate.IsAnswering, row),
			IsFrozen:     predicate.Holds(predicate.IsFrozen(now), row),
			CanFreeze:    predicate.Holds(predicate.CanFreeze, row),
		}
		if v.IsOpen && !v.IsAnswering {
			pos, err := db.queuePosition(ctx, &q)
			if err != nil {
				db.log.Errorln("Failed to get queue position:", err)
				return nil, err
			}
			v.QueuePosition = pos
		}
		views = append(views, v)
	}
	return views, nil
}
