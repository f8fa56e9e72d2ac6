package queue

import (
	"context"

	"github.com/Raytar/helpqueue/models"
)

// Question returns the hydrated question if it belongs to the course.
func (m *Machine) Question(ctx context.Context, id, courseID uint64) (*models.QuestionView, error) {
	q, err := m.db.QuestionView(ctx, id)
	if err != nil || q == nil || q.CourseID != courseID {
		return nil, err
	}
	return q, nil
}

func (m *Machine) Open(ctx context.Context, courseID uint64) ([]*models.QuestionView, error) {
	return m.db.OpenQuestions(ctx, courseID)
}

func (m *Machine) OpenCount(ctx context.Context, courseID uint64) (int64, error) {
	return m.db.OpenCount(ctx, courseID)
}

func (m *Machine) OpenByStudent(ctx context.Context, studentID, courseID uint64) (*models.QuestionView, error) {
	return m.db.OpenQuestionByStudent(ctx, studentID, courseID)
}

func (m *Machine) AnsweringByCA(ctx context.Context, caUserID, courseID uint64) (*models.QuestionView, error) {
	return m.db.AnsweringQuestionByCA(ctx, caUserID, courseID)
}

// LatestClosed returns the n most recently closed questions of the course.
func (m *Machine) LatestClosed(ctx context.Context, n int, courseID uint64) ([]*models.QuestionView, error) {
	return m.db.LatestClosed(ctx, n, 0, courseID)
}

func (m *Machine) LatestClosedByStudent(ctx context.Context, n int, studentID, courseID uint64) ([]*models.QuestionView, error) {
	return m.db.LatestClosed(ctx, n, studentID, courseID)
}

func (m *Machine) Topics(ctx context.Context, courseID uint64, enabledOnly bool) ([]models.Topic, error) {
	return m.db.Topics(ctx, courseID, enabledOnly)
}

func (m *Machine) Locations(ctx context.Context, courseID uint64, enabledOnly bool) ([]models.Location, error) {
	return m.db.Locations(ctx, courseID, enabledOnly)
}
