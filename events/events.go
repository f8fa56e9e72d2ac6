// Package events is the publish/subscribe fabric between the queue core
// and whatever transports serve its clients.
package events

import (
	"time"

	"github.com/Raytar/helpqueue/models"
	"github.com/google/uuid"
)

type Topic string

const (
	NewQuestion      Topic = "new_question"
	QuestionUpdate   Topic = "question_update"
	QuestionAnswered Topic = "question_answered"
	QuestionReturned Topic = "question_returned"
	QuestionFrozen   Topic = "question_frozen"
	QuestionUnfrozen Topic = "question_unfrozen"
	QuestionClosed   Topic = "question_closed"

	QueueMeta      Topic = "queue_meta"
	NewTopic       Topic = "new_topic"
	UpdateTopic    Topic = "update_topic"
	NewLocation    Topic = "new_location"
	UpdateLocation Topic = "update_location"

	CAsActive Topic = "cas_active"
)

// Topics lists every topic published by the core.
var Topics = []Topic{
	NewQuestion, QuestionUpdate, QuestionAnswered, QuestionReturned,
	QuestionFrozen, QuestionUnfrozen, QuestionClosed,
	QueueMeta, NewTopic, UpdateTopic, NewLocation, UpdateLocation,
	CAsActive,
}

// Returned identifies the CA released from a question.
type Returned struct {
	CAUserID   uint64 `json:"ca_user_id"`
	QuestionID uint64 `json:"question_id"`
	CourseID   uint64 `json:"course_id"`
}

// Event is a domain event. Which payload fields are set depends on Topic.
type Event struct {
	ID       uuid.UUID `json:"id"`
	Topic    Topic     `json:"topic"`
	CourseID uint64    `json:"course_id"`
	At       time.Time `json:"at"`

	Question  *models.QuestionView `json:"question,omitempty"`
	Returned  *Returned            `json:"returned,omitempty"`
	Meta      *models.QueueMeta    `json:"meta,omitempty"`
	TopicRef  *models.Topic        `json:"topic_ref,omitempty"`
	Location  *models.Location     `json:"location,omitempty"`
	ActiveCAs []models.User        `json:"active_cas,omitempty"`
}

// New creates an event with a fresh id.
func New(topic Topic, courseID uint64, at time.Time) Event {
	return Event{ID: uuid.New(), Topic: topic, CourseID: courseID, At: at}
}

// QuestionEvent creates an event about q.
func QuestionEvent(topic Topic, q *models.QuestionView, at time.Time) Event {
	e := New(topic, q.CourseID, at)
	e.Question = q
	return e
}
