package scheduler

import (
	"context"
	"time"

	"github.com/Raytar/helpqueue/database"
	"github.com/Raytar/helpqueue/events"
	"github.com/Raytar/helpqueue/metrics"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// Freeze publishes question_unfrozen when a question's freeze ends.
type Freeze struct {
	arena *Arena[uint64]
	db    *database.Database
	bus   *events.Bus
	log   *logrus.Logger
}

func NewFreeze(db *database.Database, bus *events.Bus, clock clockwork.Clock, log *logrus.Logger) *Freeze {
	arena := NewArena[uint64](clock)
	arena.OnCount(func(n int) { metrics.PendingTimers.WithLabelValues("unfreeze").Set(float64(n)) })
	return &Freeze{arena: arena, db: db, bus: bus, log: log}
}

// Arm schedules the unfreeze notification of a question, replacing the one
// already pending.
func (f *Freeze) Arm(questionID, courseID uint64, at time.Time) {
	f.log.WithFields(logrus.Fields{"question": questionID, "course": courseID, "at": at}).Debugln("Scheduling unfreeze")
	f.arena.Schedule(questionID, at, func() { f.fire(questionID) })
}

func (f *Freeze) Cancel(questionID uint64) {
	if f.arena.Cancel(questionID) {
		f.log.WithField("question", questionID).Debugln("Cancelled unfreeze")
	}
}

// Pending returns the number of armed notifications.
func (f *Freeze) Pending() int { return f.arena.Len() }

// When returns the time the question's notification is due.
func (f *Freeze) When(questionID uint64) (time.Time, bool) { return f.arena.When(questionID) }

func (f *Freeze) Stop() { f.arena.Stop() }

func (f *Freeze) fire(questionID uint64) {
	q, err := f.db.QuestionView(context.Background(), questionID)
	if err != nil {
		f.log.WithField("question", questionID).Errorln("Failed to load unfrozen question:", err)
		return
	}
	if q == nil {
		return
	}
	f.log.WithField("question", questionID).Infoln("Question unfrozen")
	f.bus.Publish(events.QuestionEvent(events.QuestionUnfrozen, q, f.db.Now()))
}

// Reconcile arms a notification for every open question whose freeze ends
// in the future. It must run before the queue accepts traffic.
func (f *Freeze) Reconcile(ctx context.Context) (int, error) {
	qs, err := f.db.PendingUnfreezes(ctx, f.db.Now())
	if err != nil {
		return 0, err
	}
	for _, q := range qs {
		f.Arm(q.ID, q.CourseID, *q.FrozenEndTime)
	}
	f.log.Infof("Rescheduled %d unfreeze notifications", len(qs))
	return len(qs), nil
}
