package stats

import (
	"context"
	"time"

	"github.com/Raytar/helpqueue/database"
	"github.com/Raytar/helpqueue/events"
	"github.com/Raytar/helpqueue/metrics"
	"github.com/Raytar/helpqueue/models"
	"github.com/Raytar/helpqueue/scheduler"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// ActiveTimeout is how long a CA counts as active after closing or
// freezing a question.
const ActiveTimeout = 300 * time.Second

// recountDelay leaves a margin so the recount sees the activity expired.
const recountDelay = ActiveTimeout + time.Second

type recount struct {
	courseID uint64
	at       time.Time
}

// ActivityTracker publishes the active CAs of a course whenever the set
// may have changed.
type ActivityTracker struct {
	db    *database.Database
	bus   *events.Bus
	arena *scheduler.Arena[recount]
	log   *logrus.Logger
}

func NewActivityTracker(db *database.Database, bus *events.Bus, clock clockwork.Clock, log *logrus.Logger) *ActivityTracker {
	arena := scheduler.NewArena[recount](clock)
	arena.OnCount(func(n int) { metrics.PendingTimers.WithLabelValues("recount").Set(float64(n)) })
	return &ActivityTracker{db: db, bus: bus, arena: arena, log: log}
}

// ActiveCAs returns the CAs of the course who are answering a question or
// closed or froze one within ActiveTimeout.
func (t *ActivityTracker) ActiveCAs(ctx context.Context, courseID uint64) ([]models.User, error) {
	return t.db.ActiveCAs(ctx, courseID, t.db.Now().Add(-ActiveTimeout))
}

// Start subscribes the tracker to question events.
func (t *ActivityTracker) Start() (stop func()) {
	unsub := t.bus.Subscribe(t.handle, events.QuestionAnswered, events.QuestionReturned, events.QuestionClosed, events.QuestionFrozen)
	return func() {
		unsub()
		t.arena.Stop()
	}
}

func (t *ActivityTracker) handle(e events.Event) {
	switch e.Topic {
	case events.QuestionAnswered, events.QuestionReturned:
		t.emit(e.CourseID)
	case events.QuestionClosed, events.QuestionFrozen:
		t.schedule(e.CourseID, e.At.Add(recountDelay))
	}
}

// Pending returns the number of scheduled recounts.
func (t *ActivityTracker) Pending() int { return t.arena.Len() }

func (t *ActivityTracker) schedule(courseID uint64, at time.Time) {
	at = database.Timestamp(at)
	t.arena.Schedule(recount{courseID, at}, at, func() { t.emit(courseID) })
}

func (t *ActivityTracker) emit(courseID uint64) {
	cas, err := t.ActiveCAs(context.Background(), courseID)
	if err != nil {
		t.log.WithField("course", courseID).Errorln("Failed to count active CAs:", err)
		return
	}
	e := events.New(events.CAsActive, courseID, t.db.Now())
	e.ActiveCAs = cas
	t.bus.Publish(e)
}

// Reconcile schedules the recounts for activity that has not yet expired.
func (t *ActivityTracker) Reconcile(ctx context.Context) (int, error) {
	now := t.db.Now()
	acts, err := t.db.RecentActivity(ctx, now.Add(-ActiveTimeout))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range acts {
		if at := a.Time.Add(recountDelay); at.After(now) {
			t.schedule(a.CourseID, at)
			n++
		}
	}
	t.log.Infof("Rescheduled %d active CA recounts", n)
	return n, nil
}
