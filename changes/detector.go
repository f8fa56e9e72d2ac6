package changes

import (
	"context"
	"errors"
	"time"

	"github.com/Raytar/helpqueue/database"
	"github.com/Raytar/helpqueue/events"
	"github.com/Raytar/helpqueue/metrics"
	"github.com/Raytar/helpqueue/models"
	"github.com/Raytar/helpqueue/observability"
	"github.com/sirupsen/logrus"
)

// Timers schedules the unfreeze notification of a question.
type Timers interface {
	Arm(questionID, courseID uint64, at time.Time)
	Cancel(questionID uint64)
}

// Plan is the reaction to one question update.
type Plan struct {
	Topics []events.Topic
	// UnfreezeAt is set when the freeze end moved and the unfreeze
	// notification must be rescheduled.
	UnfreezeAt *time.Time
	// Cancel drops any pending unfreeze notification.
	Cancel   bool
	Returned *events.Returned
}

func (p *Plan) add(t events.Topic) {
	for _, have := range p.Topics {
		if have == t {
			return
		}
	}
	p.Topics = append(p.Topics, t)
}

// Classify maps the changed fields of a question to events. Fields are
// considered in a fixed order and each topic is emitted at most once.
func Classify(diff []FieldChange, old, cur models.Row) Plan {
	var p Plan
	changed := func(f string) bool { return Changed(diff, f) }

	if changed("frozen_time") {
		p.add(events.QuestionFrozen)
	}
	if changed("frozen_end_time") {
		p.UnfreezeAt = cur.Time("frozen_end_time")
	}
	if changed("help_time") && !changed("frozen_time") && cur["help_time"] != nil {
		p.add(events.QuestionAnswered)
	}
	if changed("off_time") {
		p.add(events.QuestionClosed)
		p.Cancel = true
	}
	if changed("ca_user_id") {
		if caID := old.ID("ca_user_id"); changed("help_time") && cur["ca_user_id"] == nil && caID != nil {
			p.Returned = &events.Returned{
				CAUserID:   *caID,
				QuestionID: *cur.ID("id"),
				CourseID:   *cur.ID("course_id"),
			}
			p.add(events.QuestionReturned)
		} else {
			p.add(events.QuestionUpdate)
		}
	}
	if changed("topic_id") || changed("location_id") || changed("help_text") {
		p.add(events.QuestionUpdate)
	}
	return p
}

// Detector subscribes to the database change feed and publishes the
// resulting events.
type Detector struct {
	db     *database.Database
	bus    *events.Bus
	timers Timers
	log    *logrus.Logger
}

func New(db *database.Database, bus *events.Bus, timers Timers, log *logrus.Logger) *Detector {
	return &Detector{db: db, bus: bus, timers: timers, log: log}
}

// Register attaches the detector to the change feed.
func (d *Detector) Register() {
	d.db.Subscribe(models.Question{}.TableName(), d.question)
	d.db.Subscribe(models.QueueMeta{}.TableName(), d.meta)
	d.db.Subscribe(models.Topic{}.TableName(), d.topic)
	d.db.Subscribe(models.Location{}.TableName(), d.location)
	d.db.Subscribe(models.User{}.TableName(), d.user)
}

func (d *Detector) fault(table string, err error) error {
	var f *ConsistencyFault
	if errors.As(err, &f) {
		f.Table = table
	}
	metrics.ConsistencyFaults.Inc()
	observability.CaptureWithTags(err, map[string]string{"table": table})
	d.log.WithField("table", table).Errorln("Aborted change processing:", err)
	return err
}

func (d *Detector) publishQuestion(ctx context.Context, topic events.Topic, id uint64) error {
	q, err := d.db.QuestionView(ctx, id)
	if err != nil {
		return err
	}
	if q == nil {
		d.log.WithField("question", id).Warnln("Question disappeared before", topic, "could be published")
		return nil
	}
	d.bus.Publish(events.QuestionEvent(topic, q, d.db.Now()))
	return nil
}

func (d *Detector) question(ctx context.Context, c database.Change) error {
	switch c.Kind {
	case database.KindInsert:
		return d.publishQuestion(ctx, events.NewQuestion, *c.New.ID("id"))
	case database.KindDelete:
		d.log.WithField("question", c.Old["id"]).Debugln("Question deleted")
		return nil
	}

	diff, err := Diff(c.Old, c.New)
	if err != nil {
		return d.fault(c.Table, err)
	}
	plan := Classify(diff, c.Old, c.New)
	id, courseID := *c.New.ID("id"), *c.New.ID("course_id")
	if plan.UnfreezeAt != nil {
		d.timers.Arm(id, courseID, *plan.UnfreezeAt)
	}
	if plan.Cancel {
		d.timers.Cancel(id)
	}
	if len(plan.Topics) == 0 {
		return nil
	}

	q, err := d.db.QuestionView(ctx, id)
	if err != nil {
		return err
	}
	if q == nil {
		return nil
	}
	now := d.db.Now()
	for _, topic := range plan.Topics {
		e := events.QuestionEvent(topic, q, now)
		if topic == events.QuestionReturned {
			e.Returned = plan.Returned
		}
		d.bus.Publish(e)
	}
	return nil
}

func (d *Detector) meta(_ context.Context, c database.Change) error {
	if c.Kind != database.KindInsert {
		return d.fault(c.Table, &ConsistencyFault{Table: c.Table, Field: "id", Reason: "was modified in an append-only log"})
	}
	meta := &models.QueueMeta{
		CourseID:  *c.New.ID("course_id"),
		Open:      c.New["open"] == true,
		TimeLimit: intValue(c.New["time_limit"]),
		MaxFreeze: intValue(c.New["max_freeze"]),
	}
	e := events.New(events.QueueMeta, meta.CourseID, d.db.Now())
	e.Meta = meta
	d.bus.Publish(e)
	return nil
}

func (d *Detector) topic(_ context.Context, c database.Change) error {
	topic := events.NewTopic
	switch c.Kind {
	case database.KindUpdate:
		if _, err := Diff(c.Old, c.New); err != nil {
			return d.fault(c.Table, err)
		}
		topic = events.UpdateTopic
	case database.KindDelete:
		return nil
	}
	t := &models.Topic{
		ID:       *c.New.ID("id"),
		CourseID: *c.New.ID("course_id"),
		Label:    stringValue(c.New["label"]),
		Enabled:  c.New["enabled"] == true,
	}
	e := events.New(topic, t.CourseID, d.db.Now())
	e.TopicRef = t
	d.bus.Publish(e)
	return nil
}

func (d *Detector) location(_ context.Context, c database.Change) error {
	topic := events.NewLocation
	switch c.Kind {
	case database.KindUpdate:
		if _, err := Diff(c.Old, c.New); err != nil {
			return d.fault(c.Table, err)
		}
		topic = events.UpdateLocation
	case database.KindDelete:
		return nil
	}
	l := &models.Location{
		ID:       *c.New.ID("id"),
		CourseID: *c.New.ID("course_id"),
		Label:    stringValue(c.New["label"]),
		Enabled:  c.New["enabled"] == true,
	}
	e := events.New(topic, l.CourseID, d.db.Now())
	e.Location = l
	d.bus.Publish(e)
	return nil
}

// user re-sends the open questions of a student whose name changed.
func (d *Detector) user(ctx context.Context, c database.Change) error {
	if c.Kind != database.KindUpdate {
		return nil
	}
	diff, err := Diff(c.Old, c.New)
	if err != nil {
		return d.fault(c.Table, err)
	}
	if !Changed(diff, "first_name") {
		return nil
	}
	userID := *c.New.ID("id")
	courses, err := d.db.CoursesWithRole(ctx, userID, models.RoleStudent)
	if err != nil {
		return err
	}
	for _, courseID := range courses {
		q, err := d.db.OpenQuestionByStudent(ctx, userID, courseID)
		if err != nil {
			return err
		}
		if q != nil {
			d.bus.Publish(events.QuestionEvent(events.QuestionUpdate, q, d.db.Now()))
		}
	}
	return nil
}

func intValue(v any) int {
	n, _ := v.(int)
	return n
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}
