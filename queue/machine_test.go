package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Raytar/helpqueue/database"
	"github.com/Raytar/helpqueue/models"
	"github.com/Raytar/helpqueue/testutil/testdb"
	"github.com/jonboulle/clockwork"
)

const (
	course = 1
	admin  = 100
	ca1    = 200
	ca2    = 201
)

type fixture struct {
	t     *testing.T
	db    *database.Database
	clock clockwork.FakeClock
	m     *Machine
	ctx   context.Context
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, clock := testdb.New(t)
	m, err := New(db, testdb.Logger(t), 0)
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{t: t, db: db, clock: clock, m: m, ctx: context.Background()}
	if err := m.OpenQueue(f.ctx, admin, course); err != nil {
		t.Fatal(err)
	}
	return f
}

func payload(student uint64) []byte {
	return []byte(fmt.Sprintf(`{"student_user_id": %d, "topic_id": 1, "location_id": 1, "help_text": "stuck", "course_id": %d}`, student, course))
}

func (f *fixture) add(student uint64) *models.Question {
	f.t.Helper()
	q, err := f.m.Add(f.ctx, payload(student))
	if err != nil {
		f.t.Fatalf("Add(%d): %v", student, err)
	}
	f.clock.Advance(time.Second)
	return q
}

func (f *fixture) question(id uint64) *models.Question {
	f.t.Helper()
	q, err := f.db.Question(f.ctx, id)
	if err != nil || q == nil {
		f.t.Fatalf("Question(%d) = %v, %v", id, q, err)
	}
	return q
}

func (f *fixture) answer(caID uint64, wantN int64) {
	f.t.Helper()
	n, err := f.m.Answer(f.ctx, caID, course)
	if err != nil || n != wantN {
		f.t.Fatalf("Answer(%d) = %d, %v; want %d", caID, n, err, wantN)
	}
}

func (f *fixture) answering(caID uint64) *models.QuestionView {
	f.t.Helper()
	q, err := f.m.AnsweringByCA(f.ctx, caID, course)
	if err != nil {
		f.t.Fatal(err)
	}
	return q
}

func TestAddClosedQueue(t *testing.T) {
	f := setup(t)
	if _, err := f.m.Add(f.ctx, []byte(`{"student_user_id": 1, "topic_id": 1, "location_id": 1, "help_text": "", "course_id": 2}`)); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Add() to a course without meta = %v, want ErrQueueClosed", err)
	}
	if err := f.m.CloseQueue(f.ctx, admin, course); err != nil {
		t.Fatal(err)
	}
	if _, err := f.m.Add(f.ctx, payload(1)); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Add() to a closed queue = %v, want ErrQueueClosed", err)
	}
	if n, _ := f.m.OpenCount(f.ctx, course); n != 0 {
		t.Errorf("OpenCount() = %d, want 0", n)
	}
}

func TestAddValidation(t *testing.T) {
	f := setup(t)
	tests := []struct {
		name    string
		payload string
	}{
		{"Malformed", `{"student_user_id": 1`},
		{"MissingField", `{"student_user_id": 1, "topic_id": 1, "location_id": 1, "course_id": 1}`},
		{"ExtraField", `{"student_user_id": 1, "topic_id": 1, "location_id": 1, "help_text": "", "course_id": 1, "on_time": "now"}`},
		{"ZeroID", `{"student_user_id": 0, "topic_id": 1, "location_id": 1, "help_text": "", "course_id": 1}`},
		{"WrongType", `{"student_user_id": "1", "topic_id": 1, "location_id": 1, "help_text": "", "course_id": 1}`},
		{"NotObject", `[1, 2, 3]`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := f.m.Add(f.ctx, []byte(test.payload))
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("Add(%s) = %v, want ValidationError", test.payload, err)
			}
		})
	}
	if n, _ := f.m.OpenCount(f.ctx, course); n != 0 {
		t.Errorf("OpenCount() = %d, want 0", n)
	}
}

func TestDoubleAdd(t *testing.T) {
	f := setup(t)
	const workers = 8

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.m.Add(f.ctx, payload(1))
		}(i)
	}
	wg.Wait()

	added := 0
	for _, err := range errs {
		switch {
		case err == nil:
			added++
		case !errors.Is(err, ErrDoubleAdd):
			t.Errorf("Add() = %v, want ErrDoubleAdd", err)
		}
	}
	if added != 1 {
		t.Errorf("%d concurrent adds succeeded, want 1", added)
	}

	// a closed question does not block a new one
	if _, err := f.m.CloseStudent(f.ctx, 1, course); err != nil {
		t.Fatal(err)
	}
	f.add(1)
}

func TestAnswerFIFO(t *testing.T) {
	f := setup(t)
	f.answer(ca1, 0)

	q1, q2, q3 := f.add(1), f.add(2), f.add(3)

	f.answer(ca1, 1)
	if got := f.answering(ca1); got == nil || got.ID != q1.ID {
		t.Fatalf("ca1 is answering %v, want question %d", got, q1.ID)
	}
	if _, err := f.m.Answer(f.ctx, ca1, course); !errors.Is(err, ErrDoubleAnswer) {
		t.Errorf("second Answer() = %v, want ErrDoubleAnswer", err)
	}

	f.answer(ca2, 1)
	if got := f.answering(ca2); got == nil || got.ID != q2.ID {
		t.Fatalf("ca2 is answering %v, want question %d", got, q2.ID)
	}

	answered := f.question(q2.ID)
	if answered.HelpTime == nil || answered.CAUserID == nil || *answered.CAUserID != ca2 {
		t.Errorf("answered question = %+v", answered)
	}
	if n, _ := f.m.OpenCount(f.ctx, course); n != 1 {
		t.Errorf("OpenCount() = %d, want 1", n)
	}
	if got := f.question(q3.ID); got.HelpTime != nil {
		t.Errorf("question %d answered out of order", q3.ID)
	}
}

func TestConcurrentAnswer(t *testing.T) {
	f := setup(t)
	f.add(1)
	f.add(2)

	var wg sync.WaitGroup
	results := make([]int64, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := f.m.Answer(f.ctx, ca1, course)
			if err != nil && !errors.Is(err, ErrDoubleAnswer) {
				t.Error(err)
			}
			results[i] = n
		}(i)
	}
	wg.Wait()

	var total int64
	for _, n := range results {
		total += n
	}
	if total != 1 {
		t.Errorf("ca1 was assigned %d questions, want 1", total)
	}
}

func TestReturn(t *testing.T) {
	f := setup(t)
	q := f.add(1)
	f.answer(ca1, 1)

	if err := f.m.Return(f.ctx, ca1, course); err != nil {
		t.Fatal(err)
	}
	got := f.question(q.ID)
	if got.HelpTime != nil || got.CAUserID != nil || got.OffTime != nil {
		t.Errorf("returned question = %+v, want open and unassigned", got)
	}
	if f.answering(ca1) != nil {
		t.Error("ca1 still answering after return")
	}
	f.answer(ca2, 1)

	// returning with nothing to return is a no-op
	if err := f.m.Return(f.ctx, ca1, course); err != nil {
		t.Errorf("Return() = %v", err)
	}
}

func TestFreezeStudent(t *testing.T) {
	f := setup(t)
	if err := f.m.SetMaxFreeze(f.ctx, 60, admin, course); err != nil {
		t.Fatal(err)
	}
	q := f.add(1)
	now := f.db.Now()

	n, err := f.m.FreezeStudent(f.ctx, 1, course)
	if err != nil || n != 1 {
		t.Fatalf("FreezeStudent() = %d, %v", n, err)
	}
	got := f.question(q.ID)
	if got.FrozenTime == nil || !got.FrozenTime.Equal(now) || !got.FrozenEndTime.Equal(now.Add(time.Minute)) ||
		!got.FrozenEndMaxTime.Equal(now.Add(time.Minute)) || got.FrozenBy == nil || *got.FrozenBy != 1 {
		t.Errorf("frozen question = %+v", got)
	}

	// the freeze is used up
	if n, _ := f.m.FreezeStudent(f.ctx, 1, course); n != 0 {
		t.Errorf("second FreezeStudent() = %d, want 0", n)
	}

	// frozen questions are skipped until the freeze ends
	f.answer(ca1, 0)
	f.clock.Advance(time.Minute)
	f.answer(ca1, 1)
	if n, _ := f.m.FreezeStudent(f.ctx, 1, course); n != 0 {
		t.Errorf("FreezeStudent() while answered = %d, want 0", n)
	}
}

func TestFreezeCA(t *testing.T) {
	f := setup(t)
	q := f.add(1)
	f.answer(ca1, 1)
	helped := f.question(q.ID).HelpTime

	n, err := f.m.FreezeCA(f.ctx, ca1, course)
	if err != nil || n != 1 {
		t.Fatalf("FreezeCA() = %d, %v", n, err)
	}
	got := f.question(q.ID)
	if got.HelpTime != nil || got.CAUserID != nil {
		t.Errorf("frozen question still assigned: %+v", got)
	}
	if got.InitialCAUserID == nil || *got.InitialCAUserID != ca1 || got.InitialHelpTime == nil || !got.InitialHelpTime.Equal(*helped) {
		t.Errorf("initial help not recorded: %+v", got)
	}
	if !got.FrozenEndTime.Equal(got.FrozenTime.Add(DefaultMaxFreeze)) {
		t.Errorf("freeze ends %v, want %v after %v", got.FrozenEndTime, DefaultMaxFreeze, got.FrozenTime)
	}
	if f.answering(ca1) != nil {
		t.Error("ca1 still answering a frozen question")
	}
	// ca1 can answer again while the question is frozen
	f.answer(ca1, 0)
}

func TestFreezeUsesCourseMeta(t *testing.T) {
	f := setup(t)
	if err := f.m.OpenQueue(f.ctx, admin, 2); err != nil {
		t.Fatal(err)
	}
	if err := f.m.SetMaxFreeze(f.ctx, 10, admin, 2); err != nil {
		t.Fatal(err)
	}
	q, err := f.m.Add(f.ctx, []byte(`{"student_user_id": 1, "topic_id": 1, "location_id": 1, "help_text": "", "course_id": 2}`))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.m.FreezeByID(f.ctx, q.ID, ca1, 2); err != nil {
		t.Fatal(err)
	}
	got := f.question(q.ID)
	if d := got.FrozenEndTime.Sub(*got.FrozenTime); d != 10*time.Second {
		t.Errorf("freeze lasts %v, want 10s", d)
	}
}

func TestUnfreeze(t *testing.T) {
	f := setup(t)
	q := f.add(1)
	f.answer(ca1, 1)
	if _, err := f.m.FreezeCA(f.ctx, ca1, course); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(10 * time.Second)
	now := f.db.Now()

	n, err := f.m.Unfreeze(f.ctx, 1, course)
	if err != nil || n != 1 {
		t.Fatalf("Unfreeze() = %d, %v", n, err)
	}
	got := f.question(q.ID)
	if !got.FrozenEndTime.Equal(now) {
		t.Errorf("frozen_end_time = %v, want %v", got.FrozenEndTime, now)
	}
	if got.CAUserID != nil || got.HelpTime != nil {
		t.Errorf("unfreeze restored the help assignment: %+v", got)
	}
	if n, _ := f.m.Unfreeze(f.ctx, 1, course); n != 0 {
		t.Errorf("Unfreeze() of an unfrozen question = %d, want 0", n)
	}
	f.answer(ca2, 1)
}

func TestClose(t *testing.T) {
	f := setup(t)
	q := f.add(1)

	n, err := f.m.CloseStudent(f.ctx, 1, course)
	if err != nil || n != 1 {
		t.Fatalf("CloseStudent() = %d, %v", n, err)
	}
	got := f.question(q.ID)
	if got.OffTime == nil || got.OffReason == nil || *got.OffReason != models.OffSelfKick || got.OffBy == nil || *got.OffBy != 1 {
		t.Errorf("closed question = %+v", got)
	}
	closedAt := *got.OffTime

	f.clock.Advance(time.Minute)
	if n, err := f.m.CloseStudent(f.ctx, 1, course); err != nil || n != 0 {
		t.Errorf("second CloseStudent() = %d, %v; want 0", n, err)
	}
	if n, _ := f.m.CloseByID(f.ctx, admin, models.OffCAKick, q.ID, course); n != 0 {
		t.Errorf("CloseByID() of a closed question = %d, want 0", n)
	}
	if got := f.question(q.ID); !got.OffTime.Equal(closedAt) || *got.OffReason != models.OffSelfKick {
		t.Errorf("closing twice changed the question: %+v", got)
	}
}

func TestCloseCA(t *testing.T) {
	f := setup(t)
	q := f.add(1)
	f.answer(ca1, 1)

	var verr *ValidationError
	if _, err := f.m.CloseCA(f.ctx, ca1, "done", course); !errors.As(err, &verr) {
		t.Errorf("CloseCA() with unknown reason = %v, want ValidationError", err)
	}
	n, err := f.m.CloseCA(f.ctx, ca1, models.OffNormal, course)
	if err != nil || n != 1 {
		t.Fatalf("CloseCA() = %d, %v", n, err)
	}
	if got := f.question(q.ID); *got.OffReason != models.OffNormal || *got.OffBy != ca1 {
		t.Errorf("closed question = %+v", got)
	}
	f.answer(ca1, 0)

	closed, err := f.m.LatestClosedByStudent(f.ctx, 5, 1, course)
	if err != nil || len(closed) != 1 || closed[0].ID != q.ID {
		t.Errorf("LatestClosedByStudent() = %v, %v", closed, err)
	}
}

func TestUpdateMeta(t *testing.T) {
	f := setup(t)
	q := f.add(1)

	n, err := f.m.UpdateMeta(f.ctx, 1, course, []byte(`{"help_text": "still stuck", "location_id": 3}`))
	if err != nil || n != 1 {
		t.Fatalf("UpdateMeta() = %d, %v", n, err)
	}
	got := f.question(q.ID)
	if got.HelpText != "still stuck" || got.LocationID != 3 || got.TopicID != 1 {
		t.Errorf("updated question = %+v", got)
	}

	for _, p := range []string{`{"off_time": null}`, `{"topic_id": "x"}`, `{"topic_id": 0}`, `nope`} {
		var verr *ValidationError
		if _, err := f.m.UpdateMeta(f.ctx, 1, course, []byte(p)); !errors.As(err, &verr) {
			t.Errorf("UpdateMeta(%s) = %v, want ValidationError", p, err)
		}
	}

	if _, err := f.m.CloseStudent(f.ctx, 1, course); err != nil {
		t.Fatal(err)
	}
	if n, _ := f.m.UpdateMeta(f.ctx, 1, course, []byte(`{"help_text": "late"}`)); n != 0 {
		t.Errorf("UpdateMeta() of a closed question = %d, want 0", n)
	}
}

func TestMetaLog(t *testing.T) {
	f := setup(t)

	def, err := f.m.CurrentMeta(f.ctx, 9)
	if err != nil {
		t.Fatal(err)
	}
	if def.Open || def.MaxFreeze != int(DefaultMaxFreeze.Seconds()) {
		t.Errorf("CurrentMeta() of a new course = %+v", def)
	}

	if err := f.m.SetMaxFreeze(f.ctx, 30, admin, course); err != nil {
		t.Fatal(err)
	}
	if err := f.m.SetTimeLimit(f.ctx, 10, admin, course); err != nil {
		t.Fatal(err)
	}
	if err := f.m.CloseQueue(f.ctx, ca1, course); err != nil {
		t.Fatal(err)
	}
	var verr *ValidationError
	if err := f.m.SetMaxFreeze(f.ctx, 0, admin, course); !errors.As(err, &verr) {
		t.Errorf("SetMaxFreeze(0) = %v, want ValidationError", err)
	}
	if err := f.m.SetTimeLimit(f.ctx, -1, admin, course); !errors.As(err, &verr) {
		t.Errorf("SetTimeLimit(-1) = %v, want ValidationError", err)
	}

	cur, err := f.m.CurrentMeta(f.ctx, course)
	if err != nil {
		t.Fatal(err)
	}
	if cur.Open || cur.MaxFreeze != 30 || cur.TimeLimit != 10 || cur.UserID != ca1 {
		t.Errorf("CurrentMeta() = %+v", cur)
	}
	history, err := f.db.MetaHistory(f.ctx, course)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 4 || !history[0].Open || history[1].MaxFreeze != 30 {
		t.Errorf("MetaHistory() = %+v", history)
	}
}

func TestConcurrentMetaChanges(t *testing.T) {
	f := setup(t)
	if err := f.m.CloseQueue(f.ctx, admin, course); err != nil {
		t.Fatal(err)
	}

	ops := []func() error{
		func() error { return f.m.OpenQueue(f.ctx, admin, course) },
		func() error { return f.m.SetMaxFreeze(f.ctx, 90, ca1, course) },
		func() error { return f.m.SetTimeLimit(f.ctx, 15, ca2, course) },
	}
	var wg sync.WaitGroup
	errs := make([]error, len(ops))
	for i, op := range ops {
		wg.Add(1)
		go func(i int, op func() error) {
			defer wg.Done()
			errs[i] = op()
		}(i, op)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("op %d: %v", i, err)
		}
	}

	cur, err := f.m.CurrentMeta(f.ctx, course)
	if err != nil {
		t.Fatal(err)
	}
	if !cur.Open || cur.MaxFreeze != 90 || cur.TimeLimit != 15 {
		t.Errorf("CurrentMeta() = %+v, want every change applied", cur)
	}
}

func TestTopicsAndLocations(t *testing.T) {
	f := setup(t)
	lab, err := f.m.AddTopic(f.ctx, "Lab 1", course)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.m.AddTopic(f.ctx, "Exam", course); err != nil {
		t.Fatal(err)
	}
	if err := f.m.DisableTopic(f.ctx, lab.ID, course); err != nil {
		t.Fatal(err)
	}
	enabled, err := f.m.Topics(f.ctx, course, true)
	if err != nil || len(enabled) != 1 || enabled[0].Label != "Exam" {
		t.Errorf("Topics(enabled) = %v, %v", enabled, err)
	}
	all, _ := f.m.Topics(f.ctx, course, false)
	if len(all) != 2 {
		t.Errorf("Topics() = %d topics, want 2", len(all))
	}

	room, err := f.m.AddLocation(f.ctx, "Room 101", course)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.m.DisableLocation(f.ctx, room.ID, course); err != nil {
		t.Fatal(err)
	}
	if err := f.m.EnableLocation(f.ctx, room.ID, course); err != nil {
		t.Fatal(err)
	}
	locs, _ := f.m.Locations(f.ctx, course, true)
	if len(locs) != 1 {
		t.Errorf("Locations(enabled) = %d, want 1", len(locs))
	}
	var verr *ValidationError
	if _, err := f.m.AddTopic(f.ctx, "", course); !errors.As(err, &verr) {
		t.Errorf("AddTopic(\"\") = %v, want ValidationError", err)
	}
}

func TestQuestionView(t *testing.T) {
	f := setup(t)
	student := &models.User{FirstName: "Ada", LastName: "Lovelace", Identifier: "ada"}
	if err := f.m.AddUser(f.ctx, student, models.Role{CourseID: course, Role: models.RoleStudent}); err != nil {
		t.Fatal(err)
	}
	topic, _ := f.m.AddTopic(f.ctx, "Lab 1", course)
	p := fmt.Sprintf(`{"student_user_id": %d, "topic_id": %d, "location_id": 1, "help_text": "", "course_id": %d}`, student.ID, topic.ID, course)
	q, err := f.m.Add(f.ctx, []byte(p))
	if err != nil {
		t.Fatal(err)
	}

	v, err := f.m.Question(f.ctx, q.ID, course)
	if err != nil || v == nil {
		t.Fatalf("Question() = %v, %v", v, err)
	}
	if v.Student == nil || v.Student.Name() != "Ada Lovelace" || v.Topic == nil || v.Topic.Label != "Lab 1" {
		t.Errorf("view = %+v", v)
	}
	if !v.IsOpen || v.IsAnswering || v.IsFrozen || !v.CanFreeze {
		t.Errorf("view flags = open %v answering %v frozen %v can freeze %v", v.IsOpen, v.IsAnswering, v.IsFrozen, v.CanFreeze)
	}
	if v, _ := f.m.Question(f.ctx, q.ID, 2); v != nil {
		t.Error("Question() returned a question of another course")
	}
}
