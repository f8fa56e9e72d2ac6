package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Raytar/helpqueue/events"
	"github.com/Raytar/helpqueue/queue"
	"github.com/Raytar/helpqueue/testutil/testdb"
	"github.com/jonboulle/clockwork"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}

var start = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func wait(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Errorf("fired %s, want %s", got, want)
		}
	case <-time.After(time.Second):
		t.Fatalf("%s did not fire", want)
	}
}

func quiet(t *testing.T, ch <-chan string) {
	t.Helper()
	select {
	case got := <-ch:
		t.Errorf("%s fired", got)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestArenaFires(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start)
	a := NewArena[int](clock)
	fired := make(chan string, 4)

	a.Schedule(1, start.Add(time.Minute), func() { fired <- "one" })
	if at, ok := a.When(1); !ok || !at.Equal(start.Add(time.Minute)) {
		t.Errorf("When(1) = %v, %v", at, ok)
	}
	clock.Advance(59 * time.Second)
	quiet(t, fired)
	clock.Advance(time.Second)
	wait(t, fired, "one")
	if n := a.Len(); n != 0 {
		t.Errorf("Len() = %d after firing, want 0", n)
	}
}

func TestArenaCancel(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start)
	a := NewArena[int](clock)
	fired := make(chan string, 4)

	a.Schedule(1, start.Add(time.Minute), func() { fired <- "one" })
	if !a.Cancel(1) {
		t.Error("Cancel(1) = false, want true")
	}
	if a.Cancel(1) {
		t.Error("second Cancel(1) = true, want false")
	}
	clock.Advance(time.Hour)
	quiet(t, fired)
}

func TestArenaReplace(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start)
	a := NewArena[int](clock)
	fired := make(chan string, 4)

	a.Schedule(1, start.Add(time.Minute), func() { fired <- "first" })
	a.Schedule(1, start.Add(2*time.Minute), func() { fired <- "second" })
	if n := a.Len(); n != 1 {
		t.Errorf("Len() = %d, want 1", n)
	}
	clock.Advance(time.Minute)
	quiet(t, fired)
	clock.Advance(time.Minute)
	wait(t, fired, "second")
}

func TestArenaPastFiresNow(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start)
	a := NewArena[string](clock)
	fired := make(chan string, 1)
	a.Schedule("late", start.Add(-time.Minute), func() { fired <- "late" })
	wait(t, fired, "late")
}

func TestArenaStop(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start)
	a := NewArena[int](clock)
	var count atomic.Int64
	a.OnCount(func(n int) { count.Store(int64(n)) })
	fired := make(chan string, 4)

	for i := 0; i < 3; i++ {
		a.Schedule(i, start.Add(time.Duration(i+1)*time.Minute), func() { fired <- "timer" })
	}
	if n := count.Load(); n != 3 {
		t.Errorf("OnCount reported %d, want 3", n)
	}
	a.Stop()
	if n := count.Load(); n != 0 {
		t.Errorf("OnCount reported %d after Stop, want 0", n)
	}
	clock.Advance(time.Hour)
	quiet(t, fired)
}

func TestFreezeReconcile(t *testing.T) {
	db, clock := testdb.New(t)
	log := testdb.Logger(t)
	ctx := context.Background()
	m, err := queue.New(db, log, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.OpenQueue(ctx, 100, 1); err != nil {
		t.Fatal(err)
	}
	if err := m.SetMaxFreeze(ctx, 30, 100, 1); err != nil {
		t.Fatal(err)
	}
	for _, student := range []string{"1", "2"} {
		p := `{"student_user_id": ` + student + `, "topic_id": 1, "location_id": 1, "help_text": "", "course_id": 1}`
		if _, err := m.Add(ctx, []byte(p)); err != nil {
			t.Fatal(err)
		}
	}
	frozenAt := db.Now()
	if _, err := m.FreezeStudent(ctx, 1, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := m.FreezeStudent(ctx, 2, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := m.CloseStudent(ctx, 2, 1); err != nil {
		t.Fatal(err)
	}

	// a fresh scheduler stands in for a restarted process
	bus := events.NewBus(log)
	ch, stop := bus.Channel(4, events.QuestionUnfrozen)
	defer stop()
	f := NewFreeze(db, bus, clock, log)
	defer f.Stop()

	n, err := f.Reconcile(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Reconcile() = %d, %v; want 1 pending unfreeze", n, err)
	}
	q, err := m.OpenByStudent(ctx, 1, 1)
	if err != nil || q == nil {
		t.Fatal(q, err)
	}
	if at, ok := f.When(q.ID); !ok || !at.Equal(frozenAt.Add(30*time.Second)) {
		t.Errorf("When() = %v, %v; want %v", at, ok, frozenAt.Add(30*time.Second))
	}

	clock.Advance(29 * time.Second)
	select {
	case e := <-ch:
		t.Fatalf("unfrozen early: %+v", e)
	case <-time.After(20 * time.Millisecond):
	}
	clock.Advance(time.Second)
	select {
	case e := <-ch:
		if e.Question == nil || e.Question.ID != q.ID || e.Question.IsFrozen {
			t.Errorf("question_unfrozen carries %+v", e.Question)
		}
	case <-time.After(time.Second):
		t.Fatal("question_unfrozen not published")
	}
	if n := f.Pending(); n != 0 {
		t.Errorf("Pending() = %d, want 0", n)
	}
}

func TestFreezeCancel(t *testing.T) {
	db, clock := testdb.New(t)
	log := testdb.Logger(t)
	bus := events.NewBus(log)
	ch, stop := bus.Channel(4)
	defer stop()
	f := NewFreeze(db, bus, clock, log)
	defer f.Stop()

	f.Arm(1, 1, clock.Now().Add(time.Minute))
	f.Arm(1, 1, clock.Now().Add(2*time.Minute))
	if n := f.Pending(); n != 1 {
		t.Errorf("Pending() = %d, want 1", n)
	}
	f.Cancel(1)
	clock.Advance(time.Hour)
	select {
	case e := <-ch:
		t.Errorf("cancelled unfreeze published %+v", e)
	case <-time.After(20 * time.Millisecond):
	}
}
