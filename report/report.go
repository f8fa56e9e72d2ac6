// Package report exports queue history as spreadsheets.
package report

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Raytar/helpqueue/database"
	"github.com/Raytar/helpqueue/models"
	"github.com/Raytar/helpqueue/predicate"
	"github.com/Raytar/helpqueue/stats"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

const (
	questionsSheet = "Questions"
	waitSheet      = "Wait time"
	timeLayout     = "2006-01-02 15:04"
)

var questionHeader = []any{"ID", "Student", "Topic", "Location", "Asked", "Helped", "Closed", "Reason", "Closed by", "CA", "Wait (min)", "Help text"}

type Reporter struct {
	db   *database.Database
	calc *stats.Calculator
	loc  *time.Location
}

// New returns a reporter formatting times in loc.
func New(db *database.Database, calc *stats.Calculator, loc *time.Location) *Reporter {
	if loc == nil {
		loc = time.UTC
	}
	return &Reporter{db: db, calc: calc, loc: loc}
}

// Write renders the closed questions of a course asked in [from, to) and
// the wait time series of the same range as an xlsx workbook.
func (r *Reporter) Write(ctx context.Context, w io.Writer, courseID uint64, from, to time.Time) error {
	qs, err := r.db.FindQuestions(ctx, database.Scopes(
		database.InCourse(courseID),
		database.Where(predicate.IsClosed),
		func(q *gorm.DB) *gorm.DB {
			return q.Where("questions.on_time >= ? AND questions.on_time < ?", database.Timestamp(from), database.Timestamp(to)).
				Order("questions.on_time asc")
		},
	))
	if err != nil {
		return fmt.Errorf("report questions: %w", err)
	}
	buckets, err := r.calc.BucketedWaitTime(ctx, from, to, courseID)
	if err != nil {
		return fmt.Errorf("report wait time: %w", err)
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName("Sheet1", questionsSheet); err != nil {
		return err
	}
	if err := r.writeQuestions(f, qs); err != nil {
		return err
	}
	if _, err := f.NewSheet(waitSheet); err != nil {
		return err
	}
	if err := r.writeBuckets(f, buckets); err != nil {
		return err
	}
	_, err = f.WriteTo(w)
	return err
}

func (r *Reporter) format(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.In(r.loc).Format(timeLayout)
}

func name(u *models.User) string {
	if u == nil {
		return ""
	}
	return u.Name()
}

func (r *Reporter) writeQuestions(f *excelize.File, qs []*models.QuestionView) error {
	if err := f.SetSheetRow(questionsSheet, "A1", &questionHeader); err != nil {
		return err
	}
	for i, q := range qs {
		var topic, location, reason, wait string
		if q.Topic != nil {
			topic = q.Topic.Label
		}
		if q.Location != nil {
			location = q.Location.Label
		}
		if q.OffReason != nil {
			reason = string(*q.OffReason)
		}
		if d, ok := stats.WaitTime(&q.Question); ok {
			wait = fmt.Sprintf("%.1f", d.Minutes())
		}
		var closedBy string
		if q.OffBy != nil {
			closedBy = fmt.Sprint(*q.OffBy)
		}
		row := []any{
			q.ID, name(q.Student), topic, location,
			r.format(&q.OnTime), r.format(q.HelpTime), r.format(q.OffTime),
			reason, closedBy, name(q.CA), wait, q.HelpText,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(questionsSheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reporter) writeBuckets(f *excelize.File, buckets []stats.Bucket) error {
	header := []any{"Period", "Average wait (min)", "Questions"}
	if err := f.SetSheetRow(waitSheet, "A1", &header); err != nil {
		return err
	}
	for i, b := range buckets {
		row := []any{b.Start.In(r.loc).Format(timeLayout), b.WaitTime.Minutes(), b.Count}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(waitSheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}
