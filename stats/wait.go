// Package stats computes derived queue metrics.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/Raytar/helpqueue/database"
	"github.com/Raytar/helpqueue/models"
)

// BucketWidth is the width of the intervals returned by BucketedWaitTime.
const BucketWidth = 10 * time.Minute

// Bucket is the average wait time of questions helped during the interval
// starting at Start.
type Bucket struct {
	Start    time.Time     `json:"time_period"`
	WaitTime time.Duration `json:"wait_time"`
	Count    int           `json:"count"`
}

// WaitTime returns how long the student waited before help arrived, not
// counting time spent frozen. ok is false if the question has not been
// helped.
func WaitTime(q *models.Question) (d time.Duration, ok bool) {
	if q.HelpTime == nil {
		return 0, false
	}
	if q.FrozenTime == nil || q.FrozenEndTime == nil {
		return q.HelpTime.Sub(q.OnTime), true
	}
	return q.HelpTime.Sub(*q.FrozenEndTime) + q.FrozenTime.Sub(q.OnTime), true
}

type Calculator struct {
	db *database.Database
}

func NewCalculator(db *database.Database) *Calculator {
	return &Calculator{db: db}
}

func average(qs []models.Question) (time.Duration, int) {
	var sum time.Duration
	n := 0
	for i := range qs {
		if d, ok := WaitTime(&qs[i]); ok {
			sum += d
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return sum / time.Duration(n), n
}

// AverageWaitTime averages the wait time of closed or answering questions
// helped in [start, end). It is zero when there are none.
func (c *Calculator) AverageWaitTime(ctx context.Context, start, end time.Time, courseID uint64) (Bucket, error) {
	qs, err := c.db.HelpedBetween(ctx, start, end, courseID)
	if err != nil {
		return Bucket{}, fmt.Errorf("average wait time: %w", err)
	}
	avg, n := average(qs)
	return Bucket{Start: start, WaitTime: avg, Count: n}, nil
}

// BucketedWaitTime returns the average wait time per BucketWidth interval
// from start, rounded down to a whole interval, until end. Every interval
// is present; empty ones have zero wait time.
func (c *Calculator) BucketedWaitTime(ctx context.Context, start, end time.Time, courseID uint64) ([]Bucket, error) {
	start = start.UTC().Truncate(BucketWidth)
	qs, err := c.db.HelpedBetween(ctx, start, end, courseID)
	if err != nil {
		return nil, fmt.Errorf("bucketed wait time: %w", err)
	}
	return Buckets(qs, start, end), nil
}

// Buckets groups qs by help time into dense intervals of BucketWidth
// starting at start.
func Buckets(qs []models.Question, start, end time.Time) []Bucket {
	byStart := make(map[time.Time][]models.Question)
	for _, q := range qs {
		if q.HelpTime == nil {
			continue
		}
		k := q.HelpTime.UTC().Truncate(BucketWidth)
		byStart[k] = append(byStart[k], q)
	}
	var out []Bucket
	for t := start; t.Before(end); t = t.Add(BucketWidth) {
		avg, n := average(byStart[t])
		out = append(out, Bucket{Start: t, WaitTime: avg, Count: n})
	}
	return out
}
