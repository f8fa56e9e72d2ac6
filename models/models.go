package models

import (
	"time"

	"gorm.io/gorm"
)

// OffReason records why a question left the queue.
type OffReason string

const (
	OffNormal   OffReason = "normal"
	OffSelfKick OffReason = "self_kick"
	OffCAKick   OffReason = "ca_kick"
)

// Valid reports whether r is one of the known close reasons.
func (r OffReason) Valid() bool {
	switch r {
	case OffNormal, OffSelfKick, OffCAKick:
		return true
	}
	return false
}

// Question is a single help request. Nullable columns are pointers.
type Question struct {
	ID               uint64     `gorm:"column:id;primaryKey" json:"id"`
	CourseID         uint64     `gorm:"column:course_id;index:idx_question_course" json:"course_id"`
	StudentUserID    uint64     `gorm:"column:student_user_id;index" json:"student_user_id"`
	TopicID          uint64     `gorm:"column:topic_id" json:"topic_id"`
	LocationID       uint64     `gorm:"column:location_id" json:"location_id"`
	HelpText         string     `gorm:"column:help_text" json:"help_text"`
	OnTime           time.Time  `gorm:"column:on_time;index:idx_question_course" json:"on_time"`
	HelpTime         *time.Time `gorm:"column:help_time" json:"help_time"`
	CAUserID         *uint64    `gorm:"column:ca_user_id;index" json:"ca_user_id"`
	InitialHelpTime  *time.Time `gorm:"column:initial_help_time" json:"initial_help_time"`
	InitialCAUserID  *uint64    `gorm:"column:initial_ca_user_id" json:"initial_ca_user_id"`
	FrozenBy         *uint64    `gorm:"column:frozen_by" json:"frozen_by"`
	FrozenTime       *time.Time `gorm:"column:frozen_time" json:"frozen_time"`
	FrozenEndTime    *time.Time `gorm:"column:frozen_end_time" json:"frozen_end_time"`
	FrozenEndMaxTime *time.Time `gorm:"column:frozen_end_max_time" json:"frozen_end_max_time"`
	OffTime          *time.Time `gorm:"column:off_time;index" json:"off_time"`
	OffReason        *OffReason `gorm:"column:off_reason" json:"off_reason"`
	OffBy            *uint64    `gorm:"column:off_by" json:"off_by"`
}

func (Question) TableName() string { return "questions" }

// AfterFind normalizes timestamps to UTC since postgres returns them in the
// session time zone.
func (q *Question) AfterFind(*gorm.DB) error {
	q.OnTime = q.OnTime.UTC()
	for _, t := range []**time.Time{&q.HelpTime, &q.InitialHelpTime, &q.FrozenTime, &q.FrozenEndTime, &q.FrozenEndMaxTime, &q.OffTime} {
		if *t != nil {
			u := (*t).UTC()
			*t = &u
		}
	}
	return nil
}

func (q *Question) Row() Row {
	return Row{
		"id":                  q.ID,
		"course_id":           q.CourseID,
		"student_user_id":     q.StudentUserID,
		"topic_id":            q.TopicID,
		"location_id":         q.LocationID,
		"help_text":           q.HelpText,
		"on_time":             q.OnTime,
		"help_time":           timeValue(q.HelpTime),
		"ca_user_id":          idValue(q.CAUserID),
		"initial_help_time":   timeValue(q.InitialHelpTime),
		"initial_ca_user_id":  idValue(q.InitialCAUserID),
		"frozen_by":           idValue(q.FrozenBy),
		"frozen_time":         timeValue(q.FrozenTime),
		"frozen_end_time":     timeValue(q.FrozenEndTime),
		"frozen_end_max_time": timeValue(q.FrozenEndMaxTime),
		"off_time":            timeValue(q.OffTime),
		"off_reason":          reasonValue(q.OffReason),
		"off_by":              idValue(q.OffBy),
	}
}

// QuestionColumns lists the question columns in declaration order.
var QuestionColumns = []string{
	"id", "course_id", "student_user_id", "topic_id", "location_id", "help_text",
	"on_time", "help_time", "ca_user_id", "initial_help_time", "initial_ca_user_id",
	"frozen_by", "frozen_time", "frozen_end_time", "frozen_end_max_time",
	"off_time", "off_reason", "off_by",
}

// QueueMeta is one entry of a course's append-only queue configuration log.
type QueueMeta struct {
	ID        uint64    `gorm:"column:id;primaryKey" json:"id"`
	CourseID  uint64    `gorm:"column:course_id;index" json:"course_id"`
	Open      bool      `gorm:"column:open" json:"open"`
	TimeLimit int       `gorm:"column:time_limit" json:"time_limit"`
	MaxFreeze int       `gorm:"column:max_freeze" json:"max_freeze"`
	UserID    uint64    `gorm:"column:user_id" json:"user_id"`
	Time      time.Time `gorm:"column:time" json:"time"`
}

func (QueueMeta) TableName() string { return "queue_meta" }

func (m *QueueMeta) Row() Row {
	return Row{
		"id":         m.ID,
		"course_id":  m.CourseID,
		"open":       m.Open,
		"time_limit": m.TimeLimit,
		"max_freeze": m.MaxFreeze,
		"user_id":    m.UserID,
		"time":       m.Time,
	}
}

type User struct {
	ID         uint64 `gorm:"column:id;primaryKey" json:"id"`
	FirstName  string `gorm:"column:first_name" json:"first_name"`
	LastName   string `gorm:"column:last_name" json:"last_name"`
	Identifier string `gorm:"column:identifier;uniqueIndex" json:"identifier"`
	Email      string `gorm:"column:email" json:"email"`
	IsOnline   bool   `gorm:"column:is_online" json:"is_online"`
}

func (User) TableName() string { return "users" }

func (u *User) Row() Row {
	return Row{
		"id":         u.ID,
		"first_name": u.FirstName,
		"last_name":  u.LastName,
		"identifier": u.Identifier,
		"email":      u.Email,
		"is_online":  u.IsOnline,
	}
}

// Name returns the display name of the user.
func (u *User) Name() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

type RoleKind string

const (
	RoleStudent RoleKind = "student"
	RoleCA      RoleKind = "ca"
	RoleAdmin   RoleKind = "admin"
)

// Role assigns a user a role within one course.
type Role struct {
	UserID   uint64   `gorm:"column:user_id;primaryKey" json:"user_id"`
	CourseID uint64   `gorm:"column:course_id;primaryKey" json:"course_id"`
	Role     RoleKind `gorm:"column:role" json:"role"`
}

func (Role) TableName() string { return "roles" }

type Course struct {
	ID   uint64 `gorm:"column:id;primaryKey" json:"id"`
	Name string `gorm:"column:name" json:"name"`
}

func (Course) TableName() string { return "courses" }

type Topic struct {
	ID       uint64 `gorm:"column:id;primaryKey" json:"id"`
	CourseID uint64 `gorm:"column:course_id;index" json:"course_id"`
	Label    string `gorm:"column:label" json:"label"`
	Enabled  bool   `gorm:"column:enabled" json:"enabled"`
}

func (Topic) TableName() string { return "topics" }

func (t *Topic) Row() Row {
	return Row{"id": t.ID, "course_id": t.CourseID, "label": t.Label, "enabled": t.Enabled}
}

type Location struct {
	ID       uint64 `gorm:"column:id;primaryKey" json:"id"`
	CourseID uint64 `gorm:"column:course_id;index" json:"course_id"`
	Label    string `gorm:"column:label" json:"label"`
	Enabled  bool   `gorm:"column:enabled" json:"enabled"`
}

func (Location) TableName() string { return "locations" }

func (l *Location) Row() Row {
	return Row{"id": l.ID, "course_id": l.CourseID, "label": l.Label, "enabled": l.Enabled}
}

// UserLock holds one row per user. Transactions lock it to serialize
// operations performed by the same actor.
type UserLock struct {
	UserID uint64 `gorm:"column:user_id;primaryKey"`
}

func (UserLock) TableName() string { return "user_question_locks" }

// All returns every model for migration.
func All() []any {
	return []any{
		&Question{},
		&QueueMeta{},
		&User{},
		&Role{},
		&Course{},
		&Topic{},
		&Location{},
		&UserLock{},
	}
}
