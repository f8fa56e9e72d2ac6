package models

// QuestionView is a question joined with the display fields of the users,
// topic and location it refers to, plus its derived state.
type QuestionView struct {
	Question

	Student      *User     `json:"student,omitempty"`
	CA           *User     `json:"ca,omitempty"`
	InitialCA    *User     `json:"initial_ca,omitempty"`
	FrozenByUser *User     `json:"frozen_by_user,omitempty"`
	Topic        *Topic    `json:"topic,omitempty"`
	Location     *Location `json:"location,omitempty"`

	QueuePosition int64 `json:"queue_position"`
	IsOpen        bool  `json:"is_open"`
	IsAnswering   bool  `json:"is_answering"`
	IsFrozen      bool  `json:"is_frozen"`
	CanFreeze     bool  `json:"can_freeze"`
}
