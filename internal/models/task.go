package models

import (
	"encoding/json"
	"time"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

var Statuses = []Status{StatusPending, StatusInProgress, StatusCompleted, StatusCancelled}

// DateLayout is the wire format of Task.DueDate.
const DateLayout = "2006-01-02"

type Task struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	UserID      uint       `json:"user_id" gorm:"not null;index"`
	CategoryID  *uint      `json:"category_id" gorm:"index"`
	Title       string     `json:"title" gorm:"size:255;not null"`
	Description string     `json:"description" gorm:"type:text"`
	Priority    Priority   `json:"priority" gorm:"size:16;not null;default:'medium';index"`
	Status      Status     `json:"status" gorm:"size:16;not null;default:'pending';index"`
	DueDate     *time.Time `json:"due_date" gorm:"type:date;index"`
	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	User     *User     `json:"user,omitempty"`
	Category *Category `json:"category,omitempty"`
}

func (p Priority) Valid() bool {
	for _, v := range Priorities {
		if p == v {
			return true
		}
	}
	return false
}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// Closed reports whether a task in this status can no longer become overdue.
func (s Status) Closed() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// SetStatus moves the task to status and keeps CompletedAt in step with it:
// stamped when entering completed, preserved while staying completed,
// cleared otherwise.
func (t *Task) SetStatus(status Status, now time.Time) {
	switch {
	case status == StatusCompleted && t.CompletedAt == nil:
		ts := now
		t.CompletedAt = &ts
	case status != StatusCompleted:
		t.CompletedAt = nil
	}
	t.Status = status
}

func (t *Task) IsOverdue(now time.Time) bool {
	if t.DueDate == nil || t.Status.Closed() {
		return false
	}
	return t.DueDate.Before(StartOfDay(now))
}

// MarshalJSON adds the derived overdue flag and display colors to the stored
// columns. They are computed at encode time and never persisted.
func (t Task) MarshalJSON() ([]byte, error) {
	type task Task
	return json.Marshal(struct {
		task
		IsOverdue     bool   `json:"is_overdue"`
		PriorityColor string `json:"priority_color"`
		StatusColor   string `json:"status_color"`
	}{
		task:          task(t),
		IsOverdue:     t.IsOverdue(time.Now().UTC()),
		PriorityColor: t.Priority.Color(),
		StatusColor:   t.Status.Color(),
	})
}

func (t *Task) CategoryName() *string {
	if t.Category == nil {
		return nil
	}
	name := t.Category.Name
	return &name
}

func (p Priority) Color() string {
	switch p {
	case PriorityUrgent:
		return "red"
	case PriorityHigh:
		return "orange"
	case PriorityMedium:
		return "blue"
	default:
		return "gray"
	}
}

func (s Status) Color() string {
	switch s {
	case StatusCompleted:
		return "green"
	case StatusInProgress:
		return "yellow"
	case StatusPending:
		return "blue"
	case StatusCancelled:
		return "red"
	default:
		return "gray"
	}
}

func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ParseDate parses a YYYY-MM-DD due date in loc.
func ParseDate(value string, loc *time.Location) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	d, err := time.ParseInLocation(DateLayout, value, loc)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
