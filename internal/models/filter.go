package models

import (
	"strings"
)

const TasksPerPage = 10

var sortableColumns = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"due_date":   true,
	"priority":   true,
	"status":     true,
	"title":      true,
}

// TaskFilter selects one page of a user's task list.
type TaskFilter struct {
	Status     string `json:"status,omitempty"`
	Priority   string `json:"priority,omitempty"`
	CategoryID *uint  `json:"category_id,omitempty"`
	Search     string `json:"search,omitempty"`
	Sort       string `json:"sort"`
	Direction  string `json:"direction"`
	Page       int    `json:"page"`
}

// Normalize returns the canonical form of f: defaults applied, enum values and
// search text lower-cased, unknown sort columns replaced by created_at. Two
// filters that select the same rows normalize to the same value.
func (f TaskFilter) Normalize() TaskFilter {
	n := TaskFilter{
		Status:     strings.ToLower(strings.TrimSpace(f.Status)),
		Priority:   strings.ToLower(strings.TrimSpace(f.Priority)),
		CategoryID: f.CategoryID,
		Search:     strings.ToLower(strings.TrimSpace(f.Search)),
		Sort:       strings.ToLower(strings.TrimSpace(f.Sort)),
		Direction:  strings.ToLower(strings.TrimSpace(f.Direction)),
		Page:       f.Page,
	}
	if !sortableColumns[n.Sort] {
		n.Sort = "created_at"
	}
	if n.Direction != "asc" {
		n.Direction = "desc"
	}
	if n.Page < 1 {
		n.Page = 1
	}
	return n
}

func (f TaskFilter) Offset() int {
	return (f.Page - 1) * TasksPerPage
}

// TaskPage is one page of a filtered task list.
type TaskPage struct {
	Tasks    []Task `json:"data"`
	Total    int64  `json:"total"`
	Page     int    `json:"current_page"`
	PerPage  int    `json:"per_page"`
	LastPage int    `json:"last_page"`
}

func NewTaskPage(tasks []Task, total int64, page int) TaskPage {
	last := int((total + TasksPerPage - 1) / TasksPerPage)
	if last < 1 {
		last = 1
	}
	if tasks == nil {
		tasks = []Task{}
	}
	return TaskPage{Tasks: tasks, Total: total, Page: page, PerPage: TasksPerPage, LastPage: last}
}
