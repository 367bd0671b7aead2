package models

// DashboardStats summarizes one user's tasks.
type DashboardStats struct {
	TotalTasks     int64 `json:"total_tasks"`
	PendingTasks   int64 `json:"pending_tasks"`
	InProgress     int64 `json:"in_progress"`
	CompletedTasks int64 `json:"completed_tasks"`
	OverdueTasks   int64 `json:"overdue_tasks"`
	UrgentTasks    int64 `json:"urgent_tasks"`
}

// RecentTasksLimit is how many tasks the dashboard lists.
const RecentTasksLimit = 5
