package cache

import (
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"taskflow/backend/internal/models"
)

const CategoryListKey = "all_categories"

func DashboardStatsKey(userID uint) string {
	return fmt.Sprintf("dashboard_stats:%d", userID)
}

func RecentTasksKey(userID uint) string {
	return fmt.Sprintf("recent_tasks:%d", userID)
}

// TaskListKey names one page of a user's filtered task list. The filter is
// normalized and hashed, so equivalent queries share an entry.
func TaskListKey(userID uint, filter models.TaskFilter) string {
	canonical, _ := json.Marshal(filter.Normalize())
	return fmt.Sprintf("tasks:%d:%016x", userID, xxhash.Sum64(canonical))
}

// UserKeys lists the per-user keys invalidated by any write to the user's tasks.
func UserKeys(userID uint) []string {
	return []string{DashboardStatsKey(userID), RecentTasksKey(userID)}
}
