package models

import (
	"strings"
	"time"
	"unicode"
)

const DefaultCategoryColor = "#3B82F6"

type Category struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name" gorm:"size:255;not null"`
	Slug        string    `json:"slug" gorm:"size:255;uniqueIndex;not null"`
	Color       string    `json:"color" gorm:"size:7;not null;default:'#3B82F6'"`
	Description string    `json:"description" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Tasks []Task `json:"tasks,omitempty" gorm:"foreignKey:CategoryID;constraint:OnDelete:SET NULL"`
}

// CategoryWithCount is a category row annotated with how many tasks reference it.
type CategoryWithCount struct {
	Category
	TasksCount int64 `json:"tasks_count"`
}

// Slugify lower-cases name and collapses every run of non-alphanumerics into one dash.
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
