package models

import (
	"time"
)

// RecentWindow is how far back a publication still counts as recent.
const RecentWindow = 24 * time.Hour

type Question struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	QuestionText string    `json:"question_text" gorm:"size:200;not null"`
	PubDate      time.Time `json:"pub_date" gorm:"not null;index"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// Relationships
	Choices []Choice `json:"choices,omitempty" gorm:"foreignKey:QuestionID;constraint:OnDelete:CASCADE"`
}

// IsPublished reports whether the question is visible at now.
func (q *Question) IsPublished(now time.Time) bool {
	return !q.PubDate.After(now)
}

// WasPublishedRecently reports whether the question went live within the
// last RecentWindow. Future questions are never recent.
func (q *Question) WasPublishedRecently(now time.Time) bool {
	return q.IsPublished(now) && !q.PubDate.Before(now.Add(-RecentWindow))
}

// TotalVotes sums the loaded choices.
func (q *Question) TotalVotes() int64 {
	var total int64
	for _, c := range q.Choices {
		total += c.Votes
	}
	return total
}
