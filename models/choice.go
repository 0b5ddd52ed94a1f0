package models

import (
	"time"
)

type Choice struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	QuestionID uint      `json:"question_id" gorm:"not null;index"`
	ChoiceText string    `json:"choice_text" gorm:"size:200;not null"`
	Votes      int64     `json:"votes" gorm:"not null;default:0"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
