// Package testsuite provides shared fixtures for package tests.
package testsuite

import (
	"path/filepath"
	"testing"
	"time"

	"premiosplatzi/models"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NewDB opens a migrated SQLite database that lives for the duration of t.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "polls.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(models.All()...))

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return db
}

// CreateQuestion stores a question published offset from now (negative for
// the past, positive for the future) together with the given choices.
func CreateQuestion(t *testing.T, db *gorm.DB, now time.Time, text string, offset time.Duration, choices ...string) *models.Question {
	t.Helper()

	question := models.Question{
		QuestionText: text,
		PubDate:      now.Add(offset).UTC(),
	}
	for _, c := range choices {
		question.Choices = append(question.Choices, models.Choice{ChoiceText: c})
	}
	require.NoError(t, db.Create(&question).Error)
	return &question
}

// Days converts a day count into a duration for CreateQuestion.
func Days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

// Votes reads the current counters of a question's choices keyed by id.
func Votes(t *testing.T, db *gorm.DB, questionID uint) map[uint]int64 {
	t.Helper()

	var choices []models.Choice
	require.NoError(t, db.Where("question_id = ?", questionID).Find(&choices).Error)

	votes := make(map[uint]int64, len(choices))
	for _, c := range choices {
		votes[c.ID] = c.Votes
	}
	return votes
}
