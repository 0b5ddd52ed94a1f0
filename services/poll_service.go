package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"premiosplatzi/models"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// LatestQuestionsLimit caps the public index.
const LatestQuestionsLimit = 5

// ResultsPublisher receives fresh tallies after every recorded vote.
type ResultsPublisher interface {
	PublishResults(question *models.Question)
}

type PollService struct {
	db        *gorm.DB
	cache     *ResultsCache
	publisher ResultsPublisher
	now       func() time.Time
}

func NewPollService(db *gorm.DB, cache *ResultsCache, publisher ResultsPublisher) *PollService {
	return &PollService{
		db:        db,
		cache:     cache,
		publisher: publisher,
		now:       time.Now,
	}
}

// SetClock replaces the time source used for publication checks.
func (s *PollService) SetClock(now func() time.Time) {
	s.now = now
}

// LatestQuestions returns the most recently published questions that have at
// least one choice, newest first.
func (s *PollService) LatestQuestions(ctx context.Context) ([]models.Question, error) {
	const op = "PollService.LatestQuestions"

	var questions []models.Question
	err := s.db.WithContext(ctx).
		Where("pub_date <= ?", s.now().UTC()).
		Where("EXISTS (SELECT 1 FROM choices WHERE choices.question_id = questions.id)").
		Order("pub_date DESC").
		Limit(LatestQuestionsLimit).
		Find(&questions).Error
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return questions, nil
}

// PublishedQuestion loads a question and its choices. Questions that do not
// exist or are scheduled for the future are both reported as not found.
func (s *PollService) PublishedQuestion(ctx context.Context, id uint) (*models.Question, error) {
	const op = "PollService.PublishedQuestion"

	var question models.Question
	err := s.db.WithContext(ctx).
		Where("id = ? AND pub_date <= ?", id, s.now().UTC()).
		Preload("Choices", func(db *gorm.DB) *gorm.DB {
			return db.Order("choices.id")
		}).
		First(&question).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrQuestionNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &question, nil
}

// Results is PublishedQuestion backed by the results cache.
func (s *PollService) Results(ctx context.Context, id uint) (*models.Question, error) {
	const op = "PollService.Results"

	if cached, ok := s.cache.Get(ctx, id); ok {
		if !cached.IsPublished(s.now()) {
			return nil, fmt.Errorf("%s: %w", op, ErrQuestionNotFound)
		}
		return cached, nil
	}

	version := s.cache.Version(ctx, id)
	question, err := s.PublishedQuestion(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, question, version)
	return question, nil
}

// Vote records one vote for the choice named by rawChoice. The question is
// returned alongside ErrInvalidChoice so callers can re-render the ballot.
func (s *PollService) Vote(ctx context.Context, questionID uint, rawChoice string) (*models.Question, error) {
	const op = "PollService.Vote"

	question, err := s.PublishedQuestion(ctx, questionID)
	if err != nil {
		return nil, err
	}

	choiceID, err := strconv.ParseUint(strings.TrimSpace(rawChoice), 10, 64)
	if err != nil || choiceID == 0 {
		return question, fmt.Errorf("%s: %w", op, ErrInvalidChoice)
	}

	res := s.db.WithContext(ctx).
		Model(&models.Choice{}).
		Where("id = ? AND question_id = ?", choiceID, question.ID).
		UpdateColumn("votes", gorm.Expr("votes + ?", 1))
	if res.Error != nil {
		return question, fmt.Errorf("%s: %w", op, res.Error)
	}
	if res.RowsAffected == 0 {
		return question, fmt.Errorf("%s: %w", op, ErrInvalidChoice)
	}

	s.cache.Invalidate(ctx, question.ID)

	fresh, err := s.PublishedQuestion(ctx, question.ID)
	if err != nil {
		// The vote is already committed; only the broadcast is lost.
		log.Warn().Err(err).Uint("question_id", question.ID).Msg("reload after vote failed")
		return question, nil
	}
	if s.publisher != nil {
		s.publisher.PublishResults(fresh)
	}
	return fresh, nil
}
