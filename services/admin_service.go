package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"premiosplatzi/models"

	"gorm.io/gorm"
)

const maxTextLength = 200

// Publication date filters accepted by ListQuestions.
const (
	PubDateToday     = "today"
	PubDatePast7Days = "past_7_days"
	PubDateThisMonth = "this_month"
	PubDateThisYear  = "this_year"
)

type AdminService struct {
	db    *gorm.DB
	cache *ResultsCache
	now   func() time.Time
}

func NewAdminService(db *gorm.DB, cache *ResultsCache) *AdminService {
	return &AdminService{
		db:    db,
		cache: cache,
		now:   time.Now,
	}
}

// SetClock replaces the time source used for date filters.
func (s *AdminService) SetClock(now func() time.Time) {
	s.now = now
}

type QuestionRequest struct {
	QuestionText string          `json:"question_text" binding:"required,max=200"`
	PubDate      time.Time       `json:"pub_date" binding:"required"`
	Choices      []ChoiceRequest `json:"choices" binding:"required,min=1,dive"`
}

type ChoiceRequest struct {
	ID         uint   `json:"id"`
	ChoiceText string `json:"choice_text" binding:"required,max=200"`
}

type CreateChoiceRequest struct {
	QuestionID uint   `json:"question_id" binding:"required"`
	ChoiceText string `json:"choice_text" binding:"required,max=200"`
}

type UpdateChoiceRequest struct {
	ChoiceText string `json:"choice_text" binding:"required,max=200"`
}

type QuestionFilter struct {
	Search  string `form:"search"`
	PubDate string `form:"pub_date"`
}

// QuestionSummary is one row of the admin question list.
type QuestionSummary struct {
	ID                   uint      `json:"id"`
	QuestionText         string    `json:"question_text"`
	PubDate              time.Time `json:"pub_date"`
	WasPublishedRecently bool      `json:"was_published_recently"`
	ChoiceCount          int64     `json:"choice_count"`
}

func validateText(field, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("%w: %s is required", ErrValidation, field)
	}
	if utf8.RuneCountInString(value) > maxTextLength {
		return fmt.Errorf("%w: %s must be at most %d characters", ErrValidation, field, maxTextLength)
	}
	return nil
}

func (r *QuestionRequest) validate() error {
	if err := validateText("question_text", r.QuestionText); err != nil {
		return err
	}
	if r.PubDate.IsZero() {
		return fmt.Errorf("%w: pub_date is required", ErrValidation)
	}
	if len(r.Choices) == 0 {
		return fmt.Errorf("%w: a question needs at least one choice", ErrValidation)
	}
	for _, c := range r.Choices {
		if err := validateText("choice_text", c.ChoiceText); err != nil {
			return err
		}
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes s match literally inside a LIKE pattern using '\' as the
// escape character.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// pubDateRange maps a filter name onto a half-open [from, to) interval.
func pubDateRange(filter string, now time.Time) (time.Time, time.Time, bool) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	tomorrow := today.AddDate(0, 0, 1)

	switch filter {
	case PubDateToday:
		return today, tomorrow, true
	case PubDatePast7Days:
		return today.AddDate(0, 0, -7), tomorrow, true
	case PubDateThisMonth:
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return first, first.AddDate(0, 1, 0), true
	case PubDateThisYear:
		first := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location())
		return first, first.AddDate(1, 0, 0), true
	default:
		return time.Time{}, time.Time{}, false
	}
}

func (s *AdminService) ListQuestions(ctx context.Context, filter QuestionFilter) ([]QuestionSummary, error) {
	const op = "AdminService.ListQuestions"

	now := s.now().UTC()
	query := s.db.WithContext(ctx).Model(&models.Question{})

	if search := strings.TrimSpace(filter.Search); search != "" {
		query = query.Where(`LOWER(question_text) LIKE ? ESCAPE '\'`, "%"+escapeLike(strings.ToLower(search))+"%")
	}
	if from, to, ok := pubDateRange(filter.PubDate, now); ok {
		query = query.Where("pub_date >= ? AND pub_date < ?", from, to)
	}

	var questions []models.Question
	if err := query.Preload("Choices").Order("pub_date DESC").Find(&questions).Error; err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rows := make([]QuestionSummary, 0, len(questions))
	for i := range questions {
		q := &questions[i]
		rows = append(rows, QuestionSummary{
			ID:                   q.ID,
			QuestionText:         q.QuestionText,
			PubDate:              q.PubDate,
			WasPublishedRecently: q.WasPublishedRecently(now),
			ChoiceCount:          int64(len(q.Choices)),
		})
	}
	return rows, nil
}

func (s *AdminService) GetQuestion(ctx context.Context, id uint) (*models.Question, error) {
	const op = "AdminService.GetQuestion"

	var question models.Question
	err := s.db.WithContext(ctx).
		Preload("Choices", func(db *gorm.DB) *gorm.DB {
			return db.Order("choices.id")
		}).
		First(&question, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrQuestionNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &question, nil
}

func (s *AdminService) CreateQuestion(ctx context.Context, req *QuestionRequest) (*models.Question, error) {
	const op = "AdminService.CreateQuestion"

	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	tx := s.db.WithContext(ctx).Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	question := models.Question{
		QuestionText: strings.TrimSpace(req.QuestionText),
		PubDate:      req.PubDate.UTC(),
	}
	if err := tx.Create(&question).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	for _, cReq := range req.Choices {
		choice := models.Choice{
			QuestionID: question.ID,
			ChoiceText: strings.TrimSpace(cReq.ChoiceText),
		}
		if err := tx.Create(&choice).Error; err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return s.GetQuestion(ctx, question.ID)
}

// UpdateQuestion replaces the question's text, date and choice set. Choices
// that carry an id keep their vote count; choices missing from the request
// are deleted.
func (s *AdminService) UpdateQuestion(ctx context.Context, id uint, req *QuestionRequest) (*models.Question, error) {
	const op = "AdminService.UpdateQuestion"

	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	question, err := s.GetQuestion(ctx, id)
	if err != nil {
		return nil, err
	}

	existing := make(map[uint]bool, len(question.Choices))
	for _, c := range question.Choices {
		existing[c.ID] = true
	}
	for _, cReq := range req.Choices {
		if cReq.ID != 0 && !existing[cReq.ID] {
			return nil, fmt.Errorf("%s: choice %d: %w", op, cReq.ID, ErrChoiceNotFound)
		}
	}

	tx := s.db.WithContext(ctx).Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	err = tx.Model(&models.Question{}).Where("id = ?", id).Updates(map[string]interface{}{
		"question_text": strings.TrimSpace(req.QuestionText),
		"pub_date":      req.PubDate.UTC(),
		"updated_at":    s.now().UTC(),
	}).Error
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	kept := make(map[uint]bool, len(req.Choices))
	for _, cReq := range req.Choices {
		text := strings.TrimSpace(cReq.ChoiceText)
		if cReq.ID != 0 {
			kept[cReq.ID] = true
			err = tx.Model(&models.Choice{}).Where("id = ?", cReq.ID).Update("choice_text", text).Error
		} else {
			err = tx.Create(&models.Choice{QuestionID: id, ChoiceText: text}).Error
		}
		if err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	for choiceID := range existing {
		if kept[choiceID] {
			continue
		}
		if err := tx.Delete(&models.Choice{}, choiceID).Error; err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.cache.Invalidate(ctx, id)
	return s.GetQuestion(ctx, id)
}

func (s *AdminService) DeleteQuestion(ctx context.Context, id uint) error {
	const op = "AdminService.DeleteQuestion"

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("question_id = ?", id).Delete(&models.Choice{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.Question{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrQuestionNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.cache.Invalidate(ctx, id)
	return nil
}

// ListChoices returns every choice, or only those of questionID when it is
// non-zero.
func (s *AdminService) ListChoices(ctx context.Context, questionID uint) ([]models.Choice, error) {
	const op = "AdminService.ListChoices"

	query := s.db.WithContext(ctx).Model(&models.Choice{})
	if questionID != 0 {
		query = query.Where("question_id = ?", questionID)
	}

	var choices []models.Choice
	if err := query.Order("question_id, id").Find(&choices).Error; err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return choices, nil
}

func (s *AdminService) GetChoice(ctx context.Context, id uint) (*models.Choice, error) {
	const op = "AdminService.GetChoice"

	var choice models.Choice
	if err := s.db.WithContext(ctx).First(&choice, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrChoiceNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &choice, nil
}

func (s *AdminService) CreateChoice(ctx context.Context, req *CreateChoiceRequest) (*models.Choice, error) {
	const op = "AdminService.CreateChoice"

	if err := validateText("choice_text", req.ChoiceText); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Question{}).Where("id = ?", req.QuestionID).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if count == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrQuestionNotFound)
	}

	choice := models.Choice{
		QuestionID: req.QuestionID,
		ChoiceText: strings.TrimSpace(req.ChoiceText),
	}
	if err := s.db.WithContext(ctx).Create(&choice).Error; err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.cache.Invalidate(ctx, choice.QuestionID)
	return &choice, nil
}

func (s *AdminService) UpdateChoice(ctx context.Context, id uint, req *UpdateChoiceRequest) (*models.Choice, error) {
	const op = "AdminService.UpdateChoice"

	if err := validateText("choice_text", req.ChoiceText); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	choice, err := s.GetChoice(ctx, id)
	if err != nil {
		return nil, err
	}

	choice.ChoiceText = strings.TrimSpace(req.ChoiceText)
	if err := s.db.WithContext(ctx).Model(choice).Update("choice_text", choice.ChoiceText).Error; err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.cache.Invalidate(ctx, choice.QuestionID)
	return choice, nil
}

func (s *AdminService) DeleteChoice(ctx context.Context, id uint) error {
	const op = "AdminService.DeleteChoice"

	choice, err := s.GetChoice(ctx, id)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Delete(&models.Choice{}, id).Error; err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.cache.Invalidate(ctx, choice.QuestionID)
	return nil
}
