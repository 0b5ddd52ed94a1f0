package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"premiosplatzi/models"
	"premiosplatzi/testsuite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newAdminService(t *testing.T, cache *ResultsCache) (*AdminService, *gorm.DB) {
	t.Helper()

	db := testsuite.NewDB(t)
	svc := NewAdminService(db, cache)
	svc.SetClock(func() time.Time { return fixedNow })
	return svc, db
}

func TestCreateQuestion_WithChoices(t *testing.T) {
	svc, _ := newAdminService(t, nil)

	q, err := svc.CreateQuestion(context.Background(), &QuestionRequest{
		QuestionText: "  Best Platzi course?  ",
		PubDate:      fixedNow.Add(-time.Hour),
		Choices:      []ChoiceRequest{{ChoiceText: "Go"}, {ChoiceText: "Django"}},
	})
	require.NoError(t, err)

	assert.NotZero(t, q.ID)
	assert.Equal(t, "Best Platzi course?", q.QuestionText)
	require.Len(t, q.Choices, 2)
	for _, c := range q.Choices {
		assert.Equal(t, int64(0), c.Votes)
		assert.Equal(t, q.ID, c.QuestionID)
	}
}

func TestCreateQuestion_Validation(t *testing.T) {
	svc, db := newAdminService(t, nil)

	tests := []struct {
		name string
		req  QuestionRequest
	}{
		{"no choices", QuestionRequest{QuestionText: "Q", PubDate: fixedNow}},
		{"blank text", QuestionRequest{QuestionText: "  ", PubDate: fixedNow, Choices: []ChoiceRequest{{ChoiceText: "a"}}}},
		{"text too long", QuestionRequest{QuestionText: strings.Repeat("x", 201), PubDate: fixedNow, Choices: []ChoiceRequest{{ChoiceText: "a"}}}},
		{"missing date", QuestionRequest{QuestionText: "Q", Choices: []ChoiceRequest{{ChoiceText: "a"}}}},
		{"blank choice", QuestionRequest{QuestionText: "Q", PubDate: fixedNow, Choices: []ChoiceRequest{{ChoiceText: ""}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateQuestion(context.Background(), &tt.req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	var count int64
	require.NoError(t, db.Model(&models.Question{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestUpdateQuestion_PreservesVotesAndSyncsChoices(t *testing.T) {
	svc, db := newAdminService(t, nil)
	q := testsuite.CreateQuestion(t, db, fixedNow, "Old text", testsuite.Days(-1), "keep", "rename", "drop")
	keep, rename, drop := q.Choices[0], q.Choices[1], q.Choices[2]
	require.NoError(t, db.Model(&models.Choice{}).Where("id = ?", keep.ID).Update("votes", 4).Error)
	require.NoError(t, db.Model(&models.Choice{}).Where("id = ?", rename.ID).Update("votes", 2).Error)

	updated, err := svc.UpdateQuestion(context.Background(), q.ID, &QuestionRequest{
		QuestionText: "New text",
		PubDate:      fixedNow.Add(-2 * time.Hour),
		Choices: []ChoiceRequest{
			{ID: keep.ID, ChoiceText: "keep"},
			{ID: rename.ID, ChoiceText: "renamed"},
			{ChoiceText: "added"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "New text", updated.QuestionText)
	require.Len(t, updated.Choices, 3)

	byText := map[string]models.Choice{}
	for _, c := range updated.Choices {
		byText[c.ChoiceText] = c
	}
	assert.Equal(t, int64(4), byText["keep"].Votes)
	assert.Equal(t, rename.ID, byText["renamed"].ID)
	assert.Equal(t, int64(2), byText["renamed"].Votes)
	assert.Equal(t, int64(0), byText["added"].Votes)

	_, err = svc.GetChoice(context.Background(), drop.ID)
	assert.ErrorIs(t, err, ErrChoiceNotFound)
}

func TestUpdateQuestion_RejectsForeignChoice(t *testing.T) {
	svc, db := newAdminService(t, nil)
	q := testsuite.CreateQuestion(t, db, fixedNow, "Mine", testsuite.Days(-1), "a")
	other := testsuite.CreateQuestion(t, db, fixedNow, "Theirs", testsuite.Days(-1), "b")

	_, err := svc.UpdateQuestion(context.Background(), q.ID, &QuestionRequest{
		QuestionText: "Mine",
		PubDate:      fixedNow,
		Choices:      []ChoiceRequest{{ID: other.Choices[0].ID, ChoiceText: "hijack"}},
	})
	assert.ErrorIs(t, err, ErrChoiceNotFound)

	choice, err := svc.GetChoice(context.Background(), other.Choices[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "b", choice.ChoiceText)
}

func TestUpdateQuestion_RequiresAChoice(t *testing.T) {
	svc, db := newAdminService(t, nil)
	q := testsuite.CreateQuestion(t, db, fixedNow, "Q", testsuite.Days(-1), "a")

	_, err := svc.UpdateQuestion(context.Background(), q.ID, &QuestionRequest{
		QuestionText: "Q",
		PubDate:      fixedNow,
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestUpdateQuestion_NotFound(t *testing.T) {
	svc, _ := newAdminService(t, nil)

	_, err := svc.UpdateQuestion(context.Background(), 404, &QuestionRequest{
		QuestionText: "Q",
		PubDate:      fixedNow,
		Choices:      []ChoiceRequest{{ChoiceText: "a"}},
	})
	assert.ErrorIs(t, err, ErrQuestionNotFound)
}

func TestDeleteQuestion_CascadesToChoices(t *testing.T) {
	svc, db := newAdminService(t, nil)
	q := testsuite.CreateQuestion(t, db, fixedNow, "Doomed", testsuite.Days(-1), "a", "b")
	ctx := context.Background()

	require.NoError(t, svc.DeleteQuestion(ctx, q.ID))

	_, err := svc.GetQuestion(ctx, q.ID)
	assert.ErrorIs(t, err, ErrQuestionNotFound)

	choices, err := svc.ListChoices(ctx, q.ID)
	require.NoError(t, err)
	assert.Empty(t, choices)

	assert.ErrorIs(t, svc.DeleteQuestion(ctx, q.ID), ErrQuestionNotFound)
}

func TestListQuestions_SearchAndDateFilter(t *testing.T) {
	svc, db := newAdminService(t, nil)
	testsuite.CreateQuestion(t, db, fixedNow, "Favourite Go feature?", -time.Hour, "generics")
	testsuite.CreateQuestion(t, db, fixedNow, "Best editor?", testsuite.Days(-3), "vim")
	testsuite.CreateQuestion(t, db, fixedNow, "Go or Rust?", testsuite.Days(-40), "go")
	testsuite.CreateQuestion(t, db, fixedNow, "Future go question", testsuite.Days(2), "x")
	ctx := context.Background()

	all, err := svc.ListQuestions(ctx, QuestionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "Future go question", all[0].QuestionText)
	assert.False(t, all[0].WasPublishedRecently)
	assert.True(t, all[1].WasPublishedRecently)
	assert.Equal(t, int64(1), all[1].ChoiceCount)

	searched, err := svc.ListQuestions(ctx, QuestionFilter{Search: "GO"})
	require.NoError(t, err)
	assert.Len(t, searched, 3)

	tests := []struct {
		filter string
		want   int
	}{
		{PubDateToday, 1},
		{PubDatePast7Days, 2},
		{PubDateThisMonth, 3},
		{PubDateThisYear, 4},
		{"whenever", 4},
	}
	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			rows, err := svc.ListQuestions(ctx, QuestionFilter{PubDate: tt.filter})
			require.NoError(t, err)
			assert.Len(t, rows, tt.want)
		})
	}
}

func TestListQuestions_SearchIsLiteral(t *testing.T) {
	svc, db := newAdminService(t, nil)
	testsuite.CreateQuestion(t, db, fixedNow, "What is 100% sure?", testsuite.Days(-1), "a")
	testsuite.CreateQuestion(t, db, fixedNow, "What is 1000 sure?", testsuite.Days(-1), "a")
	testsuite.CreateQuestion(t, db, fixedNow, "snake_case or camel?", testsuite.Days(-1), "a")
	testsuite.CreateQuestion(t, db, fixedNow, "snakeXcase or camel?", testsuite.Days(-1), "a")
	testsuite.CreateQuestion(t, db, fixedNow, `C:\temp or /tmp?`, testsuite.Days(-1), "a")
	ctx := context.Background()

	tests := []struct {
		search string
		want   []string
	}{
		{"100%", []string{"What is 100% sure?"}},
		{"snake_case", []string{"snake_case or camel?"}},
		{"SNAKE_", []string{"snake_case or camel?"}},
		{`c:\temp`, []string{`C:\temp or /tmp?`}},
		{"%", []string{"What is 100% sure?"}},
		{"_", []string{"snake_case or camel?"}},
	}

	for _, tt := range tests {
		t.Run(tt.search, func(t *testing.T) {
			rows, err := svc.ListQuestions(ctx, QuestionFilter{Search: tt.search})
			require.NoError(t, err)

			var got []string
			for _, r := range rows {
				got = append(got, r.QuestionText)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChoices_CRUD(t *testing.T) {
	svc, db := newAdminService(t, nil)
	q := testsuite.CreateQuestion(t, db, fixedNow, "Q", testsuite.Days(-1), "a")
	ctx := context.Background()

	created, err := svc.CreateChoice(ctx, &CreateChoiceRequest{QuestionID: q.ID, ChoiceText: "b"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), created.Votes)

	require.NoError(t, db.Model(&models.Choice{}).Where("id = ?", created.ID).Update("votes", 9).Error)

	updated, err := svc.UpdateChoice(ctx, created.ID, &UpdateChoiceRequest{ChoiceText: "bee"})
	require.NoError(t, err)
	assert.Equal(t, "bee", updated.ChoiceText)
	assert.Equal(t, int64(9), updated.Votes)

	choices, err := svc.ListChoices(ctx, q.ID)
	require.NoError(t, err)
	assert.Len(t, choices, 2)

	require.NoError(t, svc.DeleteChoice(ctx, created.ID))
	assert.ErrorIs(t, svc.DeleteChoice(ctx, created.ID), ErrChoiceNotFound)

	_, err = svc.CreateChoice(ctx, &CreateChoiceRequest{QuestionID: q.ID + 50, ChoiceText: "orphan"})
	assert.ErrorIs(t, err, ErrQuestionNotFound)

	_, err = svc.CreateChoice(ctx, &CreateChoiceRequest{QuestionID: q.ID, ChoiceText: " "})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAdminMutations_InvalidateResultsCache(t *testing.T) {
	cache, mr := newMiniredisCache(t)
	svc, db := newAdminService(t, cache)
	q := testsuite.CreateQuestion(t, db, fixedNow, "Q", testsuite.Days(-1), "a")
	ctx := context.Background()
	key := resultsKey(q.ID)

	prime := func() {
		version := cache.Version(ctx, q.ID)
		loaded, err := svc.GetQuestion(ctx, q.ID)
		require.NoError(t, err)
		cache.Set(ctx, loaded, version)
		require.True(t, mr.Exists(key))
	}

	prime()
	_, err := svc.CreateChoice(ctx, &CreateChoiceRequest{QuestionID: q.ID, ChoiceText: "b"})
	require.NoError(t, err)
	assert.False(t, mr.Exists(key))

	prime()
	_, err = svc.UpdateChoice(ctx, q.Choices[0].ID, &UpdateChoiceRequest{ChoiceText: "aa"})
	require.NoError(t, err)
	assert.False(t, mr.Exists(key))

	prime()
	_, err = svc.UpdateQuestion(ctx, q.ID, &QuestionRequest{
		QuestionText: "Q2",
		PubDate:      fixedNow,
		Choices:      []ChoiceRequest{{ID: q.Choices[0].ID, ChoiceText: "aa"}},
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists(key))

	prime()
	require.NoError(t, svc.DeleteQuestion(ctx, q.ID))
	assert.False(t, mr.Exists(key))
}
