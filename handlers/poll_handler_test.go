package handlers_test

import (
	"fmt"
	"html/template"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"premiosplatzi/handlers"
	"premiosplatzi/routes"
	"premiosplatzi/services"
	"premiosplatzi/templates"
	"premiosplatzi/testsuite"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var fixedNow = time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)

type testApp struct {
	router *gin.Engine
	db     *gorm.DB
	auth   *services.AuthService
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testsuite.NewDB(t)
	clock := func() time.Time { return fixedNow }

	hub := services.NewHub()
	pollService := services.NewPollService(db, nil, hub)
	pollService.SetClock(clock)
	adminService := services.NewAdminService(db, nil)
	adminService.SetClock(clock)
	authService := services.NewAuthService(db, "test-secret", time.Hour)

	tmpl, err := templates.Load()
	require.NoError(t, err)

	router := gin.New()
	routes.SetupRoutes(router, routes.Dependencies{
		Templates:    tmpl,
		PollHandler:  handlers.NewPollHandler(pollService, hub),
		AdminHandler: handlers.NewAdminHandler(adminService),
		AuthHandler:  handlers.NewAuthHandler(authService),
		Tokens:       authService,
		CORSOrigins:  []string{"*"},
	})

	return &testApp{router: router, db: db, auth: authService}
}

func (a *testApp) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testApp) get(path string) *httptest.ResponseRecorder {
	return a.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (a *testApp) vote(questionID uint, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/polls/%d/vote/", questionID), strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return a.do(req)
}

func TestRoot_RedirectsToPolls(t *testing.T) {
	app := newTestApp(t)

	w := app.get("/")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/polls/", w.Header().Get("Location"))
}

func TestIndex_NoPolls(t *testing.T) {
	app := newTestApp(t)

	w := app.get("/polls/")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "No polls are available.")
}

func TestIndex_ListsOnlyPublishedQuestionsWithChoices(t *testing.T) {
	app := newTestApp(t)
	testsuite.CreateQuestion(t, app.db, fixedNow, "Past question", testsuite.Days(-30), "yes")
	testsuite.CreateQuestion(t, app.db, fixedNow, "Future question", testsuite.Days(30), "yes")
	testsuite.CreateQuestion(t, app.db, fixedNow, "Empty question", testsuite.Days(-2))

	w := app.get("/polls/")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "Past question")
	assert.NotContains(t, body, "Future question")
	assert.NotContains(t, body, "Empty question")
	assert.NotContains(t, body, "No polls are available.")
}

func TestDetail(t *testing.T) {
	app := newTestApp(t)
	past := testsuite.CreateQuestion(t, app.db, fixedNow, "Past question", testsuite.Days(-5), "Go", "Rust")
	future := testsuite.CreateQuestion(t, app.db, fixedNow, "Future question", testsuite.Days(5), "x")

	w := app.get(fmt.Sprintf("/polls/%d/", past.ID))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Past question")
	assert.Contains(t, w.Body.String(), fmt.Sprintf(`value="%d"`, past.Choices[1].ID))

	w = app.get(fmt.Sprintf("/polls/%d/", future.ID))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NotContains(t, w.Body.String(), "Future question")

	assert.Equal(t, http.StatusNotFound, app.get("/polls/999/").Code)
	assert.Equal(t, http.StatusNotFound, app.get("/polls/abc/").Code)
}

func TestResults(t *testing.T) {
	app := newTestApp(t)
	q := testsuite.CreateQuestion(t, app.db, fixedNow, "Counted", testsuite.Days(-1), "one", "many")
	require.NoError(t, app.db.Exec("UPDATE choices SET votes = 1 WHERE id = ?", q.Choices[0].ID).Error)
	require.NoError(t, app.db.Exec("UPDATE choices SET votes = 3 WHERE id = ?", q.Choices[1].ID).Error)
	future := testsuite.CreateQuestion(t, app.db, fixedNow, "Later", testsuite.Days(1), "x")

	w := app.get(fmt.Sprintf("/polls/%d/results/", q.ID))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `<span class="votes">1</span> vote<`)
	assert.Contains(t, body, `<span class="votes">3</span> votes<`)

	assert.Equal(t, http.StatusNotFound, app.get(fmt.Sprintf("/polls/%d/results/", future.ID)).Code)
}

func TestVote_ValidChoiceRedirectsToResults(t *testing.T) {
	app := newTestApp(t)
	q := testsuite.CreateQuestion(t, app.db, fixedNow, "Pick", testsuite.Days(-1), "a", "b")

	w := app.vote(q.ID, url.Values{"choice": {fmt.Sprint(q.Choices[0].ID)}})
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, fmt.Sprintf("/polls/%d/results/", q.ID), w.Header().Get("Location"))

	votes := testsuite.Votes(t, app.db, q.ID)
	assert.Equal(t, int64(1), votes[q.Choices[0].ID])
	assert.Equal(t, int64(0), votes[q.Choices[1].ID])
}

func TestVote_InvalidChoiceRerendersDetail(t *testing.T) {
	app := newTestApp(t)
	q := testsuite.CreateQuestion(t, app.db, fixedNow, "Pick", testsuite.Days(-1), "a", "b")
	other := testsuite.CreateQuestion(t, app.db, fixedNow, "Other", testsuite.Days(-1), "x")
	before := testsuite.Votes(t, app.db, q.ID)

	forms := map[string]url.Values{
		"missing":      {},
		"empty":        {"choice": {""}},
		"non-numeric":  {"choice": {"abc"}},
		"unknown":      {"choice": {"9999"}},
		"other choice": {"choice": {fmt.Sprint(other.Choices[0].ID)}},
	}

	for name, form := range forms {
		t.Run(name, func(t *testing.T) {
			w := app.vote(q.ID, form)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Body.String(), template.HTMLEscapeString(handlers.NoChoiceMessage))
			assert.Contains(t, w.Body.String(), "Pick")
		})
	}

	assert.Equal(t, before, testsuite.Votes(t, app.db, q.ID))
	assert.Equal(t, int64(0), testsuite.Votes(t, app.db, other.ID)[other.Choices[0].ID])
}

func TestVote_FutureQuestionNotFound(t *testing.T) {
	app := newTestApp(t)
	q := testsuite.CreateQuestion(t, app.db, fixedNow, "Later", testsuite.Days(3), "a")

	w := app.vote(q.ID, url.Values{"choice": {fmt.Sprint(q.Choices[0].ID)}})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, int64(0), testsuite.Votes(t, app.db, q.ID)[q.Choices[0].ID])
}

func TestLive_UnknownQuestion(t *testing.T) {
	app := newTestApp(t)
	q := testsuite.CreateQuestion(t, app.db, fixedNow, "Later", testsuite.Days(3), "a")

	assert.Equal(t, http.StatusNotFound, app.get(fmt.Sprintf("/polls/%d/live", q.ID)).Code)
	assert.Equal(t, http.StatusNotFound, app.get("/polls/nope/live").Code)
}

func TestHealth(t *testing.T) {
	app := newTestApp(t)

	w := app.get("/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
