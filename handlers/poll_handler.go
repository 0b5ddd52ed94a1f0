package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"premiosplatzi/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// NoChoiceMessage is shown above the ballot when a vote names no valid choice.
const NoChoiceMessage = "You didn't select a choice."

type PollHandler struct {
	pollService *services.PollService
	hub         *services.Hub
	upgrader    websocket.Upgrader
}

func NewPollHandler(pollService *services.PollService, hub *services.Hub) *PollHandler {
	return &PollHandler{
		pollService: pollService,
		hub:         hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (h *PollHandler) Index(c *gin.Context) {
	questions, err := h.pollService.LatestQuestions(c.Request.Context())
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.HTML(http.StatusOK, "index.html", gin.H{
		"Title":     "Polls",
		"Questions": questions,
	})
}

func (h *PollHandler) Detail(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		h.renderNotFound(c)
		return
	}

	question, err := h.pollService.PublishedQuestion(c.Request.Context(), id)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.HTML(http.StatusOK, "detail.html", gin.H{
		"Title":    question.QuestionText,
		"Question": question,
	})
}

func (h *PollHandler) Results(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		h.renderNotFound(c)
		return
	}

	question, err := h.pollService.Results(c.Request.Context(), id)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.HTML(http.StatusOK, "results.html", gin.H{
		"Title":    question.QuestionText,
		"Question": question,
	})
}

func (h *PollHandler) Vote(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		h.renderNotFound(c)
		return
	}

	question, err := h.pollService.Vote(c.Request.Context(), id, c.PostForm("choice"))
	if errors.Is(err, services.ErrInvalidChoice) {
		c.HTML(http.StatusOK, "detail.html", gin.H{
			"Title":        question.QuestionText,
			"Question":     question,
			"ErrorMessage": NoChoiceMessage,
		})
		return
	}
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.Redirect(http.StatusFound, fmt.Sprintf("/polls/%d/results/", question.ID))
}

// Live streams results updates for a published question over a websocket.
func (h *PollHandler) Live(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Question not found"})
		return
	}

	question, err := h.pollService.PublishedQuestion(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrQuestionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Question not found"})
			return
		}
		respondError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		log.Debug().Err(err).Uint("question_id", id).Msg("websocket upgrade failed")
		return
	}

	h.hub.Subscribe(conn, question)
}

func (h *PollHandler) renderNotFound(c *gin.Context) {
	c.HTML(http.StatusNotFound, "error.html", gin.H{
		"Title":   "Not Found",
		"Heading": "Not Found",
		"Message": "No question matches the given query.",
	})
}

func (h *PollHandler) renderError(c *gin.Context, err error) {
	if errors.Is(err, services.ErrQuestionNotFound) {
		h.renderNotFound(c)
		return
	}

	logRequestError(c, err)
	c.HTML(http.StatusInternalServerError, "error.html", gin.H{
		"Title":   "Server Error",
		"Heading": "Server Error",
		"Message": "Something went wrong. Please try again later.",
	})
}
