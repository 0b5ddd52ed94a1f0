package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"premiosplatzi/services"

	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// respondError maps service errors onto JSON responses for the admin API.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrQuestionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Question not found"})
	case errors.Is(err, services.ErrChoiceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Choice not found"})
	case errors.Is(err, services.ErrUsernameTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "Username already taken"})
	case errors.Is(err, services.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
	default:
		logRequestError(c, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// logRequestError records an unexpected failure with the stack of the
// handler that hit it.
func logRequestError(c *gin.Context, err error) {
	_ = c.Error(err)
	log.Error().
		Stack().
		Err(pkgerrors.WithStack(err)).
		Str("path", c.Request.URL.Path).
		Msg("request failed")
}

func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
