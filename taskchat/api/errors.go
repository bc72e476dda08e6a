package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ZanzyTHEbar/taskchat/taskchat/harness"
	"github.com/gin-gonic/gin"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Window     string `json:"window,omitempty"`
}

var statusByKind = map[harness.Kind]int{
	harness.KindValidation:    http.StatusBadRequest,
	harness.KindAuthorization: http.StatusForbidden,
	harness.KindRateLimited:   http.StatusTooManyRequests,
	harness.KindPersistence:   http.StatusInternalServerError,
}

func abortError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: code, Message: message})
}

// writeError maps a harness failure onto a status and a user-safe body.
func (s *Server) writeError(c *gin.Context, err error) {
	var herr *harness.Error
	if !errors.As(err, &herr) {
		s.logger.Error().Err(err).Str("request_id", c.GetString(requestIDKey)).Msg("unexpected handler error")
		abortError(c, http.StatusInternalServerError, "internal", harness.PublicMessage(err))
		return
	}

	status, ok := statusByKind[herr.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	body := ErrorResponse{Error: string(herr.Kind), Message: herr.Message}
	if herr.Kind == harness.KindRateLimited {
		body.RetryAfter = herr.RetryAfterSeconds()
		body.Limit = herr.Limit
		body.Window = herr.Window
		c.Header("Retry-After", strconv.Itoa(body.RetryAfter))
	}
	c.AbortWithStatusJSON(status, body)
}
