// Package respond writes the JSON envelopes shared by every handler.
package respond

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"calc-tracker/internal/apperr"
)

// Data is the success envelope.
type Data struct {
	Data any `json:"data"`
}

// Error renders err. An *apperr.AppError sets the status and body; anything
// else becomes a 500 without leaking its text.
func Error(c *gin.Context, err error) {
	if appErr, ok := apperr.As(err); ok {
		c.AbortWithStatusJSON(appErr.HTTPStatus, appErr.ToResponse())
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, apperr.Internal(err).ToResponse())
}

func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Data{Data: data})
}

func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, Data{Data: data})
}

func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
