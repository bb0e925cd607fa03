package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorBody is the shape of every error response. Details is set on 5xx
// responses; RawOutput only when verbose diagnostics are enabled.
type ErrorBody struct {
	Error     string  `json:"error"`
	Details   string  `json:"details,omitempty"`
	RawOutput *string `json:"rawOutput,omitempty"`
}

func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

func BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorBody{Error: message})
}

func Error(c *gin.Context, httpStatus int, message, details string) {
	c.JSON(httpStatus, ErrorBody{
		Error:   message,
		Details: details,
	})
}

func ErrorWithOutput(c *gin.Context, httpStatus int, message, details, rawOutput string) {
	c.JSON(httpStatus, ErrorBody{
		Error:     message,
		Details:   details,
		RawOutput: &rawOutput,
	})
}
