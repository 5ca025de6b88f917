package errors

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ProblemDetails represents an RFC 7807 compliant error response.
type ProblemDetails struct {
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Status    int       `json:"status"`
	Detail    string    `json:"detail"`
	Instance  string    `json:"instance,omitempty"`
	Code      string    `json:"code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const typePrefix = "https://api.openbourse.io/errors/"

func statusFor(e *Error) int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindStateConflict:
		return http.StatusConflict
	case KindArithmetic:
		return http.StatusUnprocessableEntity
	case KindTemporal:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ToProblemDetails converts a core error into its RFC 7807 representation.
func ToProblemDetails(err error, instance string) *ProblemDetails {
	if e, ok := err.(*Error); ok {
		return &ProblemDetails{
			Type:      typePrefix + e.Code,
			Title:     e.Kind.String(),
			Status:    statusFor(e),
			Detail:    e.Message,
			Instance:  instance,
			Code:      e.Code,
			Timestamp: time.Now().UTC(),
		}
	}
	return &ProblemDetails{
		Type:      typePrefix + "internal-error",
		Title:     "internal",
		Status:    http.StatusInternalServerError,
		Detail:    err.Error(),
		Instance:  instance,
		Timestamp: time.Now().UTC(),
	}
}

// HandleError writes err as an application/problem+json response.
func HandleError(c *gin.Context, err error) {
	pd := ToProblemDetails(err, c.Request.URL.Path)
	c.Header("Content-Type", "application/problem+json")
	c.AbortWithStatusJSON(pd.Status, pd)
}

// Middleware converts errors attached to the gin context into RFC 7807
// responses after the handler chain runs.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 {
			HandleError(c, c.Errors.Last().Err)
		}
	}
}
