package handlers

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"lottery-reservation/internal/logger"
	"lottery-reservation/internal/services"
	"lottery-reservation/internal/utils"
)

var kindStatus = map[services.ErrorKind]int{
	services.KindValidation:   http.StatusBadRequest,
	services.KindCapacity:     http.StatusConflict,
	services.KindRateLimited:  http.StatusTooManyRequests,
	services.KindUnauthorized: http.StatusForbidden,
	services.KindNotFound:     http.StatusNotFound,
	services.KindTransient:    http.StatusServiceUnavailable,
	services.KindConsistency:  http.StatusInternalServerError,
	services.KindInternal:     http.StatusInternalServerError,
}

func respondError(c *gin.Context, log *logger.Logger, message string, err error) {
	kind := services.Kind(err)
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	var rl *services.RateLimitError
	if errors.As(err, &rl) {
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(rl.RetryAfter.Seconds()))))
	} else if kind == services.KindTransient {
		c.Header("Retry-After", "1")
	}

	detail := err.Error()
	if status >= http.StatusInternalServerError {
		log.Error("API", fmt.Sprintf("%s %s: %v", c.Request.Method, c.FullPath(), err))
		if kind != services.KindTransient {
			detail = ""
		}
	}
	c.JSON(status, utils.CodedErrorResponse(message, string(kind), detail))
}
