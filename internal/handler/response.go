package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func Ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, apiResponse{
		Code:    0,
		Message: "ok",
		Data:    data,
		Meta:    meta,
	})
}

func Error(c *gin.Context, status int, message string, meta map[string]any) {
	c.JSON(status, apiResponse{
		Code:    status,
		Message: message,
		Meta:    meta,
	})
}

const (
	defaultPageLimit = 100
	maxPageLimit     = 500
)

// pageQuery reads limit/offset. Out-of-range limits are rejected rather than
// clamped so callers notice.
func pageQuery(c *gin.Context) (limit, offset int, ok bool) {
	limit = intQuery(c, "limit", defaultPageLimit)
	offset = intQuery(c, "offset", 0)
	if limit < 1 || limit > maxPageLimit {
		Error(c, http.StatusBadRequest, "limit must be between 1 and 500", nil)
		return 0, 0, false
	}
	if offset < 0 {
		Error(c, http.StatusBadRequest, "offset must be >= 0", nil)
		return 0, 0, false
	}
	return limit, offset, true
}

func pageMeta(limit, offset, count int) map[string]any {
	return map[string]any{
		"limit":  limit,
		"offset": offset,
		"count":  count,
	}
}

func intQuery(c *gin.Context, key string, def int) int {
	if val := strings.TrimSpace(c.Query(key)); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
		return -1
	}
	return def
}

func int64Param(c *gin.Context, key string) (int64, bool) {
	v, err := strconv.ParseInt(strings.TrimSpace(c.Param(key)), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func uint64Param(c *gin.Context, key string) (uint64, bool) {
	v, err := strconv.ParseUint(strings.TrimSpace(c.Param(key)), 10, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	return v, true
}
