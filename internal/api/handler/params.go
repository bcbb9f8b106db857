package handler

import (
	"math"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// positiveQueryInt reads a 1-based integer query parameter.
func positiveQueryInt(c *gin.Context, name string, def int) (int, error) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.Newf("%s must be a positive integer", name)
	}
	return n, nil
}

// limitParam reads ?limit, capped at maxLimit.
func limitParam(c *gin.Context) (int, error) {
	limit, err := positiveQueryInt(c, "limit", defaultLimit)
	if err != nil {
		return 0, err
	}
	return min(limit, maxLimit), nil
}

// pageInRange reports whether the offset of page fits in an int.
func pageInRange(page, limit int) bool {
	return page-1 <= math.MaxInt/limit
}
