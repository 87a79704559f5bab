// internal/handlers/api_test.go
package handlers

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePageDefaults(t *testing.T) {
	r := httptest.NewRequest("GET", "/stats/leaderboard", nil)
	page, limit := parsePage(r)
	assert.Equal(t, 1, page)
	assert.Equal(t, defaultPageLimit, limit)
}

func TestParsePageBounds(t *testing.T) {
	r := httptest.NewRequest("GET", "/stats/leaderboard?page=3&limit=25", nil)
	page, limit := parsePage(r)
	assert.Equal(t, 3, page)
	assert.Equal(t, 25, limit)

	r = httptest.NewRequest("GET", "/stats/leaderboard?page=-1&limit=10000", nil)
	page, limit = parsePage(r)
	assert.Equal(t, 1, page)
	assert.Equal(t, maxPageLimit, limit)
}
