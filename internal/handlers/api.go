// internal/handlers/api.go
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/flotilla-gg/flotilla/internal/auth"
	"github.com/flotilla-gg/flotilla/internal/database"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parsePage reads page and limit query params with sane bounds.
func parsePage(r *http.Request) (page, limit int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return page, limit
}

// LeaderboardHandler serves one page of the ladder, public.
func LeaderboardHandler(logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		page, limit := parsePage(r)

		entries, meta, err := database.GetLeaderboard(r.Context(), page, limit)
		if err != nil {
			logger.Errorf("leaderboard query failed: %v", err)
			writeJSONError(w, http.StatusInternalServerError, "failed to load leaderboard")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"data": entries,
			"meta": meta,
		})
	}
}

// MatchHistoryHandler serves one page of the caller's matches, newest first.
func MatchHistoryHandler(logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		userID, err := auth.UserIDFromRequest(r)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		page, limit := parsePage(r)

		summaries, meta, err := database.ListMatchHistory(r.Context(), userID, page, limit)
		if err != nil {
			logger.Errorf("match history query for %s failed: %v", userID, err)
			writeJSONError(w, http.StatusInternalServerError, "failed to load match history")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"data": summaries,
			"meta": meta,
		})
	}
}

// MatchResultHandler serves the caller's verdict for one concluded match,
// including their all-time peak elo for the post-game screen.
func MatchResultHandler(logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		userID, err := auth.UserIDFromRequest(r)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		gameID, err := uuid.Parse(r.URL.Query().Get("gameId"))
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid gameId")
			return
		}

		outcome, err := database.GetMatchOutcome(r.Context(), gameID, userID)
		if err != nil {
			writeJSONError(w, http.StatusNotFound, "no result for this game")
			return
		}
		peak, err := database.HighestEloEver(r.Context(), userID)
		if err != nil {
			logger.Errorf("peak elo query for %s failed: %v", userID, err)
			writeJSONError(w, http.StatusInternalServerError, "failed to load result")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"result":     outcome,
			"highestElo": peak,
		})
	}
}
