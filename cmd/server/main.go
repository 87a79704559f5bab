// cmd/server/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/flotilla-gg/flotilla/internal/auth"
	"github.com/flotilla-gg/flotilla/internal/cache"
	"github.com/flotilla-gg/flotilla/internal/database"
	"github.com/flotilla-gg/flotilla/internal/game"
	"github.com/flotilla-gg/flotilla/internal/handlers"
	"github.com/flotilla-gg/flotilla/internal/middleware"
	"github.com/flotilla-gg/flotilla/internal/room"
)

func main() {
	// With persisted keys, sessions survive restarts and verify across
	// replicas; otherwise a fresh pair is generated per process.
	privPath, pubPath := os.Getenv("SESSION_PRIVATE_KEY_FILE"), os.Getenv("SESSION_PUBLIC_KEY_FILE")
	if privPath != "" && pubPath != "" {
		if err := auth.InitFromPath(privPath, pubPath); err != nil {
			log.Fatalf("failed to load session keys: %v", err)
		}
	} else {
		auth.Init()
	}
	database.ConnectDB()

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	// The match event journal is optional; the server runs without Redis.
	if err := cache.ConnectRedis(context.Background()); err != nil {
		logger.Warnf("redis unavailable, match event journal disabled: %v", err)
	}

	rooms := room.NewRegistry(database.Identities{})
	games := game.NewRegistry(database.Ratings{}, database.Results{})

	gw := handlers.NewGateway(logger)
	handlers.WireRoomEvents(gw, rooms)
	handlers.WireGameEvents(gw, games)

	mux := http.NewServeMux()

	// lobby and matchmaking websocket
	mux.Handle("/room/ws", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.RoomWSHandler(logger, gw, rooms, games),
	)))

	// in-match websocket
	mux.Handle("/game/ws", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.GameWSHandler(logger, gw, games),
	)))

	// stats endpoints
	mux.Handle("/stats/leaderboard", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.LeaderboardHandler(logger),
	)))
	mux.Handle("/games/history", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.MatchHistoryHandler(logger),
	)))
	mux.Handle("/games/result", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.MatchResultHandler(logger),
	)))

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	logger.Infof("Running on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
