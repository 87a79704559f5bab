// cmd/journal is an asynchronous worker that pops match event records from a
// Redis queue and persists them to PostgreSQL for replay and audit.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"github.com/flotilla-gg/flotilla/internal/cache"
	"github.com/flotilla-gg/flotilla/internal/database"
)

// JournalService encapsulates the Redis + DB logic for draining the match
// event queue in batches.
type JournalService struct {
	redisClient *redis.Client
	batchSize   int
	flushDelay  time.Duration

	batchMu  sync.Mutex
	batch    []cache.MatchEventRecord
	ctx      context.Context
	cancelFn context.CancelFunc
}

// NewJournalService constructs a JournalService from environment variables
// or defaults.
func NewJournalService() *JournalService {
	batchSize := getEnvInt("JOURNAL_BATCH_SIZE", 20)
	flushMs := getEnvInt("JOURNAL_FLUSH_MS", 500)

	redisAddr := getEnv("REDIS_ADDR", "localhost:6379")
	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithCancel(context.Background())
	return &JournalService{
		redisClient: rdb,
		batchSize:   batchSize,
		flushDelay:  time.Duration(flushMs) * time.Millisecond,
		batch:       make([]cache.MatchEventRecord, 0, batchSize),
		ctx:         ctx,
		cancelFn:    cancel,
	}
}

// Run connects to the database and drains the queue until Stop is called.
func (js *JournalService) Run() {
	database.ConnectDB()

	go js.readRedisLoop()

	log.Println("flotilla-journal service started.")
	<-js.ctx.Done()
	js.flushBatchToDB()
	log.Println("flotilla-journal shutting down.")
}

// readRedisLoop continuously uses BLPop to retrieve records from the queue,
// accumulating them in a batch flushed on size or a timer.
func (js *JournalService) readRedisLoop() {
	ticker := time.NewTicker(js.flushDelay)
	defer ticker.Stop()

	for {
		select {
		case <-js.ctx.Done():
			return

		case <-ticker.C:
			js.flushBatchToDB()

		default:
			// BLPop with a short timeout so context cancellation is handled.
			res, err := js.redisClient.BLPop(js.ctx, 3*time.Second, cache.MatchEventQueueKey).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				if js.ctx.Err() != nil {
					return
				}
				log.Printf("[ERROR] BLPop: %v\n", err)
				continue
			}
			if len(res) < 2 {
				continue
			}

			// res[0] is the queue name and res[1] the payload.
			var record cache.MatchEventRecord
			if err := json.Unmarshal([]byte(res[1]), &record); err != nil {
				log.Printf("invalid match event record: %v\n", err)
				continue
			}
			js.appendToBatch(record)
		}
	}
}

// appendToBatch adds a record and flushes if the threshold is reached.
func (js *JournalService) appendToBatch(record cache.MatchEventRecord) {
	js.batchMu.Lock()
	defer js.batchMu.Unlock()

	js.batch = append(js.batch, record)
	if len(js.batch) >= js.batchSize {
		js.flushBatchLocked()
	}
}

// flushBatchToDB flushes the current batch in a single transaction.
func (js *JournalService) flushBatchToDB() {
	js.batchMu.Lock()
	defer js.batchMu.Unlock()
	js.flushBatchLocked()
}

// flushBatchLocked writes and clears the batch. Assumes batchMu is held.
func (js *JournalService) flushBatchLocked() {
	if len(js.batch) == 0 {
		return
	}
	batchCopy := make([]cache.MatchEventRecord, len(js.batch))
	copy(batchCopy, js.batch)
	js.batch = js.batch[:0]

	ctx := context.Background()
	err := pgx.BeginTxFunc(ctx, database.DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, rec := range batchCopy {
			if err := insertMatchEventTx(ctx, tx, rec); err != nil {
				return fmt.Errorf("insertMatchEventTx: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("[ERROR] flushBatchToDB: %v\n", err)
	} else {
		log.Printf("Flushed %d match events to DB.\n", len(batchCopy))
	}
}

// insertMatchEventTx inserts a single event row within the transaction.
func insertMatchEventTx(ctx context.Context, tx pgx.Tx, rec cache.MatchEventRecord) error {
	jsonPayload, err := json.Marshal(rec.Payload)
	if err != nil {
		return err
	}
	q := `
		INSERT INTO match_events (game_id, actor_id, kind, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = tx.Exec(ctx, q, rec.GameID, rec.ActorID, rec.Kind, jsonPayload, rec.Timestamp)
	return err
}

// Stop gracefully stops the journal service.
func (js *JournalService) Stop() {
	js.cancelFn()
}

func main() {
	js := NewJournalService()
	go js.Run()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	js.Stop()
	log.Println("Journal shutdown complete.")
}

func getEnv(key, defVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defVal
}

func getEnvInt(key string, defVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defVal
	}
	return i
}
