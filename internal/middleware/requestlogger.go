package middleware

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/vistone/fingerprint-gateway/internal/models"
	"github.com/vistone/fingerprint-gateway/internal/repository"
)

const (
	logQueueSize  = 4096
	logBatchSize  = 100
	logFlushEvery = 5 * time.Second
)

// RequestLogger records every request to Postgres asynchronously. Entries go
// through a bounded channel into a background writer that flushes in batches,
// so a slow database never adds latency to the request path. When the queue
// is full the entry is dropped.
type RequestLogger struct {
	repo  *repository.RequestLogRepository
	queue chan models.RequestLog
	done  chan struct{}
	wg    sync.WaitGroup
}

func NewRequestLogger(repo *repository.RequestLogRepository) *RequestLogger {
	rl := &RequestLogger{
		repo:  repo,
		queue: make(chan models.RequestLog, logQueueSize),
		done:  make(chan struct{}),
	}

	rl.wg.Add(1)
	go rl.flushLoop()

	return rl
}

func (rl *RequestLogger) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		entry := models.RequestLog{
			Timestamp:      start,
			Method:         c.Request.Method,
			Path:           c.Request.URL.Path,
			StatusCode:     c.Writer.Status(),
			ResponseTimeMs: int(time.Since(start).Milliseconds()),
			IPAddress:      c.ClientIP(),
			UserAgent:      c.Request.UserAgent(),
		}

		if keyID := c.GetString("api_key_id"); keyID != "" {
			if parsed, err := uuid.Parse(keyID); err == nil {
				entry.APIKeyID = &parsed
			}
		}

		if backend, ok := c.Get("backend_server"); ok {
			if s, ok := backend.(string); ok {
				entry.BackendServer = s
			}
		}

		select {
		case rl.queue <- entry:
		default:
			// Queue full, drop rather than block the response
		}
	}
}

func (rl *RequestLogger) flushLoop() {
	defer rl.wg.Done()

	ticker := time.NewTicker(logFlushEvery)
	defer ticker.Stop()

	batch := make([]models.RequestLog, 0, logBatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := rl.repo.CreateBatch(ctx, batch); err != nil {
			log.Printf("request logger: failed to flush %d entries: %v", len(batch), err)
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-rl.queue:
			batch = append(batch, entry)
			if len(batch) >= logBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-rl.done:
			// Drain what is left before shutting down
			for {
				select {
				case entry := <-rl.queue:
					batch = append(batch, entry)
					if len(batch) >= logBatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// Close stops the writer after draining queued entries.
func (rl *RequestLogger) Close() {
	close(rl.done)
	rl.wg.Wait()
}
