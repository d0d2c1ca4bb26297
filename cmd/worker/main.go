package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/SimoSabev/LynkSkill-sub001/internal/config"
	"github.com/SimoSabev/LynkSkill-sub001/internal/db"
	"github.com/SimoSabev/LynkSkill-sub001/internal/logging"
	"github.com/SimoSabev/LynkSkill-sub001/internal/store/gormstore"
	"github.com/SimoSabev/LynkSkill-sub001/internal/store/rabbitmq"
	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	maxAttempts   = 5
	retryDelay    = 10 * time.Second
	attemptsHdr   = "x-attempts"
	insertBudget  = 5 * time.Second
	publishBudget = 5 * time.Second
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	repo := gormstore.NewRepo(gdb)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		logger.Fatal("rabbit dial", zap.Error(err))
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("rabbit channel", zap.Error(err))
	}
	defer ch.Close()

	if err := rabbitmq.DeclareQueues(ch, cfg.RabbitQueue); err != nil {
		logger.Fatal("queue declare", zap.Error(err))
	}

	// strict concurrency control
	concurrency := cfg.WorkerConcurrency
	if err := ch.Qos(concurrency, 0, false); err != nil {
		logger.Fatal("qos", zap.Error(err))
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		logger.Fatal("consume", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("worker started", zap.String("queue", cfg.RabbitQueue), zap.Int("concurrency", concurrency))

	retryQ := rabbitmq.QueueNames(cfg.RabbitQueue).Retry
	// amqp channels are not safe for concurrent publishing
	var pubMu sync.Mutex
	retry := func(d amqp.Delivery, attempts int) error {
		pubCtx, cancel := detached(ctx, publishBudget)
		defer cancel()
		pubMu.Lock()
		defer pubMu.Unlock()
		return ch.PublishWithContext(pubCtx, "", retryQ, false, false, amqp.Publishing{
			ContentType:  d.ContentType,
			DeliveryMode: amqp.Persistent,
			Type:         d.Type,
			Body:         d.Body,
			Timestamp:    d.Timestamp,
			Expiration:   strconv.FormatInt(retryDelay.Milliseconds(), 10),
			Headers:      amqp.Table{attemptsHdr: int32(attempts)},
		})
	}

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			log := logger.With(zap.Int("worker", workerID))
			for d := range jobs {
				ev, err := rabbitmq.DecodeTurnEvent(d.Body)
				if err != nil {
					log.Warn("bad message", zap.Error(err))
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				insertCtx, cancel := detached(ctx, insertBudget)
				err = repo.InsertTurnEvent(insertCtx, ev)
				cancel()
				if err != nil {
					attempts := attemptsOf(d) + 1
					log.Warn("store turn event failed",
						zap.String("session_id", ev.SessionID),
						zap.Int("attempt", attempts),
						zap.Duration("cost", time.Since(start)),
						zap.Error(err),
					)
					if attempts < maxAttempts {
						if rerr := retry(d, attempts); rerr == nil {
							_ = d.Ack(false)
							continue
						}
					}
					// dead-letter
					_ = d.Nack(false, false)
					continue
				}

				if err := d.Ack(false); err != nil {
					log.Warn("ack failed", zap.String("session_id", ev.SessionID), zap.Error(err))
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				logger.Warn("delivery channel closed")
				close(jobs)
				wg.Wait()
				return
			}
			jobs <- d
		}
	}
}

// detached bounds work that must finish even after shutdown was signalled:
// workers keep draining jobs once ctx is done.
func detached(ctx context.Context, budget time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), budget)
}

func attemptsOf(d amqp.Delivery) int {
	switch v := d.Headers[attemptsHdr].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}
