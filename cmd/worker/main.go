package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/phoenix-ai/platform/internal/config"
	"github.com/phoenix-ai/platform/internal/db"
	"github.com/phoenix-ai/platform/internal/ledger"
	"github.com/phoenix-ai/platform/internal/store/rabbitmq"
)

const retryDelay = 5 * time.Second

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	gdb := db.Connect(cfg.DBDSN)
	if err := db.Migrate(gdb); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	led := ledger.New(gdb)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitCreditQueue); err != nil {
		log.Fatalf("queue declare: %v", err)
	}

	//  strict concurrency control
	concurrency := workerConcurrency()

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitCreditQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("worker started, queue=%s concurrency=%d", cfg.RabbitCreditQueue, concurrency)

	// amqp channels are not safe for concurrent publishes
	var pubMu sync.Mutex
	retry := func(d amqp.Delivery) error {
		pubMu.Lock()
		defer pubMu.Unlock()
		return ch.PublishWithContext(ctx, "", cfg.RabbitCreditQueue+".retry", false, false, amqp.Publishing{
			ContentType:  d.ContentType,
			DeliveryMode: amqp.Persistent,
			MessageId:    d.MessageId,
			Expiration:   strconv.FormatInt(retryDelay.Milliseconds(), 10),
			Body:         d.Body,
			Timestamp:    time.Now(),
		})
	}

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				start := time.Now()
				err := handleGrant(ctx, led, d.Body)
				switch {
				case err == nil:
					if err := d.Ack(false); err != nil {
						log.Printf("worker=%d ack failed msg=%s err=%v", workerID, d.MessageId, err)
					}
				case isPermanent(err):
					log.Printf("worker=%d grant rejected msg=%s cost=%s err=%v", workerID, d.MessageId, time.Since(start), err)
					_ = d.Nack(false, false)
				default:
					log.Printf("worker=%d grant failed, retrying msg=%s cost=%s err=%v", workerID, d.MessageId, time.Since(start), err)
					if rerr := retry(d); rerr != nil {
						log.Printf("worker=%d retry publish failed msg=%s err=%v", workerID, d.MessageId, rerr)
						_ = d.Nack(false, true)
						continue
					}
					_ = d.Ack(false)
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Printf("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Printf("delivery channel closed")
				close(jobs)
				wg.Wait()
				return
			}
			jobs <- d
		}
	}
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func isPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// handleGrant applies one credit grant. Malformed grants and unknown users
// are permanent failures; anything else is worth retrying.
func handleGrant(ctx context.Context, led *ledger.Ledger, body []byte) error {
	g, err := rabbitmq.DecodeGrant(body)
	if err != nil {
		return permanentError{err}
	}

	applied, err := led.Credit(ctx, g.UserID, g.Amount, g.Reason, g.Reference)
	if err != nil {
		if errors.Is(err, ledger.ErrUserNotFound) || errors.Is(err, ledger.ErrInvalidAmount) {
			return permanentError{err}
		}
		return err
	}
	if !applied {
		log.Printf("grant already applied user=%d ref=%s", g.UserID, g.Reference)
	}
	return nil
}
