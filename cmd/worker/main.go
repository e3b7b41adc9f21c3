package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nightcall-labs/nightcall/internal/config"
	"github.com/nightcall-labs/nightcall/internal/db"
	"github.com/nightcall-labs/nightcall/internal/delivery"
	"github.com/nightcall-labs/nightcall/internal/engage"
	"github.com/nightcall-labs/nightcall/internal/gen"
)

type jobMsg struct {
	JobID string `json:"job_id"`
}

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

	gdb := db.Connect(cfg.DBDSN)

	repo := engage.NewRepo(gdb)

	reg := gen.NewRegistry()
	reg.Register("ollama", func(ctx context.Context, model string) (gen.Provider, error) {
		_ = ctx
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OllamaModel
		}
		return gen.NewOllamaProvider(cfg.OllamaBaseURL, m), nil
	})
	provider, err := reg.Get(context.Background(), cfg.GenProvider, cfg.OllamaModel)
	if err != nil {
		log.Fatalf("unsupported GEN_PROVIDER=%q", cfg.GenProvider)
	}

	engine := engage.NewEngine(repo, provider, cfg.MaxRounds)
	deliverer := delivery.NewGateway(cfg.GatewayBaseURL)

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

	_, err = ch.QueueDeclare(cfg.RabbitQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": cfg.RabbitQueue + ".dlq",
	})
	if err != nil {
		log.Fatalf("queue declare: %v", err)
	}

	concurrency := workerConcurrency()

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("worker started, queue=%s concurrency=%d", cfg.RabbitQueue, concurrency)

	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				var m jobMsg
				if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
					log.Printf("worker=%d bad message: %v", workerID, err)
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := handleJob(ctx, engine, repo, deliverer, m.JobID); err != nil {
					log.Printf("worker=%d job %s failed cost=%s err=%v", workerID, m.JobID, time.Since(start), err)
					_ = d.Nack(false, false)
					continue
				}

				if err := d.Ack(false); err != nil {
					log.Printf("worker=%d ack failed job=%s err=%v", workerID, m.JobID, err)
				}
			}
		}(i)
	}

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
				time.Sleep(1 * time.Second)
				continue
			}
			jobs <- d
		}
	}
}

// handleJob advances the owner's session for one inbound turn and pushes
// the reply. Session-gone and limit-hit outcomes are terminal notices, not
// failures; only store errors travel back for a requeue.
func handleJob(ctx context.Context, engine *engage.Engine, repo *engage.Repo, deliverer delivery.Deliverer, jobID string) error {
	_ = repo.UpdateJobStatusRunning(ctx, jobID)

	j, err := repo.GetJobByID(ctx, jobID)
	if err != nil {
		return err
	}

	result, err := engine.Advance(ctx, j.UserID, j.Inbound)
	switch {
	case errors.Is(err, engage.ErrNoActiveSession), errors.Is(err, engage.ErrLimitExceeded):
		// one fixed notice, no state was touched
		if derr := deliverer.Send(ctx, j.UserID, engage.TerminalNotice); derr != nil {
			log.Printf("job=%s terminal notice user=%s: %v", jobID, j.UserID, derr)
		}
		return repo.MarkJobSucceeded(ctx, jobID, nil)

	case errors.Is(err, engage.ErrInvalidInput):
		// permanent, do not requeue
		_ = repo.MarkJobFailed(ctx, jobID, err.Error())
		return nil

	case err != nil:
		_ = repo.MarkJobFailed(ctx, jobID, err.Error())
		return err
	}

	// round is committed; a failed send is logged and never retried
	if derr := deliverer.Send(ctx, j.UserID, result.Reply); derr != nil {
		log.Printf("job=%s deliver user=%s round=%d: %v", jobID, j.UserID, result.Round, derr)
	}

	var turnID *uint64
	if result.OutboundTurnID != 0 {
		turnID = &result.OutboundTurnID
	}
	if err := repo.MarkJobSucceeded(ctx, jobID, turnID); err != nil {
		return err
	}

	if result.SessionComplete {
		log.Printf("job=%s user=%s session complete round=%d", jobID, j.UserID, result.Round)
	}
	return nil
}
