package status

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/librescoot/uart-wakeup-service/internal/coordinator"
	"github.com/librescoot/uart-wakeup-service/internal/uart"
	"github.com/redis/go-redis/v9"
	redis_ipc "github.com/rescoot/redis-ipc"
	"go.uber.org/zap"
)

const (
	StateKey    = "uart-wakeup"
	EventsKey   = "uart-wakeup:events"
	PowerKey    = "power-manager"
	queueLength = 64
)

// Config selects the Redis instance the publisher writes to
type Config struct {
	Host string
	Port int
	Line int
}

// command is one Redis command of a transaction group
type command struct {
	name string
	args []string
}

// update is the Redis work derived from one handled event
type update struct {
	commands []command
	counters map[string]int64
}

// Publisher mirrors coordinator activity into Redis. Updates are queued
// and written by a worker so the coordinator never waits on the network.
type Publisher struct {
	ipc    *redis_ipc.Client
	redis  *redis.Client
	logger *zap.Logger
	line   int

	updates chan update
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New connects to Redis with both the IPC client (state) and a plain client (counters)
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Publisher, error) {
	ipc, err := redis_ipc.New(redis_ipc.Config{
		Address:       cfg.Host,
		Port:          cfg.Port,
		RetryInterval: 5 * time.Second,
		MaxRetries:    3,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis client: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		DB:   0,
	})

	pctx, cancel := context.WithCancel(ctx)
	if err := client.Ping(pctx).Err(); err != nil {
		cancel()
		ipc.Close()
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Publisher{
		ipc:     ipc,
		redis:   client,
		logger:  logger,
		line:    cfg.Line,
		updates: make(chan update, queueLength),
		ctx:     pctx,
		cancel:  cancel,
	}, nil
}

// Start launches the worker
func (p *Publisher) Start() {
	p.wg.Add(1)
	go p.run()
}

// InitializeState publishes the startup state
func (p *Publisher) InitializeState(port string, threshold int) error {
	tx := p.ipc.NewTxGroup("uart-wakeup-init")
	tx.Add("HSET", StateKey, "port", port)
	tx.Add("HSET", StateKey, "wakeup-threshold", strconv.Itoa(threshold))
	tx.Add("HSET", StateKey, "lock", "released")
	tx.Add("PUBLISH", StateKey, "lock")
	if _, err := tx.Exec(); err != nil {
		return fmt.Errorf("failed to initialize Redis uart state: %w", err)
	}
	p.logger.Info("Initialized Redis uart state", zap.String("port", port), zap.Int("threshold", threshold))
	return nil
}

// EventHandled queues the Redis update for r, dropping it if the worker is behind
func (p *Publisher) EventHandled(r coordinator.Result) {
	u := buildUpdate(r, p.line, time.Now())
	select {
	case p.updates <- u:
	default:
		p.logger.Debug("Status queue full, dropping update", zap.Stringer("event", r.Event))
	}
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case u := <-p.updates:
			p.write(u)
		}
	}
}

func (p *Publisher) write(u update) {
	tx := p.ipc.NewTxGroup("uart-wakeup")
	for _, c := range u.commands {
		args := make([]interface{}, len(c.args))
		for i, a := range c.args {
			args[i] = a
		}
		tx.Add(c.name, args...)
	}
	if _, err := tx.Exec(); err != nil {
		p.logger.Warn("Failed to publish uart state", zap.Error(err))
	}

	pipe := p.redis.Pipeline()
	for field, n := range u.counters {
		pipe.HIncrBy(p.ctx, EventsKey, field, n)
	}
	if _, err := pipe.Exec(p.ctx); err != nil && p.ctx.Err() == nil {
		p.logger.Warn("Failed to update uart event counters", zap.Error(err))
	}
}

// Close stops the worker and closes both clients
func (p *Publisher) Close() error {
	p.cancel()
	p.wg.Wait()

	var lastErr error
	if err := p.redis.Close(); err != nil {
		lastErr = err
	}
	if err := p.ipc.Close(); err != nil {
		lastErr = err
	}
	return lastErr
}

func buildUpdate(r coordinator.Result, line int, now time.Time) update {
	kind := r.Event.Kind.String()
	u := update{
		commands: []command{
			{name: "HSET", args: []string{StateKey, "last-event", kind}},
			{name: "HSET", args: []string{StateKey, "last-event-time", strconv.FormatInt(now.Unix(), 10)}},
			{name: "PUBLISH", args: []string{StateKey, "last-event"}},
		},
		counters: map[string]int64{kind: 1},
	}

	if r.Consumed > 0 {
		u.counters["bytes"] = int64(r.Consumed)
	}
	if r.Discarded > 0 {
		u.counters["discarded"] = int64(r.Discarded)
	}
	if r.Err != nil {
		u.counters["failures"] = 1
	}

	if r.Event.Kind == uart.EventWakeup {
		source := "uart" + strconv.Itoa(line)
		u.commands = append(u.commands,
			command{name: "HSET", args: []string{PowerKey, "wakeup-source", source}},
			command{name: "PUBLISH", args: []string{PowerKey, "wakeup-source"}},
		)
	}
	return u
}
