package mail

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// DispatcherConfig sizes the queue and worker pool.
type DispatcherConfig struct {
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
}

// DefaultDispatcherConfig returns conservative defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{Workers: 2, QueueSize: 256, SendTimeout: 10 * time.Second}
}

// Dispatcher queues messages for asynchronous delivery by next.
// It implements Mailer; Send never blocks on delivery.
type Dispatcher struct {
	next  Mailer
	cfg   DispatcherConfig
	log    *slog.Logger
	depth  prometheus.Gauge
	failed prometheus.Counter

	mu     sync.RWMutex
	closed bool
	queue  chan Message
	group  *errgroup.Group
}

// NewDispatcher creates a Dispatcher and starts its workers. reg may be nil.
func NewDispatcher(next Mailer, cfg DispatcherConfig, log *slog.Logger, reg prometheus.Registerer) *Dispatcher {
	def := DefaultDispatcherConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if log == nil {
		log = slog.Default()
	}

	d := &Dispatcher{
		next: next,
		cfg:  cfg,
		log:  log,
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "warden",
			Subsystem: "mail",
			Name:      "queue_depth",
			Help:      "Messages waiting for delivery.",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "mail",
			Name:      "failures_total",
			Help:      "Messages the transport failed to deliver.",
		}),
		queue: make(chan Message, cfg.QueueSize),
		group: &errgroup.Group{},
	}
	if reg != nil {
		reg.MustRegister(d.depth, d.failed)
	}

	for i := 0; i < cfg.Workers; i++ {
		d.group.Go(d.work)
	}
	return d
}

// Send enqueues msg. It returns ErrQueueFull instead of blocking.
func (d *Dispatcher) Send(_ context.Context, msg Message) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrClosed
	}

	select {
	case d.queue <- msg:
		d.depth.Inc()
		return nil
	default:
		d.log.Warn("mail.queue.full", "template", msg.Template)
		return ErrQueueFull
	}
}

// Close stops accepting messages and waits for the queue to drain or ctx to end.
// If any delivery failed, Close reports it once the queue has drained.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- d.group.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// work delivers until the queue is closed. A failed message does not stop
// the worker; failures are logged as they happen and summarised in the
// returned error.
func (d *Dispatcher) work() error {
	var (
		failures int
		last     error
	)
	for msg := range d.queue {
		d.depth.Dec()

		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
		err := d.next.Send(ctx, msg)
		cancel()

		if err != nil {
			failures++
			last = err
			d.failed.Inc()
			d.log.Error("mail.send.fail", "template", msg.Template, "err", err)
		}
	}
	if failures > 0 {
		return fmt.Errorf("mail: %d deliveries failed: %w", failures, last)
	}
	return nil
}
