package signals

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/amx/backend/internal/core"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deliveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signals_delivered_total",
		Help: "Signals applied to the reputation sink",
	})
	droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signals_dropped_total",
		Help: "Signals dropped after exhausting retries or on a full queue",
	})
	dedupedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signals_deduped_total",
		Help: "Redundant deliveries suppressed by the idempotency ledger",
	})
)

// Deliverer pushes signals to the sink through a background worker pool with
// bounded retry. Enqueue never blocks settlement: a full queue drops the
// signal and the loss is logged and counted; the escrow commit stands
// regardless.
type Deliverer struct {
	sink        Sink
	dedupe      DedupeLedger
	queue       chan deliveryJob
	workers     int
	maxAttempts int
	backoff     time.Duration
	logger      *log.Logger
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

type deliveryJob struct {
	sig     core.Signal
	attempt int
}

// NewDeliverer creates and starts a delivery worker pool.
func NewDeliverer(sink Sink, dedupe DedupeLedger, workers, maxAttempts int) *Deliverer {
	if workers <= 0 {
		workers = 4
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	d := &Deliverer{
		sink:        sink,
		dedupe:      dedupe,
		queue:       make(chan deliveryJob, 1000),
		workers:     workers,
		maxAttempts: maxAttempts,
		backoff:     250 * time.Millisecond,
		stopCh:      make(chan struct{}),
		logger:      log.New(log.Writer(), "[SIGNALS] ", log.LstdFlags),
	}

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Enqueue accepts a signal for asynchronous delivery.
func (d *Deliverer) Enqueue(sig core.Signal) {
	select {
	case d.queue <- deliveryJob{sig: sig, attempt: 1}:
	default:
		droppedTotal.Inc()
		d.logger.Printf("queue full, dropping signal %s", DedupeKey(sig))
	}
}

// Deliver applies one signal synchronously with dedupe. Exposed for the
// Cloud Tasks push endpoint and for tests.
//
// The key is claimed in the ledger before the sink runs, so two concurrent
// deliveries of the same key cannot both apply; a failed apply releases the
// claim for the retry.
func (d *Deliverer) Deliver(ctx context.Context, sig core.Signal) error {
	first, err := d.dedupe.MarkDelivered(ctx, sig)
	claimed := err == nil && first
	if err != nil {
		// Ledger unavailable; apply anyway rather than hold the signal back.
		d.logger.Printf("dedupe claim failed for %s: %v", DedupeKey(sig), err)
	} else if !first {
		dedupedTotal.Inc()
		return nil
	}

	if err := d.sink.ApplyJobSignal(ctx, sig); err != nil {
		if claimed {
			if uerr := d.dedupe.Unmark(ctx, sig); uerr != nil {
				d.logger.Printf("dedupe release failed for %s: %v", DedupeKey(sig), uerr)
			}
		}
		return err
	}

	deliveredTotal.Inc()
	return nil
}

// Shutdown stops the workers. Undelivered signals stay queued for the
// external retry layer; the dedupe ledger makes redelivery safe.
func (d *Deliverer) Shutdown() {
	close(d.stopCh)
	d.wg.Wait()
}

func (d *Deliverer) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.stopCh:
			return
		case job := <-d.queue:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := d.Deliver(ctx, job.sig)
			cancel()
			if err == nil {
				continue
			}

			if job.attempt >= d.maxAttempts {
				droppedTotal.Inc()
				d.logger.Printf("giving up on signal %s after %d attempts: %v", DedupeKey(job.sig), job.attempt, err)
				continue
			}

			job.attempt++
			go func(j deliveryJob) {
				select {
				case <-time.After(d.backoff * time.Duration(1<<uint(j.attempt-2))):
				case <-d.stopCh:
					return
				}
				select {
				case d.queue <- j:
				case <-d.stopCh:
				default:
					droppedTotal.Inc()
				}
			}(job)
		}
	}
}
