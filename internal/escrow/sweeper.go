package escrow

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/amx/backend/internal/runtime"
)

// Sweeper periodically expires Active escrows whose deadline passed with no
// action taken. Expiry is not caller-restricted, so a background sweep is a
// legitimate trigger; a party racing the sweep simply loses benignly.
type Sweeper struct {
	manager  *Manager
	keys     runtime.KeyLister
	interval time.Duration
	stopCh   chan struct{}
	logger   *log.Logger
}

// NewSweeper creates and starts the expiry sweep loop.
func NewSweeper(manager *Manager, keys runtime.KeyLister, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	s := &Sweeper{
		manager:  manager,
		keys:     keys,
		interval: interval,
		stopCh:   make(chan struct{}),
		logger:   log.New(log.Writer(), "[ESCROW-SWEEP] ", log.LstdFlags),
	}
	go s.run()
	return s
}

// Stop halts the sweep loop.
func (s *Sweeper) Stop() {
	close(s.stopCh)
}

func (s *Sweeper) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Printf("started (interval=%s)", s.interval)
	for {
		select {
		case <-ticker.C:
			if n := s.Sweep(context.Background()); n > 0 {
				s.logger.Printf("sweep complete: %d escrows expired", n)
			}
		case <-s.stopCh:
			s.logger.Println("stopped")
			return
		}
	}
}

// Sweep expires every eligible escrow once and returns the count.
func (s *Sweeper) Sweep(ctx context.Context) int {
	keys, err := s.keys.ListKeys(ctx, "escrow:")
	if err != nil {
		s.logger.Printf("list escrows failed: %v", err)
		return 0
	}

	now := s.manager.clock.Now()
	expired := 0
	for _, key := range keys {
		id := strings.TrimPrefix(key, "escrow:")
		acct, err := s.manager.Get(ctx, id)
		if err != nil {
			continue
		}
		if acct.Status != StatusActive || !now.After(acct.Deadline) {
			continue
		}

		if _, _, err := s.manager.Expire(ctx, id); err != nil {
			// A party may settle between the read and the expire; both
			// rejections mean someone else already moved the account.
			if errors.Is(err, ErrInvalidStatus) || errors.Is(err, ErrDeadlineNotReached) {
				continue
			}
			s.logger.Printf("expire %s failed: %v", id, err)
			continue
		}
		expired++
		if s.manager.metrics != nil {
			s.manager.metrics.SweepExpired.Inc()
		}
	}
	return expired
}
