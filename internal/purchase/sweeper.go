package purchase

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dkurbatov/vpn-shop-bot/types"
)

// Sweeper fails orders that sat pending past the abandonment threshold.
// It uses the same conditional update as verification, so a sweep racing a
// legitimate late verify is resolved at the storage layer: whichever writer
// finds the row still pending wins.
type Sweeper struct {
	store     types.OrderStore
	threshold time.Duration
	interval  time.Duration
	log       zerolog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

func NewSweeper(store types.OrderStore, threshold, interval time.Duration, log zerolog.Logger) *Sweeper {
	if threshold <= 0 {
		threshold = 15 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		store:     store,
		threshold: threshold,
		interval:  interval,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (s *Sweeper) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run()
}

func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(s.ctx)
		}
	}
}

func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.threshold)
	n, err := s.store.FailOrdersPendingSince(ctx, cutoff)
	if err != nil {
		s.log.Error().Err(err).Msg("order sweep failed")
		return
	}
	if n > 0 {
		s.log.Info().Int64("orders", n).Msg("abandoned orders failed by sweep")
	}
}
