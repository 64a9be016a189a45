package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"online-auction/internal/models"
	"online-auction/utils"
)

// Sweeper is the periodic job driven by the Scheduler
type Sweeper interface {
	SweepAndClose(ctx context.Context) ([]models.ClosedLotResult, error)
}

// Scheduler runs a Sweeper on a fixed interval. A tick that arrives while
// the previous sweep is still running is skipped, and Stop waits for an
// in-flight sweep to finish.
type Scheduler struct {
	sweeper  Sweeper
	interval time.Duration

	running  atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewScheduler creates a scheduler that sweeps every interval
func NewScheduler(sweeper Sweeper, interval time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		sweeper:  sweeper,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the timer loop. The first sweep runs immediately so lots
// that expired while the process was down are closed without waiting a full interval.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	utils.Info("Scheduler: started", map[string]any{"interval": s.interval.String()})
	s.tick()

	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-s.ctx.Done():
			utils.Info("Scheduler: stopping, no new sweeps will start", nil)
			return
		}
	}
}

// tick starts a sweep unless one is still running or the scheduler is stopping.
// It reports whether a sweep was started.
func (s *Scheduler) tick() bool {
	if s.ctx.Err() != nil {
		return false
	}
	if !s.running.CompareAndSwap(false, true) {
		utils.Warn("Scheduler: previous sweep still running, skipping tick", nil)
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		s.sweep()
	}()
	return true
}

func (s *Scheduler) sweep() {
	start := time.Now()
	// detached from Stop so the drain lets the sweep finish
	results, err := s.sweeper.SweepAndClose(context.WithoutCancel(s.ctx))
	if err != nil {
		utils.Error("Scheduler: sweep aborted, retrying on next tick", map[string]any{
			"error":    err.Error(),
			"duration": time.Since(start).String(),
		})
		return
	}

	for _, r := range results {
		fields := map[string]any{"lot_id": r.LotID, "winner_id": nil}
		if r.WinnerID != nil {
			fields["winner_id"] = *r.WinnerID
			fields["winning_bid"] = r.WinningBid.StringFixed(2)
		}
		utils.Info("Scheduler: lot closed", fields)
	}
	utils.Debug("Scheduler: sweep completed", map[string]any{
		"closed":   len(results),
		"duration": time.Since(start).String(),
	})
}

// Stop cancels the timer loop and waits for an in-flight sweep to finish
func (s *Scheduler) Stop() {
	s.stopOnce.Do(s.cancel)
	s.wg.Wait()
	utils.Info("Scheduler: stopped", nil)
}
