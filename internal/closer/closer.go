package closer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"online-auction/internal/auctionerrors"
	"online-auction/internal/models"
	"online-auction/internal/repository"
	"online-auction/utils"

	"github.com/shopspring/decimal"
)

const (
	DefaultWorkers    = 4
	DefaultRetryLimit = 3
	DefaultLotTimeout = 10 * time.Second
)

// Closer finalizes lots whose deadline has passed
type Closer struct {
	repo       repository.AuctionDB
	workers    int
	retryLimit int
	lotTimeout time.Duration
	now        func() time.Time
}

// Option configures a Closer
type Option func(*Closer)

// WithWorkers sets how many lots are closed in parallel
func WithWorkers(n int) Option {
	return func(c *Closer) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithRetryLimit sets how many times a close that lost to a late bid is retried
func WithRetryLimit(n int) Option {
	return func(c *Closer) {
		if n >= 0 {
			c.retryLimit = n
		}
	}
}

// WithLotTimeout bounds the store calls made for a single lot
func WithLotTimeout(d time.Duration) Option {
	return func(c *Closer) {
		if d > 0 {
			c.lotTimeout = d
		}
	}
}

// WithClock overrides the clock used to find expired lots
func WithClock(now func() time.Time) Option {
	return func(c *Closer) { c.now = now }
}

// NewCloser creates a new Closer instance
func NewCloser(repo repository.AuctionDB, opts ...Option) *Closer {
	c := &Closer{
		repo:       repo,
		workers:    DefaultWorkers,
		retryLimit: DefaultRetryLimit,
		lotTimeout: DefaultLotTimeout,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SweepAndClose closes every open lot whose close time has passed and returns
// the lots this call closed, ordered by lot id. Lots another sweep already
// closed are skipped silently. A failure on one lot is logged and does not
// stop the others; only a failure to list expired lots aborts the sweep.
func (c *Closer) SweepAndClose(ctx context.Context) ([]models.ClosedLotResult, error) {
	lots, err := c.repo.ListExpired(ctx, c.now())
	if err != nil {
		return nil, fmt.Errorf("closer: failed to list expired lots: %w", err)
	}
	if len(lots) == 0 {
		utils.Debug("SweepAndClose: no expired lots", nil)
		return []models.ClosedLotResult{}, nil
	}

	utils.Info("SweepAndClose: sweep started", map[string]any{"expired_lots": len(lots)})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make([]models.ClosedLotResult, 0, len(lots))
		failed  int
	)

	jobs := make(chan models.Lot)
	for i := 0; i < min(c.workers, len(lots)); i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for lot := range jobs {
				result, closed, err := c.closeLot(ctx, lot)

				mu.Lock()
				switch {
				case err != nil:
					failed++
				case closed:
					results = append(results, result)
				}
				mu.Unlock()

				if err != nil {
					utils.Error("SweepAndClose: failed to close lot", map[string]any{
						"worker": id,
						"lot_id": lot.LotID,
						"error":  err.Error(),
					})
				}
			}
		}(i)
	}

	for _, lot := range lots {
		jobs <- lot
	}
	close(jobs)
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].LotID < results[j].LotID })

	utils.Info("SweepAndClose: sweep finished", map[string]any{
		"expired_lots": len(lots),
		"closed":       len(results),
		"failed":       failed,
	})
	return results, nil
}

// closeLot closes one lot with the winner it reads. It reports closed=false
// when the lot was already closed by someone else.
func (c *Closer) closeLot(ctx context.Context, lot models.Lot) (models.ClosedLotResult, bool, error) {
	// a shutdown must not abort a closure half way
	lotCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.lotTimeout)
	defer cancel()

	for attempt := 0; ; attempt++ {
		transition := models.LotTransition{ExpectedIsActive: true, NewIsActive: false}
		var winningBid *decimal.Decimal

		top, err := c.repo.HighestFor(lotCtx, lot.LotID)
		switch {
		case err == nil:
			winner := top.BidderID
			price := top.OfferedPrice
			transition.ExpectedLeaderBidID = top.BidID
			transition.NewWinnerID = &winner
			winningBid = &price
		case errors.Is(err, auctionerrors.ErrNoBids):
		default:
			return models.ClosedLotResult{}, false, fmt.Errorf("closer: failed to read highest bid for lot %s: %w", lot.LotID, err)
		}

		applied, err := c.repo.ConditionalUpdate(lotCtx, lot.LotID, transition)
		if err == nil {
			if !applied {
				return models.ClosedLotResult{}, false, nil
			}
			return models.ClosedLotResult{
				LotID:      lot.LotID,
				WinnerID:   transition.NewWinnerID,
				WinningBid: winningBid,
				ClosedAt:   c.now(),
			}, true, nil
		}

		if !errors.Is(err, auctionerrors.ErrConcurrentConflict) || attempt >= c.retryLimit {
			return models.ClosedLotResult{}, false, fmt.Errorf("closer: failed to close lot %s: %w", lot.LotID, err)
		}
		utils.Warn("SweepAndClose: leader changed while closing, retrying", map[string]any{
			"lot_id":  lot.LotID,
			"attempt": attempt + 1,
		})
	}
}
