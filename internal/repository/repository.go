package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"online-auction/internal/auctionerrors"
	model "online-auction/internal/models"
)

// LotStore is the durable record of lots and their mutable fields
type LotStore interface {
	CreateLot(ctx context.Context, lot model.Lot) error
	GetLot(ctx context.Context, lotID string) (model.Lot, error)
	ListLots(ctx context.Context, activeOnly bool) ([]model.Lot, error)
	ListExpired(ctx context.Context, now time.Time) ([]model.Lot, error)
	ConditionalUpdate(ctx context.Context, lotID string, t model.LotTransition) (bool, error)
}

// BidLedger is the append-only record of bids per lot.
//
// Append commits bid only while the lot is open and its leading bid is still
// expectedLeaderBidID ("" when no bid exists yet). A stale expectation yields
// ErrConcurrentConflict and nothing is persisted. The committed bid carries
// the store-assigned SubmittedAt.
type BidLedger interface {
	Append(ctx context.Context, bid model.Bid, expectedLeaderBidID string) (model.Bid, error)
	HighestFor(ctx context.Context, lotID string) (model.Bid, error)
	GetBidsByLot(ctx context.Context, lotID string) ([]model.Bid, error)
}

// AuctionDB combines the lot store and bid ledger used by the engine
type AuctionDB interface {
	LotStore
	BidLedger
}

// storeErr marks an infrastructure failure as retryable for the caller
func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, auctionerrors.ErrStoreUnavailable, err)
}

// lotEntry is one lot's bid-acceptance state, guarded by its own mutex
type lotEntry struct {
	mu   sync.Mutex
	lot  model.Lot
	bids []model.Bid
}

// MemoryRepo is a concurrency-safe in-memory implementation of AuctionDB.
// The map lock only guards membership; bids and closes serialize per lot.
type MemoryRepo struct {
	mu   sync.RWMutex
	lots map[string]*lotEntry // key: lotID
	now  func() time.Time
}

// NewMemoryRepo creates a new in-memory repository instance
func NewMemoryRepo() *MemoryRepo {
	return NewMemoryRepoWithClock(func() time.Time { return time.Now().UTC() })
}

// NewMemoryRepoWithClock creates an in-memory repository that stamps bids with now
func NewMemoryRepoWithClock(now func() time.Time) *MemoryRepo {
	return &MemoryRepo{
		lots: make(map[string]*lotEntry),
		now:  now,
	}
}

func (r *MemoryRepo) entry(lotID string) (*lotEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.lots[lotID]
	return e, ok
}

// snapshot copies the entry pointers so per-lot locks are taken without the map lock
func (r *MemoryRepo) snapshot() []*lotEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]*lotEntry, 0, len(r.lots))
	for _, e := range r.lots {
		entries = append(entries, e)
	}
	return entries
}

// CreateLot stores a new lot
func (r *MemoryRepo) CreateLot(ctx context.Context, lot model.Lot) error {
	if lot.LotID == "" {
		return fmt.Errorf("create lot: %w - empty lot id", auctionerrors.ErrInvalidLot)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.lots[lot.LotID]; ok {
		return fmt.Errorf("create lot %s: %w - duplicate id", lot.LotID, auctionerrors.ErrInvalidLot)
	}
	r.lots[lot.LotID] = &lotEntry{lot: copyLot(lot)}
	return nil
}

// GetLot returns a snapshot of a lot
func (r *MemoryRepo) GetLot(ctx context.Context, lotID string) (model.Lot, error) {
	e, ok := r.entry(lotID)
	if !ok {
		return model.Lot{}, fmt.Errorf("get lot %s: %w", lotID, auctionerrors.ErrLotNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return copyLot(e.lot), nil
}

// ListLots returns lots in creation order, only open ones when activeOnly is set
func (r *MemoryRepo) ListLots(ctx context.Context, activeOnly bool) ([]model.Lot, error) {
	lots := make([]model.Lot, 0)
	for _, e := range r.snapshot() {
		e.mu.Lock()
		if !activeOnly || e.lot.IsActive {
			lots = append(lots, copyLot(e.lot))
		}
		e.mu.Unlock()
	}

	sort.Slice(lots, func(i, j int) bool {
		if lots[i].CreatedAt.Equal(lots[j].CreatedAt) {
			return lots[i].LotID < lots[j].LotID
		}
		return lots[i].CreatedAt.Before(lots[j].CreatedAt)
	})
	return lots, nil
}

// ListExpired returns open lots whose close time is at or before now, oldest deadline first
func (r *MemoryRepo) ListExpired(ctx context.Context, now time.Time) ([]model.Lot, error) {
	var expired []model.Lot
	for _, e := range r.snapshot() {
		e.mu.Lock()
		if e.lot.IsActive && !e.lot.CloseTime.After(now) {
			expired = append(expired, copyLot(e.lot))
		}
		e.mu.Unlock()
	}

	sort.Slice(expired, func(i, j int) bool {
		if expired[i].CloseTime.Equal(expired[j].CloseTime) {
			return expired[i].LotID < expired[j].LotID
		}
		return expired[i].CloseTime.Before(expired[j].CloseTime)
	})
	return expired, nil
}

// ConditionalUpdate applies t under the lot's lock
func (r *MemoryRepo) ConditionalUpdate(ctx context.Context, lotID string, t model.LotTransition) (bool, error) {
	e, ok := r.entry(lotID)
	if !ok {
		return false, fmt.Errorf("update lot %s: %w", lotID, auctionerrors.ErrLotNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lot.IsActive != t.ExpectedIsActive {
		return false, nil
	}
	if e.lot.LeaderBidID != t.ExpectedLeaderBidID {
		return false, fmt.Errorf("update lot %s: %w - leader changed", lotID, auctionerrors.ErrConcurrentConflict)
	}

	e.lot.IsActive = t.NewIsActive
	e.lot.WinnerID = copyString(t.NewWinnerID)
	return true, nil
}

// Append commits a bid under the lot's lock
func (r *MemoryRepo) Append(ctx context.Context, bid model.Bid, expectedLeaderBidID string) (model.Bid, error) {
	if err := ctx.Err(); err != nil {
		return model.Bid{}, fmt.Errorf("append bid for lot %s: %w", bid.LotID, err)
	}

	e, ok := r.entry(bid.LotID)
	if !ok {
		return model.Bid{}, fmt.Errorf("append bid for lot %s: %w", bid.LotID, auctionerrors.ErrLotNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := r.now()
	if !e.lot.IsActive || !now.Before(e.lot.CloseTime) {
		return model.Bid{}, fmt.Errorf("append bid for lot %s: %w", bid.LotID, auctionerrors.ErrAuctionClosed)
	}
	if e.lot.LeaderBidID != expectedLeaderBidID {
		return model.Bid{}, fmt.Errorf("append bid for lot %s: %w - leader changed", bid.LotID, auctionerrors.ErrConcurrentConflict)
	}
	if e.lot.HasLeader() && !bid.OfferedPrice.GreaterThan(e.lot.LeaderPrice) {
		return model.Bid{}, fmt.Errorf("append bid for lot %s: %w", bid.LotID, auctionerrors.ErrBidTooLow)
	}

	bid.SubmittedAt = now
	e.bids = append(e.bids, bid)
	e.lot.LeaderBidID = bid.BidID
	e.lot.LeaderPrice = bid.OfferedPrice
	return bid, nil
}

// HighestFor returns the leading bid for a lot
func (r *MemoryRepo) HighestFor(ctx context.Context, lotID string) (model.Bid, error) {
	e, ok := r.entry(lotID)
	if !ok {
		return model.Bid{}, fmt.Errorf("get highest bid for lot %s: %w", lotID, auctionerrors.ErrLotNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.bids) == 0 {
		return model.Bid{}, fmt.Errorf("get highest bid for lot %s: %w", lotID, auctionerrors.ErrNoBids)
	}
	// committed bids are strictly increasing, so the last one leads
	return e.bids[len(e.bids)-1], nil
}

// GetBidsByLot returns all bids for a lot in commit order
func (r *MemoryRepo) GetBidsByLot(ctx context.Context, lotID string) ([]model.Bid, error) {
	e, ok := r.entry(lotID)
	if !ok {
		return nil, fmt.Errorf("get bids for lot %s: %w", lotID, auctionerrors.ErrLotNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.Bid{}, e.bids...), nil
}

func copyLot(l model.Lot) model.Lot {
	l.WinnerID = copyString(l.WinnerID)
	return l
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
