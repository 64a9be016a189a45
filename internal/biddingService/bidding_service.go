package bidding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"online-auction/internal/auctionerrors"
	"online-auction/internal/models"
	"online-auction/internal/repository"
	"online-auction/utils"

	"github.com/shopspring/decimal"
)

// DefaultRetryLimit bounds how many times a bid that lost a commit race is re-validated
const DefaultRetryLimit = 3

// pricePlaces is the monetary precision accepted for prices
const pricePlaces = 2

// BiddingService defines the business logic for auction bidding
type BiddingService struct {
	repo       repository.AuctionDB
	now        func() time.Time
	retryLimit int
}

// Option configures a BiddingService
type Option func(*BiddingService)

// WithClock overrides the clock used for deadline checks
func WithClock(now func() time.Time) Option {
	return func(s *BiddingService) { s.now = now }
}

// WithRetryLimit sets how many extra attempts a conflicting bid gets
func WithRetryLimit(limit int) Option {
	return func(s *BiddingService) {
		if limit >= 0 {
			s.retryLimit = limit
		}
	}
}

// NewBiddingService creates a new BiddingService instance
func NewBiddingService(repo repository.AuctionDB, opts ...Option) *BiddingService {
	s := &BiddingService{
		repo:       repo,
		now:        func() time.Time { return time.Now().UTC() },
		retryLimit: DefaultRetryLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PlaceBid validates a bid against the lot's live state and commits it.
//
// The commit is conditional on the leader observed during validation. When
// another bid wins the race in between, the bid is re-validated against the
// fresh leader, so a loser ends with BidTooLow or IncrementTooSmall.
func (s *BiddingService) PlaceBid(ctx context.Context, lotID, bidderID string, offeredPrice decimal.Decimal) (models.Bid, error) {
	if err := validateBidInput(lotID, bidderID, offeredPrice); err != nil {
		return models.Bid{}, err
	}

	for attempt := 0; ; attempt++ {
		leaderBidID, err := s.admit(ctx, lotID, offeredPrice)
		if err != nil {
			return models.Bid{}, err
		}

		bid := models.Bid{
			BidID:        utils.GenerateID(),
			LotID:        lotID,
			BidderID:     bidderID,
			OfferedPrice: offeredPrice,
		}

		committed, err := s.repo.Append(ctx, bid, leaderBidID)
		if err == nil {
			return committed, nil
		}
		if !errors.Is(err, auctionerrors.ErrConcurrentConflict) {
			return models.Bid{}, fmt.Errorf("service: failed to record bid for lot %s by bidder %s: %w", lotID, bidderID, err)
		}
		if attempt >= s.retryLimit {
			return models.Bid{}, fmt.Errorf("service: %w - outbid by concurrent bids on lot %s", auctionerrors.ErrBidTooLow, lotID)
		}

		utils.Debug("PlaceBid: leader moved, revalidating", map[string]any{
			"lot_id":  lotID,
			"attempt": attempt + 1,
		})
	}
}

// admit runs the ordered admission checks and returns the leader the commit must be conditioned on
func (s *BiddingService) admit(ctx context.Context, lotID string, offeredPrice decimal.Decimal) (string, error) {
	lot, err := s.repo.GetLot(ctx, lotID)
	if err != nil {
		return "", fmt.Errorf("service: failed to load lot %s: %w", lotID, err)
	}

	if !lot.IsActive || !s.now().Before(lot.CloseTime) {
		return "", fmt.Errorf("service: %w - lot %s closed at %s", auctionerrors.ErrAuctionClosed, lotID, lot.CloseTime.UTC().Format(time.RFC3339))
	}
	if offeredPrice.LessThanOrEqual(lot.InitialPrice) {
		return "", fmt.Errorf("service: %w - initial price is %s", auctionerrors.ErrBelowInitialPrice, lot.InitialPrice.StringFixed(pricePlaces))
	}

	current := lot.InitialPrice
	leaderBidID := ""
	top, err := s.repo.HighestFor(ctx, lotID)
	switch {
	case err == nil:
		current = top.OfferedPrice
		leaderBidID = top.BidID
	case errors.Is(err, auctionerrors.ErrNoBids):
	default:
		return "", fmt.Errorf("service: failed to check highest bid for lot %s: %w", lotID, err)
	}

	if offeredPrice.LessThanOrEqual(current) {
		return "", fmt.Errorf("service: %w - current highest bid is %s", auctionerrors.ErrBidTooLow, current.StringFixed(pricePlaces))
	}
	if offeredPrice.Sub(current).LessThan(lot.MinStep) {
		return "", fmt.Errorf("service: %w - next bid must be at least %s", auctionerrors.ErrIncrementTooSmall, current.Add(lot.MinStep).StringFixed(pricePlaces))
	}
	return leaderBidID, nil
}

// validateBidInput rejects malformed requests before any store access.
// Price bounds are left to admit so lot and deadline checks run first.
func validateBidInput(lotID, bidderID string, offeredPrice decimal.Decimal) error {
	if lotID == "" || bidderID == "" {
		return fmt.Errorf("service: %w - missing lotID or bidderID", auctionerrors.ErrInvalidBid)
	}
	if !offeredPrice.Equal(offeredPrice.Round(pricePlaces)) {
		return fmt.Errorf("service: %w - offered price has more than %d decimal places", auctionerrors.ErrInvalidBid, pricePlaces)
	}
	return nil
}

// CreateLot validates the seller's request and stores a new open lot
func (s *BiddingService) CreateLot(ctx context.Context, req models.NewLot) (models.Lot, error) {
	now := s.now()
	if err := validateNewLot(req, now); err != nil {
		return models.Lot{}, err
	}

	lot := models.Lot{
		LotID:        utils.GenerateID(),
		OwnerID:      req.OwnerID,
		CategoryID:   req.CategoryID,
		ItemName:     req.ItemName,
		Description:  req.Description,
		Location:     req.Location,
		InitialPrice: req.InitialPrice,
		MinStep:      req.MinStep,
		BuyoutPrice:  req.BuyoutPrice,
		CloseTime:    req.CloseTime.UTC(),
		CreatedAt:    now,
		IsActive:     true,
	}

	if err := s.repo.CreateLot(ctx, lot); err != nil {
		return models.Lot{}, fmt.Errorf("service: failed to create lot for owner %s: %w", req.OwnerID, err)
	}
	return lot, nil
}

// validateNewLot collects every rule the request breaks into one error
func validateNewLot(req models.NewLot, now time.Time) error {
	var problems []string
	if req.OwnerID == "" {
		problems = append(problems, "owner_id is required")
	}
	if !req.InitialPrice.IsPositive() {
		problems = append(problems, "initial_price must be positive")
	}
	if !req.MinStep.IsPositive() {
		problems = append(problems, "min_step must be positive")
	}
	if !req.BuyoutPrice.GreaterThan(req.InitialPrice) {
		problems = append(problems, "buyout_price must be greater than initial_price")
	}
	prices := []struct {
		name  string
		value decimal.Decimal
	}{
		{"initial_price", req.InitialPrice},
		{"min_step", req.MinStep},
		{"buyout_price", req.BuyoutPrice},
	}
	for _, p := range prices {
		if !p.value.Equal(p.value.Round(pricePlaces)) {
			problems = append(problems, fmt.Sprintf("%s has more than %d decimal places", p.name, pricePlaces))
		}
	}
	if !req.CloseTime.After(now) {
		problems = append(problems, "close_time must be in the future")
	}

	if len(problems) > 0 {
		return fmt.Errorf("service: %w - %s", auctionerrors.ErrInvalidLot, strings.Join(problems, "; "))
	}
	return nil
}

// GetLot returns a lot by id
func (s *BiddingService) GetLot(ctx context.Context, lotID string) (models.Lot, error) {
	if lotID == "" {
		return models.Lot{}, fmt.Errorf("service: %w - empty lot ID", auctionerrors.ErrInvalidLot)
	}

	lot, err := s.repo.GetLot(ctx, lotID)
	if err != nil {
		return models.Lot{}, fmt.Errorf("service: failed to get lot %s: %w", lotID, err)
	}
	return lot, nil
}

// ListLots returns lots in creation order, only open ones when activeOnly is set
func (s *BiddingService) ListLots(ctx context.Context, activeOnly bool) ([]models.Lot, error) {
	lots, err := s.repo.ListLots(ctx, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list lots: %w", err)
	}
	if lots == nil {
		lots = []models.Lot{}
	}
	return lots, nil
}

// GetBidsForLot returns all bids for a specific lot
func (s *BiddingService) GetBidsForLot(ctx context.Context, lotID string) ([]models.Bid, error) {
	if lotID == "" {
		return nil, fmt.Errorf("service: %w - empty lot ID", auctionerrors.ErrInvalidBid)
	}

	bids, err := s.repo.GetBidsByLot(ctx, lotID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get bids for lot %s: %w", lotID, err)
	}
	if bids == nil {
		bids = []models.Bid{}
	}
	return bids, nil
}

// GetWinningBid returns the current leading bid for a specific lot
func (s *BiddingService) GetWinningBid(ctx context.Context, lotID string) (models.Bid, error) {
	if lotID == "" {
		return models.Bid{}, fmt.Errorf("service: %w - empty lot ID", auctionerrors.ErrInvalidBid)
	}

	winningBid, err := s.repo.HighestFor(ctx, lotID)
	if err != nil {
		return models.Bid{}, fmt.Errorf("service: failed to get winning bid for lot %s: %w", lotID, err)
	}
	return winningBid, nil
}
