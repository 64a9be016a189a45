package auctionerrors

import "errors"

// Repository-level errors
var (
	ErrLotNotFound        = errors.New("lot not found")
	ErrNoBids             = errors.New("no bids found for lot")
	ErrConcurrentConflict = errors.New("concurrent update conflict")
	ErrStoreUnavailable   = errors.New("store unavailable")
)

// Bid rejections
var (
	ErrAuctionClosed     = errors.New("auction is closed")
	ErrBelowInitialPrice = errors.New("bid must be higher than the initial price")
	ErrBidTooLow         = errors.New("bid must be higher than the current highest bid")
	ErrIncrementTooSmall = errors.New("bid increment is below the minimum step")
	ErrInvalidBid        = errors.New("invalid bid")
	ErrInvalidLot        = errors.New("invalid lot")
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrLotNotFound, "LotNotFound"},
	{ErrAuctionClosed, "AuctionClosed"},
	{ErrBelowInitialPrice, "BelowInitialPrice"},
	{ErrBidTooLow, "BidTooLow"},
	{ErrIncrementTooSmall, "IncrementTooSmall"},
	{ErrInvalidBid, "InvalidBid"},
	{ErrInvalidLot, "InvalidLot"},
	{ErrNoBids, "NoBids"},
	{ErrStoreUnavailable, "StoreUnavailable"},
	{ErrConcurrentConflict, "ConcurrentConflict"},
}

// Kind returns a stable code for the first known error in err's chain, or "" if none matches
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return ""
}

// IsRejection reports whether err is a client-input rejection that must not be retried
func IsRejection(err error) bool {
	switch {
	case errors.Is(err, ErrLotNotFound),
		errors.Is(err, ErrAuctionClosed),
		errors.Is(err, ErrBelowInitialPrice),
		errors.Is(err, ErrBidTooLow),
		errors.Is(err, ErrIncrementTooSmall),
		errors.Is(err, ErrInvalidBid),
		errors.Is(err, ErrInvalidLot):
		return true
	}
	return false
}
