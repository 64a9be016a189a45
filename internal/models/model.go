package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Lot represents an item under auction
type Lot struct {
	LotID        string          `json:"lot_id"`
	OwnerID      string          `json:"owner_id"`
	CategoryID   string          `json:"category_id,omitempty"`
	ItemName     string          `json:"item_name"`
	Description  string          `json:"description"`
	Location     string          `json:"location"`
	InitialPrice decimal.Decimal `json:"initial_price"`
	MinStep      decimal.Decimal `json:"min_step"`
	BuyoutPrice  decimal.Decimal `json:"buyout_price"`
	CloseTime    time.Time       `json:"close_time"`
	CreatedAt    time.Time       `json:"created_at"`

	IsActive bool    `json:"is_active"`
	WinnerID *string `json:"winner_id"`

	// Bid-acceptance state, advanced only by a committed bid.
	LeaderBidID string          `json:"leader_bid_id,omitempty"`
	LeaderPrice decimal.Decimal `json:"leader_price"`
}

// HasLeader reports whether at least one bid has been committed for the lot
func (l Lot) HasLeader() bool {
	return l.LeaderBidID != ""
}

// Bid represents a committed offer on a lot
type Bid struct {
	BidID        string          `json:"bid_id"`
	LotID        string          `json:"lot_id"`
	BidderID     string          `json:"bidder_id"`
	OfferedPrice decimal.Decimal `json:"offered_price"`
	SubmittedAt  time.Time       `json:"submitted_at"`
}

// NewLot carries the seller-supplied fields of a lot
type NewLot struct {
	OwnerID      string
	CategoryID   string
	ItemName     string
	Description  string
	Location     string
	InitialPrice decimal.Decimal
	MinStep      decimal.Decimal
	BuyoutPrice  decimal.Decimal
	CloseTime    time.Time
}

// LotTransition is a compare-and-set update of a lot's mutable fields.
// It applies only while IsActive equals ExpectedIsActive and the leading
// bid is still ExpectedLeaderBidID ("" for no bids).
type LotTransition struct {
	ExpectedIsActive    bool
	ExpectedLeaderBidID string
	NewIsActive         bool
	NewWinnerID         *string
}

// ClosedLotResult describes one lot closed by a sweep
type ClosedLotResult struct {
	LotID      string           `json:"lot_id"`
	WinnerID   *string          `json:"winner_id"`
	WinningBid *decimal.Decimal `json:"winning_bid"`
	ClosedAt   time.Time        `json:"closed_at"`
}
