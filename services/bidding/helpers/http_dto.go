package helpers

import (
	"time"

	model "online-auction/internal/models"

	"github.com/shopspring/decimal"
)

const pricePlaces = 2

// Request/Response DTOs
type CreateLotRequest struct {
	OwnerID      string          `json:"owner_id" binding:"required"`
	CategoryID   string          `json:"category_id"`
	ItemName     string          `json:"item_name"`
	Description  string          `json:"description"`
	Location     string          `json:"location"`
	InitialPrice decimal.Decimal `json:"initial_price"`
	MinStep      decimal.Decimal `json:"min_step"`
	BuyoutPrice  decimal.Decimal `json:"buyout_price"`
	CloseTime    time.Time       `json:"close_time"`
}

// ToNewLot converts the request into the service's input
func (r CreateLotRequest) ToNewLot() model.NewLot {
	return model.NewLot{
		OwnerID:      r.OwnerID,
		CategoryID:   r.CategoryID,
		ItemName:     r.ItemName,
		Description:  r.Description,
		Location:     r.Location,
		InitialPrice: r.InitialPrice,
		MinStep:      r.MinStep,
		BuyoutPrice:  r.BuyoutPrice,
		CloseTime:    r.CloseTime,
	}
}

type ListLotsQuery struct {
	Active bool `form:"active"`
}

type PlaceBidRequest struct {
	BidderID     string          `json:"bidder_id" binding:"required"`
	OfferedPrice decimal.Decimal `json:"offered_price"`
}

type BidResponse struct {
	BidID        string `json:"bid_id"`
	LotID        string `json:"lot_id"`
	BidderID     string `json:"bidder_id"`
	OfferedPrice string `json:"offered_price"`
	SubmittedAt  string `json:"submitted_at"`
}

// NewBidResponse formats a committed bid for the API
func NewBidResponse(bid model.Bid) BidResponse {
	return BidResponse{
		BidID:        bid.BidID,
		LotID:        bid.LotID,
		BidderID:     bid.BidderID,
		OfferedPrice: bid.OfferedPrice.StringFixed(pricePlaces),
		SubmittedAt:  bid.SubmittedAt.UTC().Format(time.RFC3339Nano),
	}
}

type LotResponse struct {
	LotID        string  `json:"lot_id"`
	OwnerID      string  `json:"owner_id"`
	CategoryID   string  `json:"category_id,omitempty"`
	ItemName     string  `json:"item_name"`
	Description  string  `json:"description"`
	Location     string  `json:"location"`
	InitialPrice string  `json:"initial_price"`
	MinStep      string  `json:"min_step"`
	BuyoutPrice  string  `json:"buyout_price"`
	CurrentPrice string  `json:"current_price"`
	LeaderBidID  string  `json:"leader_bid_id,omitempty"`
	CloseTime    string  `json:"close_time"`
	CreatedAt    string  `json:"created_at"`
	IsActive     bool    `json:"is_active"`
	WinnerID     *string `json:"winner_id"`
}

// NewLotResponse formats a lot for the API. CurrentPrice is the leading
// bid, or the initial price while nobody has bid.
func NewLotResponse(lot model.Lot) LotResponse {
	current := lot.InitialPrice
	if lot.HasLeader() {
		current = lot.LeaderPrice
	}
	return LotResponse{
		LotID:        lot.LotID,
		OwnerID:      lot.OwnerID,
		CategoryID:   lot.CategoryID,
		ItemName:     lot.ItemName,
		Description:  lot.Description,
		Location:     lot.Location,
		InitialPrice: lot.InitialPrice.StringFixed(pricePlaces),
		MinStep:      lot.MinStep.StringFixed(pricePlaces),
		BuyoutPrice:  lot.BuyoutPrice.StringFixed(pricePlaces),
		CurrentPrice: current.StringFixed(pricePlaces),
		LeaderBidID:  lot.LeaderBidID,
		CloseTime:    lot.CloseTime.UTC().Format(time.RFC3339),
		CreatedAt:    lot.CreatedAt.UTC().Format(time.RFC3339),
		IsActive:     lot.IsActive,
		WinnerID:     lot.WinnerID,
	}
}
