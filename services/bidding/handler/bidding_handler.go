package handler

import (
	"context"
	"net/http"

	model "online-auction/internal/models"
	"online-auction/services/bidding/helpers"
	"online-auction/utils"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type BiddingServiceInterface interface {
	CreateLot(ctx context.Context, req model.NewLot) (model.Lot, error)
	GetLot(ctx context.Context, lotID string) (model.Lot, error)
	ListLots(ctx context.Context, activeOnly bool) ([]model.Lot, error)
	PlaceBid(ctx context.Context, lotID, bidderID string, offeredPrice decimal.Decimal) (model.Bid, error)
	GetBidsForLot(ctx context.Context, lotID string) ([]model.Bid, error)
	GetWinningBid(ctx context.Context, lotID string) (model.Bid, error)
}

type BiddingHandler struct {
	service BiddingServiceInterface
}

func NewBiddingHandler(service BiddingServiceInterface) *BiddingHandler {
	return &BiddingHandler{service: service}
}

// CreateLotHandler handles POST /lots
func (h *BiddingHandler) CreateLotHandler(c *gin.Context) {
	var req helpers.CreateLotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "CreateLotHandler", err)
		return
	}

	lot, err := h.service.CreateLot(c.Request.Context(), req.ToNewLot())
	if err != nil {
		helpers.RespondServiceError(c, "CreateLotHandler", err, map[string]any{"owner_id": req.OwnerID})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, helpers.NewLotResponse(lot), "lot created successfully")
	helpers.LogSuccess("CreateLotHandler", "lot created successfully", map[string]any{
		"lot_id":     lot.LotID,
		"owner_id":   lot.OwnerID,
		"close_time": lot.CloseTime,
	})
}

// GetLotHandler handles GET /lots/:lot_id
func (h *BiddingHandler) GetLotHandler(c *gin.Context) {
	lotID := c.Param("lot_id")
	lot, err := h.service.GetLot(c.Request.Context(), lotID)
	if err != nil {
		helpers.RespondServiceError(c, "GetLotHandler", err, map[string]any{"lot_id": lotID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewLotResponse(lot), "lot retrieved successfully")
}

// ListLotsHandler handles GET /lots, narrowed to open lots with ?active=true
func (h *BiddingHandler) ListLotsHandler(c *gin.Context) {
	var query helpers.ListLotsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		helpers.HandleBindError(c, "ListLotsHandler", err)
		return
	}

	lots, err := h.service.ListLots(c.Request.Context(), query.Active)
	if err != nil {
		helpers.RespondServiceError(c, "ListLotsHandler", err, map[string]any{"active": query.Active})
		return
	}

	resp := make([]helpers.LotResponse, 0, len(lots))
	for _, l := range lots {
		resp = append(resp, helpers.NewLotResponse(l))
	}

	utils.JSONResponse(c, http.StatusOK, resp, "lots retrieved successfully")
	helpers.LogSuccess("ListLotsHandler", "lots retrieved successfully", map[string]any{
		"active": query.Active,
		"count":  len(resp),
	})
}

// PlaceBidHandler handles POST /lots/:lot_id/bids
func (h *BiddingHandler) PlaceBidHandler(c *gin.Context) {
	lotID := c.Param("lot_id")

	var req helpers.PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "PlaceBidHandler", err)
		return
	}

	bid, err := h.service.PlaceBid(c.Request.Context(), lotID, req.BidderID, req.OfferedPrice)
	if err != nil {
		helpers.RespondServiceError(c, "PlaceBidHandler", err, map[string]any{
			"lot_id":        lotID,
			"bidder_id":     req.BidderID,
			"offered_price": req.OfferedPrice.String(),
		})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, helpers.NewBidResponse(bid), "bid recorded successfully")
	helpers.LogSuccess("PlaceBidHandler", "bid recorded successfully", map[string]any{
		"bid_id":        bid.BidID,
		"lot_id":        bid.LotID,
		"bidder_id":     bid.BidderID,
		"offered_price": bid.OfferedPrice.String(),
	})
}

// GetBidsByLotHandler handles GET /lots/:lot_id/bids
func (h *BiddingHandler) GetBidsByLotHandler(c *gin.Context) {
	lotID := c.Param("lot_id")
	bids, err := h.service.GetBidsForLot(c.Request.Context(), lotID)
	if err != nil {
		helpers.RespondServiceError(c, "GetBidsByLotHandler", err, map[string]any{"lot_id": lotID})
		return
	}

	resp := make([]helpers.BidResponse, 0, len(bids))
	for _, b := range bids {
		resp = append(resp, helpers.NewBidResponse(b))
	}

	utils.JSONResponse(c, http.StatusOK, resp, "bids retrieved successfully")
	helpers.LogSuccess("GetBidsByLotHandler", "bids retrieved successfully", map[string]any{
		"lot_id": lotID,
		"count":  len(resp),
	})
}

// GetWinningBidHandler handles GET /lots/:lot_id/winning
func (h *BiddingHandler) GetWinningBidHandler(c *gin.Context) {
	lotID := c.Param("lot_id")
	bid, err := h.service.GetWinningBid(c.Request.Context(), lotID)
	if err != nil {
		helpers.RespondServiceError(c, "GetWinningBidHandler", err, map[string]any{"lot_id": lotID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewBidResponse(bid), "winning bid retrieved successfully")
	helpers.LogSuccess("GetWinningBidHandler", "winning bid retrieved successfully", map[string]any{
		"bid_id":        bid.BidID,
		"lot_id":        bid.LotID,
		"bidder_id":     bid.BidderID,
		"offered_price": bid.OfferedPrice.String(),
	})
}
