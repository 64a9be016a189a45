package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"online-auction/internal/auctionerrors"
	model "online-auction/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// decimalEq matches a decimal by value rather than representation
type decimalEq struct{ want decimal.Decimal }

func (m decimalEq) Matches(x any) bool {
	d, ok := x.(decimal.Decimal)
	return ok && d.Equal(m.want)
}

func (m decimalEq) String() string { return "is decimal " + m.want.String() }

func priceOf(v string) gomock.Matcher { return decimalEq{decimal.RequireFromString(v)} }

// newTestRouter wires a single route to a fresh mock
func newTestRouter(t *testing.T, method, path string, route func(h *BiddingHandler) gin.HandlerFunc) (*gin.Engine, *MockBiddingServiceInterface) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	mockService := NewMockBiddingServiceInterface(ctrl)
	handler := NewBiddingHandler(mockService)

	// Initialize Gin in test mode
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Handle(method, path, route(handler))
	return router, mockService
}

// doRequest serves the request and decodes the JSON envelope
func doRequest(t *testing.T, router *gin.Engine, method, url string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reqBody []byte
	switch v := body.(type) {
	case nil:
	case string:
		reqBody = []byte(v)
	default:
		var err error
		reqBody, err = json.Marshal(v)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(method, url, bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

// Test PlaceBidHandler
func TestPlaceBidHandler(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name           string
		requestBody    any
		mockSetup      func(m *MockBiddingServiceInterface)
		expectedStatus int
		expectedMsg    string
		expectedKind   string
		validateData   func(t *testing.T, data map[string]any)
	}{
		{
			name:        "success_valid_bid",
			requestBody: map[string]any{"bidder_id": "user1", "offered_price": 120.5},
			mockSetup: func(m *MockBiddingServiceInterface) {
				m.EXPECT().
					PlaceBid(gomock.Any(), "lot1", "user1", priceOf("120.5")).
					Return(model.Bid{
						BidID:        uuid.NewString(),
						LotID:        "lot1",
						BidderID:     "user1",
						OfferedPrice: decimal.RequireFromString("120.5"),
						SubmittedAt:  now,
					}, nil)
			},
			expectedStatus: http.StatusCreated,
			expectedMsg:    "bid recorded successfully",
			validateData: func(t *testing.T, data map[string]any) {
				_, parseErr := uuid.Parse(data["bid_id"].(string))
				require.NoError(t, parseErr, "BidID should be a valid UUID")
				require.Equal(t, "lot1", data["lot_id"])
				require.Equal(t, "user1", data["bidder_id"])
				require.Equal(t, "120.50", data["offered_price"])
				_, err := time.Parse(time.RFC3339Nano, data["submitted_at"].(string))
				require.NoError(t, err)
			},
		},
		{
			name:        "price_as_string",
			requestBody: `{"bidder_id":"user1","offered_price":"130.00"}`,
			mockSetup: func(m *MockBiddingServiceInterface) {
				m.EXPECT().
					PlaceBid(gomock.Any(), "lot1", "user1", priceOf("130")).
					Return(model.Bid{BidID: uuid.NewString(), LotID: "lot1", BidderID: "user1", OfferedPrice: decimal.NewFromInt(130), SubmittedAt: now}, nil)
			},
			expectedStatus: http.StatusCreated,
			expectedMsg:    "bid recorded successfully",
		},
		{
			name:           "invalid_json",
			requestBody:    `{invalid json}`,
			mockSetup:      func(m *MockBiddingServiceInterface) {},
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    "invalid request payload",
		},
		{
			name:           "missing_bidder_id",
			requestBody:    map[string]any{"offered_price": 120},
			mockSetup:      func(m *MockBiddingServiceInterface) {},
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    "invalid request payload",
		},
		{
			name:        "service_invalid_bid",
			requestBody: map[string]any{"bidder_id": "user1", "offered_price": 120.001},
			mockSetup: func(m *MockBiddingServiceInterface) {
				m.EXPECT().PlaceBid(gomock.Any(), "lot1", "user1", priceOf("120.001")).
					Return(model.Bid{}, fmt.Errorf("service: %w - offered price has more than 2 decimal places", auctionerrors.ErrInvalidBid))
			},
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    "invalid bid details",
			expectedKind:   "InvalidBid",
		},
		{
			name:        "lot_not_found",
			requestBody: map[string]any{"bidder_id": "user1", "offered_price": 120},
			mockSetup: func(m *MockBiddingServiceInterface) {
				m.EXPECT().PlaceBid(gomock.Any(), "lot1", "user1", priceOf("120")).Return(model.Bid{}, auctionerrors.ErrLotNotFound)
			},
			expectedStatus: http.StatusNotFound,
			expectedMsg:    "lot not found",
			expectedKind:   "LotNotFound",
		},
		{
			name:        "auction_closed",
			requestBody: map[string]any{"bidder_id": "user1", "offered_price": 120},
			mockSetup: func(m *MockBiddingServiceInterface) {
				m.EXPECT().PlaceBid(gomock.Any(), "lot1", "user1", priceOf("120")).Return(model.Bid{}, auctionerrors.ErrAuctionClosed)
			},
			expectedStatus: http.StatusConflict,
			expectedMsg:    "auction is closed",
			expectedKind:   "AuctionClosed",
		},
		{
			name:        "below_initial_price",
			requestBody: map[string]any{"bidder_id": "user1", "offered_price": 100},
			mockSetup: func(m *MockBiddingServiceInterface) {
				m.EXPECT().PlaceBid(gomock.Any(), "lot1", "user1", priceOf("100")).Return(model.Bid{}, auctionerrors.ErrBelowInitialPrice)
			},
			expectedStatus: http.StatusConflict,
			expectedMsg:    "bid must exceed the initial price",
			expectedKind:   "BelowInitialPrice",
		},
		{
			name:        "bid_too_low",
			requestBody: map[string]any{"bidder_id": "user1", "offered_price": 110},
			mockSetup: func(m *MockBiddingServiceInterface) {
				m.EXPECT().PlaceBid(gomock.Any(), "lot1", "user1", priceOf("110")).Return(model.Bid{}, auctionerrors.ErrBidTooLow)
			},
			expectedStatus: http.StatusConflict,
			expectedMsg:    "bid amount too low",
			expectedKind:   "BidTooLow",
		},
		{
			name:        "increment_too_small",
			requestBody: map[string]any{"bidder_id": "user1", "offered_price": 125},
			mockSetup: func(m *MockBiddingServiceInterface) {
				m.EXPECT().PlaceBid(gomock.Any(), "lot1", "user1", priceOf("125")).Return(model.Bid{}, auctionerrors.ErrIncrementTooSmall)
			},
			expectedStatus: http.StatusConflict,
			expectedMsg:    "bid increment too small",
			expectedKind:   "IncrementTooSmall",
		},
		{
			name:        "store_unavailable",
			requestBody: map[string]any{"bidder_id": "user1", "offered_price": 120},
			mockSetup: func(m *MockBiddingServiceInterface) {
				m.EXPECT().PlaceBid(gomock.Any(), "lot1", "user1", priceOf("120")).
					Return(model.Bid{}, fmt.Errorf("postgres: %w: %w", auctionerrors.ErrStoreUnavailable, errors.New("connection reset")))
			},
			expectedStatus: http.StatusServiceUnavailable,
			expectedMsg:    "store unavailable",
			expectedKind:   "StoreUnavailable",
		},
		{
			name:        "service_generic_error",
			requestBody: map[string]any{"bidder_id": "user1", "offered_price": 120},
			mockSetup: func(m *MockBiddingServiceInterface) {
				m.EXPECT().PlaceBid(gomock.Any(), "lot1", "user1", priceOf("120")).Return(model.Bid{}, errors.New("database failure"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedMsg:    "internal server error",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			router, mockService := newTestRouter(t, http.MethodPost, "/lots/:lot_id/bids",
				func(h *BiddingHandler) gin.HandlerFunc { return h.PlaceBidHandler })
			tc.mockSetup(mockService)

			w, resp := doRequest(t, router, http.MethodPost, "/lots/lot1/bids", tc.requestBody)

			require.Equal(t, tc.expectedStatus, w.Code)
			require.Contains(t, resp["message"], tc.expectedMsg)
			if tc.expectedKind != "" {
				require.Equal(t, tc.expectedKind, resp["kind"])
			}
			if tc.validateData != nil {
				tc.validateData(t, resp["data"].(map[string]any))
			}
		})
	}
}

// Test CreateLotHandler
func TestCreateLotHandler(t *testing.T) {
	closeTime := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)

	tests := []struct {
		name           string
		requestBody    any
		mockSetup      func(m *MockBiddingServiceInterface)
		expectedStatus int
		expectedMsg    string
		validateData   func(t *testing.T, data map[string]any)
	}{
		{
			name: "success",
			requestBody: map[string]any{
				"owner_id":      "owner1",
				"item_name":     "Bicycle",
				"initial_price": "100",
				"min_step":      "10",
				"buyout_price":  "500",
				"close_time":    closeTime.Format(time.RFC3339),
			},
			mockSetup: func(m *MockBiddingServiceInterface) {
				m.EXPECT().CreateLot(gomock.Any(), gomock.Any()).
					DoAndReturn(func(_ any, req model.NewLot) (model.Lot, error) {
						return model.Lot{
							LotID:        uuid.NewString(),
							OwnerID:      req.OwnerID,
							ItemName:     req.ItemName,
							InitialPrice: req.InitialPrice,
							MinStep:      req.MinStep,
							BuyoutPrice:  req.BuyoutPrice,
							CloseTime:    req.CloseTime,
							CreatedAt:    time.Now().UTC(),
							IsActive:     true,
						}, nil
					})
			},
			expectedStatus: http.StatusCreated,
			expectedMsg:    "lot created successfully",
			validateData: func(t *testing.T, data map[string]any) {
				require.Equal(t, "owner1", data["owner_id"])
				require.Equal(t, "Bicycle", data["item_name"])
				require.Equal(t, "100.00", data["initial_price"])
				require.Equal(t, "100.00", data["current_price"])
				require.Equal(t, "10.00", data["min_step"])
				require.Equal(t, closeTime.Format(time.RFC3339), data["close_time"])
				require.Equal(t, true, data["is_active"])
				require.Nil(t, data["winner_id"])
			},
		},
		{
			name:           "missing_owner",
			requestBody:    map[string]any{"initial_price": "100"},
			mockSetup:      func(m *MockBiddingServiceInterface) {},
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    "invalid request payload",
		},
		{
			name:        "service_invalid_lot",
			requestBody: map[string]any{"owner_id": "owner1", "initial_price": "100", "buyout_price": "50"},
			mockSetup: func(m *MockBiddingServiceInterface) {
				m.EXPECT().CreateLot(gomock.Any(), gomock.Any()).
					Return(model.Lot{}, fmt.Errorf("service: %w - buyout_price must be greater than initial_price", auctionerrors.ErrInvalidLot))
			},
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    "invalid lot details",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			router, mockService := newTestRouter(t, http.MethodPost, "/lots",
				func(h *BiddingHandler) gin.HandlerFunc { return h.CreateLotHandler })
			tc.mockSetup(mockService)

			w, resp := doRequest(t, router, http.MethodPost, "/lots", tc.requestBody)

			require.Equal(t, tc.expectedStatus, w.Code)
			require.Contains(t, resp["message"], tc.expectedMsg)
			if tc.validateData != nil {
				tc.validateData(t, resp["data"].(map[string]any))
			}
		})
	}
}

// Test GetLotHandler
func TestGetLotHandler(t *testing.T) {
	winner := "user2"
	closed := model.Lot{
		LotID:        "lot1",
		OwnerID:      "owner1",
		InitialPrice: decimal.NewFromInt(100),
		MinStep:      decimal.NewFromInt(10),
		BuyoutPrice:  decimal.NewFromInt(500),
		CloseTime:    time.Now().UTC().Add(-time.Minute),
		IsActive:     false,
		WinnerID:     &winner,
		LeaderBidID:  "bid9",
		LeaderPrice:  decimal.NewFromInt(175),
	}

	t.Run("closed_lot_with_winner", func(t *testing.T) {
		t.Parallel()
		router, mockService := newTestRouter(t, http.MethodGet, "/lots/:lot_id",
			func(h *BiddingHandler) gin.HandlerFunc { return h.GetLotHandler })
		mockService.EXPECT().GetLot(gomock.Any(), "lot1").Return(closed, nil)

		w, resp := doRequest(t, router, http.MethodGet, "/lots/lot1", nil)
		require.Equal(t, http.StatusOK, w.Code)

		data := resp["data"].(map[string]any)
		require.Equal(t, false, data["is_active"])
		require.Equal(t, "user2", data["winner_id"])
		require.Equal(t, "175.00", data["current_price"])
		require.Equal(t, "bid9", data["leader_bid_id"])
	})

	t.Run("not_found", func(t *testing.T) {
		t.Parallel()
		router, mockService := newTestRouter(t, http.MethodGet, "/lots/:lot_id",
			func(h *BiddingHandler) gin.HandlerFunc { return h.GetLotHandler })
		mockService.EXPECT().GetLot(gomock.Any(), "missing").Return(model.Lot{}, auctionerrors.ErrLotNotFound)

		w, resp := doRequest(t, router, http.MethodGet, "/lots/missing", nil)
		require.Equal(t, http.StatusNotFound, w.Code)
		require.Equal(t, "lot not found", resp["message"])
	})
}

// Test ListLotsHandler
func TestListLotsHandler(t *testing.T) {
	open := model.Lot{
		LotID:        "lot1",
		OwnerID:      "owner1",
		InitialPrice: decimal.NewFromInt(100),
		MinStep:      decimal.NewFromInt(10),
		BuyoutPrice:  decimal.NewFromInt(500),
		CloseTime:    time.Now().UTC().Add(time.Hour),
		IsActive:     true,
	}
	leading := open
	leading.LotID = "lot2"
	leading.LeaderBidID = "bid3"
	leading.LeaderPrice = decimal.NewFromInt(140)

	tests := []struct {
		name           string
		url            string
		mockSetup      func(m *MockBiddingServiceInterface)
		expectedStatus int
		expectedPrices []string
		expectedKind   string
	}{
		{
			name: "all_lots",
			url:  "/lots",
			mockSetup: func(m *MockBiddingServiceInterface) {
				m.EXPECT().ListLots(gomock.Any(), false).Return([]model.Lot{open, leading}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedPrices: []string{"100.00", "140.00"},
		},
		{
			name: "active_only",
			url:  "/lots?active=true",
			mockSetup: func(m *MockBiddingServiceInterface) {
				m.EXPECT().ListLots(gomock.Any(), true).Return([]model.Lot{}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedPrices: []string{},
		},
		{
			name:           "bad_active_flag",
			url:            "/lots?active=maybe",
			mockSetup:      func(m *MockBiddingServiceInterface) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "store_unavailable",
			url:  "/lots",
			mockSetup: func(m *MockBiddingServiceInterface) {
				m.EXPECT().ListLots(gomock.Any(), false).Return(nil, auctionerrors.ErrStoreUnavailable)
			},
			expectedStatus: http.StatusServiceUnavailable,
			expectedKind:   "StoreUnavailable",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			router, mockService := newTestRouter(t, http.MethodGet, "/lots",
				func(h *BiddingHandler) gin.HandlerFunc { return h.ListLotsHandler })
			tc.mockSetup(mockService)

			w, resp := doRequest(t, router, http.MethodGet, tc.url, nil)
			require.Equal(t, tc.expectedStatus, w.Code)
			if tc.expectedKind != "" {
				require.Equal(t, tc.expectedKind, resp["kind"])
			}
			if tc.expectedPrices == nil {
				return
			}

			data := resp["data"].([]any)
			prices := make([]string, 0, len(data))
			for _, item := range data {
				prices = append(prices, item.(map[string]any)["current_price"].(string))
			}
			require.Equal(t, tc.expectedPrices, prices)
		})
	}
}

// Test GetBidsByLotHandler
func TestGetBidsByLotHandler(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name           string
		lotID          string
		mockSetup      func(m *MockBiddingServiceInterface)
		expectedStatus int
		expectedMsg    string
		expectedCount  int
	}{
		{
			name:  "success_multiple_bids",
			lotID: "lot1",
			mockSetup: func(m *MockBiddingServiceInterface) {
				m.EXPECT().GetBidsForLot(gomock.Any(), "lot1").Return([]model.Bid{
					{BidID: uuid.NewString(), LotID: "lot1", BidderID: "user1", OfferedPrice: decimal.NewFromInt(120), SubmittedAt: now},
					{BidID: uuid.NewString(), LotID: "lot1", BidderID: "user2", OfferedPrice: decimal.NewFromInt(150), SubmittedAt: now},
				}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedMsg:    "bids retrieved successfully",
			expectedCount:  2,
		},
		{
			name:  "success_no_bids",
			lotID: "lot2",
			mockSetup: func(m *MockBiddingServiceInterface) {
				m.EXPECT().GetBidsForLot(gomock.Any(), "lot2").Return([]model.Bid{}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedMsg:    "bids retrieved successfully",
			expectedCount:  0,
		},
		{
			name:  "lot_not_found",
			lotID: "lot3",
			mockSetup: func(m *MockBiddingServiceInterface) {
				m.EXPECT().GetBidsForLot(gomock.Any(), "lot3").Return(nil, auctionerrors.ErrLotNotFound)
			},
			expectedStatus: http.StatusNotFound,
			expectedMsg:    "lot not found",
		},
		{
			name:  "service_generic_error",
			lotID: "lot4",
			mockSetup: func(m *MockBiddingServiceInterface) {
				m.EXPECT().GetBidsForLot(gomock.Any(), "lot4").Return(nil, errors.New("database failure"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedMsg:    "internal server error",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			router, mockService := newTestRouter(t, http.MethodGet, "/lots/:lot_id/bids",
				func(h *BiddingHandler) gin.HandlerFunc { return h.GetBidsByLotHandler })
			tc.mockSetup(mockService)

			w, resp := doRequest(t, router, http.MethodGet, "/lots/"+tc.lotID+"/bids", nil)

			require.Equal(t, tc.expectedStatus, w.Code)
			require.Contains(t, resp["message"], tc.expectedMsg)
			if w.Code == http.StatusOK {
				require.Len(t, resp["data"].([]any), tc.expectedCount)
			}
		})
	}
}

// Test GetWinningBidHandler
func TestGetWinningBidHandler(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name           string
		lotID          string
		mockSetup      func(m *MockBiddingServiceInterface)
		expectedStatus int
		expectedMsg    string
	}{
		{
			name:  "success_winning_bid",
			lotID: "lot1",
			mockSetup: func(m *MockBiddingServiceInterface) {
				m.EXPECT().GetWinningBid(gomock.Any(), "lot1").Return(model.Bid{
					BidID:        uuid.NewString(),
					LotID:        "lot1",
					BidderID:     "user1",
					OfferedPrice: decimal.NewFromInt(150),
					SubmittedAt:  now,
				}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedMsg:    "winning bid retrieved successfully",
		},
		{
			name:  "no_bids",
			lotID: "lot2",
			mockSetup: func(m *MockBiddingServiceInterface) {
				m.EXPECT().GetWinningBid(gomock.Any(), "lot2").Return(model.Bid{}, auctionerrors.ErrNoBids)
			},
			expectedStatus: http.StatusNotFound,
			expectedMsg:    "no bids found for lot",
		},
		{
			name:  "service_error_generic",
			lotID: "lot3",
			mockSetup: func(m *MockBiddingServiceInterface) {
				m.EXPECT().GetWinningBid(gomock.Any(), "lot3").Return(model.Bid{}, errors.New("DB connection failed"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedMsg:    "internal server error",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			router, mockService := newTestRouter(t, http.MethodGet, "/lots/:lot_id/winning",
				func(h *BiddingHandler) gin.HandlerFunc { return h.GetWinningBidHandler })
			tc.mockSetup(mockService)

			w, resp := doRequest(t, router, http.MethodGet, "/lots/"+tc.lotID+"/winning", nil)

			require.Equal(t, tc.expectedStatus, w.Code)
			require.Contains(t, resp["message"], tc.expectedMsg)
			if w.Code == http.StatusOK {
				data := resp["data"].(map[string]any)
				require.Equal(t, tc.lotID, data["lot_id"])
				require.Equal(t, "user1", data["bidder_id"])
				require.Equal(t, "150.00", data["offered_price"])
			}
		})
	}
}
