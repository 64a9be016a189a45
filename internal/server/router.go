package server

import (
	handler "online-auction/services/bidding/handler"

	"github.com/gin-gonic/gin"
)

// SetupRouter configures all Gin routes for the application.
// No route can trigger a sweep; closing lots is the scheduler's job.
func SetupRouter(biddingService handler.BiddingServiceInterface) *gin.Engine {
	router := gin.New() // New router without default middleware for full control over middleware and logging

	router.Use(gin.Recovery())          // recover from panics
	router.Use(RequestLoggerMiddleware) // custom request logging

	biddingHandler := handler.NewBiddingHandler(biddingService)

	lots := router.Group("/lots")
	{
		lots.POST("", biddingHandler.CreateLotHandler)
		lots.GET("", biddingHandler.ListLotsHandler)
		lots.GET("/:lot_id", biddingHandler.GetLotHandler)
		lots.POST("/:lot_id/bids", biddingHandler.PlaceBidHandler)
		lots.GET("/:lot_id/bids", biddingHandler.GetBidsByLotHandler)
		lots.GET("/:lot_id/winning", biddingHandler.GetWinningBidHandler)
	}

	return router
}
