package perftests

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	bidding "online-auction/internal/biddingService"
	"online-auction/internal/closer"
	model "online-auction/internal/models"
	repository "online-auction/internal/repository"

	"github.com/shopspring/decimal"
)

// newLot builds a lot request with initial price 50 and step 1
func newLot(name string) model.NewLot {
	return model.NewLot{
		OwnerID:      "bench-owner",
		ItemName:     name,
		InitialPrice: decimal.NewFromInt(50),
		MinStep:      decimal.NewFromInt(1),
		BuyoutPrice:  decimal.NewFromInt(1_000_000),
		CloseTime:    time.Now().Add(time.Hour),
	}
}

func createLots(b *testing.B, svc *bidding.BiddingService, n int) []string {
	b.Helper()
	ids := make([]string, n)
	for i := range ids {
		lot, err := svc.CreateLot(context.Background(), newLot(fmt.Sprintf("lot_%d", i)))
		if err != nil {
			b.Fatalf("failed to create lot: %v", err)
		}
		ids[i] = lot.LotID
	}
	return ids
}

// Benchmark 1: PlaceBid - Isolated Lots (Low Contention - Micro Benchmark)
func Benchmark_PlaceBid_Isolated(b *testing.B) {
	svc := bidding.NewBiddingService(repository.NewMemoryRepo())
	lotIDs := createLots(b, svc, b.N)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		price := decimal.NewFromInt(int64(51 + rand.Intn(100)))
		if _, err := svc.PlaceBid(ctx, lotIDs[i], fmt.Sprintf("user_%d", i), price); err != nil {
			b.Fatalf("failed to place bid: %v", err)
		}
	}
}

// Benchmark 2: PlaceBid - Shared Lot (High Contention - Concurrency Benchmark)
func Benchmark_PlaceBid_ConcurrentSharedLot(b *testing.B) {
	svc := bidding.NewBiddingService(repository.NewMemoryRepo())
	lotID := createLots(b, svc, 1)[0]
	ctx := context.Background()

	var lastBid int64 = 50
	var accepted, rejected int64

	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
		for pb.Next() {
			next := atomic.AddInt64(&lastBid, int64(rnd.Intn(5)+1))
			if _, err := svc.PlaceBid(ctx, lotID, fmt.Sprintf("user_parallel_%d", rnd.Int()), decimal.NewFromInt(next)); err != nil {
				atomic.AddInt64(&rejected, 1)
				continue
			}
			atomic.AddInt64(&accepted, 1)
		}
	})

	b.ReportMetric(float64(accepted), "accepted")
	b.ReportMetric(float64(rejected), "rejected")
}

// Benchmark 3: PlaceBid - Many Lots in Parallel (per-lot serialization only)
func Benchmark_PlaceBid_ConcurrentManyLots(b *testing.B) {
	svc := bidding.NewBiddingService(repository.NewMemoryRepo())
	lotIDs := createLots(b, svc, 256)
	ctx := context.Background()

	prices := make([]int64, len(lotIDs))
	for i := range prices {
		prices[i] = 50
	}

	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
		for pb.Next() {
			i := rnd.Intn(len(lotIDs))
			next := atomic.AddInt64(&prices[i], 1)
			_, _ = svc.PlaceBid(ctx, lotIDs[i], "user", decimal.NewFromInt(next))
		}
	})
}

// Benchmark 4: GetWinningBid - Concurrent (High Contention)
func Benchmark_GetWinningBid_ConcurrentSharedLot(b *testing.B) {
	svc := bidding.NewBiddingService(repository.NewMemoryRepo())
	lotID := createLots(b, svc, 1)[0]
	ctx := context.Background()

	for j := 0; j < 100; j++ {
		if _, err := svc.PlaceBid(ctx, lotID, fmt.Sprintf("user_%d", j), decimal.NewFromInt(int64(51+j))); err != nil {
			b.Fatalf("failed to seed bid: %v", err)
		}
	}

	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := svc.GetWinningBid(ctx, lotID); err != nil {
				b.Errorf("failed to get winning bid: %v", err)
				return
			}
		}
	})
}

// Benchmark 5: SweepAndClose over many expired lots
func Benchmark_SweepAndClose(b *testing.B) {
	for _, workers := range []int{1, 4, 16} {
		b.Run(fmt.Sprintf("workers_%d", workers), func(b *testing.B) {
			ctx := context.Background()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				b.StopTimer()
				repo := repository.NewMemoryRepo()
				svc := bidding.NewBiddingService(repo)
				lotIDs := createLots(b, svc, 500)
				for j, id := range lotIDs {
					if j%2 == 0 {
						_, _ = svc.PlaceBid(ctx, id, "user", decimal.NewFromInt(60))
					}
				}
				later := time.Now().Add(2 * time.Hour)
				c := closer.NewCloser(repo, closer.WithWorkers(workers), closer.WithClock(func() time.Time { return later }))
				b.StartTimer()

				results, err := c.SweepAndClose(ctx)
				if err != nil {
					b.Fatalf("sweep failed: %v", err)
				}
				if len(results) != len(lotIDs) {
					b.Fatalf("closed %d of %d lots", len(results), len(lotIDs))
				}
			}
		})
	}
}
