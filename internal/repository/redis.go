package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"online-auction/internal/auctionerrors"
	model "online-auction/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	openLotsKey = "lots:open"
	allLotsKey  = "lots:all"
)

// Lua script results
const (
	scriptApplied     = 1
	scriptNotApplied  = 0
	scriptNotFound    = -1
	scriptClosed      = -2
	scriptLeaderMoved = -3
	scriptNotHigher   = -4
)

// KEYS: lot hash, open lot index, all lot index.
// ARGV: lot id, close time (unix ms), active flag, created at (unix ms), field/value pairs
var createLotScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end

redis.call('HSET', KEYS[1], 'id', ARGV[1], unpack(ARGV, 5))
if ARGV[3] == '1' then
	redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
end
redis.call('ZADD', KEYS[3], ARGV[4], ARGV[1])
return 1
`)

// KEYS: lot hash, bid list. ARGV: expected leader, bid id, price, now (unix ms), bid json
var appendBidScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end

local lot = redis.call('HMGET', KEYS[1], 'is_active', 'close_time', 'leader_bid_id', 'leader_price')
if lot[1] ~= '1' or tonumber(ARGV[4]) >= tonumber(lot[2]) then
	return -2
end

local leader = lot[3] or ''
if leader ~= ARGV[1] then
	return -3
end

local leaderPrice = lot[4] or ''
if leaderPrice ~= '' and tonumber(ARGV[3]) <= tonumber(leaderPrice) then
	return -4
end

redis.call('RPUSH', KEYS[2], ARGV[5])
redis.call('HSET', KEYS[1], 'leader_bid_id', ARGV[2], 'leader_price', ARGV[3])
return 1
`)

// KEYS: lot hash, open lot index. ARGV: expected active, expected leader, new active, winner, lot id
var closeLotScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end

local lot = redis.call('HMGET', KEYS[1], 'is_active', 'leader_bid_id')
if lot[1] ~= ARGV[1] then
	return 0
end
if (lot[2] or '') ~= ARGV[2] then
	return -3
end

redis.call('HSET', KEYS[1], 'is_active', ARGV[3], 'winner_id', ARGV[4])
if ARGV[3] == '0' then
	redis.call('ZREM', KEYS[2], ARGV[5])
end
return 1
`)

// RedisRepo implements AuctionDB on Redis. Each lot is a hash plus a list of
// bids. The open-lot index is a sorted set scored by close time and the
// all-lot index one scored by creation time. Appends and
// closes run as Lua scripts so both observe the same per-lot state atomically.
type RedisRepo struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisRepo creates a new RedisRepo
func NewRedisRepo(client *redis.Client) *RedisRepo {
	return &RedisRepo{client: client, now: func() time.Time { return time.Now().UTC() }}
}

func lotKey(lotID string) string {
	return "lot:{" + lotID + "}"
}

func bidsKey(lotID string) string {
	return "lot:{" + lotID + "}:bids"
}

// CreateLot stores a new lot hash and indexes it as open
func (r *RedisRepo) CreateLot(ctx context.Context, lot model.Lot) error {
	fields := map[string]any{
		"owner_id":      lot.OwnerID,
		"category_id":   lot.CategoryID,
		"item_name":     lot.ItemName,
		"description":   lot.Description,
		"location":      lot.Location,
		"initial_price": lot.InitialPrice.String(),
		"min_step":      lot.MinStep.String(),
		"buyout_price":  lot.BuyoutPrice.String(),
		"close_time":    lot.CloseTime.UnixMilli(),
		"created_at":    lot.CreatedAt.UnixMilli(),
		"is_active":     boolFlag(lot.IsActive),
		"winner_id":     "",
		"leader_bid_id": "",
		"leader_price":  "",
	}

	args := []any{lot.LotID, lot.CloseTime.UnixMilli(), boolFlag(lot.IsActive), lot.CreatedAt.UnixMilli()}
	for field, value := range fields {
		args = append(args, field, value)
	}

	res, err := createLotScript.Run(ctx, r.client, []string{lotKey(lot.LotID), openLotsKey, allLotsKey}, args...).Int()
	if err != nil {
		return storeErr("redis: create lot "+lot.LotID, err)
	}
	if res != scriptApplied {
		return fmt.Errorf("create lot %s: %w - duplicate id", lot.LotID, auctionerrors.ErrInvalidLot)
	}
	return nil
}

// GetLot returns a lot by id
func (r *RedisRepo) GetLot(ctx context.Context, lotID string) (model.Lot, error) {
	values, err := r.client.HGetAll(ctx, lotKey(lotID)).Result()
	if err != nil {
		return model.Lot{}, storeErr("redis: get lot "+lotID, err)
	}
	if len(values) == 0 {
		return model.Lot{}, fmt.Errorf("get lot %s: %w", lotID, auctionerrors.ErrLotNotFound)
	}
	lot, err := decodeLot(values)
	if err != nil {
		return model.Lot{}, storeErr("redis: decode lot "+lotID, err)
	}
	return lot, nil
}

// ListLots returns lots in creation order, only open ones when activeOnly is set
func (r *RedisRepo) ListLots(ctx context.Context, activeOnly bool) ([]model.Lot, error) {
	ids, err := r.client.ZRange(ctx, allLotsKey, 0, -1).Result()
	if err != nil {
		return nil, storeErr("redis: list lots", err)
	}
	return r.loadLots(ctx, ids, activeOnly)
}

// ListExpired returns open lots whose close time is at or before now
func (r *RedisRepo) ListExpired(ctx context.Context, now time.Time) ([]model.Lot, error) {
	ids, err := r.client.ZRangeByScore(ctx, openLotsKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, storeErr("redis: list expired lots", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return r.loadLots(ctx, ids, true)
}

// loadLots fetches lot hashes in one pipeline, keeping the order of ids
func (r *RedisRepo) loadLots(ctx context.Context, ids []string, activeOnly bool) ([]model.Lot, error) {
	lots := make([]model.Lot, 0, len(ids))
	if len(ids) == 0 {
		return lots, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, lotKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("redis: load lots", err)
	}

	for _, cmd := range cmds {
		values := cmd.Val()
		if len(values) == 0 {
			continue
		}
		lot, err := decodeLot(values)
		if err != nil {
			return nil, storeErr("redis: decode lot", err)
		}
		if !activeOnly || lot.IsActive {
			lots = append(lots, lot)
		}
	}
	return lots, nil
}

// ConditionalUpdate applies t atomically in closeLotScript
func (r *RedisRepo) ConditionalUpdate(ctx context.Context, lotID string, t model.LotTransition) (bool, error) {
	winner := ""
	if t.NewWinnerID != nil {
		winner = *t.NewWinnerID
	}

	res, err := closeLotScript.Run(ctx, r.client,
		[]string{lotKey(lotID), openLotsKey},
		boolFlag(t.ExpectedIsActive), t.ExpectedLeaderBidID, boolFlag(t.NewIsActive), winner, lotID,
	).Int()
	if err != nil {
		return false, storeErr("redis: update lot "+lotID, err)
	}

	switch res {
	case scriptApplied:
		return true, nil
	case scriptNotApplied:
		return false, nil
	case scriptNotFound:
		return false, fmt.Errorf("update lot %s: %w", lotID, auctionerrors.ErrLotNotFound)
	case scriptLeaderMoved:
		return false, fmt.Errorf("update lot %s: %w - leader changed", lotID, auctionerrors.ErrConcurrentConflict)
	default:
		return false, storeErr("redis: update lot "+lotID, fmt.Errorf("unexpected script result %d", res))
	}
}

// Append commits a bid atomically in appendBidScript
func (r *RedisRepo) Append(ctx context.Context, bid model.Bid, expectedLeaderBidID string) (model.Bid, error) {
	bid.SubmittedAt = r.now()
	payload, err := json.Marshal(bid)
	if err != nil {
		return model.Bid{}, fmt.Errorf("encode bid %s: %w", bid.BidID, err)
	}

	res, err := appendBidScript.Run(ctx, r.client,
		[]string{lotKey(bid.LotID), bidsKey(bid.LotID)},
		expectedLeaderBidID, bid.BidID, bid.OfferedPrice.String(), bid.SubmittedAt.UnixMilli(), payload,
	).Int()
	if err != nil {
		return model.Bid{}, storeErr("redis: append bid for lot "+bid.LotID, err)
	}

	switch res {
	case scriptApplied:
		return bid, nil
	case scriptNotFound:
		return model.Bid{}, fmt.Errorf("append bid for lot %s: %w", bid.LotID, auctionerrors.ErrLotNotFound)
	case scriptClosed:
		return model.Bid{}, fmt.Errorf("append bid for lot %s: %w", bid.LotID, auctionerrors.ErrAuctionClosed)
	case scriptLeaderMoved:
		return model.Bid{}, fmt.Errorf("append bid for lot %s: %w - leader changed", bid.LotID, auctionerrors.ErrConcurrentConflict)
	case scriptNotHigher:
		return model.Bid{}, fmt.Errorf("append bid for lot %s: %w", bid.LotID, auctionerrors.ErrBidTooLow)
	default:
		return model.Bid{}, storeErr("redis: append bid for lot "+bid.LotID, fmt.Errorf("unexpected script result %d", res))
	}
}

// HighestFor returns the last appended bid, which leads because appends are strictly increasing
func (r *RedisRepo) HighestFor(ctx context.Context, lotID string) (model.Bid, error) {
	raw, err := r.client.LIndex(ctx, bidsKey(lotID), -1).Bytes()
	if errors.Is(err, redis.Nil) {
		exists, existsErr := r.client.Exists(ctx, lotKey(lotID)).Result()
		if existsErr != nil {
			return model.Bid{}, storeErr("redis: get lot "+lotID, existsErr)
		}
		if exists == 0 {
			return model.Bid{}, fmt.Errorf("get highest bid for lot %s: %w", lotID, auctionerrors.ErrLotNotFound)
		}
		return model.Bid{}, fmt.Errorf("get highest bid for lot %s: %w", lotID, auctionerrors.ErrNoBids)
	}
	if err != nil {
		return model.Bid{}, storeErr("redis: get highest bid for lot "+lotID, err)
	}

	var bid model.Bid
	if err := json.Unmarshal(raw, &bid); err != nil {
		return model.Bid{}, storeErr("redis: decode bid for lot "+lotID, err)
	}
	return bid, nil
}

// GetBidsByLot returns all bids for a lot in commit order
func (r *RedisRepo) GetBidsByLot(ctx context.Context, lotID string) ([]model.Bid, error) {
	exists, err := r.client.Exists(ctx, lotKey(lotID)).Result()
	if err != nil {
		return nil, storeErr("redis: get lot "+lotID, err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("get bids for lot %s: %w", lotID, auctionerrors.ErrLotNotFound)
	}

	raws, err := r.client.LRange(ctx, bidsKey(lotID), 0, -1).Result()
	if err != nil {
		return nil, storeErr("redis: get bids for lot "+lotID, err)
	}

	bids := make([]model.Bid, 0, len(raws))
	for _, raw := range raws {
		var bid model.Bid
		if err := json.Unmarshal([]byte(raw), &bid); err != nil {
			return nil, storeErr("redis: decode bid for lot "+lotID, err)
		}
		bids = append(bids, bid)
	}
	return bids, nil
}

func decodeLot(values map[string]string) (model.Lot, error) {
	lot := model.Lot{
		LotID:       values["id"],
		OwnerID:     values["owner_id"],
		CategoryID:  values["category_id"],
		ItemName:    values["item_name"],
		Description: values["description"],
		Location:    values["location"],
		IsActive:    values["is_active"] == "1",
		LeaderBidID: values["leader_bid_id"],
	}
	if w := values["winner_id"]; w != "" {
		lot.WinnerID = &w
	}

	var err error
	if lot.InitialPrice, err = decimal.NewFromString(values["initial_price"]); err != nil {
		return model.Lot{}, fmt.Errorf("initial_price: %w", err)
	}
	if lot.MinStep, err = decimal.NewFromString(values["min_step"]); err != nil {
		return model.Lot{}, fmt.Errorf("min_step: %w", err)
	}
	if lot.BuyoutPrice, err = decimal.NewFromString(values["buyout_price"]); err != nil {
		return model.Lot{}, fmt.Errorf("buyout_price: %w", err)
	}
	if p := values["leader_price"]; p != "" {
		if lot.LeaderPrice, err = decimal.NewFromString(p); err != nil {
			return model.Lot{}, fmt.Errorf("leader_price: %w", err)
		}
	}

	closeMs, err := strconv.ParseInt(values["close_time"], 10, 64)
	if err != nil {
		return model.Lot{}, fmt.Errorf("close_time: %w", err)
	}
	createdMs, err := strconv.ParseInt(values["created_at"], 10, 64)
	if err != nil {
		return model.Lot{}, fmt.Errorf("created_at: %w", err)
	}
	lot.CloseTime = time.UnixMilli(closeMs).UTC()
	lot.CreatedAt = time.UnixMilli(createdMs).UTC()
	return lot, nil
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
