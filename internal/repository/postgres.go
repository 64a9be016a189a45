package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"online-auction/internal/auctionerrors"
	model "online-auction/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const lotColumns = `id, owner_id, category_id, item_name, description, location,
	initial_price::text, min_step::text, buyout_price::text, close_time, created_at,
	is_active, winner_id, leader_bid_id, leader_price::text`

// PostgresRepo implements AuctionDB on PostgreSQL. Bids and closes both go
// through a guarded single-row UPDATE of the lot, so the lot row is the
// per-lot serialization point.
type PostgresRepo struct {
	DB  *pgxpool.Pool
	now func() time.Time
}

// NewPostgresRepo creates a new PostgresRepo
func NewPostgresRepo(db *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{DB: db, now: func() time.Time { return time.Now().UTC() }}
}

// NewPostgresPool opens a connection pool and verifies it with a ping
func NewPostgresPool(ctx context.Context, conn string) (*pgxpool.Pool, error) {
	if conn == "" {
		return nil, fmt.Errorf("postgres connection string is empty")
	}
	pool, err := pgxpool.New(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return pool, nil
}

// CreateLot inserts a new lot
func (r *PostgresRepo) CreateLot(ctx context.Context, lot model.Lot) error {
	query := `INSERT INTO lots (id, owner_id, category_id, item_name, description, location,
			initial_price, min_step, buyout_price, close_time, created_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7::text::numeric, $8::text::numeric, $9::text::numeric, $10, $11, $12)`
	_, err := r.DB.Exec(ctx, query,
		lot.LotID,
		lot.OwnerID,
		nullString(lot.CategoryID),
		lot.ItemName,
		lot.Description,
		lot.Location,
		lot.InitialPrice.String(),
		lot.MinStep.String(),
		lot.BuyoutPrice.String(),
		lot.CloseTime,
		lot.CreatedAt,
		lot.IsActive)
	if err != nil {
		return storeErr("postgres: create lot "+lot.LotID, err)
	}
	return nil
}

// GetLot returns a lot by id
func (r *PostgresRepo) GetLot(ctx context.Context, lotID string) (model.Lot, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+lotColumns+` FROM lots WHERE id = $1`, lotID)
	lot, err := scanLot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Lot{}, fmt.Errorf("get lot %s: %w", lotID, auctionerrors.ErrLotNotFound)
	}
	if err != nil {
		return model.Lot{}, storeErr("postgres: get lot "+lotID, err)
	}
	return lot, nil
}

// ListLots returns lots in creation order, only open ones when activeOnly is set
func (r *PostgresRepo) ListLots(ctx context.Context, activeOnly bool) ([]model.Lot, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+lotColumns+`
		FROM lots
		WHERE NOT $1 OR is_active
		ORDER BY created_at, id`, activeOnly)
	if err != nil {
		return nil, storeErr("postgres: list lots", err)
	}
	defer rows.Close()

	lots := make([]model.Lot, 0)
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, storeErr("postgres: scan lot", err)
		}
		lots = append(lots, lot)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("postgres: list lots", err)
	}
	return lots, nil
}

// ListExpired returns open lots whose close time is at or before now
func (r *PostgresRepo) ListExpired(ctx context.Context, now time.Time) ([]model.Lot, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+lotColumns+`
		FROM lots
		WHERE is_active AND close_time <= $1
		ORDER BY close_time, id`, now)
	if err != nil {
		return nil, storeErr("postgres: list expired lots", err)
	}
	defer rows.Close()

	var lots []model.Lot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, storeErr("postgres: scan expired lot", err)
		}
		lots = append(lots, lot)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("postgres: list expired lots", err)
	}
	return lots, nil
}

// ConditionalUpdate applies t with a single guarded UPDATE
func (r *PostgresRepo) ConditionalUpdate(ctx context.Context, lotID string, t model.LotTransition) (bool, error) {
	tag, err := r.DB.Exec(ctx, `UPDATE lots SET is_active = $2, winner_id = $3
		WHERE id = $1 AND is_active = $4 AND leader_bid_id IS NOT DISTINCT FROM $5`,
		lotID, t.NewIsActive, t.NewWinnerID, t.ExpectedIsActive, nullString(t.ExpectedLeaderBidID))
	if err != nil {
		return false, storeErr("postgres: update lot "+lotID, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var isActive bool
	var leader *string
	err = r.DB.QueryRow(ctx, `SELECT is_active, leader_bid_id FROM lots WHERE id = $1`, lotID).Scan(&isActive, &leader)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("update lot %s: %w", lotID, auctionerrors.ErrLotNotFound)
	}
	if err != nil {
		return false, storeErr("postgres: reread lot "+lotID, err)
	}
	if isActive != t.ExpectedIsActive {
		return false, nil
	}
	return false, fmt.Errorf("update lot %s: %w - leader changed", lotID, auctionerrors.ErrConcurrentConflict)
}

// Append advances the lot's leader and inserts the bid in one transaction
func (r *PostgresRepo) Append(ctx context.Context, bid model.Bid, expectedLeaderBidID string) (model.Bid, error) {
	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return model.Bid{}, storeErr("postgres: begin tx", err)
	}
	defer tx.Rollback(ctx)

	bid.SubmittedAt = r.now()
	tag, err := tx.Exec(ctx, `UPDATE lots SET leader_bid_id = $2, leader_price = $3::text::numeric
		WHERE id = $1 AND is_active AND close_time > $4
			AND leader_bid_id IS NOT DISTINCT FROM $5
			AND (leader_price IS NULL OR leader_price < $3::text::numeric)`,
		bid.LotID, bid.BidID, bid.OfferedPrice.String(), bid.SubmittedAt, nullString(expectedLeaderBidID))
	if err != nil {
		return model.Bid{}, storeErr("postgres: advance leader for lot "+bid.LotID, err)
	}
	if tag.RowsAffected() == 0 {
		return model.Bid{}, r.appendRejection(ctx, tx, bid, expectedLeaderBidID)
	}

	_, err = tx.Exec(ctx, `INSERT INTO bids (id, lot_id, bidder_id, offered_price, submitted_at)
		VALUES ($1, $2, $3, $4::text::numeric, $5)`,
		bid.BidID, bid.LotID, bid.BidderID, bid.OfferedPrice.String(), bid.SubmittedAt)
	if err != nil {
		return model.Bid{}, storeErr("postgres: insert bid for lot "+bid.LotID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Bid{}, storeErr("postgres: commit bid for lot "+bid.LotID, err)
	}
	return bid, nil
}

// appendRejection explains why the guarded leader update matched no row
func (r *PostgresRepo) appendRejection(ctx context.Context, tx pgx.Tx, bid model.Bid, expectedLeaderBidID string) error {
	var (
		isActive  bool
		closeTime time.Time
		leader    *string
	)
	err := tx.QueryRow(ctx, `SELECT is_active, close_time, leader_bid_id FROM lots WHERE id = $1`, bid.LotID).
		Scan(&isActive, &closeTime, &leader)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("append bid for lot %s: %w", bid.LotID, auctionerrors.ErrLotNotFound)
	}
	if err != nil {
		return storeErr("postgres: reread lot "+bid.LotID, err)
	}
	return classifyAppend(bid, isActive, closeTime, derefString(leader), expectedLeaderBidID)
}

// HighestFor returns the leading bid for a lot
func (r *PostgresRepo) HighestFor(ctx context.Context, lotID string) (model.Bid, error) {
	row := r.DB.QueryRow(ctx, `SELECT id, lot_id, bidder_id, offered_price::text, submitted_at
		FROM bids WHERE lot_id = $1
		ORDER BY offered_price DESC
		LIMIT 1`, lotID)
	bid, err := scanBid(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, lotErr := r.GetLot(ctx, lotID); lotErr != nil {
			return model.Bid{}, lotErr
		}
		return model.Bid{}, fmt.Errorf("get highest bid for lot %s: %w", lotID, auctionerrors.ErrNoBids)
	}
	if err != nil {
		return model.Bid{}, storeErr("postgres: get highest bid for lot "+lotID, err)
	}
	return bid, nil
}

// GetBidsByLot returns all bids for a lot in ascending price order
func (r *PostgresRepo) GetBidsByLot(ctx context.Context, lotID string) ([]model.Bid, error) {
	if _, err := r.GetLot(ctx, lotID); err != nil {
		return nil, err
	}

	rows, err := r.DB.Query(ctx, `SELECT id, lot_id, bidder_id, offered_price::text, submitted_at
		FROM bids WHERE lot_id = $1
		ORDER BY offered_price`, lotID)
	if err != nil {
		return nil, storeErr("postgres: get bids for lot "+lotID, err)
	}
	defer rows.Close()

	bids := []model.Bid{}
	for rows.Next() {
		bid, err := scanBid(rows)
		if err != nil {
			return nil, storeErr("postgres: scan bid", err)
		}
		bids = append(bids, bid)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("postgres: get bids for lot "+lotID, err)
	}
	return bids, nil
}

func scanLot(row pgx.Row) (model.Lot, error) {
	var (
		lot                                   model.Lot
		category, winner, leader, leaderPrice *string
		initial, step, buyout                 string
	)
	err := row.Scan(
		&lot.LotID,
		&lot.OwnerID,
		&category,
		&lot.ItemName,
		&lot.Description,
		&lot.Location,
		&initial,
		&step,
		&buyout,
		&lot.CloseTime,
		&lot.CreatedAt,
		&lot.IsActive,
		&winner,
		&leader,
		&leaderPrice)
	if err != nil {
		return model.Lot{}, err
	}

	lot.CategoryID = derefString(category)
	lot.WinnerID = winner
	lot.LeaderBidID = derefString(leader)
	if lot.InitialPrice, err = decimal.NewFromString(initial); err != nil {
		return model.Lot{}, err
	}
	if lot.MinStep, err = decimal.NewFromString(step); err != nil {
		return model.Lot{}, err
	}
	if lot.BuyoutPrice, err = decimal.NewFromString(buyout); err != nil {
		return model.Lot{}, err
	}
	if leaderPrice != nil {
		if lot.LeaderPrice, err = decimal.NewFromString(*leaderPrice); err != nil {
			return model.Lot{}, err
		}
	}
	lot.CloseTime = lot.CloseTime.UTC()
	lot.CreatedAt = lot.CreatedAt.UTC()
	return lot, nil
}

func scanBid(row pgx.Row) (model.Bid, error) {
	var (
		bid   model.Bid
		price string
	)
	if err := row.Scan(&bid.BidID, &bid.LotID, &bid.BidderID, &price, &bid.SubmittedAt); err != nil {
		return model.Bid{}, err
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return model.Bid{}, err
	}
	bid.OfferedPrice = p
	bid.SubmittedAt = bid.SubmittedAt.UTC()
	return bid, nil
}

// classifyAppend maps a lot snapshot to the reason a conditional append did not apply
func classifyAppend(bid model.Bid, isActive bool, closeTime time.Time, leader, expectedLeader string) error {
	switch {
	case !isActive || !bid.SubmittedAt.Before(closeTime):
		return fmt.Errorf("append bid for lot %s: %w", bid.LotID, auctionerrors.ErrAuctionClosed)
	case leader != expectedLeader:
		return fmt.Errorf("append bid for lot %s: %w - leader changed", bid.LotID, auctionerrors.ErrConcurrentConflict)
	default:
		return fmt.Errorf("append bid for lot %s: %w", bid.LotID, auctionerrors.ErrBidTooLow)
	}
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
