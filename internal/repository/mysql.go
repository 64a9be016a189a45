package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"online-auction/internal/auctionerrors"
	model "online-auction/internal/models"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
)

const mysqlLotColumns = `id, owner_id, category_id, item_name, description, location,
	initial_price, min_step, buyout_price, close_time, created_at,
	is_active, winner_id, leader_bid_id, leader_price`

// MySQLRepo implements AuctionDB on MySQL with the same guarded single-row
// UPDATE discipline as PostgresRepo. The DSN must set parseTime=true.
type MySQLRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewMySQLRepo creates a new MySQLRepo
func NewMySQLRepo(db *sql.DB) *MySQLRepo {
	return &MySQLRepo{db: db, now: func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }}
}

// OpenMySQL opens and pings a MySQL connection pool
func OpenMySQL(ctx context.Context, dsn string) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("create mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping mysql: %w", err)
	}
	return db, nil
}

// CreateLot inserts a new lot
func (m *MySQLRepo) CreateLot(ctx context.Context, lot model.Lot) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO lots (id, owner_id, category_id, item_name, description, location,
			initial_price, min_step, buyout_price, close_time, created_at, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lot.LotID, lot.OwnerID, nullString(lot.CategoryID), lot.ItemName, lot.Description, lot.Location,
		lot.InitialPrice, lot.MinStep, lot.BuyoutPrice, lot.CloseTime, lot.CreatedAt, lot.IsActive,
	)
	if err != nil {
		return storeErr("mysql: create lot "+lot.LotID, err)
	}
	return nil
}

// GetLot returns a lot by id
func (m *MySQLRepo) GetLot(ctx context.Context, lotID string) (model.Lot, error) {
	row := m.db.QueryRowContext(ctx, `SELECT `+mysqlLotColumns+` FROM lots WHERE id = ?`, lotID)
	lot, err := scanMySQLLot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Lot{}, fmt.Errorf("get lot %s: %w", lotID, auctionerrors.ErrLotNotFound)
	}
	if err != nil {
		return model.Lot{}, storeErr("mysql: get lot "+lotID, err)
	}
	return lot, nil
}

// ListLots returns lots in creation order, only open ones when activeOnly is set
func (m *MySQLRepo) ListLots(ctx context.Context, activeOnly bool) ([]model.Lot, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT `+mysqlLotColumns+`
		FROM lots
		WHERE ? = FALSE OR is_active = TRUE
		ORDER BY created_at, id`, activeOnly)
	if err != nil {
		return nil, storeErr("mysql: list lots", err)
	}
	defer rows.Close()

	lots := make([]model.Lot, 0)
	for rows.Next() {
		lot, err := scanMySQLLot(rows)
		if err != nil {
			return nil, storeErr("mysql: scan lot", err)
		}
		lots = append(lots, lot)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("mysql: list lots", err)
	}
	return lots, nil
}

// ListExpired returns open lots whose close time is at or before now
func (m *MySQLRepo) ListExpired(ctx context.Context, now time.Time) ([]model.Lot, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT `+mysqlLotColumns+`
		FROM lots
		WHERE is_active = TRUE AND close_time <= ?
		ORDER BY close_time, id`, now)
	if err != nil {
		return nil, storeErr("mysql: list expired lots", err)
	}
	defer rows.Close()

	var lots []model.Lot
	for rows.Next() {
		lot, err := scanMySQLLot(rows)
		if err != nil {
			return nil, storeErr("mysql: scan expired lot", err)
		}
		lots = append(lots, lot)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("mysql: list expired lots", err)
	}
	return lots, nil
}

// ConditionalUpdate applies t with a single guarded UPDATE
func (m *MySQLRepo) ConditionalUpdate(ctx context.Context, lotID string, t model.LotTransition) (bool, error) {
	result, err := m.db.ExecContext(ctx, `
		UPDATE lots SET is_active = ?, winner_id = ?
		WHERE id = ? AND is_active = ? AND leader_bid_id <=> ?`,
		t.NewIsActive, t.NewWinnerID, lotID, t.ExpectedIsActive, nullString(t.ExpectedLeaderBidID),
	)
	if err != nil {
		return false, storeErr("mysql: update lot "+lotID, err)
	}
	if rows, _ := result.RowsAffected(); rows == 1 {
		return true, nil
	}

	var (
		isActive bool
		leader   sql.NullString
	)
	err = m.db.QueryRowContext(ctx, `SELECT is_active, leader_bid_id FROM lots WHERE id = ?`, lotID).Scan(&isActive, &leader)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("update lot %s: %w", lotID, auctionerrors.ErrLotNotFound)
	}
	if err != nil {
		return false, storeErr("mysql: reread lot "+lotID, err)
	}
	if isActive != t.ExpectedIsActive {
		return false, nil
	}
	return false, fmt.Errorf("update lot %s: %w - leader changed", lotID, auctionerrors.ErrConcurrentConflict)
}

// Append advances the lot's leader and inserts the bid in one transaction
func (m *MySQLRepo) Append(ctx context.Context, bid model.Bid, expectedLeaderBidID string) (model.Bid, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Bid{}, storeErr("mysql: begin tx", err)
	}
	defer tx.Rollback()

	bid.SubmittedAt = m.now()
	result, err := tx.ExecContext(ctx, `
		UPDATE lots SET leader_bid_id = ?, leader_price = ?
		WHERE id = ? AND is_active = TRUE AND close_time > ?
			AND leader_bid_id <=> ?
			AND (leader_price IS NULL OR leader_price < ?)`,
		bid.BidID, bid.OfferedPrice, bid.LotID, bid.SubmittedAt, nullString(expectedLeaderBidID), bid.OfferedPrice,
	)
	if err != nil {
		return model.Bid{}, storeErr("mysql: advance leader for lot "+bid.LotID, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		var (
			isActive  bool
			closeTime time.Time
			leader    sql.NullString
		)
		err := tx.QueryRowContext(ctx, `SELECT is_active, close_time, leader_bid_id FROM lots WHERE id = ?`, bid.LotID).
			Scan(&isActive, &closeTime, &leader)
		if errors.Is(err, sql.ErrNoRows) {
			return model.Bid{}, fmt.Errorf("append bid for lot %s: %w", bid.LotID, auctionerrors.ErrLotNotFound)
		}
		if err != nil {
			return model.Bid{}, storeErr("mysql: reread lot "+bid.LotID, err)
		}
		return model.Bid{}, classifyAppend(bid, isActive, closeTime, leader.String, expectedLeaderBidID)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO bids (id, lot_id, bidder_id, offered_price, submitted_at)
		VALUES (?, ?, ?, ?, ?)`,
		bid.BidID, bid.LotID, bid.BidderID, bid.OfferedPrice, bid.SubmittedAt,
	)
	if err != nil {
		return model.Bid{}, storeErr("mysql: insert bid for lot "+bid.LotID, err)
	}

	if err := tx.Commit(); err != nil {
		return model.Bid{}, storeErr("mysql: commit bid for lot "+bid.LotID, err)
	}
	return bid, nil
}

// HighestFor returns the leading bid for a lot
func (m *MySQLRepo) HighestFor(ctx context.Context, lotID string) (model.Bid, error) {
	var bid model.Bid
	err := m.db.QueryRowContext(ctx, `
		SELECT id, lot_id, bidder_id, offered_price, submitted_at
		FROM bids WHERE lot_id = ?
		ORDER BY offered_price DESC
		LIMIT 1`, lotID,
	).Scan(&bid.BidID, &bid.LotID, &bid.BidderID, &bid.OfferedPrice, &bid.SubmittedAt)
	if errors.Is(err, sql.ErrNoRows) {
		if _, lotErr := m.GetLot(ctx, lotID); lotErr != nil {
			return model.Bid{}, lotErr
		}
		return model.Bid{}, fmt.Errorf("get highest bid for lot %s: %w", lotID, auctionerrors.ErrNoBids)
	}
	if err != nil {
		return model.Bid{}, storeErr("mysql: get highest bid for lot "+lotID, err)
	}
	bid.SubmittedAt = bid.SubmittedAt.UTC()
	return bid, nil
}

// GetBidsByLot returns all bids for a lot in ascending price order
func (m *MySQLRepo) GetBidsByLot(ctx context.Context, lotID string) ([]model.Bid, error) {
	if _, err := m.GetLot(ctx, lotID); err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, lot_id, bidder_id, offered_price, submitted_at
		FROM bids WHERE lot_id = ?
		ORDER BY offered_price`, lotID)
	if err != nil {
		return nil, storeErr("mysql: get bids for lot "+lotID, err)
	}
	defer rows.Close()

	bids := []model.Bid{}
	for rows.Next() {
		var bid model.Bid
		if err := rows.Scan(&bid.BidID, &bid.LotID, &bid.BidderID, &bid.OfferedPrice, &bid.SubmittedAt); err != nil {
			return nil, storeErr("mysql: scan bid", err)
		}
		bid.SubmittedAt = bid.SubmittedAt.UTC()
		bids = append(bids, bid)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("mysql: get bids for lot "+lotID, err)
	}
	return bids, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMySQLLot(row rowScanner) (model.Lot, error) {
	var (
		lot                      model.Lot
		category, winner, leader sql.NullString
		leaderPrice              decimal.NullDecimal
	)
	err := row.Scan(
		&lot.LotID,
		&lot.OwnerID,
		&category,
		&lot.ItemName,
		&lot.Description,
		&lot.Location,
		&lot.InitialPrice,
		&lot.MinStep,
		&lot.BuyoutPrice,
		&lot.CloseTime,
		&lot.CreatedAt,
		&lot.IsActive,
		&winner,
		&leader,
		&leaderPrice,
	)
	if err != nil {
		return model.Lot{}, err
	}

	lot.CategoryID = category.String
	if winner.Valid {
		w := winner.String
		lot.WinnerID = &w
	}
	lot.LeaderBidID = leader.String
	if leaderPrice.Valid {
		lot.LeaderPrice = leaderPrice.Decimal
	}
	lot.CloseTime = lot.CloseTime.UTC()
	lot.CreatedAt = lot.CreatedAt.UTC()
	return lot, nil
}
