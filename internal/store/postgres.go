package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/auction-engine/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// querier is the subset shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	// Rollback after a successful Commit is a no-op.
	defer tx.Rollback(context.Background())

	if err := fn(&pgTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// --- Auctions ---

const auctionColumns = `id, seller_id, title, description,
	start_price::TEXT, current_price::TEXT, min_increment::TEXT,
	max_increment::TEXT, reserve_price::TEXT, buy_now_price::TEXT,
	deposit_amount::TEXT, ends_at, status, winner_id, final_price::TEXT,
	paid, created_at, closed_at`

func scanAuction(row pgx.Row) (*model.Auction, error) {
	var a model.Auction
	var start, current, minInc, deposit string
	var maxInc, reserve, buyNow, final *string

	if err := row.Scan(&a.ID, &a.SellerID, &a.Title, &a.Description,
		&start, &current, &minInc,
		&maxInc, &reserve, &buyNow,
		&deposit, &a.EndsAt, &a.Status, &a.WinnerID, &final,
		&a.Paid, &a.CreatedAt, &a.ClosedAt); err != nil {
		return nil, err
	}

	a.StartPrice, _ = decimal.NewFromString(start)
	a.CurrentPrice, _ = decimal.NewFromString(current)
	a.MinIncrement, _ = decimal.NewFromString(minInc)
	a.DepositAmount, _ = decimal.NewFromString(deposit)
	a.MaxIncrement = parseDecimalPtr(maxInc)
	a.ReservePrice = parseDecimalPtr(reserve)
	a.BuyNowPrice = parseDecimalPtr(buyNow)
	a.FinalPrice = parseDecimalPtr(final)

	return &a, nil
}

func getAuction(ctx context.Context, q querier, id string, forUpdate bool) (*model.Auction, error) {
	sql := `SELECT ` + auctionColumns + ` FROM auctions WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	a, err := scanAuction(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("auction %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get auction %s: %w", id, err)
	}
	return a, nil
}

func listAuctions(ctx context.Context, q querier, where string, args ...any) ([]model.Auction, error) {
	rows, err := q.Query(ctx, `SELECT `+auctionColumns+` FROM auctions `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var auctions []model.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		auctions = append(auctions, *a)
	}
	return auctions, rows.Err()
}

func (s *PostgresStore) GetAuction(ctx context.Context, id string) (*model.Auction, error) {
	return getAuction(ctx, s.pool, id, false)
}

func (s *PostgresStore) ListAuctionsBySeller(ctx context.Context, sellerID string) ([]model.Auction, error) {
	return listAuctions(ctx, s.pool, `WHERE seller_id = $1 ORDER BY created_at DESC`, sellerID)
}

func (s *PostgresStore) ListAuctionsByStatus(ctx context.Context, status model.AuctionStatus) ([]model.Auction, error) {
	return listAuctions(ctx, s.pool, `WHERE status = $1 ORDER BY created_at`, status)
}

func (s *PostgresStore) ListExpiredAuctions(ctx context.Context, now time.Time, limit int) ([]model.Auction, error) {
	if limit <= 0 {
		return listAuctions(ctx, s.pool,
			`WHERE status = $1 AND ends_at <= $2 ORDER BY ends_at, id`,
			model.StatusApproved, now)
	}
	return listAuctions(ctx, s.pool,
		`WHERE status = $1 AND ends_at <= $2 ORDER BY ends_at, id LIMIT $3`,
		model.StatusApproved, now, limit)
}

// --- Bids ---

const bidColumns = `id, auction_id, bidder_id, amount::TEXT, deposit_paid::TEXT,
	deposit_refunded, refund_amount::TEXT, created_at`

func listBids(ctx context.Context, q querier, where string, args ...any) ([]model.Bid, error) {
	rows, err := q.Query(ctx, `SELECT `+bidColumns+` FROM bids `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bids []model.Bid
	for rows.Next() {
		var b model.Bid
		var amount, deposit, refund string
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.BidderID, &amount, &deposit,
			&b.DepositRefunded, &refund, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.Amount, _ = decimal.NewFromString(amount)
		b.DepositPaid, _ = decimal.NewFromString(deposit)
		b.RefundAmount, _ = decimal.NewFromString(refund)
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

func (s *PostgresStore) ListBidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error) {
	return listBids(ctx, s.pool, `WHERE auction_id = $1 ORDER BY seq`, auctionID)
}

func (s *PostgresStore) ListBidsByBidder(ctx context.Context, bidderID string) ([]model.Bid, error) {
	return listBids(ctx, s.pool, `WHERE bidder_id = $1 ORDER BY seq DESC`, bidderID)
}

// --- Accounts and ledger ---

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	return getAccount(ctx, s.pool, id, false)
}

func getAccount(ctx context.Context, q querier, id string, forUpdate bool) (*model.Account, error) {
	sql := `SELECT id, balance::TEXT, created_at FROM accounts WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	var a model.Account
	var balance string
	err := q.QueryRow(ctx, sql, id).Scan(&a.ID, &balance, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}
	a.Balance, _ = decimal.NewFromString(balance)
	return &a, nil
}

const ledgerColumns = `id, account_id, kind, amount::TEXT, related_account_id,
	auction_id, note, created_at`

func listLedger(ctx context.Context, q querier, where string, args ...any) ([]model.LedgerEntry, error) {
	rows, err := q.Query(ctx, `SELECT `+ledgerColumns+` FROM ledger_entries `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var amount string
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Kind, &amount, &e.RelatedAccountID,
			&e.AuctionID, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Amount, _ = decimal.NewFromString(amount)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) ListLedgerEntries(ctx context.Context, accountID string, limit int) ([]model.LedgerEntry, error) {
	if limit <= 0 {
		return listLedger(ctx, s.pool, `WHERE account_id = $1 ORDER BY seq DESC`, accountID)
	}
	return listLedger(ctx, s.pool, `WHERE account_id = $1 ORDER BY seq DESC LIMIT $2`, accountID, limit)
}

func (s *PostgresStore) ListLedgerEntriesByAuction(ctx context.Context, auctionID string) ([]model.LedgerEntry, error) {
	return listLedger(ctx, s.pool, `WHERE auction_id = $1 ORDER BY seq`, auctionID)
}

// --- Top-ups and notifications ---

const topUpColumns = `id, account_id, amount::TEXT, status, note, admin_id, created_at, processed_at`

func scanTopUp(row pgx.Row) (*model.TopUp, error) {
	var t model.TopUp
	var amount string
	if err := row.Scan(&t.ID, &t.AccountID, &amount, &t.Status, &t.Note,
		&t.AdminID, &t.CreatedAt, &t.ProcessedAt); err != nil {
		return nil, err
	}
	t.Amount, _ = decimal.NewFromString(amount)
	return &t, nil
}

func (s *PostgresStore) ListTopUps(ctx context.Context, accountID string) ([]model.TopUp, error) {
	sql := `SELECT ` + topUpColumns + ` FROM topups`
	var args []any
	if accountID != "" {
		sql += ` WHERE account_id = $1`
		args = append(args, accountID)
	}
	rows, err := s.pool.Query(ctx, sql+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var topups []model.TopUp
	for rows.Next() {
		t, err := scanTopUp(rows)
		if err != nil {
			return nil, err
		}
		topups = append(topups, *t)
	}
	return topups, rows.Err()
}

func (s *PostgresStore) ListNotifications(ctx context.Context, accountID string) ([]model.Notification, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, auction_id, message, is_read, created_at
		 FROM notifications WHERE account_id = $1 ORDER BY seq DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.AccountID, &n.AuctionID, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, id, accountID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE id = $1 AND account_id = $2`, id, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- Transaction ---

type pgTx struct {
	q querier
}

func (t *pgTx) CreateAuction(ctx context.Context, a *model.Auction) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO auctions (id, seller_id, title, description,
		        start_price, current_price, min_increment, max_increment,
		        reserve_price, buy_now_price, deposit_amount, ends_at,
		        status, paid, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC,
		         $9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12, $13, FALSE, $14)`,
		a.ID, a.SellerID, a.Title, a.Description,
		a.StartPrice.String(), a.CurrentPrice.String(), a.MinIncrement.String(),
		decimalPtrString(a.MaxIncrement), decimalPtrString(a.ReservePrice),
		decimalPtrString(a.BuyNowPrice), a.DepositAmount.String(),
		a.EndsAt, a.Status, a.CreatedAt,
	)
	return err
}

func (t *pgTx) LockAuction(ctx context.Context, id string) (*model.Auction, error) {
	return getAuction(ctx, t.q, id, true)
}

func (t *pgTx) exec(ctx context.Context, what, id string, sql string, args ...any) error {
	tag, err := t.q.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s %s: %w", what, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return nil
}

func (t *pgTx) SetAuctionStatus(ctx context.Context, id string, status model.AuctionStatus) error {
	return t.exec(ctx, "auction", id,
		`UPDATE auctions SET status = $2 WHERE id = $1`, id, status)
}

func (t *pgTx) UpdateAuctionPrice(ctx context.Context, id string, price decimal.Decimal) error {
	return t.exec(ctx, "auction", id,
		`UPDATE auctions SET current_price = $2::NUMERIC WHERE id = $1`, id, price.String())
}

func (t *pgTx) CloseAuction(ctx context.Context, id string, winnerID *string, finalPrice *decimal.Decimal, closedAt time.Time) error {
	return t.exec(ctx, "auction", id,
		`UPDATE auctions
		 SET status = $2, winner_id = $3, final_price = $4::NUMERIC, closed_at = $5
		 WHERE id = $1`,
		id, model.StatusClosed, winnerID, decimalPtrString(finalPrice), closedAt)
}

func (t *pgTx) MarkAuctionPaid(ctx context.Context, id string) error {
	return t.exec(ctx, "auction", id, `UPDATE auctions SET paid = TRUE WHERE id = $1`, id)
}

func (t *pgTx) InsertBid(ctx context.Context, b *model.Bid) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO bids (id, auction_id, bidder_id, amount, deposit_paid,
		        deposit_refunded, refund_amount, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7::NUMERIC, $8)`,
		b.ID, b.AuctionID, b.BidderID, b.Amount.String(), b.DepositPaid.String(),
		b.DepositRefunded, b.RefundAmount.String(), b.CreatedAt,
	)
	return err
}

func (t *pgTx) ListBids(ctx context.Context, auctionID string) ([]model.Bid, error) {
	return listBids(ctx, t.q, `WHERE auction_id = $1 ORDER BY seq`, auctionID)
}

func (t *pgTx) RefundDeposits(ctx context.Context, auctionID, bidderID string) (decimal.Decimal, error) {
	var total string
	err := t.q.QueryRow(ctx,
		`WITH refunded AS (
		     UPDATE bids
		     SET deposit_refunded = TRUE, refund_amount = deposit_paid
		     WHERE auction_id = $1 AND bidder_id = $2
		       AND deposit_refunded = FALSE AND deposit_paid > 0
		     RETURNING deposit_paid
		 )
		 SELECT COALESCE(SUM(deposit_paid), 0)::TEXT FROM refunded`,
		auctionID, bidderID).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("refund deposits %s/%s: %w", auctionID, bidderID, err)
	}
	d, _ := decimal.NewFromString(total)
	return d, nil
}

func (t *pgTx) LockAccount(ctx context.Context, id string) (*model.Account, error) {
	if _, err := t.q.Exec(ctx,
		`INSERT INTO accounts (id, balance, created_at) VALUES ($1, 0, now())
		 ON CONFLICT (id) DO NOTHING`, id); err != nil {
		return nil, fmt.Errorf("upsert account %s: %w", id, err)
	}
	return getAccount(ctx, t.q, id, true)
}

func (t *pgTx) AdjustBalance(ctx context.Context, id string, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance string
	err := t.q.QueryRow(ctx,
		`UPDATE accounts SET balance = balance + $2::NUMERIC
		 WHERE id = $1 AND balance + $2::NUMERIC >= 0
		 RETURNING balance::TEXT`, id, delta.String()).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, gerr := getAccount(ctx, t.q, id, false); gerr != nil {
			return decimal.Zero, gerr
		}
		return decimal.Zero, fmt.Errorf("account %s: %w", id, ErrNegativeBalance)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("adjust balance %s: %w", id, err)
	}
	d, _ := decimal.NewFromString(balance)
	return d, nil
}

func (t *pgTx) InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO ledger_entries (id, account_id, kind, amount, related_account_id,
		        auction_id, note, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7, $8)`,
		e.ID, e.AccountID, e.Kind, e.Amount.String(), e.RelatedAccountID,
		e.AuctionID, e.Note, e.CreatedAt,
	)
	return err
}

func (t *pgTx) InsertTopUp(ctx context.Context, tu *model.TopUp) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO topups (id, account_id, amount, status, note, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5, $6)`,
		tu.ID, tu.AccountID, tu.Amount.String(), tu.Status, tu.Note, tu.CreatedAt,
	)
	return err
}

func (t *pgTx) LockTopUp(ctx context.Context, id string) (*model.TopUp, error) {
	tu, err := scanTopUp(t.q.QueryRow(ctx,
		`SELECT `+topUpColumns+` FROM topups WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("topup %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get topup %s: %w", id, err)
	}
	return tu, nil
}

func (t *pgTx) UpdateTopUp(ctx context.Context, tu *model.TopUp) error {
	return t.exec(ctx, "topup", tu.ID,
		`UPDATE topups SET status = $2, admin_id = $3, processed_at = $4 WHERE id = $1`,
		tu.ID, tu.Status, tu.AdminID, tu.ProcessedAt)
}

func (t *pgTx) InsertNotification(ctx context.Context, n *model.Notification) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO notifications (id, account_id, auction_id, message, is_read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		n.ID, n.AccountID, n.AuctionID, n.Message, n.Read, n.CreatedAt,
	)
	return err
}

// --- Decimal helpers ---

func decimalPtrString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func parseDecimalPtr(s *string) *decimal.Decimal {
	if s == nil {
		return nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil
	}
	return &d
}
