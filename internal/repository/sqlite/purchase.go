package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/ebook-storefront/internal/apperror"
	"github.com/sakif/ebook-storefront/internal/model"
	"github.com/sakif/ebook-storefront/internal/repository"
)

var _ repository.PurchaseRepository = (*PurchaseStore)(nil)

// PurchaseStore is the SQLite purchase ledger.
type PurchaseStore struct {
	conn *sql.DB
}

const purchaseColumns = `id, user_id, customer_email, customer_name, stripe_session_id,
	amount, currency, product_name, status, access_token, purchased_at`

// GetBySessionID retrieves the purchase recorded for a checkout session.
func (s *PurchaseStore) GetBySessionID(ctx context.Context, sessionID string) (*model.Purchase, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE stripe_session_id = ?`,
		sessionID,
	)
	p, err := scanPurchase(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("purchase", sessionID)
		}
		return nil, apperror.StoreUnavailable("sqlite: getting purchase by session", err)
	}
	return p, nil
}

// GetByID retrieves a purchase by its ID.
func (s *PurchaseStore) GetByID(ctx context.Context, id string) (*model.Purchase, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE id = ?`,
		id,
	)
	p, err := scanPurchase(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("purchase", id)
		}
		return nil, apperror.StoreUnavailable("sqlite: getting purchase", err)
	}
	return p, nil
}

// CreateIfAbsent inserts the purchase unless the session already has one.
//
// ON CONFLICT DO NOTHING turns the UNIQUE index on stripe_session_id into
// the arbiter: the losing insert affects zero rows, and both callers then
// read the single surviving row.
func (s *PurchaseStore) CreateIfAbsent(ctx context.Context, np repository.NewPurchase) (*model.Purchase, bool, error) {
	purchasedAt := np.PurchasedAt
	if purchasedAt.IsZero() {
		purchasedAt = time.Now()
	}
	purchasedAt = purchasedAt.UTC().Truncate(time.Second)

	res, err := s.conn.ExecContext(ctx,
		`INSERT INTO purchases (id, user_id, customer_email, customer_name, stripe_session_id,
			amount, currency, product_name, status, purchased_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(stripe_session_id) DO NOTHING`,
		xid.New().String(),
		nullString(np.UserID),
		repository.NormalizeEmail(np.CustomerEmail),
		np.CustomerName,
		np.SessionID,
		np.Amount,
		np.Currency,
		np.ProductName,
		string(model.StatusCompleted),
		purchasedAt,
	)
	if err != nil {
		return nil, false, apperror.StoreUnavailable("sqlite: inserting purchase", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, apperror.StoreUnavailable("sqlite: inserting purchase", err)
	}

	p, err := s.GetBySessionID(ctx, np.SessionID)
	if err != nil {
		return nil, false, err
	}
	return p, n == 1, nil
}

// ListUnclaimedByEmail returns ownerless purchases for an email.
func (s *PurchaseStore) ListUnclaimedByEmail(ctx context.Context, email string) ([]model.Purchase, error) {
	return s.list(ctx, "sqlite: listing unclaimed purchases",
		`SELECT `+purchaseColumns+` FROM purchases
		 WHERE customer_email = ? AND user_id IS NULL
		 ORDER BY purchased_at DESC`,
		repository.NormalizeEmail(email),
	)
}

// ClaimForUser assigns ownerless purchases for an email to userID.
// The user_id IS NULL guard means a claimed purchase never changes owner.
func (s *PurchaseStore) ClaimForUser(ctx context.Context, email, userID string) (int, error) {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE purchases SET user_id = ?
		 WHERE customer_email = ? AND user_id IS NULL`,
		userID,
		repository.NormalizeEmail(email),
	)
	if err != nil {
		return 0, apperror.StoreUnavailable("sqlite: claiming purchases", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperror.StoreUnavailable("sqlite: claiming purchases", err)
	}
	return int(n), nil
}

// ListByUser returns the user's purchases, newest first.
func (s *PurchaseStore) ListByUser(ctx context.Context, userID string) ([]model.Purchase, error) {
	return s.list(ctx, "sqlite: listing purchases by user",
		`SELECT `+purchaseColumns+` FROM purchases
		 WHERE user_id = ?
		 ORDER BY purchased_at DESC`,
		userID,
	)
}

// AttachCredential stores the access credential on a purchase. A credential
// that is already attached is kept.
func (s *PurchaseStore) AttachCredential(ctx context.Context, purchaseID, credential string) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE purchases SET access_token = COALESCE(access_token, ?) WHERE id = ?`,
		credential, purchaseID,
	)
	if err != nil {
		return apperror.StoreUnavailable("sqlite: attaching credential", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperror.StoreUnavailable("sqlite: attaching credential", err)
	}
	if n == 0 {
		return apperror.NotFound("purchase", purchaseID)
	}
	return nil
}

func (s *PurchaseStore) list(ctx context.Context, op, query string, args ...any) ([]model.Purchase, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperror.StoreUnavailable(op, err)
	}
	defer rows.Close()

	// Non-nil so an empty result encodes as [] in JSON.
	purchases := []model.Purchase{}
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, apperror.StoreUnavailable(op, err)
		}
		purchases = append(purchases, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.StoreUnavailable(op, err)
	}
	return purchases, nil
}

func scanPurchase(row scanner) (*model.Purchase, error) {
	var (
		p          model.Purchase
		userID     sql.NullString
		credential sql.NullString
		status     string
	)
	err := row.Scan(
		&p.ID,
		&userID,
		&p.CustomerEmail,
		&p.CustomerName,
		&p.SessionID,
		&p.Amount,
		&p.Currency,
		&p.ProductName,
		&status,
		&credential,
		&p.PurchasedAt,
	)
	if err != nil {
		return nil, err
	}
	if userID.Valid && userID.String != "" {
		p.UserID = &userID.String
	}
	p.AccessCredential = credential.String
	p.Status = model.PurchaseStatus(status)
	p.PurchasedAt = p.PurchasedAt.UTC()
	return &p, nil
}

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
