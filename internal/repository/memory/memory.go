// Package memory implements the repository interfaces in process memory.
// It backs DATABASE_DRIVER=memory and the service tests. Nothing survives a
// restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/ebook-storefront/internal/apperror"
	"github.com/sakif/ebook-storefront/internal/model"
	"github.com/sakif/ebook-storefront/internal/repository"
)

var (
	_ repository.Store              = (*Store)(nil)
	_ repository.PurchaseRepository = (*PurchaseStore)(nil)
	_ repository.UserRepository     = (*UserStore)(nil)
)

// Store holds both tables behind one lock, so a claim never interleaves
// with an insert.
type Store struct {
	mu sync.Mutex

	purchases map[string]*model.Purchase // by id
	bySession map[string]string          // session id → purchase id
	users     map[string]*model.User     // by id
	byEmail   map[string]string          // email → user id

	purchaseStore *PurchaseStore
	userStore     *UserStore
}

// New returns an empty store.
func New() *Store {
	s := &Store{
		purchases: make(map[string]*model.Purchase),
		bySession: make(map[string]string),
		users:     make(map[string]*model.User),
		byEmail:   make(map[string]string),
	}
	s.purchaseStore = &PurchaseStore{s: s}
	s.userStore = &UserStore{s: s}
	return s
}

func (s *Store) Purchases() repository.PurchaseRepository { return s.purchaseStore }
func (s *Store) Users() repository.UserRepository         { return s.userStore }
func (s *Store) Ping(context.Context) error               { return nil }
func (s *Store) Close() error                             { return nil }

// PurchaseStore is the in-memory purchase ledger.
type PurchaseStore struct {
	s *Store
}

func (p *PurchaseStore) GetBySessionID(ctx context.Context, sessionID string) (*model.Purchase, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperror.StoreUnavailable("memory: getting purchase by session", err)
	}
	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	id, ok := p.s.bySession[sessionID]
	if !ok {
		return nil, apperror.NotFound("purchase", sessionID)
	}
	return clonePurchase(p.s.purchases[id]), nil
}

func (p *PurchaseStore) GetByID(ctx context.Context, id string) (*model.Purchase, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperror.StoreUnavailable("memory: getting purchase", err)
	}
	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	found, ok := p.s.purchases[id]
	if !ok {
		return nil, apperror.NotFound("purchase", id)
	}
	return clonePurchase(found), nil
}

// CreateIfAbsent checks and inserts under the store lock, which gives the
// same one-winner outcome as a UNIQUE index.
func (p *PurchaseStore) CreateIfAbsent(ctx context.Context, np repository.NewPurchase) (*model.Purchase, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, apperror.StoreUnavailable("memory: inserting purchase", err)
	}
	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	if id, ok := p.s.bySession[np.SessionID]; ok {
		return clonePurchase(p.s.purchases[id]), false, nil
	}

	purchasedAt := np.PurchasedAt
	if purchasedAt.IsZero() {
		purchasedAt = time.Now()
	}
	stored := &model.Purchase{
		ID:            xid.New().String(),
		CustomerEmail: repository.NormalizeEmail(np.CustomerEmail),
		CustomerName:  np.CustomerName,
		SessionID:     np.SessionID,
		Amount:        np.Amount,
		Currency:      np.Currency,
		ProductName:   np.ProductName,
		Status:        model.StatusCompleted,
		PurchasedAt:   purchasedAt.UTC().Truncate(time.Second),
	}
	if np.UserID != nil && *np.UserID != "" {
		owner := *np.UserID
		stored.UserID = &owner
	}
	p.s.purchases[stored.ID] = stored
	p.s.bySession[stored.SessionID] = stored.ID
	return clonePurchase(stored), true, nil
}

func (p *PurchaseStore) ListUnclaimedByEmail(ctx context.Context, email string) ([]model.Purchase, error) {
	email = repository.NormalizeEmail(email)
	return p.list(ctx, func(pp *model.Purchase) bool {
		return !pp.Claimed() && pp.CustomerEmail == email
	})
}

func (p *PurchaseStore) ClaimForUser(ctx context.Context, email, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, apperror.StoreUnavailable("memory: claiming purchases", err)
	}
	email = repository.NormalizeEmail(email)

	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	n := 0
	for _, pp := range p.s.purchases {
		if pp.Claimed() || pp.CustomerEmail != email {
			continue
		}
		owner := userID
		pp.UserID = &owner
		n++
	}
	return n, nil
}

func (p *PurchaseStore) ListByUser(ctx context.Context, userID string) ([]model.Purchase, error) {
	return p.list(ctx, func(pp *model.Purchase) bool {
		return pp.Claimed() && *pp.UserID == userID
	})
}

func (p *PurchaseStore) AttachCredential(ctx context.Context, purchaseID, credential string) error {
	if err := ctx.Err(); err != nil {
		return apperror.StoreUnavailable("memory: attaching credential", err)
	}
	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	found, ok := p.s.purchases[purchaseID]
	if !ok {
		return apperror.NotFound("purchase", purchaseID)
	}
	if found.AccessCredential == "" {
		found.AccessCredential = credential
	}
	return nil
}

func (p *PurchaseStore) list(ctx context.Context, keep func(*model.Purchase) bool) ([]model.Purchase, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperror.StoreUnavailable("memory: listing purchases", err)
	}
	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	out := []model.Purchase{}
	for _, pp := range p.s.purchases {
		if keep(pp) {
			out = append(out, *clonePurchase(pp))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PurchasedAt.Equal(out[j].PurchasedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].PurchasedAt.After(out[j].PurchasedAt)
	})
	return out, nil
}

func clonePurchase(p *model.Purchase) *model.Purchase {
	c := *p
	if p.UserID != nil {
		owner := *p.UserID
		c.UserID = &owner
	}
	return &c
}

// UserStore is the in-memory account store.
type UserStore struct {
	s *Store
}

func (u *UserStore) Create(ctx context.Context, user *model.User) error {
	if err := ctx.Err(); err != nil {
		return apperror.StoreUnavailable("memory: inserting user", err)
	}
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	email := repository.NormalizeEmail(user.Email)
	if _, taken := u.s.byEmail[email]; taken {
		return apperror.Conflict("user", email)
	}

	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.Email = email
	user.CreatedAt = now
	user.UpdatedAt = now

	u.s.users[user.ID] = cloneUser(user)
	u.s.byEmail[email] = user.ID
	return nil
}

func (u *UserStore) GetByID(ctx context.Context, id string) (*model.User, error) {
	return u.find(ctx, id, func(x *model.User) bool { return x.ID == id })
}

func (u *UserStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	email = repository.NormalizeEmail(email)
	return u.find(ctx, email, func(x *model.User) bool { return x.Email == email })
}

func (u *UserStore) GetByVerificationToken(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, apperror.NotFound("user", "verification token")
	}
	return u.find(ctx, token, func(x *model.User) bool { return x.VerificationToken == token })
}

func (u *UserStore) GetByResetToken(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, apperror.NotFound("user", "reset token")
	}
	return u.find(ctx, token, func(x *model.User) bool { return x.ResetToken == token })
}

func (u *UserStore) Update(ctx context.Context, user *model.User) error {
	if err := ctx.Err(); err != nil {
		return apperror.StoreUnavailable("memory: updating user", err)
	}
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	existing, ok := u.s.users[user.ID]
	if !ok {
		return apperror.NotFound("user", user.ID)
	}
	email := repository.NormalizeEmail(user.Email)
	if ownerID, taken := u.s.byEmail[email]; taken && ownerID != user.ID {
		return apperror.Conflict("user", email)
	}

	delete(u.s.byEmail, existing.Email)
	user.Email = email
	user.UpdatedAt = time.Now().UTC()
	u.s.users[user.ID] = cloneUser(user)
	u.s.byEmail[email] = user.ID
	return nil
}

func (u *UserStore) find(ctx context.Context, key string, match func(*model.User) bool) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperror.StoreUnavailable("memory: getting user", err)
	}
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	for _, x := range u.s.users {
		if match(x) {
			return cloneUser(x), nil
		}
	}
	return nil, apperror.NotFound("user", key)
}

func cloneUser(u *model.User) *model.User {
	c := *u
	return &c
}
