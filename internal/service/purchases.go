package service

import (
	"context"
	"log/slog"
	"sort"

	"github.com/sakif/ebook-storefront/internal/model"
	"github.com/sakif/ebook-storefront/internal/repository"
)

// PurchaseService lists a signed-in user's purchases.
type PurchaseService struct {
	purchases repository.PurchaseRepository
	users     repository.UserRepository
	logger    *slog.Logger
}

func NewPurchaseService(purchases repository.PurchaseRepository, users repository.UserRepository, logger *slog.Logger) *PurchaseService {
	return &PurchaseService{
		purchases: purchases,
		users:     users,
		logger:    logger,
	}
}

// ListForUser returns every purchase the user owns, newest first.
//
// Guest purchases made with the user's email are claimed for the user as
// a side effect, so later listings find them by owner. The claim is not
// transactional with the reads: a purchase claimed in between shows up in
// both lists and is deduplicated, and a failed claim is retried by the
// next listing.
func (s *PurchaseService) ListForUser(ctx context.Context, userID string) ([]model.Purchase, error) {
	owned, err := s.purchases.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	unclaimed, err := s.purchases.ListUnclaimedByEmail(ctx, u.Email)
	if err != nil {
		return nil, err
	}

	if len(unclaimed) > 0 {
		n, err := s.purchases.ClaimForUser(ctx, u.Email, userID)
		if err != nil {
			s.logger.Warn("claiming guest purchases failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		} else {
			s.logger.Info("guest purchases claimed",
				slog.String("user_id", userID),
				slog.Int("count", n),
			)
			for i := range unclaimed {
				unclaimed[i].UserID = &userID
			}
		}
	}

	return mergePurchases(owned, unclaimed), nil
}

// mergePurchases returns the union of a and b keyed by purchase id, newest
// first. Entries in a win over entries in b.
func mergePurchases(a, b []model.Purchase) []model.Purchase {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]model.Purchase, 0, len(a)+len(b))
	for _, list := range [][]model.Purchase{a, b} {
		for _, p := range list {
			if _, dup := seen[p.ID]; dup {
				continue
			}
			seen[p.ID] = struct{}{}
			out = append(out, p)
		}
	}
	return sortNewestFirst(out)
}

func sortNewestFirst(ps []model.Purchase) []model.Purchase {
	sort.SliceStable(ps, func(i, j int) bool {
		return ps[i].PurchasedAt.After(ps[j].PurchasedAt)
	})
	return ps
}
