//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sakif/ebook-storefront/internal/model"
	"github.com/sakif/ebook-storefront/internal/repository"
	repo "github.com/sakif/ebook-storefront/internal/repository/postgres"
)

var dsn string

func TestMain(m *testing.M) {
	ctx := context.Background()
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "password",
				"POSTGRES_DB":       "storefront_test",
			},
			WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	if err != nil {
		panic(err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		panic(err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		panic(err)
	}
	dsn = fmt.Sprintf("postgres://postgres:password@%s:%s/storefront_test?sslmode=disable", host, port.Port())

	code := m.Run()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func openDB(t *testing.T) *repo.DB {
	t.Helper()
	ctx := context.Background()

	var (
		db  *repo.DB
		err error
	)
	// The port can accept connections a moment before postgres is ready.
	for i := 0; i < 20; i++ {
		db, err = repo.Open(ctx, dsn, 10)
		if err == nil {
			break
		}
		time.Sleep(250 * time.Millisecond)
	}
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestLedger_GuestPurchaseIsClaimedOnce(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	p, created, err := db.Purchases().CreateIfAbsent(ctx, repository.NewPurchase{
		CustomerEmail: "Buyer@X.com",
		SessionID:     "sess_integration_claim",
		Amount:        300,
		Currency:      "usd",
		ProductName:   "Guide",
	})
	require.NoError(t, err)
	require.True(t, created)
	require.False(t, p.Claimed())

	u := &model.User{Email: "buyer@x.com", Name: "Buyer"}
	require.NoError(t, db.Users().Create(ctx, u))

	n, err := db.Purchases().ClaimForUser(ctx, "buyer@x.com", u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = db.Purchases().ClaimForUser(ctx, "buyer@x.com", u.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	mine, err := db.Purchases().ListByUser(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, p.ID, mine[0].ID)
}

func TestLedger_ConcurrentCreateIfAbsent(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	const n = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		ids     = map[string]struct{}{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, created, err := db.Purchases().CreateIfAbsent(ctx, repository.NewPurchase{
				CustomerEmail: "race@x.com",
				SessionID:     "sess_integration_race",
				Amount:        300,
				Currency:      "usd",
				ProductName:   "Guide",
			})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if created {
				winners++
			}
			ids[p.ID] = struct{}{}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Len(t, ids, 1)
}

func TestUsers_DuplicateEmailConflicts(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	require.NoError(t, db.Users().Create(ctx, &model.User{Email: "dup@x.com"}))
	err := db.Users().Create(ctx, &model.User{Email: "DUP@x.com"})
	require.Error(t, err)
}
