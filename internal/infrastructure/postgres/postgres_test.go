package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	dominv "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

type RepositorySuite struct {
	suite.Suite
	ctx       context.Context
	container *tcpostgres.PostgresContainer
	pool      *pgxpool.Pool

	orders    *OrderRepository
	inventory *InventoryRepository
	txs       *TransactionRepository
}

func TestRepositorySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres integration suite in short mode")
	}
	suite.Run(t, new(RepositorySuite))
}

func (s *RepositorySuite) SetupSuite() {
	s.ctx = context.Background()

	var err error
	s.container, err = tcpostgres.Run(s.ctx,
		"postgres:17-alpine",
		tcpostgres.WithDatabase("checkout_test"),
		tcpostgres.WithUsername("test_user"),
		tcpostgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)

	url, err := s.container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)
	s.Require().NoError(Migrate(url))

	s.pool, err = Connect(s.ctx, Options{URL: url, MaxConns: 20})
	s.Require().NoError(err)

	s.orders = NewOrderRepository(s.pool)
	s.inventory = NewInventoryRepository(s.pool)
	s.txs = NewTransactionRepository(s.pool)
}

func (s *RepositorySuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.container != nil {
		s.Require().NoError(s.container.Terminate(s.ctx))
	}
}

func (s *RepositorySuite) SetupTest() {
	_, err := s.pool.Exec(s.ctx, `TRUNCATE transactions, order_items, orders, products CASCADE`)
	s.Require().NoError(err)
}

func (s *RepositorySuite) seedProduct(id string, qty int) {
	p, err := dominv.NewProduct(id, "seller-1", "Widget", decimal.RequireFromString("10.50"), qty, 2)
	s.Require().NoError(err)
	p.NameAr = "أداة"
	s.Require().NoError(s.inventory.Upsert(s.ctx, p))
}

func (s *RepositorySuite) newOrder(number string) *domorder.Order {
	item, err := domorder.NewItem(uuid.NewString(), "p-1", "Widget", "أداة", 2, decimal.RequireFromString("10.50"))
	s.Require().NoError(err)
	items := []domorder.Item{item}
	o, err := domorder.New(uuid.NewString(), number, "buyer-1", "seller-1", "SAR", items,
		domorder.NewPricing(items, decimal.RequireFromString("5"), decimal.Zero),
		domorder.ShippingAddress{FullName: "A B", Line1: "1 Main", City: "Riyadh", Country: "SA"},
	)
	s.Require().NoError(err)
	return o
}

func (s *RepositorySuite) TestProductRoundTrip() {
	s.seedProduct("p-1", 5)

	p, err := s.inventory.FindProduct(s.ctx, "p-1")
	s.Require().NoError(err)
	s.Equal("seller-1", p.SellerID)
	s.Equal("أداة", p.NameAr)
	s.True(p.Price.Equal(decimal.RequireFromString("10.50")))
	s.Equal(5, p.Inventory.Quantity)
	s.True(p.Inventory.InStock)

	_, err = s.inventory.FindProduct(s.ctx, "missing")
	s.ErrorIs(err, dominv.ErrNotFound)
}

func (s *RepositorySuite) TestDecrementKeepsInStockInSync() {
	s.seedProduct("p-1", 3)

	rec, err := s.inventory.DecrementStock(s.ctx, "p-1", 3)
	s.Require().NoError(err)
	s.Equal(0, rec.Quantity)
	s.False(rec.InStock)

	_, err = s.inventory.DecrementStock(s.ctx, "p-1", 1)
	var insufficient *dominv.InsufficientStockError
	s.Require().True(errors.As(err, &insufficient))
	s.Equal(0, insufficient.Available)

	rec, err = s.inventory.IncrementStock(s.ctx, "p-1", 4)
	s.Require().NoError(err)
	s.Equal(4, rec.Quantity)
	s.True(rec.InStock)

	_, err = s.inventory.DecrementStock(s.ctx, "missing", 1)
	s.ErrorIs(err, dominv.ErrNotFound)
}

func (s *RepositorySuite) TestConcurrentDecrementsNeverOversell() {
	s.seedProduct("p-1", 10)

	const workers = 25
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.inventory.DecrementStock(s.ctx, "p-1", 1); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	s.Equal(10, accepted)
	p, err := s.inventory.FindProduct(s.ctx, "p-1")
	s.Require().NoError(err)
	s.Equal(0, p.Inventory.Quantity)
	s.False(p.Inventory.InStock)
}

func (s *RepositorySuite) TestOrderInsertAndFind() {
	o := s.newOrder("ORD-20240101000000-ABCDEF")
	s.Require().NoError(s.orders.Insert(s.ctx, o))

	got, err := s.orders.FindByID(s.ctx, o.ID)
	s.Require().NoError(err)
	s.Equal(o.Number, got.Number)
	s.Equal(domorder.StatusPending, got.Status)
	s.True(got.Total.Equal(decimal.RequireFromString("26")))
	s.Require().Len(got.Items, 1)
	s.Equal(2, got.Items[0].Quantity)
	s.Equal("Riyadh", got.ShippingAddress.City)
	s.NoError(got.Validate())

	byNumber, err := s.orders.FindByOrderNumber(s.ctx, o.Number)
	s.Require().NoError(err)
	s.Equal(o.ID, byNumber.ID)

	dup := s.newOrder(o.Number)
	s.ErrorIs(s.orders.Insert(s.ctx, dup), domorder.ErrDuplicateOrderNumber)
}

func (s *RepositorySuite) TestTransitionStatusIsConditional() {
	o := s.newOrder("ORD-20240101000000-000001")
	s.Require().NoError(s.orders.Insert(s.ctx, o))

	tracking := "TRK-1"
	got, err := s.orders.TransitionStatus(s.ctx, o.ID, domorder.StatusPending, domorder.StatusUpdate{
		Status:         domorder.StatusConfirmed,
		TrackingNumber: &tracking,
	})
	s.Require().NoError(err)
	s.Equal(domorder.StatusConfirmed, got.Status)
	s.Require().NotNil(got.TrackingNumber)
	s.Equal(tracking, *got.TrackingNumber)

	_, err = s.orders.TransitionStatus(s.ctx, o.ID, domorder.StatusPending, domorder.StatusUpdate{Status: domorder.StatusCancelled})
	s.ErrorIs(err, domorder.ErrStatusConflict)

	_, err = s.orders.TransitionStatus(s.ctx, "missing", domorder.StatusPending, domorder.StatusUpdate{Status: domorder.StatusCancelled})
	s.ErrorIs(err, domorder.ErrNotFound)
}

func (s *RepositorySuite) TestFindManyPagesNewestFirst() {
	for i, n := range []string{"ORD-1", "ORD-2", "ORD-3"} {
		o := s.newOrder(n)
		o.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Minute)
		s.Require().NoError(s.orders.Insert(s.ctx, o))
	}

	page, total, err := s.orders.FindMany(s.ctx, domorder.Filter{BuyerID: "buyer-1", Limit: 2})
	s.Require().NoError(err)
	s.Equal(3, total)
	s.Require().Len(page, 2)
	s.Equal("ORD-3", page[0].Number)
	s.Len(page[0].Items, 1)

	page, total, err = s.orders.FindMany(s.ctx, domorder.Filter{SellerID: "seller-1", Status: domorder.StatusShipped})
	s.Require().NoError(err)
	s.Zero(total)
	s.Empty(page)
}

func (s *RepositorySuite) TestOnePendingTransactionPerOrder() {
	o := s.newOrder("ORD-PAY-1")
	s.Require().NoError(s.orders.Insert(s.ctx, o))

	tx, err := dompay.NewTransaction(uuid.NewString(), o.ID, "pay_1", o.Total, "SAR", dompay.MethodCreditCard)
	s.Require().NoError(err)
	s.Require().NoError(s.txs.Insert(s.ctx, tx))

	second, err := dompay.NewTransaction(uuid.NewString(), o.ID, "pay_2", o.Total, "SAR", dompay.MethodCreditCard)
	s.Require().NoError(err)
	s.ErrorIs(s.txs.Insert(s.ctx, second), dompay.ErrPendingExists)

	done, err := s.txs.Transition(s.ctx, tx.ID, dompay.StatusPending, dompay.Update{Status: dompay.StatusCompleted})
	s.Require().NoError(err)
	s.Equal(dompay.StatusCompleted, done.Status)

	_, err = s.txs.Transition(s.ctx, tx.ID, dompay.StatusPending, dompay.Update{Status: dompay.StatusFailed})
	s.ErrorIs(err, dompay.ErrStatusConflict)

	byExternal, err := s.txs.FindByExternalID(s.ctx, "pay_1")
	s.Require().NoError(err)
	s.Equal(tx.ID, byExternal.ID)

	s.Require().NoError(s.txs.Insert(s.ctx, second))
	pending, err := s.txs.FindPendingByOrder(s.ctx, o.ID)
	s.Require().NoError(err)
	s.Equal(second.ID, pending.ID)

	completed, err := s.txs.ListByStatus(s.ctx, dompay.StatusCompleted, time.Now().Add(-time.Hour), time.Now().Add(time.Hour), 10)
	s.Require().NoError(err)
	s.Require().Len(completed, 1)
	s.Equal(tx.ID, completed[0].ID)
}
