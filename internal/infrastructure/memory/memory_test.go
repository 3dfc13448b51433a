package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	dominv "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecrementStockNeverOversells(t *testing.T) {
	repo := NewInventoryRepository()
	p, err := dominv.NewProduct("p1", "s1", "Beans", decimal.NewFromInt(10), 10, 0)
	require.NoError(t, err)
	repo.Seed(p)

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		rejected  atomic.Int32
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.DecrementStock(context.Background(), "p1", 1)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, dominv.ErrInsufficientStock):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), succeeded.Load())
	assert.Equal(t, int32(40), rejected.Load())

	got, err := repo.FindProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Inventory.Quantity)
	assert.False(t, got.Inventory.InStock)
}

func TestIncrementStockUnknownProduct(t *testing.T) {
	repo := NewInventoryRepository()
	_, err := repo.IncrementStock(context.Background(), "missing", 1)
	assert.ErrorIs(t, err, dominv.ErrNotFound)
}

func TestFindProductReturnsCopy(t *testing.T) {
	repo := NewInventoryRepository()
	p, err := dominv.NewProduct("p1", "s1", "Beans", decimal.NewFromInt(10), 3, 0)
	require.NoError(t, err)
	repo.Seed(p)

	got, err := repo.FindProduct(context.Background(), "p1")
	require.NoError(t, err)
	got.Inventory.Quantity = 99

	again, err := repo.FindProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, again.Inventory.Quantity)
}

func newOrder(t *testing.T, id, number string) *domorder.Order {
	t.Helper()
	it, err := domorder.NewItem("", "p1", "Beans", "", 1, decimal.NewFromInt(10))
	require.NoError(t, err)
	items := []domorder.Item{it}
	o, err := domorder.New(id, number, "b1", "s1", "SAR", items,
		domorder.NewPricing(items, decimal.Zero, decimal.Zero),
		domorder.ShippingAddress{Line1: "l1", City: "Riyadh", Country: "SA"})
	require.NoError(t, err)
	return o
}

func TestOrderTransitionIsConditional(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()
	require.NoError(t, repo.Insert(ctx, newOrder(t, "o1", "ORD-1")))
	assert.ErrorIs(t, repo.Insert(ctx, newOrder(t, "o2", "ORD-1")), domorder.ErrDuplicateOrderNumber)

	var (
		wg  sync.WaitGroup
		won atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.TransitionStatus(ctx, "o1", domorder.StatusPending, domorder.StatusUpdate{Status: domorder.StatusCancelled})
			if err == nil {
				won.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), won.Load())

	_, err := repo.TransitionStatus(ctx, "o1", domorder.StatusPending, domorder.StatusUpdate{Status: domorder.StatusConfirmed})
	assert.ErrorIs(t, err, domorder.ErrStatusConflict)
}

func TestOrderFindManyPaginates(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()
	for i, n := range []string{"ORD-1", "ORD-2", "ORD-3"} {
		o := newOrder(t, n, n)
		o.CreatedAt = time.Now().Add(time.Duration(i) * time.Second)
		require.NoError(t, repo.Insert(ctx, o))
	}

	page, total, err := repo.FindMany(ctx, domorder.Filter{BuyerID: "b1", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 2)
	assert.Equal(t, "ORD-3", page[0].Number)

	page, _, err = repo.FindMany(ctx, domorder.Filter{BuyerID: "b1", Limit: 2, Offset: 5})
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestTransactionSinglePendingPerOrder(t *testing.T) {
	repo := NewTransactionRepository()
	ctx := context.Background()

	tx, err := dompay.NewTransaction("t1", "o1", "pay_1", decimal.NewFromInt(10), "SAR", dompay.MethodCreditCard)
	require.NoError(t, err)
	require.NoError(t, repo.Insert(ctx, tx))

	dup, err := dompay.NewTransaction("t2", "o1", "pay_2", decimal.NewFromInt(10), "SAR", dompay.MethodCreditCard)
	require.NoError(t, err)
	assert.ErrorIs(t, repo.Insert(ctx, dup), dompay.ErrPendingExists)

	got, err := repo.FindByExternalID(ctx, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.ID)

	_, err = repo.Transition(ctx, "t1", dompay.StatusPending, dompay.Update{Status: dompay.StatusCompleted})
	require.NoError(t, err)
	_, err = repo.Transition(ctx, "t1", dompay.StatusPending, dompay.Update{Status: dompay.StatusFailed})
	assert.ErrorIs(t, err, dompay.ErrStatusConflict)
}

func TestDeduplicatorClaimRelease(t *testing.T) {
	d := NewDeduplicator()
	ctx := context.Background()

	ok, err := d.Claim(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = d.Claim(ctx, "evt-1")
	assert.False(t, ok)

	require.NoError(t, d.Release(ctx, "evt-1"))
	ok, _ = d.Claim(ctx, "evt-1")
	assert.True(t, ok)
}
