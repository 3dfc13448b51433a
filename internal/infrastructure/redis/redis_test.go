package redis

import (
	"context"
	"testing"
	"time"

	dominv "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/memory"

	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

type RedisSuite struct {
	suite.Suite
	ctx       context.Context
	container *tcredis.RedisContainer
	client    *goredis.Client
}

func TestRedisSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis integration suite in short mode")
	}
	suite.Run(t, new(RedisSuite))
}

func (s *RedisSuite) SetupSuite() {
	s.ctx = context.Background()

	var err error
	s.container, err = tcredis.Run(s.ctx, "redis:7-alpine")
	s.Require().NoError(err)

	uri, err := s.container.ConnectionString(s.ctx)
	s.Require().NoError(err)
	opts, err := goredis.ParseURL(uri)
	s.Require().NoError(err)

	s.client, err = Connect(s.ctx, opts.Addr)
	s.Require().NoError(err)
}

func (s *RedisSuite) TearDownSuite() {
	if s.client != nil {
		_ = s.client.Close()
	}
	if s.container != nil {
		s.Require().NoError(s.container.Terminate(s.ctx))
	}
}

func (s *RedisSuite) SetupTest() {
	s.Require().NoError(s.client.FlushAll(s.ctx).Err())
}

func (s *RedisSuite) TestCatalogReadsThroughAndEvictsOnStockChange() {
	store := memory.NewInventoryRepository()
	p, err := dominv.NewProduct("p-1", "seller-1", "Widget", decimal.RequireFromString("9.99"), 5, 1)
	s.Require().NoError(err)
	store.Seed(p)

	cat := NewCachedCatalog(store, s.client, time.Minute, nil)

	got, err := cat.FindProduct(s.ctx, "p-1")
	s.Require().NoError(err)
	s.Equal(5, got.Inventory.Quantity)
	s.EqualValues(1, s.client.Exists(s.ctx, "product:p-1").Val())

	cached, err := cat.FindProduct(s.ctx, "p-1")
	s.Require().NoError(err)
	s.True(cached.Price.Equal(decimal.RequireFromString("9.99")))

	rec, err := cat.DecrementStock(s.ctx, "p-1", 2)
	s.Require().NoError(err)
	s.Equal(3, rec.Quantity)
	s.EqualValues(0, s.client.Exists(s.ctx, "product:p-1").Val())

	fresh, err := cat.FindProduct(s.ctx, "p-1")
	s.Require().NoError(err)
	s.Equal(3, fresh.Inventory.Quantity)
}

func (s *RedisSuite) TestCatalogPassesThroughNotFound() {
	cat := NewCachedCatalog(memory.NewInventoryRepository(), s.client, time.Minute, nil)

	_, err := cat.FindProduct(s.ctx, "missing")
	s.ErrorIs(err, dominv.ErrNotFound)
	s.EqualValues(0, s.client.Exists(s.ctx, "product:missing").Val())
}

func (s *RedisSuite) TestWebhookDedupClaimsOnce() {
	d := NewWebhookDedup(s.client, time.Minute)

	ok, err := d.Claim(s.ctx, "webhook:pay_1:payment.paid")
	s.Require().NoError(err)
	s.True(ok)

	ok, err = d.Claim(s.ctx, "webhook:pay_1:payment.paid")
	s.Require().NoError(err)
	s.False(ok)

	s.Require().NoError(d.Release(s.ctx, "webhook:pay_1:payment.paid"))
	ok, err = d.Claim(s.ctx, "webhook:pay_1:payment.paid")
	s.Require().NoError(err)
	s.True(ok)
}
