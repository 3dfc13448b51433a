package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, "sandbox", cfg.Gateway.Mode)
	assert.Equal(t, "SAR", cfg.Checkout.Currency)
	assert.Equal(t, time.Minute, cfg.Reconciler.SweepInterval)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Empty(t, cfg.Postgres.URL)
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  name: checkout-test
checkout:
  currency: USD
  shipping_rate: "12.50"
gateway:
  mode: http
  secret_key: sk_test
`), 0o600))
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "checkout-test", cfg.App.Name)
	assert.Equal(t, "USD", cfg.Checkout.Currency)
	rate, err := cfg.Checkout.ShippingAmount()
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("12.5")))
}

func TestValidate(t *testing.T) {
	base := Config{Gateway: Gateway{Mode: "sandbox"}, Checkout: Checkout{ShippingRate: "0"}}
	require.NoError(t, base.Validate())

	noKey := base
	noKey.Gateway.Mode = "http"
	assert.Error(t, noKey.Validate())

	badMode := base
	badMode.Gateway.Mode = "paypal"
	assert.Error(t, badMode.Validate())

	badRate := base
	badRate.Checkout.ShippingRate = "-1"
	assert.Error(t, badRate.Validate())
}
