package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func baseEnv() map[string]string {
	return map[string]string{
		"DATABASE_URL": "postgres://localhost/checkout",
		"REDIS_URL":    "redis://localhost:6379/0",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadForTests(baseEnv())
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.Equal(t, "IDR", cfg.Currency)
	require.Equal(t, int32(0), cfg.CurrencyScale)
	require.Equal(t, "0.3", cfg.AdvanceRatio.String())
	require.Equal(t, 168*time.Hour, cfg.CartTTL)
	require.Equal(t, 15*time.Second, cfg.GatewayTimeout)
	require.Equal(t, 10*time.Second, cfg.CommitTimeout)
	require.Equal(t, "midtrans", cfg.PaymentProvider)
	require.Equal(t, "10-M", cfg.RateLimitCheckout)
	require.False(t, cfg.ReconcileEnabled)
	require.True(t, cfg.AutoMigrate)
	require.Equal(t, "json", cfg.Obs.LogFormat)
}

func TestLoadOverrides(t *testing.T) {
	env := baseEnv()
	env["PORT"] = ":9000"
	env["CURRENCY_CODE"] = "usd"
	env["CURRENCY_SCALE"] = "2"
	env["ADVANCE_RATIO"] = "0.5"
	env["GATEWAY_TIMEOUT"] = "3s"
	env["PAYMENT_PROVIDER"] = "Xendit"
	env["RECONCILE_ENABLED"] = "true"
	env["CORS_ALLOWED_ORIGINS"] = "https://shop.example, https://admin.example"
	env["ORDER_API_URL"] = "http://orders.internal/"

	cfg, err := LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.HTTPAddr())
	require.Equal(t, "USD", cfg.Currency)
	require.Equal(t, int32(2), cfg.CurrencyScale)
	require.Equal(t, "0.5", cfg.AdvanceRatio.String())
	require.Equal(t, 3*time.Second, cfg.GatewayTimeout)
	require.Equal(t, "xendit", cfg.PaymentProvider)
	require.True(t, cfg.ReconcileEnabled)
	require.Equal(t, []string{"https://shop.example", "https://admin.example"}, cfg.CORSAllowedOrigins)
	require.Equal(t, "http://orders.internal", cfg.OrderAPIURL)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]map[string]string{
		"missing database": {"DATABASE_URL": "", "REDIS_URL": "redis://localhost"},
		"missing redis":    {"DATABASE_URL": "postgres://localhost/x", "REDIS_URL": ""},
		"ratio above one":  {"DATABASE_URL": "postgres://localhost/x", "REDIS_URL": "redis://localhost", "ADVANCE_RATIO": "1.5"},
		"ratio not number": {"DATABASE_URL": "postgres://localhost/x", "REDIS_URL": "redis://localhost", "ADVANCE_RATIO": "half"},
		"unknown provider": {"DATABASE_URL": "postgres://localhost/x", "REDIS_URL": "redis://localhost", "PAYMENT_PROVIDER": "paypal"},
		"scale too large":  {"DATABASE_URL": "postgres://localhost/x", "REDIS_URL": "redis://localhost", "CURRENCY_SCALE": "9"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadForTests(env)
			require.Error(t, err)
		})
	}
}

func TestParseHelpers(t *testing.T) {
	require.Equal(t, time.Minute, parseDuration("bogus", "1m"))
	require.True(t, parseBool("", true))
	require.False(t, parseBool("off", true))
	require.Equal(t, 7, parseInt(" 7 ", 1))
	require.Equal(t, 0.25, parseFloat("x", 0.25))
}
