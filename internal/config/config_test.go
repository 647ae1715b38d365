package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, DriverMySQL, cfg.Database.Driver)
	assert.Equal(t, 2*time.Minute, cfg.Routing.ReservationTTL)
	assert.Equal(t, 10*time.Second, cfg.Settlement.GatewayTimeout)
	assert.Equal(t, 3, cfg.Settlement.MaxAttempts)
	assert.Equal(t, uint32(5), cfg.Gateway.Breaker.ConsecutiveFailures)
	assert.Equal(t, "proxypay.order.result", cfg.Kafka.Topic.OrderResult)
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
database:
  driver: postgres
  port: 5432
settlement:
  gateway_timeout: 3s
routing:
  reservation_ttl: 45s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("PROXYPAY_SETTLEMENT_MAX_ATTEMPTS", "7")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 3*time.Second, cfg.Settlement.GatewayTimeout)
	assert.Equal(t, 45*time.Second, cfg.Routing.ReservationTTL)
	assert.Equal(t, 7, cfg.Settlement.MaxAttempts)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("PROXYPAY_DATABASE_DRIVER", "oracle")
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
