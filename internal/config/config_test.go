package config

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SAFE_ADDRESS", "0x5afe5afe5afe5afe5afe5afe5afe5afe5afe5afe")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, common.HexToAddress("0x5afe5afe5afe5afe5afe5afe5afe5afe5afe5afe"), cfg.Safe.Address)
	assert.Equal(t, "1.3.0", cfg.Safe.Version)
	assert.Equal(t, "http://localhost:8545", cfg.Chain.RPCURL)
	assert.Equal(t, uint64(1), cfg.Chain.ChainID)
	assert.Equal(t, 10.0, cfg.Chain.RateLimitRPS)
	assert.Equal(t, 20, cfg.Chain.RateBurst)
	assert.Equal(t, 30*time.Second, cfg.Reconcile.Interval)
	assert.Empty(t, cfg.DB.URL, "audit persistence disabled by default")
	assert.Equal(t, 8080, cfg.Server.MetricsPort)
	assert.Equal(t, 5*time.Minute, cfg.Alert.Cooldown)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Tracing.Insecure)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SAFE_ADDRESS", "0x5afe5afe5afe5afe5afe5afe5afe5afe5afe5afe")
	t.Setenv("CHAIN_ID", "11155111")
	t.Setenv("ETH_RPC_URL", "https://rpc.sepolia.example")
	t.Setenv("TRANSACTION_SERVICE_URL", "http://tx.internal")
	t.Setenv("RECONCILE_INTERVAL_SEC", "10")
	t.Setenv("RPC_RATE_LIMIT_RPS", "2.5")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, uint64(11155111), cfg.Chain.ChainID)
	assert.Equal(t, "https://rpc.sepolia.example", cfg.Chain.RPCURL)
	assert.Equal(t, "http://tx.internal", cfg.TxService.URLOverride)
	assert.Equal(t, 10*time.Second, cfg.Reconcile.Interval)
	assert.Equal(t, 2.5, cfg.Chain.RateLimitRPS)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_RequiresSafeAddress(t *testing.T) {
	t.Setenv("SAFE_ADDRESS", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SAFE_ADDRESS")
}

func TestLoad_RejectsZeroChainID(t *testing.T) {
	t.Setenv("SAFE_ADDRESS", "0x5afe5afe5afe5afe5afe5afe5afe5afe5afe5afe")
	t.Setenv("CHAIN_ID", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHAIN_ID")
}
