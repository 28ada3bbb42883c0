package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/affiliatedkat/sourcify/monitor/pkg/cursor"
)

const validConfig = `
LogLevel = "debug"

[Fetcher]
PollInterval = "10s"
MaxConcurrentFetches = 8

[[Gateways]]
Origin = "ipfs"
URL = "http://localhost:8080/ipfs/"

[Cursor]
Type = "sqlite"
Path = "/tmp/cursor.db"

[Verification]
ValidationURL = "http://localhost:5000"
InjectorURL = "http://localhost:5001"

[Monitoring]
Enabled = true
Port = 9191

[[Chains]]
ChainID = 1
RPCURL = "http://localhost:8545"
StartBlock = 100

[[Chains]]
ChainID = 8453
RPCURL = "ws://localhost:8546"
PollInterval = "2s"
MaxBlocksPerPoll = 10
`

func TestLoadFromBytes_Valid(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(validConfig))
	require.NoError(t, err)

	assert.Equal(t, zapcore.DebugLevel, cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.Fetcher.PollInterval.Duration())
	assert.Equal(t, 8, cfg.Fetcher.MaxConcurrentFetches)
	assert.Equal(t, 64, cfg.Fetcher.DeliveryWorkers)
	assert.Equal(t, 30*time.Second, cfg.Fetcher.RequestTimeout.Duration())
	require.Len(t, cfg.Gateways, 1)
	assert.Equal(t, cursor.TypeSQLite, cfg.Cursor.Type)
	assert.Equal(t, time.Minute, cfg.Verification.Timeout.Duration())
	assert.Equal(t, 9191, cfg.Monitoring.Port)

	require.Len(t, cfg.Chains, 2)
	assert.Equal(t, uint64(100), cfg.Chains[0].StartBlock)
	assert.Equal(t, 5*time.Second, cfg.Chains[0].PollInterval.Duration())
	assert.Equal(t, uint64(50), cfg.Chains[0].MaxBlocksPerPoll)
	assert.Equal(t, 2*time.Second, cfg.Chains[1].PollInterval.Duration())
	assert.Equal(t, uint64(10), cfg.Chains[1].MaxBlocksPerPoll)
}

func TestLoadFromBytes_DefaultFetcherInterval(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(`
[Verification]
ValidationURL = "http://v"
InjectorURL = "http://i"

[[Chains]]
ChainID = 1
RPCURL = "http://localhost:8545"
`))
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.Fetcher.PollInterval.Duration())
	assert.Equal(t, cursor.TypeMemory, cfg.Cursor.Type)
}

func TestLoadFromBytes_Invalid(t *testing.T) {
	tests := []struct {
		name string
		toml string
	}{
		{
			name: "no chains",
			toml: `
[Verification]
ValidationURL = "http://v"
InjectorURL = "http://i"
`,
		},
		{
			name: "missing injector url",
			toml: `
[Verification]
ValidationURL = "http://v"

[[Chains]]
ChainID = 1
RPCURL = "http://localhost:8545"
`,
		},
		{
			name: "unknown gateway origin",
			toml: `
[[Gateways]]
Origin = "arweave"
URL = "http://ar/"

[Verification]
ValidationURL = "http://v"
InjectorURL = "http://i"

[[Chains]]
ChainID = 1
RPCURL = "http://localhost:8545"
`,
		},
		{
			name: "sqlite without path",
			toml: `
[Cursor]
Type = "sqlite"

[Verification]
ValidationURL = "http://v"
InjectorURL = "http://i"

[[Chains]]
ChainID = 1
RPCURL = "http://localhost:8545"
`,
		},
		{
			name: "duplicate chain",
			toml: `
[Verification]
ValidationURL = "http://v"
InjectorURL = "http://i"

[[Chains]]
ChainID = 1
RPCURL = "http://a"

[[Chains]]
ChainID = 1
RPCURL = "http://b"
`,
		},
		{
			name: "unknown field",
			toml: `
Bogus = true

[Verification]
ValidationURL = "http://v"
InjectorURL = "http://i"

[[Chains]]
ChainID = 1
RPCURL = "http://localhost:8545"
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.toml))
			require.Error(t, err)
		})
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor.toml")
	require.NoError(t, os.WriteFile(path, []byte(validConfig), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Chains, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestLoad_ExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "..", "cmd", "monitor", "monitor.example.toml"))
	require.NoError(t, err)

	assert.Equal(t, zapcore.InfoLevel, cfg.LogLevel)
	assert.Len(t, cfg.Gateways, 2)
	assert.Equal(t, cursor.TypeSQLite, cfg.Cursor.Type)
	require.Len(t, cfg.Chains, 2)
	assert.Equal(t, uint64(7000000), cfg.Chains[1].StartBlock)
	assert.Equal(t, 5*time.Second, cfg.Chains[1].PollInterval.Duration())
}
