package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"lendpool/crypto"
	"lendpool/native/fixedpoint"
	"lendpool/native/loandesk"
)

func testAddress(b byte) string {
	return crypto.BytesToAddress([]byte{0x30, b}).String()
}

func validConfig() *Config {
	cfg := Default()
	cfg.Roles.Governance = testAddress(1)
	cfg.Roles.Treasury = testAddress(2)
	cfg.Roles.Stakers = []string{testAddress(3)}
	return cfg
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params", "pool.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "main", cfg.PoolID)
	require.Equal(t, uint8(6), cfg.Shares.Decimals)
	_, err = os.Stat(path)
	require.NoError(t, err)

	// The default has no governance and cannot be deployed as is.
	require.ErrorContains(t, cfg.Validate(), "roles.Governance must be set")
}

func TestLoadParsesParameters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.toml")
	contents := fmt.Sprintf(`PoolID = "alpha"

[asset]
Symbol = "usdt"
Decimals = 2

[shares]
Symbol = "aLP"

[roles]
Governance = "%s"
Treasury = "%s"
Stakers = ["%s"]
LenderGovernance = ["%s"]

[pool]
TargetStakePercent = "12.5"
ProtocolFeePercent = "5"
MinWithdrawalRequest = "0.5"
StakerInactivityDays = 30

[loandesk]
MinAmount = "250"
APR = "18"
LockPeriodDays = 2
`, testAddress(1), testAddress(2), testAddress(3), testAddress(4))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "alpha", cfg.PoolID)
	require.Equal(t, uint8(2), cfg.Shares.Decimals)

	genesis, err := cfg.Genesis()
	require.NoError(t, err)
	require.Equal(t, genesis.Governance, genesis.AssetMinter)
	require.Len(t, genesis.Stakers, 1)
	require.Len(t, genesis.LenderGovernance, 1)
	require.Empty(t, genesis.Pausers)

	poolParams, err := cfg.PoolParams()
	require.NoError(t, err)
	require.Equal(t, fixedpoint.Percent(125), poolParams.TargetStakePercent)
	require.Equal(t, fixedpoint.PercentOf(5), poolParams.ProtocolFeePercent)
	require.Equal(t, fixedpoint.PercentOf(150), poolParams.StakerEarnFactor)
	require.Equal(t, uint64(50), poolParams.MinWithdrawalRequest.Uint64())
	require.Equal(t, 30*loandesk.Day, poolParams.StakerInactivityPeriod)

	deskParams, err := cfg.DeskParams()
	require.NoError(t, err)
	require.Equal(t, uint64(25_000), deskParams.Template.MinAmount.Uint64())
	require.Equal(t, fixedpoint.PercentOf(18), deskParams.Template.APR)
	require.Equal(t, 2*loandesk.Day, deskParams.LockPeriod)
	require.Equal(t, 60*loandesk.Day, deskParams.Template.GracePeriod)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.toml")
	require.NoError(t, os.WriteFile(path, []byte("PoolID = \"x\"\nColour = \"blue\"\n"), 0o644))

	_, err := Load(path)
	require.ErrorContains(t, err, "Colour")
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.toml")
	cfg := validConfig()
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"pool id", func(c *Config) { c.PoolID = "a/b" }, "PoolID"},
		{"decimals", func(c *Config) { c.Asset.Decimals = 40 }, "asset.Decimals"},
		{"symbols", func(c *Config) { c.Shares.Symbol = "usdc" }, "different symbols"},
		{"treasury", func(c *Config) { c.Roles.Treasury = "" }, "roles.Treasury must be set"},
		{"treasury is governance", func(c *Config) { c.Roles.Treasury = c.Roles.Governance }, "must differ"},
		{"bad staker", func(c *Config) { c.Roles.Stakers = []string{"nope"} }, "roles.Stakers[0]"},
		{"percent syntax", func(c *Config) { c.Pool.TargetStakePercent = "ten" }, "pool.TargetStakePercent"},
		{"fee above max", func(c *Config) { c.Pool.ProtocolFeePercent = "20" }, "protocol fee"},
		{"earn factor", func(c *Config) { c.Pool.StakerEarnFactor = "90" }, "staker earn factor"},
		{"min request precision", func(c *Config) { c.Pool.MinWithdrawalRequest = "0.0000001" }, "pool.MinWithdrawalRequest"},
		{"grace bounds", func(c *Config) { c.LoanDesk.GracePeriodDays = 400 }, "grace period"},
		{"duration range", func(c *Config) { c.LoanDesk.MinDurationDays = 400 }, "duration range"},
		{"apr", func(c *Config) { c.LoanDesk.APR = "101" }, "apr"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			require.ErrorContains(t, cfg.Validate(), tc.want)
		})
	}
}
