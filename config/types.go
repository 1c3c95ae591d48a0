package config

import (
	"fmt"
	"strings"

	"lendpool/crypto"
	"lendpool/native/fixedpoint"
	"lendpool/native/loandesk"
	"lendpool/native/pool"
)

// Config describes one pool instance: its tokens, role holders, pool
// parameters and loan desk bounds. Percentages are human strings ("12.5"),
// token amounts are whole-token decimal strings.
type Config struct {
	PoolID   string         `toml:"PoolID"`
	Asset    TokenConfig    `toml:"asset"`
	Shares   TokenConfig    `toml:"shares"`
	Roles    RolesConfig    `toml:"roles"`
	Pool     PoolConfig     `toml:"pool"`
	LoanDesk LoanDeskConfig `toml:"loandesk"`
}

// TokenConfig names a ledger. Shares always carry the asset decimals.
type TokenConfig struct {
	Symbol   string `toml:"Symbol"`
	Decimals uint8  `toml:"Decimals,omitempty"`
}

// RolesConfig lists the bech32 addresses granted each role at genesis. The
// asset minter defaults to governance.
type RolesConfig struct {
	Governance       string   `toml:"Governance"`
	Treasury         string   `toml:"Treasury"`
	AssetMinter      string   `toml:"AssetMinter,omitempty"`
	Stakers          []string `toml:"Stakers"`
	Pausers          []string `toml:"Pausers"`
	LenderGovernance []string `toml:"LenderGovernance"`
}

// PoolConfig mirrors pool.Config in file form.
type PoolConfig struct {
	TargetStakePercent           string `toml:"TargetStakePercent"`
	TargetLiquidityPercent       string `toml:"TargetLiquidityPercent"`
	ProtocolFeePercent           string `toml:"ProtocolFeePercent"`
	MaxProtocolFeePercent        string `toml:"MaxProtocolFeePercent"`
	StakerEarnFactor             string `toml:"StakerEarnFactor"`
	StakerEarnFactorMax          string `toml:"StakerEarnFactorMax"`
	MinWithdrawalRequest         string `toml:"MinWithdrawalRequest"`
	StakerInactivityDays         uint64 `toml:"StakerInactivityDays"`
	AllowDepositWithOpenRequests bool   `toml:"AllowDepositWithOpenRequests"`
}

// LoanDeskConfig mirrors loandesk.Params in file form. Periods are days.
type LoanDeskConfig struct {
	MinAmount          string `toml:"MinAmount"`
	MinDurationDays    uint64 `toml:"MinDurationDays"`
	MaxDurationDays    uint64 `toml:"MaxDurationDays"`
	GracePeriodDays    uint64 `toml:"GracePeriodDays"`
	APR                string `toml:"APR"`
	MinGracePeriodDays uint64 `toml:"MinGracePeriodDays"`
	MaxGracePeriodDays uint64 `toml:"MaxGracePeriodDays"`
	LockPeriodDays     uint64 `toml:"LockPeriodDays"`
}

const (
	defaultPoolID   = "main"
	defaultAsset    = "USDC"
	defaultShares   = "LPS"
	defaultDecimals = 6
)

// Default returns the baseline parameters with no role holders.
func Default() *Config {
	cfg := &Config{}
	cfg.EnsureDefaults()
	return cfg
}

// EnsureDefaults fills every unset field with its baseline value.
func (c *Config) EnsureDefaults() {
	if strings.TrimSpace(c.PoolID) == "" {
		c.PoolID = defaultPoolID
	}
	if strings.TrimSpace(c.Asset.Symbol) == "" {
		c.Asset.Symbol = defaultAsset
		if c.Asset.Decimals == 0 {
			c.Asset.Decimals = defaultDecimals
		}
	}
	if strings.TrimSpace(c.Shares.Symbol) == "" {
		c.Shares.Symbol = defaultShares
	}
	c.Shares.Decimals = c.Asset.Decimals
	if c.Roles.Stakers == nil {
		c.Roles.Stakers = []string{}
	}
	if c.Roles.Pausers == nil {
		c.Roles.Pausers = []string{}
	}
	if c.Roles.LenderGovernance == nil {
		c.Roles.LenderGovernance = []string{}
	}

	p := &c.Pool
	setString(&p.TargetStakePercent, "10")
	setString(&p.TargetLiquidityPercent, "0")
	setString(&p.ProtocolFeePercent, "10")
	setString(&p.MaxProtocolFeePercent, "10")
	setString(&p.StakerEarnFactor, "150")
	setString(&p.StakerEarnFactorMax, "500")
	setString(&p.MinWithdrawalRequest, "1")
	setDays(&p.StakerInactivityDays, 90)

	d := &c.LoanDesk
	setString(&d.MinAmount, "100")
	setDays(&d.MinDurationDays, 1)
	setDays(&d.MaxDurationDays, 365)
	setDays(&d.GracePeriodDays, 60)
	setString(&d.APR, "30")
	setDays(&d.MinGracePeriodDays, 3)
	setDays(&d.MaxGracePeriodDays, 365)
	setDays(&d.LockPeriodDays, 7)
}

func setString(field *string, value string) {
	if strings.TrimSpace(*field) == "" {
		*field = value
	} else {
		*field = strings.TrimSpace(*field)
	}
}

func setDays(field *uint64, value uint64) {
	if *field == 0 {
		*field = value
	}
}

// Genesis holds the decoded role holders.
type Genesis struct {
	Governance       crypto.Address
	Treasury         crypto.Address
	AssetMinter      crypto.Address
	Stakers          []crypto.Address
	Pausers          []crypto.Address
	LenderGovernance []crypto.Address
}

// Genesis decodes the role addresses.
func (c *Config) Genesis() (*Genesis, error) {
	out := &Genesis{}
	var err error
	if out.Governance, err = decodeAddress("roles.Governance", c.Roles.Governance); err != nil {
		return nil, err
	}
	if out.Treasury, err = decodeAddress("roles.Treasury", c.Roles.Treasury); err != nil {
		return nil, err
	}
	out.AssetMinter = out.Governance
	if strings.TrimSpace(c.Roles.AssetMinter) != "" {
		if out.AssetMinter, err = decodeAddress("roles.AssetMinter", c.Roles.AssetMinter); err != nil {
			return nil, err
		}
	}
	if out.Stakers, err = decodeAddresses("roles.Stakers", c.Roles.Stakers); err != nil {
		return nil, err
	}
	if out.Pausers, err = decodeAddresses("roles.Pausers", c.Roles.Pausers); err != nil {
		return nil, err
	}
	if out.LenderGovernance, err = decodeAddresses("roles.LenderGovernance", c.Roles.LenderGovernance); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeAddress(field, value string) (crypto.Address, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return crypto.Address{}, fmt.Errorf("%s must be set", field)
	}
	addr, err := crypto.DecodeAddress(value)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%s: %w", field, err)
	}
	return addr, nil
}

func decodeAddresses(field string, values []string) ([]crypto.Address, error) {
	out := make([]crypto.Address, 0, len(values))
	for i, value := range values {
		addr, err := decodeAddress(fmt.Sprintf("%s[%d]", field, i), value)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

// PoolParams converts the pool section into engine parameters.
func (c *Config) PoolParams() (pool.Config, error) {
	p := c.Pool
	out := pool.Config{
		StakerInactivityPeriod:       p.StakerInactivityDays * loandesk.Day,
		AllowDepositWithOpenRequests: p.AllowDepositWithOpenRequests,
	}
	percents := []struct {
		field string
		value string
		dst   *fixedpoint.Percent
	}{
		{"pool.TargetStakePercent", p.TargetStakePercent, &out.TargetStakePercent},
		{"pool.TargetLiquidityPercent", p.TargetLiquidityPercent, &out.TargetLiquidityPercent},
		{"pool.ProtocolFeePercent", p.ProtocolFeePercent, &out.ProtocolFeePercent},
		{"pool.MaxProtocolFeePercent", p.MaxProtocolFeePercent, &out.MaxProtocolFeePercent},
		{"pool.StakerEarnFactor", p.StakerEarnFactor, &out.StakerEarnFactor},
		{"pool.StakerEarnFactorMax", p.StakerEarnFactorMax, &out.StakerEarnFactorMax},
	}
	for _, pc := range percents {
		v, err := fixedpoint.ParsePercent(pc.value)
		if err != nil {
			return pool.Config{}, fmt.Errorf("%s: %w", pc.field, err)
		}
		*pc.dst = v
	}
	minRequest, err := fixedpoint.ParseUnits(p.MinWithdrawalRequest, c.Asset.Decimals)
	if err != nil {
		return pool.Config{}, fmt.Errorf("pool.MinWithdrawalRequest: %w", err)
	}
	out.MinWithdrawalRequest = minRequest
	return out, nil
}

// DeskParams converts the loan desk section into engine parameters.
func (c *Config) DeskParams() (loandesk.Params, error) {
	d := c.LoanDesk
	minAmount, err := fixedpoint.ParseUnits(d.MinAmount, c.Asset.Decimals)
	if err != nil {
		return loandesk.Params{}, fmt.Errorf("loandesk.MinAmount: %w", err)
	}
	apr, err := fixedpoint.ParsePercent(d.APR)
	if err != nil {
		return loandesk.Params{}, fmt.Errorf("loandesk.APR: %w", err)
	}
	return loandesk.Params{
		Template: loandesk.Template{
			MinAmount:   minAmount,
			MinDuration: d.MinDurationDays * loandesk.Day,
			MaxDuration: d.MaxDurationDays * loandesk.Day,
			GracePeriod: d.GracePeriodDays * loandesk.Day,
			APR:         apr,
		},
		MinGracePeriod: d.MinGracePeriodDays * loandesk.Day,
		MaxGracePeriod: d.MaxGracePeriodDays * loandesk.Day,
		LockPeriod:     d.LockPeriodDays * loandesk.Day,
	}, nil
}
