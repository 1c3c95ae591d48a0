package config

import (
	"fmt"
	"strings"
)

// MaxDecimals bounds token precision so that whole-token amounts stay well
// inside 256 bits.
const MaxDecimals = 36

// Validate checks every section and the role addresses.
func (c *Config) Validate() error {
	if strings.ContainsAny(c.PoolID, "/ \t") {
		return fmt.Errorf("PoolID %q must not contain slashes or spaces", c.PoolID)
	}
	if c.Asset.Decimals > MaxDecimals {
		return fmt.Errorf("asset.Decimals %d exceeds %d", c.Asset.Decimals, MaxDecimals)
	}
	if strings.EqualFold(c.Asset.Symbol, c.Shares.Symbol) {
		return fmt.Errorf("asset and shares must use different symbols")
	}
	genesis, err := c.Genesis()
	if err != nil {
		return err
	}
	if genesis.Governance == genesis.Treasury {
		return fmt.Errorf("roles.Treasury must differ from roles.Governance")
	}
	poolParams, err := c.PoolParams()
	if err != nil {
		return err
	}
	if err := poolParams.Validate(); err != nil {
		return err
	}
	if c.Pool.StakerInactivityDays == 0 {
		return fmt.Errorf("pool.StakerInactivityDays must be positive")
	}
	deskParams, err := c.DeskParams()
	if err != nil {
		return err
	}
	return deskParams.Validate()
}
