package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// Config is the top-level daemon configuration loaded from TOML.
type Config struct {
	Gateway    Gateway    `toml:"gateway"`
	Log        Log        `toml:"log"`
	Storage    Storage    `toml:"storage"`
	Loan       Loan       `toml:"loan"`
	Collateral Collateral `toml:"collateral"`
	Oracle     Oracle     `toml:"oracle"`
}

// Gateway configures the HTTP surface.
type Gateway struct {
	ListenAddress   string   `toml:"listen_address"`
	ReadTimeoutSec  int      `toml:"read_timeout_seconds"`
	WriteTimeoutSec int      `toml:"write_timeout_seconds"`
	AdminAddresses  []string `toml:"admin_addresses"`
}

// Log configures structured logging output.
type Log struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	FilePath   string `toml:"file_path"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Storage configures the LevelDB database.
type Storage struct {
	Path string `toml:"path"`
}

// Loan configures the lending policy.
type Loan struct {
	Treasury               string `toml:"treasury"`
	MinLoan                int64  `toml:"min_loan"`
	MaxLoan                int64  `toml:"max_loan"`
	BaseRateBps            uint64 `toml:"base_rate_bps"`
	UnsecuredTermDays      uint64 `toml:"unsecured_term_days"`
	CollateralizedTermDays uint64 `toml:"collateralized_term_days"`
	CollateralRatioBps     uint64 `toml:"collateral_ratio_bps"`
	DefaultCollateralAsset string `toml:"default_collateral_asset"`
}

// Collateral configures the custody policy.
type Collateral struct {
	Custody                 string `toml:"custody"`
	LiquidationThresholdBps uint64 `toml:"liquidation_threshold_bps"`
	LiquidationPenaltyBps   uint64 `toml:"liquidation_penalty_bps"`
	MinLockValueUSD         int64  `toml:"min_lock_value_usd"`
	SeedDefaultAssets       bool   `toml:"seed_default_assets"`
}

// Oracle configures price feed aggregation.
type Oracle struct {
	Priority          []string          `toml:"priority"`
	MaxAgeSec         int               `toml:"max_age_seconds"`
	CoinGeckoEndpoint string            `toml:"coingecko_endpoint"`
	CoinGeckoIDs      map[string]string `toml:"coingecko_ids"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Gateway: Gateway{
			ListenAddress:   ":8545",
			ReadTimeoutSec:  15,
			WriteTimeoutSec: 15,
		},
		Log: Log{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Storage: Storage{Path: "swave.db"},
		Loan: Loan{
			MinLoan:                1_000_000,
			MaxLoan:                1_000_000_000_000,
			BaseRateBps:            500,
			UnsecuredTermDays:      90,
			CollateralizedTermDays: 120,
			CollateralRatioBps:     15_000,
			DefaultCollateralAsset: "XLM",
		},
		Collateral: Collateral{
			LiquidationThresholdBps: 8_000,
			LiquidationPenaltyBps:   500,
			MinLockValueUSD:         10_000_000,
			SeedDefaultAssets:       true,
		},
		Oracle: Oracle{
			Priority:  []string{"manual", "coingecko"},
			MaxAgeSec: 300,
		},
	}
}

// Load reads the TOML file at path on top of the defaults. An empty path
// yields the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, cfg.Validate()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalise()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Normalise trims string fields and canonicalises enumerations.
func (c *Config) Normalise() {
	c.Gateway.ListenAddress = strings.TrimSpace(c.Gateway.ListenAddress)
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	c.Storage.Path = strings.TrimSpace(c.Storage.Path)
	c.Loan.Treasury = strings.TrimSpace(c.Loan.Treasury)
	c.Loan.DefaultCollateralAsset = strings.ToUpper(strings.TrimSpace(c.Loan.DefaultCollateralAsset))
	c.Collateral.Custody = strings.TrimSpace(c.Collateral.Custody)
	for i, entry := range c.Oracle.Priority {
		c.Oracle.Priority[i] = strings.ToLower(strings.TrimSpace(entry))
	}
	for i, entry := range c.Gateway.AdminAddresses {
		c.Gateway.AdminAddresses[i] = strings.TrimSpace(entry)
	}
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Gateway.ListenAddress == "" {
		return fmt.Errorf("config: gateway listen_address required")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("config: storage path required")
	}
	if c.Loan.MinLoan <= 0 || c.Loan.MaxLoan < c.Loan.MinLoan {
		return fmt.Errorf("config: invalid loan amount range [%d, %d]", c.Loan.MinLoan, c.Loan.MaxLoan)
	}
	if c.Loan.UnsecuredTermDays == 0 || c.Loan.CollateralizedTermDays == 0 {
		return fmt.Errorf("config: loan terms must be positive")
	}
	if c.Loan.CollateralRatioBps == 0 {
		return fmt.Errorf("config: collateral_ratio_bps must be positive")
	}
	if c.Collateral.LiquidationThresholdBps == 0 || c.Collateral.LiquidationThresholdBps > 10_000 {
		return fmt.Errorf("config: liquidation_threshold_bps out of range: %d", c.Collateral.LiquidationThresholdBps)
	}
	if c.Collateral.LiquidationPenaltyBps > 10_000 {
		return fmt.Errorf("config: liquidation_penalty_bps out of range: %d", c.Collateral.LiquidationPenaltyBps)
	}
	if c.Loan.Treasury != "" && !common.IsHexAddress(c.Loan.Treasury) {
		return fmt.Errorf("config: invalid treasury address %q", c.Loan.Treasury)
	}
	if c.Collateral.Custody != "" && !common.IsHexAddress(c.Collateral.Custody) {
		return fmt.Errorf("config: invalid custody address %q", c.Collateral.Custody)
	}
	for _, admin := range c.Gateway.AdminAddresses {
		if !common.IsHexAddress(admin) {
			return fmt.Errorf("config: invalid admin address %q", admin)
		}
	}
	return nil
}

// TreasuryAddress resolves the configured treasury account.
func (c *Config) TreasuryAddress() common.Address {
	return common.HexToAddress(c.Loan.Treasury)
}

// CustodyAddress resolves the configured custody account.
func (c *Config) CustodyAddress() common.Address {
	return common.HexToAddress(c.Collateral.Custody)
}

// AdminAddresses resolves the configured governance accounts.
func (c *Config) AdminAddresses() []common.Address {
	out := make([]common.Address, 0, len(c.Gateway.AdminAddresses))
	for _, admin := range c.Gateway.AdminAddresses {
		out = append(out, common.HexToAddress(admin))
	}
	return out
}

// MinLoanAmount returns the minimum principal as a big integer.
func (c *Config) MinLoanAmount() *big.Int { return big.NewInt(c.Loan.MinLoan) }

// MaxLoanAmount returns the maximum principal as a big integer.
func (c *Config) MaxLoanAmount() *big.Int { return big.NewInt(c.Loan.MaxLoan) }

// MinLockValue returns the minimum lock valuation as a big integer.
func (c *Config) MinLockValue() *big.Int { return big.NewInt(c.Collateral.MinLockValueUSD) }

// OracleMaxAge returns the quote freshness window.
func (c *Config) OracleMaxAge() time.Duration {
	if c.Oracle.MaxAgeSec <= 0 {
		return 0
	}
	return time.Duration(c.Oracle.MaxAgeSec) * time.Second
}
