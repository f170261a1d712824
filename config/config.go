package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Config is the bondd node configuration.
type Config struct {
	ListenAddress string    `toml:"ListenAddress"`
	DataDir       string    `toml:"DataDir"`
	JournalDSN    string    `toml:"JournalDSN"`
	Env           string    `toml:"Env"`
	LogLevel      string    `toml:"LogLevel"`
	Auth          Auth      `toml:"Auth"`
	RateLimit     RateLimit `toml:"RateLimit"`
	Oracle        Oracle    `toml:"Oracle"`
	Telemetry     Telemetry `toml:"Telemetry"`
	Webhook       Webhook   `toml:"Webhook"`
	Assets        []Asset   `toml:"Assets"`
	Genesis       []Balance `toml:"Genesis"`
	Programs      []string  `toml:"Programs"`
	// SecondaryMintAsset names the asset redemptions mint. Defaults to the
	// secondary asset of the first program.
	SecondaryMintAsset string `toml:"SecondaryMintAsset"`
}

// Auth configures HS256 bearer token validation.
type Auth struct {
	HMACSecret    string   `toml:"HMACSecret"`
	HMACSecretEnv string   `toml:"HMACSecretEnv"`
	Issuer        string   `toml:"Issuer"`
	Audience      string   `toml:"Audience"`
	ClockSkew     Duration `toml:"ClockSkew"`
}

// Secret resolves the signing secret, preferring the environment variable.
func (a Auth) Secret() string {
	if env := strings.TrimSpace(a.HMACSecretEnv); env != "" {
		if value := strings.TrimSpace(os.Getenv(env)); value != "" {
			return value
		}
	}
	return strings.TrimSpace(a.HMACSecret)
}

// RateLimit throttles API callers per subject or remote address.
type RateLimit struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
	Burst             int     `toml:"Burst"`
}

// Oracle configures the pool RPC and the settlement TWAP windows.
type Oracle struct {
	RPCURL          string     `toml:"RPCURL"`
	Window          Duration   `toml:"Window"`
	FallbackWindows []Duration `toml:"FallbackWindows"`
	Timeout         Duration   `toml:"Timeout"`
}

// Windows returns the primary window followed by the fallbacks.
func (o Oracle) Windows() []time.Duration {
	out := []time.Duration{o.Window.Duration}
	for _, w := range o.FallbackWindows {
		out = append(out, w.Duration)
	}
	return out
}

// Telemetry configures OTLP exporters.
type Telemetry struct {
	Endpoint    string  `toml:"Endpoint"`
	Insecure    bool    `toml:"Insecure"`
	Headers     string  `toml:"Headers"`
	Traces      bool    `toml:"Traces"`
	Metrics     bool    `toml:"Metrics"`
	SampleRatio float64 `toml:"SampleRatio"`
}

// Webhook forwards bond events to an external endpoint. Disabled when
// Endpoint is empty.
type Webhook struct {
	Endpoint     string   `toml:"Endpoint"`
	Secret       string   `toml:"Secret"`
	SecretEnv    string   `toml:"SecretEnv"`
	MaxAttempts  int      `toml:"MaxAttempts"`
	MinBackoff   Duration `toml:"MinBackoff"`
	MaxBackoff   Duration `toml:"MaxBackoff"`
	DrainTimeout Duration `toml:"DrainTimeout"`
}

// Enabled reports whether deliveries are configured.
func (w Webhook) Enabled() bool {
	return strings.TrimSpace(w.Endpoint) != ""
}

// SigningSecret resolves the HMAC secret, preferring the environment variable.
func (w Webhook) SigningSecret() string {
	if env := strings.TrimSpace(w.SecretEnv); env != "" {
		if value := strings.TrimSpace(os.Getenv(env)); value != "" {
			return value
		}
	}
	return strings.TrimSpace(w.Secret)
}

// Asset declares a ledger asset.
type Asset struct {
	Symbol   string `toml:"Symbol"`
	Decimals uint8  `toml:"Decimals"`
}

// Balance seeds a ledger balance on first start.
type Balance struct {
	Asset   string `toml:"Asset"`
	Address string `toml:"Address"`
	Amount  string `toml:"Amount"`
}

// Parse returns the holder and amount.
func (b Balance) Parse() (common.Address, *uint256.Int, error) {
	if !common.IsHexAddress(b.Address) {
		return common.Address{}, nil, fmt.Errorf("genesis: invalid address %q", b.Address)
	}
	amount, err := uint256.FromDecimal(strings.TrimSpace(b.Amount))
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("genesis: invalid amount %q: %w", b.Amount, err)
	}
	return common.HexToAddress(b.Address), amount, nil
}

const (
	defaultListenAddress = ":8085"
	defaultDataDir       = "./bond-data"
	defaultWindow        = 30 * time.Minute
)

// Default returns a configuration suitable for local development.
func Default() *Config {
	cfg := &Config{
		Env:      "dev",
		LogLevel: "info",
		Assets: []Asset{
			{Symbol: "USDC", Decimals: 6},
			{Symbol: "NHB", Decimals: 18},
		},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = defaultListenAddress
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = defaultDataDir
	}
	if strings.TrimSpace(c.JournalDSN) == "" {
		c.JournalDSN = "file:" + filepath.Join(c.DataDir, "journal.db")
	}
	if c.Auth.ClockSkew.Duration == 0 {
		c.Auth.ClockSkew.Duration = time.Minute
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 20
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 40
	}
	if c.Oracle.Window.Duration == 0 {
		c.Oracle.Window.Duration = defaultWindow
	}
	if c.Oracle.Timeout.Duration == 0 {
		c.Oracle.Timeout.Duration = 10 * time.Second
	}
}

// Validate checks the configuration after defaults were applied.
func (c *Config) Validate() error {
	var errs []error
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, fmt.Errorf("RateLimit: values must not be negative"))
	}
	for i, w := range c.Oracle.Windows() {
		if w < 0 {
			errs = append(errs, fmt.Errorf("Oracle: window %d is negative", i))
		}
	}
	seen := make(map[string]struct{})
	for _, asset := range c.Assets {
		symbol := strings.ToUpper(strings.TrimSpace(asset.Symbol))
		if symbol == "" {
			errs = append(errs, fmt.Errorf("Assets: symbol required"))
			continue
		}
		if _, dup := seen[symbol]; dup {
			errs = append(errs, fmt.Errorf("Assets: duplicate symbol %s", symbol))
		}
		seen[symbol] = struct{}{}
	}
	for _, bal := range c.Genesis {
		if _, ok := seen[strings.ToUpper(strings.TrimSpace(bal.Asset))]; !ok {
			errs = append(errs, fmt.Errorf("Genesis: unknown asset %q", bal.Asset))
		}
		if _, _, err := bal.Parse(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Webhook.Enabled() {
		if c.Webhook.SigningSecret() == "" {
			errs = append(errs, fmt.Errorf("Webhook: secret required when Endpoint is set"))
		}
		if c.Webhook.MaxAttempts < 0 {
			errs = append(errs, fmt.Errorf("Webhook: MaxAttempts must not be negative"))
		}
		if c.Webhook.MaxBackoff.Duration > 0 && c.Webhook.MaxBackoff.Duration < c.Webhook.MinBackoff.Duration {
			errs = append(errs, fmt.Errorf("Webhook: MaxBackoff below MinBackoff"))
		}
		if c.Webhook.DrainTimeout.Duration < 0 {
			errs = append(errs, fmt.Errorf("Webhook: DrainTimeout must not be negative"))
		}
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("Telemetry: SampleRatio must be within [0,1]"))
	}
	return errors.Join(errs...)
}

// ProgramPaths resolves program files relative to the config file.
func (c *Config) ProgramPaths(configPath string) []string {
	base := filepath.Dir(configPath)
	out := make([]string, 0, len(c.Programs))
	for _, p := range c.Programs {
		if filepath.IsAbs(p) {
			out = append(out, p)
			continue
		}
		out = append(out, filepath.Join(base, p))
	}
	return out
}

// Load reads the TOML configuration at path, writing a default file first
// when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := persist(path, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: unknown key %s in %s", undecoded[0].String(), path)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
