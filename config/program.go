package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"dualbond/core/sqrtprice"
	"dualbond/native/bond"
)

// Timestamp accepts either unix seconds or an RFC3339 string.
type Timestamp struct {
	time.Time
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *Timestamp) UnmarshalYAML(value *yaml.Node) error {
	if value == nil || value.Kind != yaml.ScalarNode {
		return fmt.Errorf("timestamp must be a scalar")
	}
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		t.Time = time.Unix(secs, 0).UTC()
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	t.Time = parsed.UTC()
	return nil
}

// Program is the YAML definition of one bond issuance.
type Program struct {
	Name               string    `yaml:"name"`
	Symbol             string    `yaml:"symbol"`
	StableAsset        string    `yaml:"stable_asset"`
	SecondaryAsset     string    `yaml:"secondary_asset"`
	StableDecimals     *uint8    `yaml:"stable_decimals"`
	InvertPrice        bool      `yaml:"invert_price"`
	StableCap          string    `yaml:"stable_cap"`
	IssuanceDeadline   Timestamp `yaml:"issuance_deadline"`
	Maturity           Timestamp `yaml:"maturity"`
	StrikePrice        string    `yaml:"strike_price"`
	StrikeSqrtPriceX96 string    `yaml:"strike_sqrt_price_x96"`
	Owner              string    `yaml:"owner"`
	PriceOracle        string    `yaml:"price_oracle"`
	Salt               string    `yaml:"salt"`
}

// LoadProgram reads and converts a program file.
func LoadProgram(path string) (bond.Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return bond.Params{}, fmt.Errorf("program: read %s: %w", path, err)
	}
	params, err := ParseProgram(data)
	if err != nil {
		return bond.Params{}, fmt.Errorf("program %s: %w", path, err)
	}
	return params, nil
}

// ParseProgram decodes YAML into validated bond parameters. Exactly one of
// strike_price (stable per secondary) and strike_sqrt_price_x96 must be set.
func ParseProgram(data []byte) (bond.Params, error) {
	var prog Program
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&prog); err != nil {
		return bond.Params{}, fmt.Errorf("decode: %w", err)
	}
	return prog.Params()
}

// Params converts the program into bond parameters and validates them.
func (p Program) Params() (bond.Params, error) {
	var errs []error
	stableCap, err := uint256.FromDecimal(strings.TrimSpace(p.StableCap))
	if err != nil {
		errs = append(errs, fmt.Errorf("stable_cap: %w", err))
	}
	strike, err := p.strike()
	if err != nil {
		errs = append(errs, err)
	}
	if !common.IsHexAddress(p.Owner) {
		errs = append(errs, fmt.Errorf("owner: invalid address %q", p.Owner))
	}
	var oracle common.Address
	if raw := strings.TrimSpace(p.PriceOracle); raw != "" {
		if !common.IsHexAddress(raw) {
			errs = append(errs, fmt.Errorf("price_oracle: invalid address %q", raw))
		}
		oracle = common.HexToAddress(raw)
	}
	salt, err := parseSalt(p.Salt)
	if err != nil {
		errs = append(errs, err)
	}
	if p.IssuanceDeadline.IsZero() || p.Maturity.IsZero() {
		errs = append(errs, fmt.Errorf("issuance_deadline and maturity required"))
	}
	if len(errs) > 0 {
		return bond.Params{}, errors.Join(errs...)
	}
	params := bond.Params{
		Name:             p.Name,
		Symbol:           p.Symbol,
		StableDecimals:   p.StableDecimals,
		InvertPrice:      p.InvertPrice,
		StableAsset:      p.StableAsset,
		SecondaryAsset:   p.SecondaryAsset,
		StableCap:        stableCap,
		IssuanceDeadline: p.IssuanceDeadline.Unix(),
		Maturity:         p.Maturity.Unix(),
		StrikePrice:      strike,
		Owner:            common.HexToAddress(p.Owner),
		PriceOracle:      oracle,
		Salt:             salt,
	}.Normalize()
	if err := params.Validate(); err != nil {
		return bond.Params{}, err
	}
	return params, nil
}

func (p Program) strike() (*uint256.Int, error) {
	ratio := strings.TrimSpace(p.StrikePrice)
	sqrt := strings.TrimSpace(p.StrikeSqrtPriceX96)
	switch {
	case ratio != "" && sqrt != "":
		return nil, fmt.Errorf("strike: set only one of strike_price and strike_sqrt_price_x96")
	case sqrt != "":
		value, err := uint256.FromDecimal(sqrt)
		if err != nil {
			return nil, fmt.Errorf("strike_sqrt_price_x96: %w", err)
		}
		return value, nil
	case ratio != "":
		rat, err := sqrtprice.ParsePrice(ratio)
		if err != nil {
			return nil, fmt.Errorf("strike_price: %w", err)
		}
		return sqrtprice.SqrtPriceFromRat(rat)
	default:
		return nil, fmt.Errorf("strike: one of strike_price or strike_sqrt_price_x96 required")
	}
}

func parseSalt(raw string) ([32]byte, error) {
	var salt [32]byte
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(raw), "0x"), "0X")
	if trimmed == "" {
		return salt, nil
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return salt, fmt.Errorf("salt: %w", err)
	}
	if len(decoded) > len(salt) {
		return salt, fmt.Errorf("salt: longer than 32 bytes")
	}
	copy(salt[len(salt)-len(decoded):], decoded)
	return salt, nil
}
