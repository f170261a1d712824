package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"dualbond/config"
	"dualbond/core/sqrtprice"
	"dualbond/integrations/exports"
	"dualbond/native/bond"
	"dualbond/services/bondd/journal"
	"dualbond/services/bondd/server"
)

const (
	defaultConfig  = "./bondd.toml"
	pricePrecision = 18
)

var commands = map[string]func(args []string, out io.Writer) error{
	"strike":  runStrike,
	"convert": runConvert,
	"tick":    runTick,
	"program": runProgram,
	"token":   runToken,
	"export":  runExport,
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		usage()
		os.Exit(1)
	}
	if err := cmd(os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: bondctl <command> [flags]

commands:
  strike   encode a decimal price (stable per secondary) as a Q64.96 sqrt price
  convert  convert a stable amount to secondary units at a sqrt price
  tick     print the sqrt price and price of a pool tick
  program  validate a bond program file and print its derived address
  token    mint an HS256 bearer token for an address
  export   write the journaled events of a bond as csv, jsonl or parquet
`)
}

func runStrike(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("strike", flag.ContinueOnError)
	price := fs.String("price", "", "Decimal price in stable per secondary, e.g. 2.5")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rat, err := sqrtprice.ParsePrice(*price)
	if err != nil {
		return err
	}
	sqrt, err := sqrtprice.SqrtPriceFromRat(rat)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "sqrtPriceX96: %s\nprice: %s\n", sqrt.Dec(), sqrtprice.PriceString(sqrt, pricePrecision))
	return nil
}

func runConvert(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("convert", flag.ContinueOnError)
	amount := fs.String("amount", "", "Stable amount in base units")
	sqrt := fs.String("sqrt", "", "Q64.96 sqrt price")
	price := fs.String("price", "", "Decimal price, used when -sqrt is empty")
	if err := fs.Parse(args); err != nil {
		return err
	}
	stable, err := uint256.FromDecimal(strings.TrimSpace(*amount))
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	sqrtPrice, err := resolveSqrt(*sqrt, *price)
	if err != nil {
		return err
	}
	secondary, err := sqrtprice.Convert(stable, sqrtPrice)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "secondary: %s\n", secondary.Dec())
	return nil
}

func resolveSqrt(sqrt, price string) (*uint256.Int, error) {
	sqrt, price = strings.TrimSpace(sqrt), strings.TrimSpace(price)
	switch {
	case sqrt != "" && price != "":
		return nil, errors.New("set only one of -sqrt and -price")
	case sqrt != "":
		value, err := uint256.FromDecimal(sqrt)
		if err != nil {
			return nil, fmt.Errorf("sqrt: %w", err)
		}
		return value, sqrtprice.ValidateSqrtPrice(value)
	case price != "":
		rat, err := sqrtprice.ParsePrice(price)
		if err != nil {
			return nil, err
		}
		return sqrtprice.SqrtPriceFromRat(rat)
	default:
		return nil, errors.New("one of -sqrt and -price is required")
	}
}

func runTick(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("tick", flag.ContinueOnError)
	tick := fs.Int("tick", 0, "Pool tick")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tick < int(sqrtprice.MinTick) || *tick > int(sqrtprice.MaxTick) {
		return sqrtprice.ErrTickOutOfRange
	}
	sqrt, err := sqrtprice.SqrtRatioAtTick(int32(*tick))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "sqrtPriceX96: %s\nprice: %s\n", sqrt.Dec(), sqrtprice.PriceString(sqrt, pricePrecision))
	return nil
}

type programSummary struct {
	Address            string `json:"address"`
	Symbol             string `json:"symbol"`
	StableAsset        string `json:"stableAsset"`
	SecondaryAsset     string `json:"secondaryAsset"`
	StableCap          string `json:"stableCap"`
	IssuanceDeadline   string `json:"issuanceDeadline"`
	Maturity           string `json:"maturity"`
	StrikeSqrtPriceX96 string `json:"strikeSqrtPriceX96"`
	StrikePrice        string `json:"strikePrice"`
	Owner              string `json:"owner"`
	PriceOracle        string `json:"priceOracle"`
}

func runProgram(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("program", flag.ContinueOnError)
	file := fs.String("file", "", "Path to a bond program YAML file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*file) == "" {
		return errors.New("-file is required")
	}
	params, err := config.LoadProgram(*file)
	if err != nil {
		return err
	}
	params = params.Normalize()
	summary := programSummary{
		Address:            bond.DeriveAddress(params).Hex(),
		Symbol:             params.Symbol,
		StableAsset:        params.StableAsset,
		SecondaryAsset:     params.SecondaryAsset,
		StableCap:          params.StableCap.Dec(),
		IssuanceDeadline:   time.Unix(params.IssuanceDeadline, 0).UTC().Format(time.RFC3339),
		Maturity:           time.Unix(params.Maturity, 0).UTC().Format(time.RFC3339),
		StrikeSqrtPriceX96: params.StrikePrice.Dec(),
		StrikePrice:        sqrtprice.PriceString(params.StrikePrice, pricePrecision),
		Owner:              params.Owner.Hex(),
		PriceOracle:        params.PriceOracle.Hex(),
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfig, "Path to the bondd config file")
	subject := fs.String("subject", "", "Caller address the token authenticates")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !common.IsHexAddress(*subject) {
		return fmt.Errorf("subject %q is not an address", *subject)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	token, err := server.IssueToken(cfg.Auth.Secret(), common.HexToAddress(*subject), cfg.Auth.Issuer, cfg.Auth.Audience, *ttl, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

func runExport(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfig, "Path to the bondd config file")
	bondAddr := fs.String("bond", "", "Bond address")
	eventType := fs.String("type", "", "Only export events of this type")
	format := fs.String("format", "csv", "Output format: csv, jsonl or parquet")
	outPath := fs.String("out", "", "Output file; stdout when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !common.IsHexAddress(*bondAddr) {
		return fmt.Errorf("bond %q is not an address", *bondAddr)
	}
	encoding, err := exports.ParseFormat(*format)
	if err != nil {
		return err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	jrnl, err := journal.Open(cfg.JournalDSN, nil)
	if err != nil {
		return err
	}
	defer jrnl.Close()
	entries, err := jrnl.All(context.Background(), common.HexToAddress(*bondAddr), *eventType)
	if err != nil {
		return err
	}
	data, checksum, err := exports.Events(encoding, entries)
	if err != nil {
		return err
	}
	if *outPath == "" {
		_, err = out.Write(data)
		return err
	}
	if err := os.WriteFile(*outPath, data, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %d events to %s (sha256 %s)\n", len(entries), *outPath, checksum)
	return nil
}
