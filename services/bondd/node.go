package bondd

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"dualbond/config"
	"dualbond/core/events"
	"dualbond/integrations/uniswapv3"
	"dualbond/integrations/webhooks"
	"dualbond/native/bank"
	"dualbond/native/bond"
	"dualbond/observability/metrics"
	"dualbond/services/bondd/journal"
	"dualbond/services/bondd/server"
	"dualbond/state/bonds"
	"dualbond/storage"
)

var genesisMarker = []byte("bondd/genesis-applied")

// Node holds the assembled components of a bondd process.
type Node struct {
	DB       storage.Database
	Journal  *journal.Journal
	Ledger   *bank.Ledger
	Registry *bond.Registry
	Issuer   *bank.Issuer
	Engines  []*bond.Engine
	Handler  http.Handler

	closers []func() error
}

// Options overrides components that are otherwise built from the config.
type Options struct {
	// Pools replaces the RPC backed pool resolver.
	Pools bond.PoolResolver
	// NowFunc replaces the wall clock of every engine.
	NowFunc func() int64
}

// Build opens storage, seeds genesis balances on first start and opens every
// configured bond program.
func Build(cfg *config.Config, configPath string, opts Options, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}
	node := &Node{}
	if err := node.build(cfg, configPath, opts, logger); err != nil {
		return nil, errors.Join(err, node.Close())
	}
	return node, nil
}

func (n *Node) build(cfg *config.Config, configPath string, opts Options, logger *slog.Logger) error {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open state db: %w", err)
	}
	n.DB = db
	n.closers = append(n.closers, func() error { db.Close(); return nil })

	jrnl, err := journal.Open(cfg.JournalDSN, logger)
	if err != nil {
		return err
	}
	n.Journal = jrnl
	n.closers = append(n.closers, jrnl.Close)

	infos := make([]bank.AssetInfo, 0, len(cfg.Assets))
	for _, asset := range cfg.Assets {
		infos = append(infos, bank.AssetInfo{Symbol: asset.Symbol, Decimals: asset.Decimals})
	}
	ledger, err := bank.NewLedger(db, infos...)
	if err != nil {
		return err
	}
	n.Ledger = ledger
	if err := seedGenesis(db, ledger, cfg.Genesis, logger); err != nil {
		return err
	}

	programs := make([]bond.Params, 0, len(cfg.Programs))
	for _, path := range cfg.ProgramPaths(configPath) {
		params, err := config.LoadProgram(path)
		if err != nil {
			return err
		}
		programs = append(programs, params)
	}

	n.Registry = bond.NewRegistry()
	mintAsset := cfg.SecondaryMintAsset
	if mintAsset == "" && len(programs) > 0 {
		mintAsset = programs[0].SecondaryAsset
	}
	if mintAsset != "" {
		issuer, err := bank.NewIssuer(ledger, mintAsset, n.Registry)
		if err != nil {
			return fmt.Errorf("secondary mint asset: %w", err)
		}
		issuer.SetLogger(logger)
		n.Issuer = issuer
	}

	pools := opts.Pools
	if pools == nil && cfg.Oracle.RPCURL != "" {
		client, err := uniswapv3.Dial(cfg.Oracle.RPCURL)
		if err != nil {
			return fmt.Errorf("dial pool rpc: %w", err)
		}
		n.closers = append(n.closers, func() error { client.Close(); return nil })
		resolver := uniswapv3.NewResolver(client)
		resolver.SetTimeout(cfg.Oracle.Timeout.Duration)
		pools = resolver
	}
	if pools == nil {
		logger.Warn("no pool rpc configured; bonds cannot be finalised")
	}

	windows := cfg.Oracle.Windows()
	fallback := bond.Ladder(windows[0], windows[1:]...)
	store := bonds.NewStore(db)
	emitter := events.Fanout{jrnl}
	if cfg.Webhook.Enabled() {
		dispatcher, err := webhooks.NewDispatcher(cfg.Webhook.Endpoint, []byte(cfg.Webhook.SigningSecret()),
			webhooks.WithRetryPolicy(cfg.Webhook.MaxAttempts, cfg.Webhook.MinBackoff.Duration, cfg.Webhook.MaxBackoff.Duration),
			webhooks.WithDrainTimeout(cfg.Webhook.DrainTimeout.Duration),
			webhooks.WithLogger(logger.With(slog.String("component", "webhook"))))
		if err != nil {
			return err
		}
		n.closers = append(n.closers, dispatcher.Close)
		emitter = append(emitter, dispatcher)
	}
	for _, params := range programs {
		engine, err := openEngine(params, engineDeps{
			store:    store,
			ledger:   ledger,
			issuer:   n.Issuer,
			pools:    pools,
			fallback: fallback,
			emitter:  emitter,
			now:      opts.NowFunc,
			logger:   logger,
		})
		if err != nil {
			return err
		}
		if err := n.Registry.Register(engine); err != nil {
			return err
		}
		n.Engines = append(n.Engines, engine)
	}

	var handler http.Handler = server.New(server.Config{
		ServiceName: "bondd",
		Registry:    n.Registry,
		Ledger:      ledger,
		Events:      jrnl,
		Auth: server.NewAuthenticator(server.AuthConfig{
			HMACSecret: cfg.Auth.Secret(),
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew.Duration,
		}, logger),
		RateLimiter: server.NewRateLimiter(server.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}, metrics.HTTP()),
		Metrics: metrics.HTTP(),
		Logger:  logger,
	})
	if cfg.Telemetry.Traces {
		handler = otelhttp.NewHandler(handler, "bondd")
	}
	n.Handler = handler
	return nil
}

type engineDeps struct {
	store    bond.Store
	ledger   *bank.Ledger
	issuer   *bank.Issuer
	pools    bond.PoolResolver
	fallback bond.FallbackPolicy
	emitter  events.Emitter
	now      func() int64
	logger   *slog.Logger
}

func openEngine(params bond.Params, deps engineDeps) (*bond.Engine, error) {
	stable, err := deps.ledger.Asset(params.StableAsset)
	if err != nil {
		return nil, fmt.Errorf("bond %s: stable asset: %w", params.Symbol, err)
	}
	if deps.issuer == nil || bank.NormalizeSymbol(params.SecondaryAsset) != deps.issuer.Symbol() {
		return nil, fmt.Errorf("bond %s: secondary asset %q is not the configured mint asset", params.Symbol, params.SecondaryAsset)
	}
	engine := bond.NewEngine(bond.Config{
		Store:     deps.store,
		Stable:    stable,
		Authority: deps.issuer,
		Pools:     deps.pools,
		Fallback:  deps.fallback,
	})
	engine.SetEmitter(deps.emitter)
	engine.SetObserver(metrics.Bond())
	if deps.now != nil {
		engine.SetNowFunc(deps.now)
	}
	engine.SetLogger(deps.logger.With(slog.String("program", params.Symbol)))
	b, err := engine.Open(params)
	if err != nil {
		return nil, fmt.Errorf("open bond %s: %w", params.Symbol, err)
	}
	deps.logger.Info("bond program loaded",
		slog.String("bond", b.Address.Hex()),
		slog.String("symbol", b.Params.Symbol),
		slog.String("phase", engine.Phase().String()))
	return engine, nil
}

func seedGenesis(db storage.Database, ledger *bank.Ledger, balances []config.Balance, logger *slog.Logger) error {
	applied, err := db.Has(genesisMarker)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}
	for _, bal := range balances {
		holder, amount, err := bal.Parse()
		if err != nil {
			return err
		}
		if amount.IsZero() {
			continue
		}
		if err := ledger.Mint(bal.Asset, holder, amount); err != nil {
			return fmt.Errorf("genesis %s %s: %w", bal.Asset, holder.Hex(), err)
		}
	}
	if err := db.Put(genesisMarker, []byte{1}); err != nil {
		return err
	}
	logger.Info("genesis balances applied", slog.Int("entries", len(balances)))
	return nil
}

// Close releases the node resources in reverse order.
func (n *Node) Close() error {
	if n == nil {
		return nil
	}
	var errs []error
	for i := len(n.closers) - 1; i >= 0; i-- {
		errs = append(errs, n.closers[i]())
	}
	n.closers = nil
	return errors.Join(errs...)
}
