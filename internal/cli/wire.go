// Package cli wires config, storage, adapters and the coordinator into the
// marketsync command-line tool, following the same "build everything once
// in main, thread it through cobra commands" shape the teacher's cmd/root.go
// uses for its dump/sync/reset subcommands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/blang/semver/v4"
	"github.com/redis/go-redis/v9"

	"github.com/tommytoolman/marketsync/internal/adapter/ebay"
	"github.com/tommytoolman/marketsync/internal/adapter/reverb"
	"github.com/tommytoolman/marketsync/internal/adapter/shopify"
	"github.com/tommytoolman/marketsync/internal/adapter/vintageandrare"
	"github.com/tommytoolman/marketsync/internal/categorymap"
	"github.com/tommytoolman/marketsync/internal/config"
	"github.com/tommytoolman/marketsync/internal/coordinator"
	"github.com/tommytoolman/marketsync/internal/crud"
	"github.com/tommytoolman/marketsync/internal/dispatch"
	"github.com/tommytoolman/marketsync/internal/events"
	"github.com/tommytoolman/marketsync/internal/logging"
	"github.com/tommytoolman/marketsync/internal/matcher"
	"github.com/tommytoolman/marketsync/internal/model"
	"github.com/tommytoolman/marketsync/internal/onboard"
	"github.com/tommytoolman/marketsync/internal/platform"
	"github.com/tommytoolman/marketsync/internal/reconcile"
	"github.com/tommytoolman/marketsync/internal/schema"
	"github.com/tommytoolman/marketsync/internal/store"
	"github.com/tommytoolman/marketsync/internal/store/memstore"
	"github.com/tommytoolman/marketsync/internal/store/postgres"
)

// minSchemaVersion is the oldest ChangeData/category-map schema shape this
// build still understands. Checked against AppConfig.SchemaVersion with
// blang/semver the same way the teacher's file.Builder gates behavior on a
// parsed Kong version instead of a raw string compare.
var minSchemaVersion = semver.MustParse("1.0.0")

// App holds everything one CLI invocation needs, built once from Config.
type App struct {
	Store       store.Store
	Coordinator *coordinator.Coordinator
	Reconciler  *reconcile.Reconciler
	Dispatcher  *dispatch.Dispatcher
	Onboarder   *onboard.Pusher
	Writer      *events.Writer
	Registry    *crud.Registry
	Adapters    map[model.PlatformTag]platform.Adapter
}

// Build wires every component in cfg into a ready-to-run App.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := checkSchemaVersion(cfg.App.SchemaVersion); err != nil {
		return nil, err
	}

	logging.Init(logging.Config{Level: cfg.App.LogLevel, Pretty: cfg.App.Env == "development"})

	s, err := buildStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	categories, err := categorymap.Load(cfg.Sync.CategoryMapPath)
	if err != nil {
		logging.Get().Warn().Err(err).Str("path", cfg.Sync.CategoryMapPath).Msg("category map not loaded, CreateListing will use raw category strings")
		categories = nil
	}

	adapters := buildAdapters(cfg)

	registry := &crud.Registry{}
	for tag, a := range adapters {
		registry.MustRegister(tag, dispatch.NewPlatformActions(a))
	}

	schemas := schema.NewRegistry()

	writer := events.NewWriter(s, schemas, candidatePool(s)).
		WithMatchConfidence(matcherThreshold(cfg.Sync.MatcherConfidenceThreshold))

	pricePolicy := reconcile.DefaultPricePolicy
	if cfg.Sync.DefaultPriceAuthority != "" {
		authority := model.PlatformTag(cfg.Sync.DefaultPriceAuthority)
		pricePolicy = func(p model.PlatformTag) bool { return p == authority }
	}
	reconciler := reconcile.New(s, pricePolicy, categories)

	var idem *redis.Client
	if cfg.Redis.Host != "" {
		idem = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	}
	dispatcher := dispatch.New(registry, s, nil, dispatch.Config{
		MaxConcurrency: int64(cfg.Sync.DispatchConcurrency),
		CallTimeout:    cfg.Sync.PerAdapterCallTimeout,
		Idempotency:    idem,
	})

	coordCfg := coordinator.Config{
		PerAdapterCallTimeout:   cfg.Sync.PerAdapterCallTimeout,
		PerDetectionTaskTimeout: cfg.Sync.PerDetectionTaskTimeout,
		PerRunTimeout:           cfg.Sync.PerRunTimeout,
	}
	coord := coordinator.New(s, adapters, writer, reconciler, dispatcher, schemas, coordCfg)

	return &App{
		Store:       s,
		Coordinator: coord,
		Reconciler:  reconciler,
		Dispatcher:  dispatcher,
		Onboarder:   onboard.New(s, registry, categories),
		Writer:      writer,
		Registry:    registry,
		Adapters:    adapters,
	}, nil
}

func checkSchemaVersion(raw string) error {
	if raw == "" {
		return nil
	}
	v, err := semver.Parse(raw)
	if err != nil {
		return fmt.Errorf("parsing app.schema_version %q: %w", raw, err)
	}
	if v.LT(minSchemaVersion) {
		return fmt.Errorf("schema version %s is older than the minimum %s this build supports", v, minSchemaVersion)
	}
	return nil
}

func buildStore(cfg *config.Config) (store.Store, error) {
	if cfg.Database.Host == "" {
		return memstore.New()
	}
	return postgres.Open(cfg.Database.DSN())
}

func buildAdapters(cfg *config.Config) map[model.PlatformTag]platform.Adapter {
	adapters := make(map[model.PlatformTag]platform.Adapter)

	if cfg.Ebay.Endpoint != "" {
		adapters[model.PlatformP1] = ebay.New(cfg.Ebay.Endpoint, cfg.Ebay.DevID, cfg.Ebay.AppID, cfg.Ebay.CertID, ebayRefresher(cfg.Ebay))
	}
	if cfg.Reverb.BaseURL != "" {
		adapters[model.PlatformP2] = reverb.New(cfg.Reverb.BaseURL, cfg.Reverb.Token)
	}
	if cfg.Shopify.Endpoint != "" {
		adapters[model.PlatformP3] = shopify.New(cfg.Shopify.Endpoint, cfg.Shopify.Token)
	}
	if cfg.VintageAndRare.BaseURL != "" {
		adapters[model.PlatformP4] = vintageandrare.New(cfg.VintageAndRare.BaseURL, cfg.VintageAndRare.Username, cfg.VintageAndRare.Password)
	}
	return adapters
}

// ebayRefresher performs the OAuth2 refresh_token grant eBay's Trading API
// session needs; the Trading API itself is XML, but its OAuth layer is
// plain form-encoded REST, too small a one-off to justify pulling in a
// dedicated OAuth2 client library.
func ebayRefresher(cfg config.EbayConfig) func(ctx context.Context) (string, time.Time, error) {
	return func(ctx context.Context) (string, time.Time, error) {
		form := url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {cfg.OAuthRefreshToken},
			"client_id":     {cfg.OAuthClientID},
			"client_secret": {cfg.OAuthClientSecret},
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint+"/oauth/token", strings.NewReader(form.Encode()))
		if err != nil {
			return "", time.Time{}, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return "", time.Time{}, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return "", time.Time{}, fmt.Errorf("oauth refresh failed: status %d", resp.StatusCode)
		}

		var body struct {
			AccessToken string `json:"access_token"`
			ExpiresIn   int    `json:"expires_in"`
		}
		if err := decodeJSON(resp.Body, &body); err != nil {
			return "", time.Time{}, err
		}
		return body.AccessToken, time.Now().Add(time.Duration(body.ExpiresIn) * time.Second), nil
	}
}

func decodeJSON(r io.Reader, v interface{}) error {
	return json.NewDecoder(r).Decode(v)
}

func matcherThreshold(configured int) int {
	if configured <= 0 {
		return matcher.MinConfidence
	}
	return configured
}

// candidatePool loads the full product catalog once per run for the
// new_listing match suggester (spec §4.4) and caches it for every
// subsequent rogue listing the writer scores during that run.
func candidatePool(s store.Store) func(ctx context.Context) ([]matcher.Candidate, error) {
	var cached []matcher.Candidate
	var loaded bool
	return func(ctx context.Context) ([]matcher.Candidate, error) {
		if loaded {
			return cached, nil
		}
		products, err := s.ListProducts(ctx)
		if err != nil {
			return nil, err
		}
		cached = make([]matcher.Candidate, len(products))
		for i := range products {
			cached[i] = matcher.Candidate{Product: &products[i]}
		}
		loaded = true
		return cached, nil
	}
}
