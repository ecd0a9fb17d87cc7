package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql, used by the Run Ledger

	"github.com/landregistry/inspire-reconciler/internal/archive"
	"github.com/landregistry/inspire-reconciler/internal/classifier"
	"github.com/landregistry/inspire-reconciler/internal/config"
	"github.com/landregistry/inspire-reconciler/internal/geocoder"
	"github.com/landregistry/inspire-reconciler/internal/ingestion"
	"github.com/landregistry/inspire-reconciler/internal/ledger"
	"github.com/landregistry/inspire-reconciler/internal/notify"
	"github.com/landregistry/inspire-reconciler/internal/ownership"
	"github.com/landregistry/inspire-reconciler/internal/pipeline"
	"github.com/landregistry/inspire-reconciler/internal/reconciler"
	"github.com/landregistry/inspire-reconciler/internal/store"
)

// app holds every long-lived handle the pipeline needs, so commands can
// close them cleanly on exit.
type app struct {
	db       *sql.DB
	store    *store.Store
	manifest *archive.Manifest
	ledger   *ledger.Ledger
	pipeline *pipeline.Pipeline
}

func (a *app) Close() {
	if a.manifest != nil {
		a.manifest.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}

// buildApp wires every package constructor built so far into one Pipeline,
// following the fixed construction order: storage, then geocoding, then
// the three task drivers, then the pipeline runner itself.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	db, err := sql.Open("pgx", cfg.Storage.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("opening run ledger connection: %w", err)
	}

	st, err := store.New(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("opening spatial store: %w", err)
	}

	if err := st.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running store migrations: %w", err)
	}

	manifest, err := archive.Open(cfg.Storage.ArchiveCache)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("opening archive cache manifest: %w", err)
	}

	led := ledger.New(db)

	var geocoderClient geocoder.Client
	if cfg.Geocoder.APIKey != "" {
		var cache *geocoder.Cache
		if cfg.Cache.RedisURL != "" {
			cache, err = geocoder.NewCache(ctx, cfg.Cache.RedisURL, "", cfg.Cache.TTL)
			if err != nil {
				return nil, fmt.Errorf("opening geocode cache: %w", err)
			}
		}
		geocoderClient = geocoder.New(cfg.Geocoder.ProviderURL, cfg.Geocoder.APIKey, cfg.Upstream.RateLimitPerSecond, cache)
	}

	cl := classifier.New(classifier.DefaultThresholds(), geocoderClient, cfg.Pipeline.EnableMergeSegmentCascade)

	catalogue := ownership.NewCatalogueClient(cfg.Upstream.OwnershipCatalogue, cfg.Upstream.APIKey, cfg.Upstream.RateLimitPerSecond)
	updater := ownership.NewUpdater(catalogue, st, led)

	downloader := ingestion.NewDownloader(cfg.Upstream.RateLimitPerSecond)
	ingestor := ingestion.NewIngestor(cfg.Upstream.InspireIndexURL, downloader, manifest, st, led, nil)

	rec := reconciler.New(st, led, cl, cfg.Pipeline.MaxConsecutiveStalls)

	notifier := notify.New(cfg.Sync.ChatWebhookURL)

	p := pipeline.New(led, st, updater, ingestor, rec, notifier, cfg)

	return &app{db: db, store: st, manifest: manifest, ledger: led, pipeline: p}, nil
}
