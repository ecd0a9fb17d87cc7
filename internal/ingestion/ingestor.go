package ingestion

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/landregistry/inspire-reconciler/internal/archive"
	"github.com/landregistry/inspire-reconciler/internal/errors"
	"github.com/landregistry/inspire-reconciler/internal/ledger"
	"github.com/landregistry/inspire-reconciler/internal/logging"
	"github.com/landregistry/inspire-reconciler/internal/store"
)

// Options tunes one Ingestor run beyond what the Run Ledger already carries.
type Options struct {
	AfterCouncil string
	MaxCouncils  int
	ChunkSize    int
	Workers      int
	Precision    int
	MinFeatures  int
	DownloadsDir string
	GeoJSONDir   string
	RemoteBackup string
}

// BackupFunc uploads a council's archive off-host; nil disables the hook.
type BackupFunc func(ctx context.Context, archivePath, destination string) error

// Ingestor drives the Polygon Ingestor task end to end: council index,
// publish-month computation, skip-if-exists cache, download, unzip,
// reprojection, and streaming insert (§4.2).
type Ingestor struct {
	indexURL   string
	downloader *Downloader
	manifest   *archive.Manifest
	store      *store.Store
	ledger     *ledger.Ledger
	backup     BackupFunc
	now        func() time.Time
}

// NewIngestor creates an Ingestor whose publish-month clock is time.Now.
func NewIngestor(indexURL string, downloader *Downloader, manifest *archive.Manifest, st *store.Store, led *ledger.Ledger, backup BackupFunc) *Ingestor {
	return &Ingestor{
		indexURL:   indexURL,
		downloader: downloader,
		manifest:   manifest,
		store:      st,
		ledger:     led,
		backup:     backup,
		now:        time.Now,
	}
}

// Run ingests every council's current-month archive in alphabetical order,
// resuming after run.LastCouncilDownloaded (§4.2, §5 "Failure semantics").
func (ing *Ingestor) Run(ctx context.Context, run *ledger.Run, opts Options) error {
	publishMonth, err := LatestPublishMonth(ing.now())
	if err != nil {
		return err
	}
	monthKey := publishMonth.Format("2006-01")

	links, err := FetchCouncilIndex(ctx, ing.indexURL)
	if err != nil {
		return err
	}

	afterCouncil := opts.AfterCouncil
	if run.LastCouncilDownloaded != "" && (afterCouncil == "" || run.LastCouncilDownloaded > afterCouncil) {
		afterCouncil = run.LastCouncilDownloaded
	}
	links = FilterCouncils(links, afterCouncil, opts.MaxCouncils)

	for _, link := range links {
		if err := ing.ingestCouncil(ctx, link, monthKey, opts); err != nil {
			return err
		}
		if err := ing.ledger.UpdateLastCouncilDownloaded(ctx, run.UniqueKey, link.Council); err != nil {
			return err
		}
		run.LastCouncilDownloaded = link.Council
		logging.Info("council ingested", "council", link.Council, "publish_month", monthKey)
	}

	if opts.RemoteBackup != "" && ing.backup != nil {
		ing.backupArchives(ctx, opts)
	}

	return nil
}

func (ing *Ingestor) ingestCouncil(ctx context.Context, link CouncilLink, monthKey string, opts Options) error {
	geojsonPath, hasGeoJSON, err := ing.manifest.HasGeoJSON(ctx, link.Council, monthKey)
	if err != nil {
		return err
	}
	if hasGeoJSON {
		return ing.streamInto(ctx, link.Council, geojsonPath, opts)
	}

	archivePath, hasArchive, err := ing.manifest.HasArchive(ctx, link.Council, monthKey)
	if err != nil {
		return err
	}
	if !hasArchive {
		archivePath = archive.ArchivePathFor(opts.DownloadsDir, link.Council, monthKey)
		if err := ing.downloader.Fetch(ctx, link.URL, archivePath); err != nil {
			return err
		}
		if err := ing.manifest.RecordDownload(ctx, link.Council, monthKey, archivePath); err != nil {
			return err
		}
	}

	workDir, err := os.MkdirTemp("", "inspire-ingest-*")
	if err != nil {
		return errors.FileSystemError(err, "creating unzip working directory")
	}
	defer os.RemoveAll(workDir)

	gmlPath, err := Unzip(archivePath, workDir)
	if err != nil {
		return err
	}

	geojsonPath = archive.GeoJSONPathFor(opts.GeoJSONDir, link.Council, monthKey)
	if err := os.MkdirAll(filepath.Dir(geojsonPath), 0o755); err != nil {
		return errors.FileSystemError(err, "creating geojson directory")
	}
	if err := Reproject(ctx, gmlPath, geojsonPath); err != nil {
		return err
	}
	if err := ing.manifest.RecordTransform(ctx, link.Council, monthKey, geojsonPath); err != nil {
		return err
	}

	return ing.streamInto(ctx, link.Council, geojsonPath, opts)
}

func (ing *Ingestor) streamInto(ctx context.Context, council, geojsonPath string, opts Options) error {
	f, err := os.Open(geojsonPath)
	if err != nil {
		return errors.FileSystemError(err, "opening transformed geojson")
	}
	defer f.Close()

	result, err := StreamFeatures(ctx, f, ing.store, council, opts.ChunkSize, opts.Precision, opts.Workers)
	if err != nil {
		return err
	}

	minFeatures := opts.MinFeatures
	if minFeatures <= 0 {
		minFeatures = 100
	}
	count, err := ing.store.CountPendingForCouncil(ctx, council)
	if err != nil {
		return err
	}
	if count < minFeatures {
		return errors.New(errors.ErrorTypeTask, errors.SeverityHigh,
			fmt.Sprintf("council %s produced only %d features (streamed %d), below the minimum of %d", council, count, result.FeatureCount, minFeatures))
	}
	return nil
}

// backupArchives invokes the off-host backup hook for every regular file in
// the downloads directory, logging but not failing the run on individual upload errors —
// the backup is best-effort and silently skipped when unconfigured (§4.2:
// "skipped silently when no backup destination is configured").
func (ing *Ingestor) backupArchives(ctx context.Context, opts Options) {
	entries, err := os.ReadDir(opts.DownloadsDir)
	if err != nil {
		logging.Warn("skipping archive backup: cannot read downloads directory", "error", err)
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(opts.DownloadsDir, e.Name())
		if err := ing.backup(ctx, path, opts.RemoteBackup); err != nil {
			logging.Warn("archive backup failed", "archive", path, "error", err)
		}
	}
}
