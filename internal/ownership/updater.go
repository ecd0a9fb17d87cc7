package ownership

import (
	"context"
	"fmt"
	"net/http"

	"github.com/landregistry/inspire-reconciler/internal/errors"
	"github.com/landregistry/inspire-reconciler/internal/ledger"
	"github.com/landregistry/inspire-reconciler/internal/logging"
	"github.com/landregistry/inspire-reconciler/internal/store"
)

// Updater drives the Ownership Updater task end to end: fetch the
// catalogue, decide snapshot vs. change files, stream each, and apply.
type Updater struct {
	catalogue *CatalogueClient
	store     *store.Store
	ledger    *ledger.Ledger
	fetch     func(ctx context.Context, url string) (httpBody, error)
}

// httpBody is the minimal surface Run needs from an HTTP response body.
type httpBody interface {
	Read(p []byte) (n int, err error)
	Close() error
}

// NewUpdater creates an Updater using the default HTTP downloader.
func NewUpdater(catalogue *CatalogueClient, st *store.Store, led *ledger.Ledger) *Updater {
	return &Updater{
		catalogue: catalogue,
		store:     st,
		ledger:    led,
		fetch:     defaultFetch,
	}
}

func defaultFetch(ctx context.Context, url string) (httpBody, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errors.New(errors.ErrorTypeExternal, errors.SeverityHigh,
			fmt.Sprintf("downloading %s: status %d", url, resp.StatusCode))
	}
	return resp.Body, nil
}

// Run applies the Ownership Updater contract of §4.1: a full snapshot if
// latest_ownership_data is unset, then every change file published after
// it, in ascending date order, updating the ledger's watermark after each
// file completes.
func (u *Updater) Run(ctx context.Context, run *ledger.Run) error {
	entries, err := u.catalogue.ListFiles(ctx)
	if err != nil {
		return err
	}

	if run.LatestOwnershipData == nil {
		snapshot, ok := FullSnapshot(entries)
		if !ok {
			return errors.New(errors.ErrorTypeTask, errors.SeverityHigh, "no full snapshot listed by catalogue and no prior ownership data recorded")
		}
		if err := u.applyFile(ctx, snapshot); err != nil {
			return err
		}
		date := snapshot.PublicationDate
		if err := u.ledger.UpdateLatestOwnershipData(ctx, run.UniqueKey, date); err != nil {
			return err
		}
		run.LatestOwnershipData = &date
	}

	changeFiles := ChangeFilesAfter(entries, *run.LatestOwnershipData)
	for _, cf := range changeFiles {
		if err := u.applyFile(ctx, cf); err != nil {
			return err
		}
		date := cf.PublicationDate
		if err := u.ledger.UpdateLatestOwnershipData(ctx, run.UniqueKey, date); err != nil {
			return err
		}
		run.LatestOwnershipData = &date
		logging.Info("ownership file applied", "kind", cf.Kind, "published", date.Format("2006-01-02"))
	}

	return nil
}

func (u *Updater) applyFile(ctx context.Context, entry CatalogueEntry) error {
	body, err := u.fetch(ctx, entry.DownloadURL)
	if err != nil {
		return errors.TransientErrorf(err, "downloading ownership file for %s", entry.Kind)
	}
	defer body.Close()

	batch, err := StreamCSV(body)
	if err != nil {
		return errors.TaskError(err, "streaming ownership CSV")
	}

	if len(batch.Deletions) > 0 {
		if err := u.store.DeleteOwnershipsByTitleNo(ctx, batch.Deletions); err != nil {
			return err
		}
	}
	if len(batch.Additions) > 0 {
		if err := u.store.UpsertOwnerships(ctx, batch.Additions); err != nil {
			return err
		}
	}
	return nil
}
