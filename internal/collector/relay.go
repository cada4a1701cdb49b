package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/epimonitor/manager/pkg/client"
	"github.com/epimonitor/manager/pkg/types"
)

// RelayAppName is the app name relay sessions are opened with.
const RelayAppName = "collector-relay"

// RelayResult summarizes one lab's relay run.
type RelayResult struct {
	Lab       string
	SessionID string
	Sent      int
	Failed    int

	// Unmoved counts files that were uploaded but could not be moved out
	// of the spool. They are uploaded again on the next run.
	Unmoved int
}

// Relay uploads spooled files to the manager, one session per lab.
type Relay struct {
	spool      *Spool
	labs       map[string]string
	managerURL string
	logger     *slog.Logger
	clientOpts []client.Option
}

// NewRelay creates a relay. clientOpts are passed to every client session.
func NewRelay(spool *Spool, labs map[string]string, managerURL string, logger *slog.Logger, clientOpts ...client.Option) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		spool:      spool,
		labs:       labs,
		managerURL: managerURL,
		logger:     logger,
		clientOpts: clientOpts,
	}
}

// Run relays every lab with pending files. Labs without pending files open
// no session. A lab whose session cannot be opened is skipped and its error
// is included in the returned error; upload failures only mark the lab's
// session FINISHED_WITH_ERRORS.
func (r *Relay) Run(ctx context.Context) ([]RelayResult, error) {
	labs := make([]string, 0, len(r.labs))
	for lab := range r.labs {
		labs = append(labs, lab)
	}
	sort.Strings(labs)

	var (
		results []RelayResult
		errs    []error
	)
	for _, lab := range labs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		result, err := r.relayLab(ctx, lab)
		if err != nil {
			r.logger.Error("relay failed", "lab", lab, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", lab, err))
			continue
		}
		if result != nil {
			results = append(results, *result)
		}
	}
	return results, errors.Join(errs...)
}

func (r *Relay) relayLab(ctx context.Context, lab string) (*RelayResult, error) {
	pending, err := r.spool.Pending(lab)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}

	iface, err := client.New(ctx, RelayAppName, r.managerURL, r.clientOpts...)
	if err != nil {
		return nil, err
	}
	log := iface.Logger().With("lab", lab)
	log.Info("relay started", "files", len(pending))

	result := &RelayResult{Lab: lab, SessionID: iface.SessionID()}
	for _, path := range pending {
		if err := r.upload(ctx, iface, lab, path); err != nil {
			log.Error("upload failed", "file", filepath.Base(path), "error", err)
			result.Failed++
			continue
		}
		result.Sent++
		if err := r.spool.MarkSent(path); err != nil {
			log.Warn("uploaded but not moved", "file", filepath.Base(path), "error", err)
			result.Unmoved++
		}
	}

	status := types.StatusCompleted
	if result.Failed > 0 {
		status = types.StatusFinishedWithErrors
	}
	log.Info("relay finished", "sent", result.Sent, "failed", result.Failed, "unmoved", result.Unmoved)
	if _, err := iface.CloseSession(ctx, status); err != nil {
		return result, fmt.Errorf("close session %s: %w", iface.SessionID(), err)
	}
	return result, nil
}

func (r *Relay) upload(ctx context.Context, iface *client.Interface, lab, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = iface.UploadFile(ctx, lab, r.labs[lab], f, filepath.Base(path))
	return err
}
