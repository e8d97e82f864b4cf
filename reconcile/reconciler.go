// Package reconcile writes a fetched identity list into the local users
// table, guarded by optional confirmation gates and a pre-write dump.
package reconcile

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/samandartukhtayev/authentik-sync/models"
)

// maxListedUnmatched caps how many unmatched usernames go into the warning
const maxListedUnmatched = 20

// IdentityStore persists identity bindings
type IdentityStore interface {
	BindIdentities(ctx context.Context, rows []models.UpdateRow) (models.BindResult, error)
	CountExisting(ctx context.Context, usernames []string) (int64, error)
}

// Dumper snapshots the database and returns the artifact path
type Dumper interface {
	Dump(ctx context.Context) (string, error)
}

// Gate asks the operator to confirm the run
type Gate interface {
	ConfirmIntent(count int) (bool, error)
	ConfirmBackup() (bool, error)
}

// Options configures a Reconciler. A nil Dumper or Gate disables that step.
type Options struct {
	AuthService      string
	Dumper           Dumper
	Gate             Gate
	AllowDumpFailure bool
	DryRun           bool
	Logger           *slog.Logger
}

// Reconciler applies a complete user list to the store in one batch
type Reconciler struct {
	store IdentityStore
	opts  Options
	log   *slog.Logger
}

// New creates a reconciler
func New(store IdentityStore, opts Options) *Reconciler {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		store: store,
		opts:  opts,
		log:   log,
	}
}

// Run reconciles records, which must be the full result of one fetch. It
// returns models.ErrCancelled when the operator declines a gate; nothing is
// written in that case.
func (r *Reconciler) Run(ctx context.Context, records []models.UserRecord) (models.BindResult, error) {
	if r.opts.AuthService == "" {
		return models.BindResult{}, errors.Wrap(models.ErrConfigMissing, "auth service label is empty")
	}

	rows := models.NewUpdateRows(r.opts.AuthService, records)

	if r.opts.DryRun {
		return r.dryRun(ctx, rows)
	}

	if r.opts.Gate != nil {
		if err := r.confirm(len(rows)); err != nil {
			return models.BindResult{}, err
		}
	}

	if r.opts.Dumper != nil {
		if err := r.dump(ctx); err != nil {
			return models.BindResult{}, err
		}
	}

	r.log.Info("Updating users", "records", len(rows), "auth_service", r.opts.AuthService)

	result, err := r.store.BindIdentities(ctx, rows)
	if err != nil {
		return models.BindResult{}, err
	}

	r.report(result)
	return result, nil
}

func (r *Reconciler) confirm(count int) error {
	ok, err := r.opts.Gate.ConfirmIntent(count)
	if err != nil {
		return errors.Wrap(err, "intent confirmation")
	}
	if !ok {
		return errors.Wrap(models.ErrCancelled, "update not confirmed")
	}

	ok, err = r.opts.Gate.ConfirmBackup()
	if err != nil {
		return errors.Wrap(err, "backup confirmation")
	}
	if !ok {
		return errors.Wrap(models.ErrCancelled, "backup not confirmed")
	}
	return nil
}

func (r *Reconciler) dump(ctx context.Context) error {
	path, err := r.opts.Dumper.Dump(ctx)
	if err == nil {
		r.log.Info("Database dump written", "file", path)
		return nil
	}

	if !r.opts.AllowDumpFailure {
		return err
	}
	r.log.Warn("Database dump failed, continuing without a backup", "error", err)
	return nil
}

func (r *Reconciler) dryRun(ctx context.Context, rows []models.UpdateRow) (models.BindResult, error) {
	usernames := make([]string, 0, len(rows))
	for _, row := range rows {
		usernames = append(usernames, row.Username)
	}

	existing, err := r.store.CountExisting(ctx, usernames)
	if err != nil {
		return models.BindResult{}, errors.Wrap(err, "dry run")
	}

	r.log.Info("Dry run, no rows were changed",
		"records", len(rows),
		"existing_local_users", existing,
		"auth_service", r.opts.AuthService)

	return models.BindResult{Submitted: len(rows), Matched: existing}, nil
}

func (r *Reconciler) report(result models.BindResult) {
	r.log.Info("Updated users table",
		"submitted", result.Submitted,
		"matched", result.Matched)

	if !result.Mismatch() {
		return
	}

	listed := result.Unmatched
	if len(listed) > maxListedUnmatched {
		listed = listed[:maxListedUnmatched]
	}
	r.log.Warn("Some provider users have no local account",
		"unmatched", len(result.Unmatched),
		"matched", result.Matched,
		"submitted", result.Submitted,
		"usernames", listed)
}
