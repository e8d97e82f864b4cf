package repository

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/samandartukhtayev/authentik-sync/models"
)

// DB is the part of *pgx.Conn the repository needs
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// IdentityRepository records which external identity owns each local account
type IdentityRepository struct {
	db        DB
	table     string
	updateSQL string
	countSQL  string
}

// NewIdentityRepository creates a repository over table, which may be schema-qualified
func NewIdentityRepository(db DB, table string) *IdentityRepository {
	t := quoteTable(table)
	return &IdentityRepository{
		db:    db,
		table: table,
		updateSQL: `
		UPDATE ` + t + `
		SET authservice = $1, authdata = $2
		WHERE username = $3
	`,
		countSQL: `SELECT COUNT(*) FROM ` + t + ` WHERE username = ANY($1)`,
	}
}

// quoteTable quotes each dot-separated part of a table name
func quoteTable(table string) string {
	parts := strings.Split(table, ".")
	for i, p := range parts {
		parts[i] = pq.QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}

// BindIdentities applies one UPDATE per row inside a single transaction.
// All statements travel in one batch round trip and are committed once; any
// statement error rolls the whole transaction back.
func (r *IdentityRepository) BindIdentities(ctx context.Context, rows []models.UpdateRow) (models.BindResult, error) {
	if len(rows) == 0 {
		return models.BindResult{}, nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return models.BindResult{}, errors.Wrap(updateFailed{err}, "failed to begin transaction")
	}
	// no-op once committed
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(r.updateSQL, row.Args()...)
	}

	result := models.BindResult{Submitted: len(rows)}

	br := tx.SendBatch(ctx, batch)
	for _, row := range rows {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return models.BindResult{}, errors.Wrapf(updateFailed{err}, "failed to update user %q in %s", row.Username, r.table)
		}

		n := tag.RowsAffected()
		result.Matched += n
		if n == 0 {
			result.Unmatched = append(result.Unmatched, row.Username)
		}
	}
	if err := br.Close(); err != nil {
		return models.BindResult{}, errors.Wrap(updateFailed{err}, "failed to close batch")
	}

	if err := tx.Commit(ctx); err != nil {
		return models.BindResult{}, errors.Wrap(updateFailed{err}, "failed to commit")
	}

	return result, nil
}

// CountExisting returns how many local rows carry one of the given usernames
func (r *IdentityRepository) CountExisting(ctx context.Context, usernames []string) (int64, error) {
	if len(usernames) == 0 {
		return 0, nil
	}

	var count int64
	if err := r.db.QueryRow(ctx, r.countSQL, usernames).Scan(&count); err != nil {
		return 0, errors.Wrapf(err, "failed to count users in %s", r.table)
	}
	return count, nil
}

// updateFailed classifies a driver error as models.ErrUpdateFailed while
// keeping the driver error reachable through errors.As
type updateFailed struct {
	err error
}

func (e updateFailed) Error() string {
	return models.ErrUpdateFailed.Error() + ": " + e.err.Error()
}

func (e updateFailed) Is(target error) bool {
	return target == models.ErrUpdateFailed
}

func (e updateFailed) Unwrap() error {
	return e.err
}
