// Package sequence_repo provides the PostgreSQL implementation of sequence.Repository.
package sequence_repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgconn"

	"seqkeeper/internal/core/apperror"
	"seqkeeper/internal/core/id"
	"seqkeeper/internal/domain/sequence"
	"seqkeeper/internal/infrastructure/storage/postgres"
)

const tableName = "sys_sequences"

const pgUniqueViolation = "23505"

// resetModeExpr folds stored reset_mode values the way sequence.ParseResetMode does.
const resetModeExpr = `lower(btrim(reset_mode, E' \t\n\r\f'))`

// Columns never written by Update.
var immutableCols = map[string]bool{
	"id":         true,
	"version":    true,
	"next_value": true,
	"created_at": true,
}

// SequenceRepo stores sequences in sys_sequences.
type SequenceRepo struct {
	txManager *postgres.TxManager
	cols      []string
}

var _ sequence.Repository = (*SequenceRepo)(nil)

// NewSequenceRepo creates a repository bound to txManager.
func NewSequenceRepo(txManager *postgres.TxManager) *SequenceRepo {
	return &SequenceRepo{
		txManager: txManager,
		cols:      postgres.ExtractDBColumns[sequence.Sequence](),
	}
}

// Builder returns a squirrel builder with PostgreSQL placeholders.
func (r *SequenceRepo) Builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

func (r *SequenceRepo) baseSelect() squirrel.SelectBuilder {
	return r.Builder().Select(r.cols...).From(tableName)
}

func normalize(seqs ...*sequence.Sequence) {
	for _, s := range seqs {
		s.ResetMode = sequence.ParseResetMode(string(s.ResetMode))
	}
}

// Create inserts a sequence.
func (r *SequenceRepo) Create(ctx context.Context, seq *sequence.Sequence) error {
	sql, args, err := r.Builder().
		Insert(tableName).
		SetMap(postgres.StructToMap(seq)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		if isUniqueViolation(err) {
			return apperror.NewDuplicate("sequence", "code", seq.Code).WithCause(err)
		}
		return fmt.Errorf("insert %s: %w", tableName, err)
	}
	return nil
}

// GetByID retrieves a sequence by id.
func (r *SequenceRepo) GetByID(ctx context.Context, seqID id.ID) (*sequence.Sequence, error) {
	return r.getOne(ctx, squirrel.Eq{"id": seqID}, seqID.String())
}

// GetByCode retrieves a sequence by code.
func (r *SequenceRepo) GetByCode(ctx context.Context, code string) (*sequence.Sequence, error) {
	return r.getOne(ctx, squirrel.Eq{"code": code}, code)
}

func (r *SequenceRepo) getOne(ctx context.Context, where squirrel.Eq, key string) (*sequence.Sequence, error) {
	sql, args, err := r.baseSelect().Where(where).Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var seq sequence.Sequence
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &seq, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("sequence", key)
		}
		return nil, fmt.Errorf("get sequence: %w", err)
	}
	normalize(&seq)
	return &seq, nil
}

// listQuery applies filter conditions, without pagination.
func (r *SequenceRepo) listQuery(filter sequence.ListFilter) squirrel.SelectBuilder {
	q := r.baseSelect()
	if s := strings.TrimSpace(filter.Search); s != "" {
		pattern := "%" + s + "%"
		q = q.Where(squirrel.Or{
			squirrel.ILike{"code": pattern},
			squirrel.ILike{"name": pattern},
		})
	}
	if filter.ResetMode != nil {
		switch *filter.ResetMode {
		case sequence.ResetMonthly, sequence.ResetYearly:
			q = q.Where(squirrel.Expr(resetModeExpr+" = ?", string(*filter.ResetMode)))
		default:
			// Unknown stored values count as none.
			q = q.Where(squirrel.Expr(resetModeExpr+" NOT IN (?, ?)",
				string(sequence.ResetMonthly), string(sequence.ResetYearly)))
		}
	}
	return q
}

// List returns sequences ordered by code.
func (r *SequenceRepo) List(ctx context.Context, filter sequence.ListFilter) (sequence.ListResult, error) {
	result := sequence.ListResult{Limit: filter.Limit, Offset: filter.Offset}
	q := r.listQuery(filter)
	querier := r.txManager.GetQuerier(ctx)

	countSQL, countArgs, err := r.Builder().Select("COUNT(*)").FromSelect(q, "sub").ToSql()
	if err != nil {
		return result, fmt.Errorf("build count query: %w", err)
	}
	if err := querier.QueryRow(ctx, countSQL, countArgs...).Scan(&result.TotalCount); err != nil {
		return result, fmt.Errorf("count: %w", err)
	}

	q = q.OrderBy("code")
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return result, fmt.Errorf("build query: %w", err)
	}
	if err := pgxscan.Select(ctx, querier, &result.Items, sql, args...); err != nil {
		return result, fmt.Errorf("list: %w", err)
	}
	normalize(result.Items...)
	return result, nil
}

// FindAll returns every sequence, unfiltered.
func (r *SequenceRepo) FindAll(ctx context.Context) ([]*sequence.Sequence, error) {
	sql, args, err := r.baseSelect().OrderBy("code").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var items []*sequence.Sequence
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &items, sql, args...); err != nil {
		return nil, apperror.NewDatabase("find all sequences", err)
	}
	normalize(items...)
	return items, nil
}

func (r *SequenceRepo) updateQuery(seq *sequence.Sequence) squirrel.UpdateBuilder {
	data := postgres.StructToMap(seq)
	for col := range immutableCols {
		delete(data, col)
	}
	return r.Builder().
		Update(tableName).
		SetMap(data).
		Set("version", squirrel.Expr("version + 1")).
		Where(squirrel.Eq{"id": seq.ID}).
		Where(squirrel.Eq{"version": seq.Version})
}

// Update writes definition fields with optimistic locking. next_value is untouched.
func (r *SequenceRepo) Update(ctx context.Context, seq *sequence.Sequence) error {
	sql, args, err := r.updateQuery(seq).ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.NewDuplicate("sequence", "code", seq.Code).WithCause(err)
		}
		return fmt.Errorf("update %s: %w", tableName, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, seq.ID); err != nil {
			return err
		}
		return apperror.NewConcurrentModification("sequence", seq.ID.String())
	}
	return nil
}

// Delete removes a sequence.
func (r *SequenceRepo) Delete(ctx context.Context, seqID id.ID) error {
	sql, args, err := r.Builder().Delete(tableName).Where(squirrel.Eq{"id": seqID}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}

	tag, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("delete %s: %w", tableName, err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("sequence", seqID.String())
	}
	return nil
}

func (r *SequenceRepo) allocateQuery(code string) squirrel.UpdateBuilder {
	return r.Builder().
		Update(tableName).
		Set("next_value", squirrel.Expr("next_value + step")).
		Where(squirrel.Eq{"code": code}).
		Suffix("RETURNING next_value - step AS allocated, " + strings.Join(r.cols, ", "))
}

// Allocate hands out next_value and advances it by step in one statement.
func (r *SequenceRepo) Allocate(ctx context.Context, code string) (*sequence.Sequence, int64, error) {
	sql, args, err := r.allocateQuery(code).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build allocate: %w", err)
	}

	var row struct {
		sequence.Sequence
		Allocated int64 `db:"allocated"`
	}
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &row, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, 0, apperror.NewNotFound("sequence", code)
		}
		return nil, 0, apperror.NewDatabase("allocate", err)
	}
	seq := row.Sequence
	normalize(&seq)
	return &seq, row.Allocated, nil
}

// overwriteSQL sets next_value and returns the value it replaced. The
// subquery locks the row so the old value read is the one overwritten.
const overwriteSQL = `
	UPDATE sys_sequences s
	SET next_value = $2
	FROM (SELECT id, next_value FROM sys_sequences WHERE id = $1 FOR UPDATE) old
	WHERE s.id = old.id
	RETURNING old.next_value`

// SetNextValue overwrites next_value and returns the previous value.
func (r *SequenceRepo) SetNextValue(ctx context.Context, seqID id.ID, value int64) (int64, error) {
	var previous int64
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &previous, overwriteSQL, seqID, value); err != nil {
		if pgxscan.NotFound(err) {
			return 0, apperror.NewNotFound("sequence", seqID.String())
		}
		return 0, apperror.NewDatabase("set next value", err)
	}
	return previous, nil
}

// ResetNextValue sets next_value to 1 and returns the previous value.
func (r *SequenceRepo) ResetNextValue(ctx context.Context, seqID id.ID) (int64, error) {
	return r.SetNextValue(ctx, seqID, 1)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
