package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"drivemirror/internal/mirror"
)

// Operation journal

const statusSuccess = "success"

func (s *SQLiteDatabase) CreateOperation(ctx context.Context, operation, parameters string) (*mirror.Operation, error) {
	id, err := s.queries.InsertOperation(ctx, operation, parameters, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	row, err := s.queries.GetOperation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reading operation %d: %w", id, err)
	}
	return toOperation(row), nil
}

func (s *SQLiteDatabase) FinishOperation(ctx context.Context, id int64, status string) error {
	n, err := s.queries.FinishOperation(ctx, id, status, s.clock.Now())
	if err != nil {
		return fmt.Errorf("finishing operation %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("finishing operation %d: %w", id, sql.ErrNoRows)
	}
	return nil
}

func (s *SQLiteDatabase) ListOperations(ctx context.Context, limit int) ([]*mirror.Operation, error) {
	rows, err := s.queries.ListOperations(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	ops := make([]*mirror.Operation, len(rows))
	for i, r := range rows {
		ops[i] = toOperation(r)
	}
	return ops, nil
}

func (s *SQLiteDatabase) LastSuccessfulOperation(ctx context.Context, operation string) (*mirror.Operation, error) {
	row, err := s.queries.LastOperationWithStatus(ctx, operation, statusSuccess)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding last %s operation: %w", operation, err)
	}
	return toOperation(row), nil
}

func toOperation(r operationRow) *mirror.Operation {
	op := &mirror.Operation{
		ID:         r.ID,
		Operation:  r.Operation,
		Parameters: r.Parameters,
		Status:     r.Status,
		StartedAt:  r.StartedAt,
	}
	if r.FinishedAt.Valid {
		t := r.FinishedAt.Time
		op.FinishedAt = &t
	}
	return op
}
