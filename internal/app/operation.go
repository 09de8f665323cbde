package app

import (
	"context"
	"encoding/json"
	"fmt"

	"drivemirror/internal/mirror"
)

// Journal operation names.
const (
	OpInitDB            = "InitDB"
	OpAddPermission     = "AddPermission"
	OpDeletePermission  = "DeletePermission"
	OpAddPermissions    = "AddPermissions"
	OpDeletePermissions = "DeletePermissions"
	OpImportSnapshot    = "ImportSnapshot"
)

// Journal statuses.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusError   = "error"
)

// journal records mutating operations in the mirror's operation log.
type journal struct {
	db     mirror.Database
	logger mirror.Logger
}

// run records operation with its JSON-encoded params, runs fn, and marks
// the entry finished with the outcome of fn. A journal write failure is
// logged but never masks the result of fn.
func (j *journal) run(ctx context.Context, operation string, params any, fn func() error) error {
	op, err := j.db.CreateOperation(ctx, operation, encodeParams(params))
	if err != nil {
		return fmt.Errorf("recording %s: %w", operation, err)
	}

	runErr := fn()
	status := StatusSuccess
	if runErr != nil {
		status = StatusError
	}
	if err := j.db.FinishOperation(ctx, op.ID, status); err != nil {
		j.logger.Error("finishing journal entry failed", "operation", operation, "id", op.ID, "error", err)
	}
	return runErr
}

func encodeParams(params any) string {
	if params == nil {
		return ""
	}
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%v", params)
	}
	return string(data)
}
