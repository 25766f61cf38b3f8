package events

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mwilkes/clinicdesk/internal/records"
)

// Error codes carried by StoreErrorV1. The names follow gRPC status
// conventions so client code can switch on them without parsing messages.
const (
	CodePermissionDenied = "permission-denied"
	CodeInvalidArgument  = "invalid-argument"
	CodeNotFound         = "not-found"
	CodeUnavailable      = "unavailable"
)

// ClassifyStoreError maps a record store failure to a StoreErrorV1 code.
func ClassifyStoreError(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "42501" {
		return CodePermissionDenied
	}
	if errors.Is(err, records.ErrUnknownCollection) || errors.Is(err, records.ErrBadFilter) {
		return CodeInvalidArgument
	}
	if errors.Is(err, records.ErrNotFound) {
		return CodeNotFound
	}
	return CodeUnavailable
}
