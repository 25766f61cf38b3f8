// Package records implements a document-oriented store over PostgreSQL.
// Each collection is a table of (id, data jsonb) rows; typed packages decode
// the JSON body at the read boundary and reject malformed records.
package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Known collections. Queries against anything else are rejected before
// touching the database.
const (
	CollectionUsers            = "users"
	CollectionPatients         = "patients"
	CollectionAppointments     = "appointments"
	CollectionConsultations    = "consultations"
	CollectionInvoices         = "invoices"
	CollectionPatientDocuments = "patient_documents"
)

var collectionTables = map[string]string{
	CollectionUsers:            "users",
	CollectionPatients:         "patients",
	CollectionAppointments:     "appointments",
	CollectionConsultations:    "consultations",
	CollectionInvoices:         "invoices",
	CollectionPatientDocuments: "patient_documents",
}

var (
	ErrNotFound          = errors.New("records: document not found")
	ErrUnknownCollection = errors.New("records: unknown collection")
	ErrBadFilter         = errors.New("records: unsupported filter operator")
)

// Document is a single record with its identifier and raw JSON body.
type Document struct {
	ID   string
	Data json.RawMessage
}

// Merged returns the document body with the id merged into it. The store key
// and the embedded id are written separately by callers, so merge on read
// rather than trusting the body.
func (d Document) Merged() (json.RawMessage, error) {
	return mergeID(d.ID, d.Data)
}

// Filter is a single field predicate.
type Filter struct {
	Field string
	Op    string // "==", "!=", "<", "<=", ">", ">="
	Value any
}

// Query describes a collection read, or a single-document read when DocID
// is set (filters and ordering are ignored in that case).
type Query struct {
	Collection string
	DocID      string
	Filters    []Filter
	OrderBy    string
	Desc       bool
	Limit      int
}

// Key returns a stable identity string for the query, used by the live-query
// hub to coalesce identical subscriptions.
func (q *Query) Key() string {
	if q == nil {
		return ""
	}
	b, _ := json.Marshal(struct {
		C  string   `json:"c"`
		ID string   `json:"id,omitempty"`
		F  []Filter `json:"f,omitempty"`
		O  string   `json:"o,omitempty"`
		D  bool     `json:"d,omitempty"`
		L  int      `json:"l,omitempty"`
	}{q.Collection, q.DocID, q.Filters, q.OrderBy, q.Desc, q.Limit})
	return string(b)
}

// Store is the read/write surface shared by the HTTP layer, the non-blocking
// write pipeline, and the live-query hub.
type Store interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	List(ctx context.Context, q Query) ([]Document, error)
	Put(ctx context.Context, collection, id string, data json.RawMessage) error
	Patch(ctx context.Context, collection, id string, fields map[string]any) error
	Delete(ctx context.Context, collection, id string) error
}

func tableFor(collection string) (string, error) {
	table, ok := collectionTables[collection]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
	}
	return table, nil
}

func validOp(op string) bool {
	switch op {
	case "==", "!=", "<", "<=", ">", ">=":
		return true
	}
	return false
}

func mergeID(id string, data json.RawMessage) (json.RawMessage, error) {
	body := map[string]any{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, fmt.Errorf("records: malformed document body %q: %w", id, err)
		}
	}
	body["id"] = id
	merged, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("records: merge id: %w", err)
	}
	return merged, nil
}
