package events

import "time"

// Operation kinds carried on StoreErrorV1 events.
const (
	OpCreate = "create"
	OpSet    = "set"
	OpPatch  = "patch"
	OpDelete = "delete"
	OpGet    = "get"
	OpList   = "list"
)

// StoreErrorV1 reports a store operation that failed out-of-band: a
// non-blocking write that could not be committed, or a live-query read the
// provider rejected. Published on the in-process relay; for writes the
// original caller has already moved on.
type StoreErrorV1 struct {
	EventID    string    `json:"event_id"`
	OpID       string    `json:"op_id,omitempty"`
	Path       string    `json:"path"`
	Op         string    `json:"op"`
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

type AppointmentCreatedV1 struct {
	EventID             string    `json:"event_id"`
	AppointmentID       string    `json:"appointment_id"`
	PatientID           string    `json:"patient_id"`
	DoctorID            string    `json:"doctor_id"`
	AppointmentDateTime string    `json:"appointment_date_time"`
	ReasonForVisit      string    `json:"reason_for_visit,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

type InvoicePaidV1 struct {
	EventID     string    `json:"event_id"`
	InvoiceID   string    `json:"invoice_id"`
	PatientID   string    `json:"patient_id"`
	AmountCents int64     `json:"amount_cents"`
	Provider    string    `json:"provider"`
	ProviderRef string    `json:"provider_ref,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Event type names as stored in the outbox.
const (
	TypeAppointmentCreatedV1 = "appointment.created.v1"
	TypeInvoicePaidV1        = "invoice.paid.v1"
)
