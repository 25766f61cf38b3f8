// Package appointments manages scheduling records. Status transitions are
// the only lifecycle mutation; appointments are never hard-deleted.
package appointments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/mwilkes/clinicdesk/internal/events"
	"github.com/mwilkes/clinicdesk/internal/records"
	"github.com/mwilkes/clinicdesk/internal/writer"
	"github.com/mwilkes/clinicdesk/pkg/logging"
)

const (
	StatusScheduled = "Scheduled"
	StatusCompleted = "Completed"
	StatusCanceled  = "Canceled"
)

// ErrBadTransition indicates a status change the lifecycle does not allow.
var ErrBadTransition = errors.New("appointments: invalid status transition")

// Appointment is one scheduled visit.
type Appointment struct {
	ID                  string `json:"id"`
	PatientID           string `json:"patientId" validate:"required"`
	DoctorID            string `json:"doctorId" validate:"required"`
	AppointmentDateTime string `json:"appointmentDateTime" validate:"required"`
	ReasonForVisit      string `json:"reasonForVisit,omitempty"`
	Status              string `json:"status" validate:"required,oneof=Scheduled Completed Canceled"`
}

var validate = validator.New()

func (a Appointment) Validate() error {
	if err := validate.Struct(a); err != nil {
		return fmt.Errorf("appointments: invalid appointment: %w", err)
	}
	if _, err := time.Parse(time.RFC3339, a.AppointmentDateTime); err != nil {
		return fmt.Errorf("appointments: invalid appointmentDateTime: %w", err)
	}
	return nil
}

// CanTransition reports whether a status change is allowed. Completed and
// Canceled are terminal.
func CanTransition(from, to string) bool {
	return from == StatusScheduled && (to == StatusCompleted || to == StatusCanceled)
}

type eventOutbox interface {
	Insert(ctx context.Context, eventType string, payload any) (uuid.UUID, error)
}

// Service wraps appointment reads and queued writes.
type Service struct {
	records records.Store
	writer  *writer.Writer
	outbox  eventOutbox
	logger  *logging.Logger
}

// NewService builds the appointment service. outbox may be nil when event
// publication is disabled.
func NewService(recordStore records.Store, w *writer.Writer, outbox eventOutbox, logger *logging.Logger) *Service {
	if recordStore == nil {
		panic("appointments: record store cannot be nil")
	}
	if w == nil {
		panic("appointments: writer cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		records: recordStore,
		writer:  w,
		outbox:  outbox,
		logger:  logger,
	}
}

// Create validates and queues a new appointment, returning its handle
// before the write commits. The created event goes through the outbox for
// downstream notification delivery.
func (s *Service) Create(ctx context.Context, appt Appointment) (writer.Handle, error) {
	if appt.Status == "" {
		appt.Status = StatusScheduled
	}
	if err := appt.Validate(); err != nil {
		return writer.Handle{}, err
	}

	body, err := toMap(appt)
	if err != nil {
		return writer.Handle{}, err
	}
	delete(body, "id")

	handle := s.writer.CreateAuto(ctx, records.CollectionAppointments, body)

	if s.outbox != nil {
		_, err := s.outbox.Insert(ctx, events.TypeAppointmentCreatedV1, events.AppointmentCreatedV1{
			AppointmentID:       handle.DocID,
			PatientID:           appt.PatientID,
			DoctorID:            appt.DoctorID,
			AppointmentDateTime: appt.AppointmentDateTime,
			ReasonForVisit:      appt.ReasonForVisit,
			CreatedAt:           time.Now().UTC(),
		})
		if err != nil {
			s.logger.Warn("failed to record appointment event", "error", err, "appointment_id", handle.DocID)
		}
	}

	return handle, nil
}

// UpdateStatus queues a status transition after checking it against the
// current record.
func (s *Service) UpdateStatus(ctx context.Context, id, status string) (writer.Handle, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return writer.Handle{}, err
	}
	if !CanTransition(current.Status, status) {
		return writer.Handle{}, fmt.Errorf("%w: %s -> %s", ErrBadTransition, current.Status, status)
	}

	return s.writer.Patch(ctx, records.CollectionAppointments, id, map[string]any{
		"status": status,
	}), nil
}

// Get fetches one appointment.
func (s *Service) Get(ctx context.Context, id string) (Appointment, error) {
	rec, err := s.records.Get(ctx, records.CollectionAppointments, id)
	if err != nil {
		return Appointment{}, err
	}
	return decode(rec)
}

// ListByPatient returns a patient's appointments, soonest first.
func (s *Service) ListByPatient(ctx context.Context, patientID string) ([]Appointment, error) {
	return s.list(ctx, "patientId", patientID)
}

// ListByDoctor returns a doctor's appointments, soonest first.
func (s *Service) ListByDoctor(ctx context.Context, doctorID string) ([]Appointment, error) {
	return s.list(ctx, "doctorId", doctorID)
}

func (s *Service) list(ctx context.Context, field, value string) ([]Appointment, error) {
	recs, err := s.records.List(ctx, records.Query{
		Collection: records.CollectionAppointments,
		Filters: []records.Filter{
			{Field: field, Op: "==", Value: value},
		},
		OrderBy: "appointmentDateTime",
	})
	if err != nil {
		return nil, err
	}

	appts := make([]Appointment, 0, len(recs))
	for _, rec := range recs {
		a, err := decode(rec)
		if err != nil {
			continue
		}
		appts = append(appts, a)
	}
	return appts, nil
}

func decode(rec records.Document) (Appointment, error) {
	var a Appointment
	if err := json.Unmarshal(rec.Data, &a); err != nil {
		return Appointment{}, fmt.Errorf("appointments: malformed record %s: %w", rec.ID, err)
	}
	a.ID = rec.ID
	return a, nil
}

func toMap(appt Appointment) (map[string]any, error) {
	data, err := json.Marshal(appt)
	if err != nil {
		return nil, fmt.Errorf("appointments: encode: %w", err)
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("appointments: encode: %w", err)
	}
	return body, nil
}
