// Package notify delivers patient and staff emails for domain events drained
// from the outbox.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mwilkes/clinicdesk/internal/events"
	"github.com/mwilkes/clinicdesk/internal/patients"
	"github.com/mwilkes/clinicdesk/pkg/logging"
)

// patientReader looks up patient contact details for outgoing notifications.
type patientReader interface {
	Get(ctx context.Context, id string) (patients.Patient, error)
}

// Config holds notification settings.
type Config struct {
	ClinicName string
	// StaffRecipients receive a copy of payment notices.
	StaffRecipients []string
}

// Service sends notifications for outbox events. It implements
// events.DeliveryHandler: a returned error keeps the entry pending so the
// dispatcher retries it on the next tick.
type Service struct {
	email    EmailSender
	patients patientReader
	cfg      Config
	logger   *logging.Logger
}

// NewService creates a notification service.
func NewService(email EmailSender, patientStore patientReader, cfg Config, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.ClinicName == "" {
		cfg.ClinicName = "ClinicDesk"
	}
	return &Service{
		email:    email,
		patients: patientStore,
		cfg:      cfg,
		logger:   logger,
	}
}

// Handle routes an outbox entry to the matching notification. Unknown event
// types are acknowledged so they do not jam the outbox.
func (s *Service) Handle(ctx context.Context, entry events.OutboxEntry) error {
	switch entry.Type {
	case events.TypeAppointmentCreatedV1:
		var evt events.AppointmentCreatedV1
		if err := json.Unmarshal(entry.Payload, &evt); err != nil {
			s.logger.Error("notify: bad appointment payload", "error", err, "event_id", entry.ID)
			return nil
		}
		return s.notifyAppointmentCreated(ctx, evt)
	case events.TypeInvoicePaidV1:
		var evt events.InvoicePaidV1
		if err := json.Unmarshal(entry.Payload, &evt); err != nil {
			s.logger.Error("notify: bad invoice payload", "error", err, "event_id", entry.ID)
			return nil
		}
		return s.notifyInvoicePaid(ctx, evt)
	default:
		s.logger.Debug("notify: no handler for event type", "type", entry.Type)
		return nil
	}
}

func (s *Service) notifyAppointmentCreated(ctx context.Context, evt events.AppointmentCreatedV1) error {
	if s.email == nil {
		return nil
	}

	patient, ok := s.lookupPatient(ctx, evt.PatientID)
	if !ok {
		return nil
	}

	when := formatWhen(evt.AppointmentDateTime)
	subject := fmt.Sprintf("Appointment confirmed - %s", when)
	body := fmt.Sprintf(`Hi %s,

Your appointment at %s is confirmed.

When: %s%s

If you need to reschedule, please contact the office.

- %s`, patient.FirstName, s.cfg.ClinicName, when, formatReason(evt.ReasonForVisit), s.cfg.ClinicName)

	msg := EmailMessage{
		To:      patient.Email,
		ToName:  patient.FirstName + " " + patient.LastName,
		Subject: subject,
		Body:    body,
	}
	if err := s.email.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: appointment confirmation: %w", err)
	}
	s.logger.Info("notify: appointment confirmation sent", "to", patient.Email, "appointment_id", evt.AppointmentID)
	return nil
}

func (s *Service) notifyInvoicePaid(ctx context.Context, evt events.InvoicePaidV1) error {
	if s.email == nil {
		return nil
	}

	amount := fmt.Sprintf("$%.2f", float64(evt.AmountCents)/100)
	paidAt := evt.OccurredAt.Format("January 2, 2006 at 3:04 PM")

	var errs []error

	if patient, ok := s.lookupPatient(ctx, evt.PatientID); ok {
		body := fmt.Sprintf(`Hi %s,

Thank you for your payment of %s, received on %s.

Reference: %s

- %s`, patient.FirstName, amount, paidAt, evt.ProviderRef, s.cfg.ClinicName)

		msg := EmailMessage{
			To:      patient.Email,
			ToName:  patient.FirstName + " " + patient.LastName,
			Subject: fmt.Sprintf("Payment received - %s", amount),
			Body:    body,
		}
		if err := s.email.Send(ctx, msg); err != nil {
			s.logger.Error("notify: failed to send receipt", "error", err, "to", patient.Email)
			errs = append(errs, err)
		}
	}

	for _, recipient := range s.cfg.StaffRecipients {
		body := fmt.Sprintf(`Invoice %s was paid.

Patient: %s
Amount: %s
Paid: %s
Reference: %s

- %s`, evt.InvoiceID, evt.PatientID, amount, paidAt, evt.ProviderRef, s.cfg.ClinicName)

		msg := EmailMessage{
			To:      recipient,
			Subject: fmt.Sprintf("Invoice paid - %s", amount),
			Body:    body,
		}
		if err := s.email.Send(ctx, msg); err != nil {
			s.logger.Error("notify: failed to send staff notice", "error", err, "to", recipient)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d notification(s) failed", len(errs))
	}
	return nil
}

// lookupPatient resolves a patient with a usable email address. Missing
// records and missing addresses are logged and skipped rather than retried:
// the data will not improve on the next tick.
func (s *Service) lookupPatient(ctx context.Context, patientID string) (patients.Patient, bool) {
	if s.patients == nil || patientID == "" {
		return patients.Patient{}, false
	}
	patient, err := s.patients.Get(ctx, patientID)
	if err != nil {
		s.logger.Warn("notify: patient lookup failed", "error", err, "patient_id", patientID)
		return patients.Patient{}, false
	}
	if patient.Email == "" {
		s.logger.Debug("notify: patient has no email", "patient_id", patientID)
		return patients.Patient{}, false
	}
	return patient, true
}

func formatWhen(raw string) string {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return raw
	}
	return t.Format("Monday, January 2 at 3:04 PM")
}

func formatReason(reason string) string {
	if reason == "" {
		return ""
	}
	return fmt.Sprintf("\nReason: %s", reason)
}

var _ events.DeliveryHandler = (*Service)(nil)
