// Package consultations stores visit notes. Records are append-mostly:
// created after an appointment, occasionally amended by the authoring
// doctor, never hard-deleted.
package consultations

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mwilkes/clinicdesk/internal/records"
	"github.com/mwilkes/clinicdesk/internal/writer"
	"github.com/mwilkes/clinicdesk/pkg/logging"
)

// Consultation is one visit summary written by a doctor.
type Consultation struct {
	ID                   string `json:"id"`
	PatientID            string `json:"patientId" validate:"required"`
	DoctorID             string `json:"doctorId" validate:"required"`
	ConsultationDateTime string `json:"consultationDateTime" validate:"required"`
	Diagnosis            string `json:"diagnosis,omitempty"`
	Notes                string `json:"notes,omitempty"`
}

var validate = validator.New()

func (c Consultation) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("consultations: invalid consultation: %w", err)
	}
	if _, err := time.Parse(time.RFC3339, c.ConsultationDateTime); err != nil {
		return fmt.Errorf("consultations: invalid consultationDateTime: %w", err)
	}
	return nil
}

// Service wraps consultation reads and queued writes.
type Service struct {
	records records.Store
	writer  *writer.Writer
	logger  *logging.Logger
}

func NewService(recordStore records.Store, w *writer.Writer, logger *logging.Logger) *Service {
	if recordStore == nil {
		panic("consultations: record store cannot be nil")
	}
	if w == nil {
		panic("consultations: writer cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{records: recordStore, writer: w, logger: logger}
}

// Create queues a new consultation and returns its handle before the write
// commits.
func (s *Service) Create(ctx context.Context, c Consultation) (writer.Handle, error) {
	if c.ConsultationDateTime == "" {
		c.ConsultationDateTime = time.Now().UTC().Format(time.RFC3339)
	}
	if err := c.Validate(); err != nil {
		return writer.Handle{}, err
	}

	body, err := toMap(c)
	if err != nil {
		return writer.Handle{}, err
	}
	delete(body, "id")

	return s.writer.CreateAuto(ctx, records.CollectionConsultations, body), nil
}

// Amend queues an update to a consultation's diagnosis and notes. Only the
// authoring doctor may amend.
func (s *Service) Amend(ctx context.Context, id, doctorID, diagnosis, notes string) (writer.Handle, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return writer.Handle{}, err
	}
	if current.DoctorID != doctorID {
		return writer.Handle{}, fmt.Errorf("consultations: doctor %s did not author consultation %s", doctorID, id)
	}

	return s.writer.Patch(ctx, records.CollectionConsultations, id, map[string]any{
		"diagnosis": diagnosis,
		"notes":     notes,
	}), nil
}

// Get fetches one consultation.
func (s *Service) Get(ctx context.Context, id string) (Consultation, error) {
	rec, err := s.records.Get(ctx, records.CollectionConsultations, id)
	if err != nil {
		return Consultation{}, err
	}
	return decode(rec)
}

// ListByPatient returns a patient's consultations, newest first.
func (s *Service) ListByPatient(ctx context.Context, patientID string) ([]Consultation, error) {
	return s.list(ctx, "patientId", patientID)
}

// ListByDoctor returns a doctor's consultations, newest first.
func (s *Service) ListByDoctor(ctx context.Context, doctorID string) ([]Consultation, error) {
	return s.list(ctx, "doctorId", doctorID)
}

func (s *Service) list(ctx context.Context, field, value string) ([]Consultation, error) {
	recs, err := s.records.List(ctx, records.Query{
		Collection: records.CollectionConsultations,
		Filters: []records.Filter{
			{Field: field, Op: "==", Value: value},
		},
		OrderBy: "consultationDateTime",
		Desc:    true,
	})
	if err != nil {
		return nil, err
	}

	consults := make([]Consultation, 0, len(recs))
	for _, rec := range recs {
		c, err := decode(rec)
		if err != nil {
			continue
		}
		consults = append(consults, c)
	}
	return consults, nil
}

func decode(rec records.Document) (Consultation, error) {
	var c Consultation
	if err := json.Unmarshal(rec.Data, &c); err != nil {
		return Consultation{}, fmt.Errorf("consultations: decode %s: %w", rec.ID, err)
	}
	if c.ID == "" {
		c.ID = rec.ID
	}
	return c, nil
}

func toMap(c Consultation) (map[string]any, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("consultations: encode consultation: %w", err)
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("consultations: encode consultation: %w", err)
	}
	return body, nil
}
