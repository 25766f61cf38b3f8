// Package patients manages patient demographic records.
package patients

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/mwilkes/clinicdesk/internal/records"
)

// Patient is the demographic record referenced by appointments,
// consultations, invoices, and documents.
type Patient struct {
	ID             string `json:"id"`
	FirstName      string `json:"firstName" validate:"required"`
	LastName       string `json:"lastName" validate:"required"`
	Email          string `json:"email" validate:"omitempty,email"`
	DateOfBirth    string `json:"dateOfBirth,omitempty"`
	Gender         string `json:"gender,omitempty" validate:"omitempty,oneof=male female other"`
	ContactNumber  string `json:"contactNumber,omitempty"`
	Address        string `json:"address,omitempty"`
	MedicalHistory string `json:"medicalHistory,omitempty"`
}

var validate = validator.New()

func (p Patient) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("patients: invalid patient: %w", err)
	}
	return nil
}

// Store reads typed patient records.
type Store struct {
	records records.Store
}

func NewStore(recordStore records.Store) *Store {
	if recordStore == nil {
		panic("patients: record store cannot be nil")
	}
	return &Store{records: recordStore}
}

func (s *Store) Get(ctx context.Context, id string) (Patient, error) {
	rec, err := s.records.Get(ctx, records.CollectionPatients, id)
	if err != nil {
		return Patient{}, err
	}
	return decode(rec)
}

// List returns patients ordered by last name.
func (s *Store) List(ctx context.Context, limit int) ([]Patient, error) {
	recs, err := s.records.List(ctx, records.Query{
		Collection: records.CollectionPatients,
		OrderBy:    "lastName",
		Limit:      limit,
	})
	if err != nil {
		return nil, err
	}

	patients := make([]Patient, 0, len(recs))
	for _, rec := range recs {
		p, err := decode(rec)
		if err != nil {
			continue
		}
		patients = append(patients, p)
	}
	return patients, nil
}

func decode(rec records.Document) (Patient, error) {
	var p Patient
	if err := json.Unmarshal(rec.Data, &p); err != nil {
		return Patient{}, fmt.Errorf("patients: malformed record %s: %w", rec.ID, err)
	}
	p.ID = rec.ID
	return p, nil
}
