// Package users defines clinic staff and patient accounts and their roles.
package users

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/mwilkes/clinicdesk/internal/records"
)

// Roles drive dashboard selection and route gating.
const (
	RoleAdmin        = "admin"
	RoleDoctor       = "doctor"
	RoleReceptionist = "receptionist"
	RolePatient      = "patient"
)

// User is an account record. Role-specific fields are optional for the
// other roles.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Role     string `json:"role" validate:"required,oneof=admin doctor receptionist patient"`
	Verified bool   `json:"verified"`
	PhotoURL string `json:"photoURL,omitempty"`

	// Doctors carry a medical registration number; staff carry a work ID.
	RegistrationNumber string `json:"registrationNumber,omitempty" validate:"required_if=Role doctor"`
	WorkID             string `json:"workId,omitempty" validate:"required_if=Role receptionist"`
}

var validate = validator.New()

// Validate checks required fields and role constraints.
func (u User) Validate() error {
	if err := validate.Struct(u); err != nil {
		return fmt.Errorf("users: invalid user: %w", err)
	}
	return nil
}

// IsStaff reports whether the role belongs to clinic personnel.
func IsStaff(role string) bool {
	return role == RoleAdmin || role == RoleDoctor || role == RoleReceptionist
}

// Store reads typed user records.
type Store struct {
	records records.Store
}

func NewStore(recordStore records.Store) *Store {
	if recordStore == nil {
		panic("users: record store cannot be nil")
	}
	return &Store{records: recordStore}
}

// Get fetches one user by ID.
func (s *Store) Get(ctx context.Context, id string) (User, error) {
	rec, err := s.records.Get(ctx, records.CollectionUsers, id)
	if err != nil {
		return User{}, err
	}
	return decode(rec)
}

// ListByRole returns all users with the given role, ordered by name.
func (s *Store) ListByRole(ctx context.Context, role string) ([]User, error) {
	recs, err := s.records.List(ctx, records.Query{
		Collection: records.CollectionUsers,
		Filters: []records.Filter{
			{Field: "role", Op: "==", Value: role},
		},
		OrderBy: "name",
	})
	if err != nil {
		return nil, err
	}

	users := make([]User, 0, len(recs))
	for _, rec := range recs {
		u, err := decode(rec)
		if err != nil {
			// Malformed records are skipped rather than failing the list.
			continue
		}
		users = append(users, u)
	}
	return users, nil
}

func decode(rec records.Document) (User, error) {
	var u User
	if err := json.Unmarshal(rec.Data, &u); err != nil {
		return User{}, fmt.Errorf("users: malformed record %s: %w", rec.ID, err)
	}
	u.ID = rec.ID
	return u, nil
}
