// Package dashboard serves role-scoped overview metrics straight from the
// database. These are read-only aggregates; nothing here goes through the
// write queue.
package dashboard

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mwilkes/clinicdesk/internal/http/middleware"
	"github.com/mwilkes/clinicdesk/pkg/logging"
)

type Handler struct {
	db       *sql.DB
	gatherer prometheus.Gatherer
	logger   *logging.Logger
}

func NewHandler(db *sql.DB, gatherer prometheus.Gatherer, logger *logging.Logger) *Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{db: db, gatherer: gatherer, logger: logger}
}

// AdminOverview is the clinic-wide dashboard for administrators.
type AdminOverview struct {
	Patients struct {
		Total       int `json:"total"`
		NewThisWeek int `json:"new_this_week"`
	} `json:"patients"`
	Appointments struct {
		Today     int `json:"today"`
		Upcoming  int `json:"upcoming"`
		Completed int `json:"completed"`
	} `json:"appointments"`
	Billing struct {
		CollectedCents   int64 `json:"collected_cents"`
		OutstandingCents int64 `json:"outstanding_cents"`
		UnpaidInvoices   int   `json:"unpaid_invoices"`
	} `json:"billing"`
	Documents struct {
		Total int `json:"total"`
	} `json:"documents"`
	AILatency LatencySnapshot `json:"ai_latency"`
}

// GetAdminOverview returns clinic-wide metrics.
// GET /dashboard/admin
func (h *Handler) GetAdminOverview(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		http.Error(w, `{"error":"dashboard disabled (db not configured)"}`, http.StatusServiceUnavailable)
		return
	}
	ctx := r.Context()
	now := time.Now().UTC()
	weekAgo := now.AddDate(0, 0, -7)
	dayStart := now.Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)

	var resp AdminOverview

	h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM patients`,
	).Scan(&resp.Patients.Total)

	h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM patients WHERE created_at >= $1`, weekAgo,
	).Scan(&resp.Patients.NewThisWeek)

	h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM appointments
		 WHERE (data->>'appointmentDateTime')::timestamptz >= $1
		   AND (data->>'appointmentDateTime')::timestamptz < $2`, dayStart, dayEnd,
	).Scan(&resp.Appointments.Today)

	h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM appointments
		 WHERE data->>'status' = 'Scheduled'
		   AND (data->>'appointmentDateTime')::timestamptz >= $1`, now,
	).Scan(&resp.Appointments.Upcoming)

	h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM appointments WHERE data->>'status' = 'Completed'`,
	).Scan(&resp.Appointments.Completed)

	h.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM((data->>'amountCents')::bigint), 0) FROM invoices
		 WHERE data->>'paymentStatus' = 'paid'`,
	).Scan(&resp.Billing.CollectedCents)

	h.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM((data->>'amountCents')::bigint), 0) FROM invoices
		 WHERE data->>'paymentStatus' IN ('unpaid', 'pending')`,
	).Scan(&resp.Billing.OutstandingCents)

	h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM invoices WHERE data->>'paymentStatus' = 'unpaid'`,
	).Scan(&resp.Billing.UnpaidInvoices)

	h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM patient_documents`,
	).Scan(&resp.Documents.Total)

	resp.AILatency = snapshotFlowLatency(h.gatherer)

	writeJSON(w, resp)
}

// DoctorOverview is a doctor's personal schedule summary.
type DoctorOverview struct {
	AppointmentsToday     int      `json:"appointments_today"`
	AppointmentsUpcoming  int      `json:"appointments_upcoming"`
	ConsultationsThisWeek int      `json:"consultations_this_week"`
	PatientsThisWeek      []string `json:"patients_this_week"`
}

// GetDoctorOverview returns the calling doctor's schedule summary.
// GET /dashboard/doctor
func (h *Handler) GetDoctorOverview(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		http.Error(w, `{"error":"dashboard disabled (db not configured)"}`, http.StatusServiceUnavailable)
		return
	}
	claims, _ := middleware.ClaimsFromContext(r.Context())
	ctx := r.Context()
	now := time.Now().UTC()
	weekAgo := now.AddDate(0, 0, -7)
	dayStart := now.Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)

	var resp DoctorOverview

	h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM appointments
		 WHERE data->>'doctorId' = $1
		   AND (data->>'appointmentDateTime')::timestamptz >= $2
		   AND (data->>'appointmentDateTime')::timestamptz < $3`, claims.UID, dayStart, dayEnd,
	).Scan(&resp.AppointmentsToday)

	h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM appointments
		 WHERE data->>'doctorId' = $1
		   AND data->>'status' = 'Scheduled'
		   AND (data->>'appointmentDateTime')::timestamptz >= $2`, claims.UID, now,
	).Scan(&resp.AppointmentsUpcoming)

	h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM consultations
		 WHERE data->>'doctorId' = $1
		   AND (data->>'consultationDateTime')::timestamptz >= $2`, claims.UID, weekAgo,
	).Scan(&resp.ConsultationsThisWeek)

	h.db.QueryRowContext(ctx,
		`SELECT COALESCE(array_agg(DISTINCT data->>'patientId'), '{}') FROM consultations
		 WHERE data->>'doctorId' = $1
		   AND (data->>'consultationDateTime')::timestamptz >= $2`, claims.UID, weekAgo,
	).Scan(pq.Array(&resp.PatientsThisWeek))

	writeJSON(w, resp)
}

// ReceptionistOverview is the front-desk day view.
type ReceptionistOverview struct {
	AppointmentsToday int   `json:"appointments_today"`
	PendingInvoices   int   `json:"pending_invoices"`
	UnpaidInvoices    int   `json:"unpaid_invoices"`
	OutstandingCents  int64 `json:"outstanding_cents"`
}

// GetReceptionistOverview returns front-desk metrics.
// GET /dashboard/receptionist
func (h *Handler) GetReceptionistOverview(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		http.Error(w, `{"error":"dashboard disabled (db not configured)"}`, http.StatusServiceUnavailable)
		return
	}
	ctx := r.Context()
	now := time.Now().UTC()
	dayStart := now.Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)

	var resp ReceptionistOverview

	h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM appointments
		 WHERE (data->>'appointmentDateTime')::timestamptz >= $1
		   AND (data->>'appointmentDateTime')::timestamptz < $2`, dayStart, dayEnd,
	).Scan(&resp.AppointmentsToday)

	h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM invoices WHERE data->>'paymentStatus' = 'pending'`,
	).Scan(&resp.PendingInvoices)

	h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM invoices WHERE data->>'paymentStatus' = 'unpaid'`,
	).Scan(&resp.UnpaidInvoices)

	h.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM((data->>'amountCents')::bigint), 0) FROM invoices
		 WHERE data->>'paymentStatus' IN ('unpaid', 'pending')`,
	).Scan(&resp.OutstandingCents)

	writeJSON(w, resp)
}

// PatientOverview is a patient's personal summary.
type PatientOverview struct {
	UpcomingAppointments int   `json:"upcoming_appointments"`
	UnpaidInvoices       int   `json:"unpaid_invoices"`
	BalanceDueCents      int64 `json:"balance_due_cents"`
	Documents            int   `json:"documents"`
}

// GetPatientOverview returns the calling patient's summary.
// GET /dashboard/me
func (h *Handler) GetPatientOverview(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		http.Error(w, `{"error":"dashboard disabled (db not configured)"}`, http.StatusServiceUnavailable)
		return
	}
	claims, _ := middleware.ClaimsFromContext(r.Context())
	ctx := r.Context()
	now := time.Now().UTC()

	var resp PatientOverview

	h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM appointments
		 WHERE data->>'patientId' = $1
		   AND data->>'status' = 'Scheduled'
		   AND (data->>'appointmentDateTime')::timestamptz >= $2`, claims.UID, now,
	).Scan(&resp.UpcomingAppointments)

	h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM invoices
		 WHERE data->>'patientId' = $1 AND data->>'paymentStatus' = 'unpaid'`, claims.UID,
	).Scan(&resp.UnpaidInvoices)

	h.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM((data->>'amountCents')::bigint), 0) FROM invoices
		 WHERE data->>'patientId' = $1
		   AND data->>'paymentStatus' IN ('unpaid', 'pending')`, claims.UID,
	).Scan(&resp.BalanceDueCents)

	h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM patient_documents WHERE data->>'patientId' = $1`, claims.UID,
	).Scan(&resp.Documents)

	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
