// Package router assembles the HTTP surface: public health, metrics, and
// payment webhooks; everything else behind JWT auth with role gating.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mwilkes/clinicdesk/internal/billing"
	"github.com/mwilkes/clinicdesk/internal/dashboard"
	"github.com/mwilkes/clinicdesk/internal/http/handlers"
	httpmiddleware "github.com/mwilkes/clinicdesk/internal/http/middleware"
	"github.com/mwilkes/clinicdesk/internal/users"
	"github.com/mwilkes/clinicdesk/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger             *logging.Logger
	AuthSecret         string
	CORSAllowedOrigins []string
	MetricsHandler     http.Handler

	Users          *handlers.UsersHandler
	Patients       *handlers.PatientsHandler
	Appointments   *handlers.AppointmentsHandler
	Consultations  *handlers.ConsultationsHandler
	Invoices       *handlers.InvoicesHandler
	Documents      *handlers.DocumentsHandler
	AI             *handlers.AIHandler
	Ops            *handlers.OpsHandler
	Live           *handlers.LiveHandler
	Dashboard      *dashboard.Handler
	PaymentWebhook *billing.WebhookHandler
}

// New creates a chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints: health, metrics, provider webhooks.
	r.Group(func(public chi.Router) {
		public.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.PaymentWebhook != nil {
			public.Post("/webhooks/payments", cfg.PaymentWebhook.Handle)
		}
	})

	if cfg.AuthSecret == "" {
		return r
	}

	staff := httpmiddleware.RequireRole(users.RoleAdmin, users.RoleDoctor, users.RoleReceptionist)
	doctors := httpmiddleware.RequireRole(users.RoleAdmin, users.RoleDoctor)

	r.Group(func(authed chi.Router) {
		authed.Use(httpmiddleware.Auth(cfg.AuthSecret))

		if cfg.Live != nil {
			authed.Get("/live", cfg.Live.Serve)
		}
		if cfg.Ops != nil {
			authed.Get("/ops/{opID}", cfg.Ops.Get)
		}

		if cfg.Patients != nil {
			authed.Route("/patients", func(patients chi.Router) {
				patients.With(staff).Get("/", cfg.Patients.List)
				patients.With(staff).Post("/", cfg.Patients.Create)
				patients.With(httpmiddleware.RequireRole(users.RolePatient)).Post("/register", cfg.Patients.RegisterSelf)
				patients.Route("/{patientID}", func(patient chi.Router) {
					patient.Get("/", cfg.Patients.Get)
					patient.Patch("/", cfg.Patients.Update)
					if cfg.Appointments != nil {
						patient.Get("/appointments", cfg.Appointments.ListByPatient)
					}
					if cfg.Consultations != nil {
						patient.Get("/consultations", cfg.Consultations.ListByPatient)
					}
					if cfg.Invoices != nil {
						patient.Get("/invoices", cfg.Invoices.ListByPatient)
					}
					if cfg.Documents != nil {
						patient.Post("/documents", cfg.Documents.Upload)
						patient.Put("/documents/{documentID}/tags", cfg.Documents.SaveTags)
						patient.Delete("/documents/{documentID}", cfg.Documents.Delete)
					}
				})
			})
		}

		if cfg.Appointments != nil {
			authed.Route("/appointments", func(appts chi.Router) {
				appts.Post("/", cfg.Appointments.Create)
				appts.Get("/{appointmentID}", cfg.Appointments.Get)
				appts.With(staff).Post("/{appointmentID}/status", cfg.Appointments.UpdateStatus)
			})
			authed.With(staff).Get("/doctors/{doctorID}/appointments", cfg.Appointments.ListByDoctor)
		}

		if cfg.Consultations != nil {
			authed.Route("/consultations", func(consults chi.Router) {
				consults.With(doctors).Post("/", cfg.Consultations.Create)
				consults.With(doctors).Patch("/{consultationID}", cfg.Consultations.Amend)
			})
			authed.With(staff).Get("/doctors/{doctorID}/consultations", cfg.Consultations.ListByDoctor)
		}

		if cfg.Invoices != nil {
			authed.Route("/invoices", func(invoices chi.Router) {
				invoices.With(staff).Post("/", cfg.Invoices.Create)
				invoices.With(staff).Get("/", cfg.Invoices.ListByStatus)
				invoices.Get("/{invoiceID}", cfg.Invoices.Get)
				invoices.With(staff).Post("/{invoiceID}/payment-link", cfg.Invoices.CreatePaymentLink)
			})
		}

		if cfg.Users != nil {
			authed.Get("/users/me", cfg.Users.Me)
			authed.With(staff).Get("/doctors", cfg.Users.ListDoctors)
		}
		if cfg.Documents != nil {
			authed.Post("/users/avatar", cfg.Documents.UploadAvatar)
		}

		if cfg.AI != nil {
			authed.Route("/ai", func(flows chi.Router) {
				flows.With(staff).Post("/suggest-tags", cfg.AI.SuggestTags)
				flows.With(doctors).Post("/transcribe", cfg.AI.Transcribe)
				flows.With(doctors).Post("/suggest-diagnosis", cfg.AI.SuggestDiagnosis)
			})
		}

		if cfg.Dashboard != nil {
			authed.Route("/dashboard", func(dash chi.Router) {
				dash.With(httpmiddleware.RequireRole(users.RoleAdmin)).Get("/admin", cfg.Dashboard.GetAdminOverview)
				dash.With(httpmiddleware.RequireRole(users.RoleDoctor)).Get("/doctor", cfg.Dashboard.GetDoctorOverview)
				dash.With(httpmiddleware.RequireRole(users.RoleAdmin, users.RoleReceptionist)).Get("/receptionist", cfg.Dashboard.GetReceptionistOverview)
				dash.With(httpmiddleware.RequireRole(users.RolePatient)).Get("/me", cfg.Dashboard.GetPatientOverview)
			})
		}
	})

	return r
}
