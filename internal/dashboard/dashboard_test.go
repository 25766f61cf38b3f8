package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-jwt/jwt/v5"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwilkes/clinicdesk/internal/http/middleware"
	"github.com/mwilkes/clinicdesk/pkg/logging"
)

const testSecret = "dashboard-secret"

type stubGatherer struct {
	families []*dto.MetricFamily
}

func (s stubGatherer) Gather() ([]*dto.MetricFamily, error) {
	return s.families, nil
}

func authedRequest(t *testing.T, path, uid, role string) *http.Request {
	t.Helper()
	claims := middleware.UserClaims{
		UID:  uid,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	return req
}

func countRow(n int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"count"}).AddRow(n)
}

func sumRow(n int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"sum"}).AddRow(n)
}

func TestAdminOverviewAggregates(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM patients`).WillReturnRows(countRow(120))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM patients WHERE created_at`).WillReturnRows(countRow(4))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM appointments`).WillReturnRows(countRow(9))
	mock.ExpectQuery(`data->>'status' = 'Scheduled'`).WillReturnRows(countRow(31))
	mock.ExpectQuery(`data->>'status' = 'Completed'`).WillReturnRows(countRow(210))
	mock.ExpectQuery(`paymentStatus' = 'paid'`).WillReturnRows(sumRow(480000))
	mock.ExpectQuery(`IN \('unpaid', 'pending'\)`).WillReturnRows(sumRow(95000))
	mock.ExpectQuery(`paymentStatus' = 'unpaid'`).WillReturnRows(countRow(7))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM patient_documents`).WillReturnRows(countRow(44))

	handler := middleware.Auth(testSecret)(http.HandlerFunc(
		NewHandler(db, stubGatherer{}, logging.Default()).GetAdminOverview))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(t, "/dashboard/admin", "a1", "admin"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp AdminOverview
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Patients.Total != 120 || resp.Patients.NewThisWeek != 4 {
		t.Errorf("unexpected patient counts %+v", resp.Patients)
	}
	if resp.Appointments.Today != 9 || resp.Appointments.Upcoming != 31 {
		t.Errorf("unexpected appointment counts %+v", resp.Appointments)
	}
	if resp.Billing.CollectedCents != 480000 || resp.Billing.OutstandingCents != 95000 || resp.Billing.UnpaidInvoices != 7 {
		t.Errorf("unexpected billing metrics %+v", resp.Billing)
	}
	if resp.Documents.Total != 44 {
		t.Errorf("unexpected document count %d", resp.Documents.Total)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPatientOverviewScopesToCaller(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectQuery(`data->>'patientId' = \$1`).
		WithArgs("p1", sqlmock.AnyArg()).
		WillReturnRows(countRow(2))
	mock.ExpectQuery(`paymentStatus' = 'unpaid'`).
		WithArgs("p1").
		WillReturnRows(countRow(1))
	mock.ExpectQuery(`IN \('unpaid', 'pending'\)`).
		WithArgs("p1").
		WillReturnRows(sumRow(15000))
	mock.ExpectQuery(`FROM patient_documents`).
		WithArgs("p1").
		WillReturnRows(countRow(6))

	handler := middleware.Auth(testSecret)(http.HandlerFunc(
		NewHandler(db, stubGatherer{}, logging.Default()).GetPatientOverview))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(t, "/dashboard/me", "p1", "patient"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp PatientOverview
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.UpcomingAppointments != 2 || resp.UnpaidInvoices != 1 || resp.BalanceDueCents != 15000 || resp.Documents != 6 {
		t.Errorf("unexpected overview %+v", resp)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestDoctorOverviewScopesToCaller(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`data->>'doctorId' = \$1`).
		WithArgs("d1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(countRow(3))
	mock.ExpectQuery(`data->>'status' = 'Scheduled'`).
		WithArgs("d1", sqlmock.AnyArg()).
		WillReturnRows(countRow(5))
	mock.ExpectQuery(`FROM consultations`).
		WithArgs("d1", sqlmock.AnyArg()).
		WillReturnRows(countRow(4))
	mock.ExpectQuery(`array_agg`).
		WithArgs("d1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"array_agg"}).AddRow("{p1,p2}"))

	handler := middleware.Auth(testSecret)(http.HandlerFunc(
		NewHandler(db, stubGatherer{}, logging.Default()).GetDoctorOverview))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(t, "/dashboard/doctor", "d1", "doctor"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp DoctorOverview
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.AppointmentsToday)
	assert.Equal(t, 5, resp.AppointmentsUpcoming)
	assert.Equal(t, 4, resp.ConsultationsThisWeek)
	assert.Equal(t, []string{"p1", "p2"}, resp.PatientsThisWeek)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDashboardDisabledWithoutDB(t *testing.T) {
	handler := middleware.Auth(testSecret)(http.HandlerFunc(
		NewHandler(nil, stubGatherer{}, logging.Default()).GetAdminOverview))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(t, "/dashboard/admin", "a1", "admin"))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
