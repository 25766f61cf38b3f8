package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret, uid, role string) string {
	t.Helper()
	claims := UserClaims{
		UID:  uid,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func protectedHandler(t *testing.T, gotClaims *UserClaims) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			t.Error("expected claims on context")
		}
		*gotClaims = claims
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthAcceptsValidToken(t *testing.T) {
	var claims UserClaims
	handler := Auth(testSecret)(protectedHandler(t, &claims))

	req := httptest.NewRequest(http.MethodGet, "/patients", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "u1", "doctor"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if claims.UID != "u1" || claims.Role != "doctor" {
		t.Errorf("unexpected claims %+v", claims)
	}
}

func TestAuthRejectsBadTokens(t *testing.T) {
	var claims UserClaims
	handler := Auth(testSecret)(protectedHandler(t, &claims))

	cases := map[string]string{
		"missing header":     "",
		"wrong secret":       "Bearer " + signToken(t, "other-secret", "u1", "doctor"),
		"malformed":          "Bearer not.a.jwt",
		"no bearer prefix":   signToken(t, testSecret, "u1", "doctor"),
		"missing uid claims": "Bearer " + signToken(t, testSecret, "", ""),
	}
	for name, header := range cases {
		req := httptest.NewRequest(http.MethodGet, "/patients", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", name, rec.Code)
		}
	}
}

func TestAuthRejectsWhenSecretUnset(t *testing.T) {
	var claims UserClaims
	handler := Auth("")(protectedHandler(t, &claims))

	req := httptest.NewRequest(http.MethodGet, "/patients", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "u1", "doctor"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireRoleGatesByRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := Auth(testSecret)(RequireRole("admin", "doctor")(ok))

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "u1", "doctor"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("doctor: expected 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "u2", "patient"))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("patient: expected 403, got %d", rec.Code)
	}
}
