package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndVerify(t *testing.T) {
	a := New("", "s3cret")
	tok, err := a.Issue("ops", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	sub, err := a.Verify(tok)
	if err != nil {
		t.Fatal(err)
	}
	if sub != "ops" {
		t.Errorf("subject = %q, want ops", sub)
	}
}

func TestVerifyRejects(t *testing.T) {
	a := New("static", "s3cret")
	expired, _ := a.Issue("ops", -time.Minute)
	other, _ := New("", "different").Issue("ops", time.Hour)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Issuer:    issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name string
		cred string
	}{
		{"empty", ""},
		{"wrong static", "nope"},
		{"expired", expired},
		{"other secret", other},
		{"alg none", unsigned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := a.Verify(tt.cred); !errors.Is(err, ErrUnauthorized) {
				t.Errorf("err = %v, want ErrUnauthorized", err)
			}
		})
	}

	if sub, err := a.Verify("static"); err != nil || sub != "token" {
		t.Errorf("static token: %q %v", sub, err)
	}
}

func TestIssueWithoutSecret(t *testing.T) {
	if _, err := New("static", "").Issue("ops", time.Hour); err == nil {
		t.Error("expected error without secret")
	}
}

func TestMiddleware(t *testing.T) {
	a := New("static", "")
	var seen string
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = Subject(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		query  string
		code   int
	}{
		{"no credentials", "", "", http.StatusUnauthorized},
		{"bearer", "Bearer static", "", http.StatusOK},
		{"query token", "", "static", http.StatusOK},
		{"bad bearer", "Bearer wrong", "", http.StatusUnauthorized},
		{"basic scheme", "Basic static", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			target := "/api/instances"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.code {
				t.Errorf("code = %d, want %d", rec.Code, tt.code)
			}
			if tt.code == http.StatusOK && seen != "token" {
				t.Errorf("subject = %q", seen)
			}
		})
	}
}

func TestMiddlewareDisabled(t *testing.T) {
	h := New("", "").Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("code = %d", rec.Code)
	}
}
