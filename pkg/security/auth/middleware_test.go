package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"mercator-hq/chatrelay/pkg/proxy/types"
)

func TestMiddleware(t *testing.T) {
	tests := []struct {
		name         string
		keys         []Key
		setupRequest func(*http.Request)
		wantStatus   int
		wantOperator string
	}{
		{
			name: "operator header",
			keys: testKeys(),
			setupRequest: func(r *http.Request) {
				r.Header.Set("X-Operator-Key", "0123456789abcdef")
			},
			wantStatus:   http.StatusOK,
			wantOperator: "oncall",
		},
		{
			name: "bearer token",
			keys: testKeys(),
			setupRequest: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer fedcba9876543210")
			},
			wantStatus:   http.StatusOK,
			wantOperator: "dashboards",
		},
		{
			name: "lowercase bearer scheme",
			keys: testKeys(),
			setupRequest: func(r *http.Request) {
				r.Header.Set("Authorization", "bearer fedcba9876543210")
			},
			wantStatus:   http.StatusOK,
			wantOperator: "dashboards",
		},
		{
			name: "basic scheme ignored",
			keys: testKeys(),
			setupRequest: func(r *http.Request) {
				r.Header.Set("Authorization", "Basic fedcba9876543210")
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:         "missing key",
			keys:         testKeys(),
			setupRequest: func(r *http.Request) {},
			wantStatus:   http.StatusUnauthorized,
		},
		{
			name: "wrong key",
			keys: testKeys(),
			setupRequest: func(r *http.Request) {
				r.Header.Set("X-Operator-Key", "wrong-key-wrong-key")
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "disabled key",
			keys: testKeys(),
			setupRequest: func(r *http.Request) {
				r.Header.Set("X-Operator-Key", "aaaaaaaaaaaaaaaa")
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:         "no keys configured",
			keys:         nil,
			setupRequest: func(r *http.Request) {},
			wantStatus:   http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotOperator string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if info, ok := KeyInfoFromContext(r.Context()); ok {
					gotOperator = info.Name
				}
				w.WriteHeader(http.StatusOK)
			})

			handler := Middleware(NewKeyValidator(tt.keys), DefaultSources)(next)

			req := httptest.NewRequest(http.MethodGet, "/chat/stats", nil)
			tt.setupRequest(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if gotOperator != tt.wantOperator {
				t.Errorf("operator = %q, want %q", gotOperator, tt.wantOperator)
			}

			if rec.Code == http.StatusUnauthorized {
				var resp types.ErrorResponse
				if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
					t.Fatalf("body is not an error response: %v", err)
				}
				if resp.Error.Code != types.CodeInvalidOperatorKey {
					t.Errorf("code = %q, want %q", resp.Error.Code, types.CodeInvalidOperatorKey)
				}
			}
		})
	}
}

func TestMiddleware_ReloadTakesEffect(t *testing.T) {
	v := NewKeyValidator(nil)
	handler := Middleware(v, DefaultSources)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func() int {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		return rec.Code
	}

	if code := do(); code != http.StatusNoContent {
		t.Fatalf("open endpoint status = %d", code)
	}

	v.Replace(testKeys())
	if code := do(); code != http.StatusUnauthorized {
		t.Errorf("status after adding keys = %d, want 401", code)
	}
}
