package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fleetflow/broker-comms/internal/model"
	"github.com/fleetflow/broker-comms/pkg/logger"
)

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, key any, claims Claims) string {
	t.Helper()
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	}
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func echoBroker() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetBrokerID(r.Context()) + "|" + GetUserID(r.Context())))
	})
}

func TestAuth(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "broker claim",
			header:     "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), Claims{BrokerID: "broker_1", RegisteredClaims: jwt.RegisteredClaims{Subject: "user_9"}}),
			wantStatus: http.StatusOK,
			wantBody:   "broker_1|user_9",
		},
		{
			name:       "subject fallback",
			header:     "bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "broker_2"}}),
			wantStatus: http.StatusOK,
			wantBody:   "broker_2|broker_2",
		},
		{
			name:       "no identity",
			header:     "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), Claims{}),
			wantStatus: http.StatusUnauthorized,
			wantBody:   "does not identify a broker",
		},
		{
			name:       "wrong secret",
			header:     "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte("other"), Claims{BrokerID: "b"}),
			wantStatus: http.StatusUnauthorized,
			wantBody:   "invalid token",
		},
		{
			name: "expired",
			header: "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), Claims{
				BrokerID:         "b",
				RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))},
			}),
			wantStatus: http.StatusUnauthorized,
			wantBody:   "invalid token",
		},
		{
			name:       "missing header",
			wantStatus: http.StatusUnauthorized,
			wantBody:   "missing authorization header",
		},
		{
			name:       "basic auth",
			header:     "Basic dXNlcjpwYXNz",
			wantStatus: http.StatusUnauthorized,
			wantBody:   "invalid authorization header format",
		},
	}

	h := Auth(testSecret)(echoBroker())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/threads", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestRequireScope(t *testing.T) {
	h := Auth(testSecret)(RequireScope(ScopeRulesWrite)(echoBroker()))

	for _, tt := range []struct {
		scopes []string
		want   int
	}{
		{nil, http.StatusForbidden},
		{[]string{"threads:read"}, http.StatusForbidden},
		{[]string{"threads:read", ScopeRulesWrite}, http.StatusOK},
	} {
		req := httptest.NewRequest(http.MethodPut, "/", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.SigningMethodHS256, []byte(testSecret), Claims{BrokerID: "b", Scopes: tt.scopes}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, tt.want, rec.Code, "scopes %v", tt.scopes)
	}
}

func TestLoggingRecordsBrokerAndCorrelationID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := logger.Wrap(zap.New(core))

	r := chi.NewRouter()
	r.Use(Logging(log))
	r.With(Auth(testSecret)).Get("/threads/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "corr-1", GetCorrelationID(r.Context()))
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/threads/abc", nil)
	req.Header.Set("X-Correlation-ID", "corr-1")
	req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.SigningMethodHS256, []byte(testSecret), Claims{BrokerID: "broker_7"}))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, "corr-1", rec.Header().Get("X-Correlation-ID"))
	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "broker_7", fields["broker_id"])
	assert.Equal(t, "corr-1", fields["correlation_id"])
	assert.EqualValues(t, http.StatusTeapot, fields["status"])
}

func TestLoggingGeneratesCorrelationID(t *testing.T) {
	h := Logging(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Len(t, rec.Header().Get("X-Correlation-ID"), 36)
}

func TestRateLimitPerBroker(t *testing.T) {
	h := Auth(testSecret)(RateLimit(2, time.Minute)(echoBroker()))
	tokenA := "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), Claims{BrokerID: "a"})
	tokenB := "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), Claims{BrokerID: "b"})

	do := func(token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do(tokenA).Code)
	assert.Equal(t, http.StatusOK, do(tokenA).Code)
	limited := do(tokenA)
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "60", limited.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, do(tokenB).Code)
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestValidation(t *testing.T) {
	assert.NoError(t, ValidateMessageContent("Hello"))
	assert.Error(t, ValidateMessageContent(""))
	assert.Error(t, ValidateMessageContent(strings.Repeat("a", maxContentBytes+1)))
	assert.Error(t, ValidateMessageContent("bad \xff byte"))

	assert.NoError(t, ValidateChannel(model.ChannelWhatsApp))
	assert.Error(t, ValidateChannel(model.ChannelVoiceCall))
	assert.Error(t, ValidateChannel(model.ChannelSystem))
	assert.Error(t, ValidateChannel("fax"))

	assert.NoError(t, ValidateID("thread_walmart_001"))
	assert.Error(t, ValidateID(""))
	assert.Error(t, ValidateID(strings.Repeat("x", 129)))

	assert.NoError(t, ValidatePhoneNumber("+1-555-0101"))
	assert.Error(t, ValidatePhoneNumber(""))

	assert.NoError(t, ValidateScript(""))
	assert.Error(t, ValidateScript(strings.Repeat("s", 4001)))
}
