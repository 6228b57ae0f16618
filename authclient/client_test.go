package authclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appfold/sessionbridge/domain"
	"github.com/appfold/sessionbridge/errors"
	"github.com/appfold/sessionbridge/internal/crypto"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := New(Options{BaseURL: srv.URL, Timeout: 2 * time.Second})
	t.Cleanup(client.Close)
	return client
}

func TestPINLoginSuccess(t *testing.T) {
	hashed, err := crypto.HashPIN("135790")
	require.NoError(t, err)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/pin-login", r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "dev-1", req["deviceId"])
		assert.Equal(t, hashed, req["pin"])
		assert.Equal(t, "ios", req["platform"])

		json.NewEncoder(w).Encode(map[string]any{
			"accessToken":  "AT1",
			"refreshToken": "RT1",
			"expiresAt":    time.Now().Add(time.Hour).UnixMilli(),
			"user":         map[string]string{"name": "A", "email": "a@b.com"},
		})
	})

	client := newTestClient(t, handler)
	ts, err := client.PINLogin(context.Background(), "dev-1", hashed, "ios")
	require.NoError(t, err)
	assert.Equal(t, "AT1", ts.AccessToken)
	assert.Equal(t, "RT1", ts.RefreshToken)
	require.NotNil(t, ts.User)
	assert.Equal(t, "a@b.com", ts.User.Email)
	assert.False(t, ts.ExpiresAt.IsZero())
}

func TestPINLoginRefusesRawPIN(t *testing.T) {
	called := false
	client := newTestClient(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	_, err := client.PINLogin(context.Background(), "dev-1", "135790", "ios")
	var validation *errors.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.False(t, called, "raw PIN must never reach the network")
}

func TestErrorClassification(t *testing.T) {
	testCases := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "invalid credentials",
			status: http.StatusUnauthorized,
			body:   `{"code":"INVALID_CREDENTIALS","message":"incorrect PIN"}`,
			check: func(t *testing.T, err error) {
				assert.True(t, errors.IsInvalidCredentials(err))
				var apiErr *errors.APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
				assert.Equal(t, "incorrect PIN", apiErr.Message)
			},
		},
		{
			name:   "not found",
			status: http.StatusNotFound,
			body:   `{"code":"NOT_FOUND","message":"no PIN registered"}`,
			check: func(t *testing.T, err error) {
				assert.True(t, errors.IsNotFound(err))
			},
		},
		{
			name:   "unstructured body",
			status: http.StatusBadGateway,
			body:   `upstream exploded`,
			check: func(t *testing.T, err error) {
				var apiErr *errors.APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, http.StatusBadGateway, apiErr.Status)
			},
		},
	}

	hashed, err := crypto.HashPIN("1234")
	require.NoError(t, err)

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			_, err := client.PINLogin(context.Background(), "dev-1", hashed, "ios")
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestTransportErrorClassification(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close() // nothing listens anymore

	client := New(Options{BaseURL: url, Timeout: time.Second})
	defer client.Close()

	_, err := client.BiometricLogin(context.Background(), "dev-1", "ios")
	var transport *errors.TransportError
	require.ErrorAs(t, err, &transport)
}

func TestCheckTokenInvalidIsNotAnError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"valid": false},
		})
	}))

	check, err := client.CheckToken(context.Background(), "expired", "dev-1")
	require.NoError(t, err)
	assert.False(t, check.Valid)
}

func TestRefreshTokenInvalidMapping(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{
			"code": "REFRESH_INVALID", "message": "refresh token is no longer valid",
		})
	}))

	_, err := client.RefreshToken(context.Background(), "stale", "dev-1")
	assert.ErrorIs(t, err, errors.ErrRefreshTokenInvalid)
}

func TestRefreshTokenSuccess(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/refresh", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{
				"accessToken":  "AT2",
				"refreshToken": "RT2",
				"expiresAt":    time.Now().Add(time.Hour).UnixMilli(),
				"user":         map[string]string{"name": "A", "email": "a@b.com"},
			},
		})
	}))

	ts, err := client.RefreshToken(context.Background(), "RT1", "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "AT2", ts.AccessToken)
	assert.Equal(t, "RT2", ts.RefreshToken)
}

func TestLoginOptionsCached(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"hasPin": true, "hasPasskey": false, "deviceId": "dev-1"},
		})
	}))

	var options *domain.LoginOptions
	var err error
	for i := 0; i < 3; i++ {
		options, err = client.LoginOptionsByDevice(context.Background(), "dev-1")
		require.NoError(t, err)
	}
	assert.True(t, options.HasPIN)
	assert.False(t, options.HasPasskey)
	assert.Equal(t, int32(1), calls.Load(), "repeat lookups should hit the cache")
}

func TestPINStatus(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "a@b.com", r.URL.Query().Get("email"))
		json.NewEncoder(w).Encode(map[string]bool{"enabled": true})
	}))

	enabled, err := client.PINStatus(context.Background(), "a@b.com")
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestSetupBiometricSendsBearer(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer AT1", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{"success": true, "message": "ok"})
	}))

	msg, err := client.SetupBiometric(context.Background(), "AT1", "a@b.com", "dev-1", "Phone", "ios", "faceid")
	require.NoError(t, err)
	assert.Equal(t, "ok", msg)
}
