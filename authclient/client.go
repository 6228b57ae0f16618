// Package authclient wraps the remote authentication server's HTTP API. It
// owns request/response shaping and error classification only; all policy
// lives in the session manager.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/appfold/sessionbridge/domain"
	"github.com/appfold/sessionbridge/errors"
	"github.com/appfold/sessionbridge/internal/crypto"
	"github.com/appfold/sessionbridge/log"
)

// Client is a stateless client for the remote auth API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     log.Logger

	optionsCache *ttlcache.Cache[string, *domain.LoginOptions]
}

// Options configures a Client.
type Options struct {
	BaseURL string
	// Timeout bounds every request. Zero means 30s.
	Timeout time.Duration
	// OptionsCacheTTL bounds the device login-options cache. Zero means 30s.
	OptionsCacheTTL time.Duration
	Logger          log.Logger
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// New creates a Client for the given server.
func New(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.OptionsCacheTTL == 0 {
		opts.OptionsCacheTTL = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNop()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	cache := ttlcache.New(
		ttlcache.WithTTL[string, *domain.LoginOptions](opts.OptionsCacheTTL),
		ttlcache.WithDisableTouchOnHit[string, *domain.LoginOptions](),
	)
	go cache.Start()

	return &Client{
		baseURL:      opts.BaseURL,
		httpClient:   httpClient,
		logger:       opts.Logger,
		optionsCache: cache,
	}
}

// Close stops the background cache janitor.
func (c *Client) Close() {
	c.optionsCache.Stop()
}

// apiUser is the wire shape of the user object.
type apiUser struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (u *apiUser) toDomain() *domain.User {
	if u == nil {
		return nil
	}
	return &domain.User{DisplayName: u.Name, Email: u.Email}
}

// tokenResponse is the wire shape of every login/refresh success payload.
type tokenResponse struct {
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	ExpiresAt    int64    `json:"expiresAt"`
	User         *apiUser `json:"user"`
}

func (r *tokenResponse) toDomain() *domain.TokenSet {
	return &domain.TokenSet{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresAt:    domain.Millis(r.ExpiresAt),
		User:         r.User.toDomain(),
	}
}

// errorBody is the wire shape of non-2xx responses.
type errorBody struct {
	Code    string `json:"code"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// do executes one JSON request. A nil out skips body decoding. bearer, when
// non-empty, is sent as an Authorization header.
func (c *Client) do(ctx context.Context, method, path string, body, out any, bearer string) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.NewTransportError(method+" "+path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.NewTransportError(method+" "+path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		message := eb.Message
		if message == "" {
			message = eb.Error
		}
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return errors.NewAPIError(resp.StatusCode, eb.Code, message)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// PINLogin exchanges a hashed PIN for a token set. The pin argument must
// already be hashed; raw PINs are refused.
func (c *Client) PINLogin(ctx context.Context, deviceID, hashedPIN, platform string) (*domain.TokenSet, error) {
	if !crypto.LooksHashed(hashedPIN) {
		return nil, errors.NewValidationError("pin", "must be hashed before transmission")
	}
	req := map[string]string{"deviceId": deviceID, "pin": hashedPIN, "platform": platform}
	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "/auth/pin-login", req, &resp, ""); err != nil {
		return nil, err
	}
	return resp.toDomain(), nil
}

// BiometricLogin exchanges a device-bound biometric approval for a token
// set. The platform prompt must already have succeeded; the server trusts
// the registered device identity.
func (c *Client) BiometricLogin(ctx context.Context, deviceID, platform string) (*domain.TokenSet, error) {
	req := map[string]string{"deviceId": deviceID, "platform": platform}
	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "/auth/biometric-login", req, &resp, ""); err != nil {
		return nil, err
	}
	return resp.toDomain(), nil
}

// CheckToken asks the server whether an access token is still valid.
// Invalidity is a normal response value, never an error.
func (c *Client) CheckToken(ctx context.Context, accessToken, deviceID string) (*domain.CheckResult, error) {
	req := map[string]string{"accessToken": accessToken, "deviceId": deviceID}
	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Valid         bool   `json:"valid"`
			UserEmail     string `json:"userEmail"`
			TokenDeviceID string `json:"tokenDeviceId"`
			ExpiresAt     int64  `json:"expiresAt"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/check", req, &resp, ""); err != nil {
		return nil, err
	}
	return &domain.CheckResult{
		Valid:         resp.Data.Valid,
		UserEmail:     resp.Data.UserEmail,
		TokenDeviceID: resp.Data.TokenDeviceID,
		ExpiresAt:     domain.Millis(resp.Data.ExpiresAt),
	}, nil
}

// RefreshToken exchanges a refresh token for a fresh token set. A rejected
// refresh token is reported as errors.ErrRefreshTokenInvalid; the caller
// must then force a full logout.
func (c *Client) RefreshToken(ctx context.Context, refreshToken, deviceID string) (*domain.TokenSet, error) {
	req := map[string]string{"refreshToken": refreshToken, "deviceId": deviceID}
	var resp struct {
		Success bool          `json:"success"`
		Data    tokenResponse `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/refresh", req, &resp, ""); err != nil {
		var apiErr *errors.APIError
		if errors.As(err, &apiErr) {
			if apiErr.Code == errors.CodeRefreshInvalid || apiErr.Status == http.StatusUnauthorized {
				return nil, errors.Wrapf(errors.ErrRefreshTokenInvalid, "%s", apiErr.Message)
			}
		}
		return nil, err
	}
	return resp.Data.toDomain(), nil
}

// LoginOptionsByDevice looks up which device-bound login methods are
// registered for a device. Results are cached briefly to avoid hammering
// the endpoint on rapid foreground cycles.
func (c *Client) LoginOptionsByDevice(ctx context.Context, deviceID string) (*domain.LoginOptions, error) {
	if item := c.optionsCache.Get(deviceID); item != nil {
		return item.Value(), nil
	}

	req := map[string]string{"deviceId": deviceID}
	var resp struct {
		Data struct {
			HasPIN     bool   `json:"hasPin"`
			HasPasskey bool   `json:"hasPasskey"`
			DeviceID   string `json:"deviceId"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/login-options-by-device", req, &resp, ""); err != nil {
		return nil, err
	}

	options := &domain.LoginOptions{HasPIN: resp.Data.HasPIN, HasPasskey: resp.Data.HasPasskey}
	c.optionsCache.Set(deviceID, options, ttlcache.DefaultTTL)
	return options, nil
}

// Logout revokes a refresh token server-side. Best effort: callers must not
// block local cleanup on this succeeding.
func (c *Client) Logout(ctx context.Context, refreshToken, deviceID string) error {
	req := map[string]string{"refreshToken": refreshToken, "deviceId": deviceID}
	return c.do(ctx, http.MethodPost, "/auth/logout", req, nil, "")
}

// SetPIN registers a hashed PIN for the device. The pin argument must
// already be hashed; raw PINs are refused.
func (c *Client) SetPIN(ctx context.Context, email, hashedPIN, deviceID, platform string) (string, error) {
	if !crypto.LooksHashed(hashedPIN) {
		return "", errors.NewValidationError("pin", "must be hashed before transmission")
	}
	req := map[string]string{
		"email": email, "pin": hashedPIN, "deviceId": deviceID, "platform": platform,
	}
	var resp struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/set-pin", req, &resp, ""); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// PINStatus reports whether an account has a PIN registered anywhere.
func (c *Client) PINStatus(ctx context.Context, email string) (bool, error) {
	path := "/auth/pin-status?email=" + url.QueryEscape(email)
	var resp struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, ""); err != nil {
		return false, err
	}
	return resp.Enabled, nil
}

// SetupBiometric registers the device for biometric login. Requires a valid
// access token.
func (c *Client) SetupBiometric(ctx context.Context, accessToken, email, deviceID, deviceName, platform, method string) (string, error) {
	req := map[string]string{
		"email": email, "deviceId": deviceID, "deviceName": deviceName,
		"platform": platform, "method": method,
	}
	var resp struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/setup-biometric", req, &resp, accessToken); err != nil {
		return "", err
	}
	return resp.Message, nil
}
