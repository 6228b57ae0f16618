// Package stubserver implements the remote auth server's HTTP contract
// against an in-memory registry, so the shell can be exercised end to end
// without the real backend. Not for production use.
package stubserver

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/appfold/sessionbridge/domain"
	"github.com/appfold/sessionbridge/internal/crypto"
	"github.com/appfold/sessionbridge/log"
)

// Options configures the stub server.
type Options struct {
	// JWTSecret signs access tokens. Required.
	JWTSecret []byte
	// AccessTTL bounds minted access tokens. Zero selects 1h.
	AccessTTL time.Duration
	// RefreshTTL bounds refresh tokens. Zero selects 30 days.
	RefreshTTL time.Duration
	Logger     log.Logger
}

type account struct {
	Name  string
	Email string
}

type deviceReg struct {
	Email      string
	PINHash    string
	HasPasskey bool
}

type refreshEntry struct {
	Email    string
	DeviceID string
}

// Server is the in-memory auth stub.
type Server struct {
	opts Options
	echo *echo.Echo

	mu       sync.RWMutex
	accounts map[string]*account
	devices  map[string]*deviceReg

	refresh *ttlcache.Cache[string, *refreshEntry]
}

// New creates a stub server.
func New(opts Options) *Server {
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = time.Hour
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = 30 * 24 * time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNop()
	}

	refresh := ttlcache.New(
		ttlcache.WithTTL[string, *refreshEntry](opts.RefreshTTL),
		ttlcache.WithDisableTouchOnHit[string, *refreshEntry](),
	)
	go refresh.Start()

	s := &Server{
		opts:     opts,
		accounts: make(map[string]*account),
		devices:  make(map[string]*deviceReg),
		refresh:  refresh,
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(s.requestLogger)

	e.POST("/auth/pin-login", s.pinLogin)
	e.POST("/auth/biometric-login", s.biometricLogin)
	e.POST("/auth/check", s.check)
	e.POST("/auth/refresh", s.refreshTokens)
	e.POST("/auth/login-options-by-device", s.loginOptions)
	e.POST("/auth/set-pin", s.setPIN)
	e.GET("/auth/pin-status", s.pinStatus)
	e.POST("/auth/logout", s.logout)
	e.POST("/auth/setup-biometric", s.setupBiometric)

	s.echo = e
	return s
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		s.opts.Logger.Debug(c.Request().Context(), "stub request", map[string]interface{}{
			"method":  c.Request().Method,
			"path":    c.Request().URL.Path,
			"status":  c.Response().Status,
			"latency": time.Since(start).String(),
		})
		return err
	}
}

// Handler exposes the stub as an http.Handler for httptest.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves on addr until Close.
func (s *Server) Start(addr string) error { return s.echo.Start(addr) }

// Close stops background work.
func (s *Server) Close() {
	s.refresh.Stop()
}

// RegisterAccount seeds an account.
func (s *Server) RegisterAccount(name, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[email] = &account{Name: name, Email: email}
}

// RegisterDevicePIN seeds a device with a PIN. The raw PIN is hashed the
// same way the client hashes it.
func (s *Server) RegisterDevicePIN(deviceID, email, rawPIN string) error {
	hash, err := crypto.HashPIN(rawPIN)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	reg := s.devices[deviceID]
	if reg == nil {
		reg = &deviceReg{}
		s.devices[deviceID] = reg
	}
	reg.Email = email
	reg.PINHash = hash
	return nil
}

// EnablePasskey seeds a biometric registration for a device.
func (s *Server) EnablePasskey(deviceID, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg := s.devices[deviceID]
	if reg == nil {
		reg = &deviceReg{}
		s.devices[deviceID] = reg
	}
	reg.Email = email
	reg.HasPasskey = true
}

type errorResponse struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func apiError(c echo.Context, status int, code, message string) error {
	return c.JSON(status, errorResponse{Code: code, Message: message})
}

type userPayload struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type tokenPayload struct {
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	ExpiresAt    int64       `json:"expiresAt"`
	User         userPayload `json:"user"`
}

// issueTokens mints an access JWT and a rotated opaque refresh token.
func (s *Server) issueTokens(email, deviceID string) (tokenPayload, error) {
	expiresAt := time.Now().Add(s.opts.AccessTTL)
	claims := jwt.MapClaims{
		"sub": email,
		"jti": uuid.NewString(),
		"dev": deviceID,
		"iat": time.Now().Unix(),
		"exp": expiresAt.Unix(),
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.opts.JWTSecret)
	if err != nil {
		return tokenPayload{}, err
	}

	refreshToken := uuid.NewString()
	s.refresh.Set(refreshToken, &refreshEntry{Email: email, DeviceID: deviceID}, ttlcache.DefaultTTL)

	s.mu.RLock()
	acct := s.accounts[email]
	s.mu.RUnlock()
	user := userPayload{Email: email}
	if acct != nil {
		user.Name = acct.Name
	}

	return tokenPayload{
		AccessToken:  access,
		RefreshToken: refreshToken,
		ExpiresAt:    domain.ToMillis(expiresAt),
		User:         user,
	}, nil
}

func (s *Server) pinLogin(c echo.Context) error {
	var req struct {
		DeviceID string `json:"deviceId"`
		PIN      string `json:"pin"`
		Platform string `json:"platform"`
	}
	if err := c.Bind(&req); err != nil {
		return apiError(c, http.StatusBadRequest, "", "malformed request")
	}

	s.mu.RLock()
	reg := s.devices[req.DeviceID]
	s.mu.RUnlock()
	if reg == nil || reg.PINHash == "" {
		return apiError(c, http.StatusNotFound, "NOT_FOUND", "no PIN registered for this device")
	}
	if req.PIN != reg.PINHash {
		return apiError(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "incorrect PIN")
	}

	tokens, err := s.issueTokens(reg.Email, req.DeviceID)
	if err != nil {
		return apiError(c, http.StatusInternalServerError, "", "token minting failed")
	}
	return c.JSON(http.StatusOK, tokens)
}

func (s *Server) biometricLogin(c echo.Context) error {
	var req struct {
		DeviceID string `json:"deviceId"`
		Platform string `json:"platform"`
	}
	if err := c.Bind(&req); err != nil {
		return apiError(c, http.StatusBadRequest, "", "malformed request")
	}

	s.mu.RLock()
	reg := s.devices[req.DeviceID]
	s.mu.RUnlock()
	if reg == nil || !reg.HasPasskey {
		return apiError(c, http.StatusNotFound, "NOT_FOUND", "no biometric credential registered for this device")
	}

	tokens, err := s.issueTokens(reg.Email, req.DeviceID)
	if err != nil {
		return apiError(c, http.StatusInternalServerError, "", "token minting failed")
	}
	return c.JSON(http.StatusOK, tokens)
}

// parseAccess validates an access JWT and returns its claims.
func (s *Server) parseAccess(tokenValue string) (jwt.MapClaims, bool) {
	parsed, err := jwt.Parse(tokenValue, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.opts.JWTSecret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, false
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	return claims, ok
}

func (s *Server) check(c echo.Context) error {
	var req struct {
		AccessToken string `json:"accessToken"`
		DeviceID    string `json:"deviceId"`
	}
	if err := c.Bind(&req); err != nil {
		return apiError(c, http.StatusBadRequest, "", "malformed request")
	}

	type checkData struct {
		Valid         bool   `json:"valid"`
		UserEmail     string `json:"userEmail,omitempty"`
		TokenDeviceID string `json:"tokenDeviceId,omitempty"`
		ExpiresAt     int64  `json:"expiresAt,omitempty"`
	}
	respond := func(data checkData) error {
		return c.JSON(http.StatusOK, map[string]any{"success": true, "data": data})
	}

	claims, ok := s.parseAccess(req.AccessToken)
	if !ok {
		// Invalidity is a normal response value, not an error.
		return respond(checkData{Valid: false})
	}
	email, _ := claims["sub"].(string)
	dev, _ := claims["dev"].(string)
	exp, _ := claims.GetExpirationTime()
	data := checkData{Valid: true, UserEmail: email, TokenDeviceID: dev}
	if exp != nil {
		data.ExpiresAt = domain.ToMillis(exp.Time)
	}
	return respond(data)
}

func (s *Server) refreshTokens(c echo.Context) error {
	var req struct {
		RefreshToken string `json:"refreshToken"`
		DeviceID     string `json:"deviceId"`
	}
	if err := c.Bind(&req); err != nil {
		return apiError(c, http.StatusBadRequest, "", "malformed request")
	}

	item := s.refresh.Get(req.RefreshToken)
	if item == nil {
		return apiError(c, http.StatusUnauthorized, "REFRESH_INVALID", "refresh token is no longer valid")
	}
	entry := item.Value()

	// Rotation: the presented token is consumed either way.
	s.refresh.Delete(req.RefreshToken)

	tokens, err := s.issueTokens(entry.Email, req.DeviceID)
	if err != nil {
		return apiError(c, http.StatusInternalServerError, "", "token minting failed")
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "data": tokens})
}

func (s *Server) loginOptions(c echo.Context) error {
	var req struct {
		DeviceID string `json:"deviceId"`
	}
	if err := c.Bind(&req); err != nil {
		return apiError(c, http.StatusBadRequest, "", "malformed request")
	}

	s.mu.RLock()
	reg := s.devices[req.DeviceID]
	s.mu.RUnlock()

	data := map[string]any{"hasPin": false, "hasPasskey": false, "deviceId": req.DeviceID}
	if reg != nil {
		data["hasPin"] = reg.PINHash != ""
		data["hasPasskey"] = reg.HasPasskey
	}
	return c.JSON(http.StatusOK, map[string]any{"data": data})
}

func (s *Server) setPIN(c echo.Context) error {
	var req struct {
		Email    string `json:"email"`
		PIN      string `json:"pin"`
		DeviceID string `json:"deviceId"`
		Platform string `json:"platform"`
	}
	if err := c.Bind(&req); err != nil {
		return apiError(c, http.StatusBadRequest, "", "malformed request")
	}
	if !crypto.LooksHashed(req.PIN) {
		return apiError(c, http.StatusBadRequest, "", "pin must be transmitted hashed")
	}

	s.mu.Lock()
	reg := s.devices[req.DeviceID]
	if reg == nil {
		reg = &deviceReg{}
		s.devices[req.DeviceID] = reg
	}
	reg.Email = req.Email
	reg.PINHash = req.PIN
	s.mu.Unlock()

	return c.JSON(http.StatusOK, map[string]any{"success": true, "message": "PIN registered"})
}

func (s *Server) pinStatus(c echo.Context) error {
	email := c.QueryParam("email")

	s.mu.RLock()
	enabled := false
	for _, reg := range s.devices {
		if reg.Email == email && reg.PINHash != "" {
			enabled = true
			break
		}
	}
	s.mu.RUnlock()

	return c.JSON(http.StatusOK, map[string]any{"enabled": enabled})
}

func (s *Server) logout(c echo.Context) error {
	var req struct {
		RefreshToken string `json:"refreshToken"`
		DeviceID     string `json:"deviceId"`
	}
	if err := c.Bind(&req); err != nil {
		return apiError(c, http.StatusBadRequest, "", "malformed request")
	}
	s.refresh.Delete(req.RefreshToken)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) setupBiometric(c echo.Context) error {
	auth := c.Request().Header.Get("Authorization")
	tokenValue, found := strings.CutPrefix(auth, "Bearer ")
	if !found {
		return apiError(c, http.StatusUnauthorized, "", "missing bearer token")
	}
	claims, ok := s.parseAccess(tokenValue)
	if !ok {
		return apiError(c, http.StatusUnauthorized, "", "invalid access token")
	}

	var req struct {
		Email      string `json:"email"`
		DeviceID   string `json:"deviceId"`
		DeviceName string `json:"deviceName"`
		Platform   string `json:"platform"`
		Method     string `json:"method"`
	}
	if err := c.Bind(&req); err != nil {
		return apiError(c, http.StatusBadRequest, "", "malformed request")
	}
	if sub, _ := claims["sub"].(string); sub != req.Email {
		return apiError(c, http.StatusForbidden, "", "token does not match account")
	}

	s.EnablePasskey(req.DeviceID, req.Email)
	return c.JSON(http.StatusOK, map[string]any{"success": true, "message": "biometric login enabled"})
}
