// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package devserver

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jeranaias/agrochat/internal/api"
	"github.com/jeranaias/agrochat/internal/logger"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr matches the client's default backend URL.
	DefaultAddr = "127.0.0.1:8000"

	// DefaultTokenTTL is the lifetime of issued access tokens.
	DefaultTokenTTL = 24 * time.Hour

	// DefaultWordDelay paces streamed words.
	DefaultWordDelay = 40 * time.Millisecond

	// MaxInputLength caps user_input in runes.
	MaxInputLength = 4000

	// MinPasswordLength is enforced at registration.
	MinPasswordLength = 6

	// Version is reported by /status.
	Version = "0.1.0"
)

// ============================================================================
// SERVER
// ============================================================================

// Config configures a Server.
type Config struct {
	Addr string

	// Secret signs access tokens. A random one is generated when empty,
	// which invalidates tokens on every restart.
	Secret string

	TokenTTL  time.Duration
	WordDelay time.Duration

	// RateLimit is the number of requests allowed per client per minute.
	// Zero disables rate limiting.
	RateLimit int

	// BcryptCost overrides bcrypt.DefaultCost. Tests lower it.
	BcryptCost int
}

// Server is the development backend.
type Server struct {
	cfg     Config
	engine  *gin.Engine
	users   *directory
	tokens  *issuer
	server  *http.Server
	started time.Time
	served  atomic.Int64
}

// New creates a Server. It does not listen until Start.
func New(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.WordDelay < 0 {
		cfg.WordDelay = 0
	}
	secret := []byte(cfg.Secret)
	if len(secret) == 0 {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("failed to generate token secret: %w", err)
		}
		secret = []byte(hex.EncodeToString(buf))
		logger.Warn("no devserver secret configured, tokens will not survive a restart")
	}

	s := &Server{
		cfg:     cfg,
		users:   newDirectory(cfg.BcryptCost),
		tokens:  &issuer{secret: secret, ttl: cfg.TokenTTL, now: time.Now},
		started: time.Now(),
	}
	s.setupRoutes()
	return s, nil
}

// Handler returns the HTTP handler, for embedding or httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.cfg.Addr
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	if gin.Mode() == gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(recovery(), securityHeaders(), requestLogger(), s.countRequests())
	if s.cfg.RateLimit > 0 {
		r.Use(rateLimit(NewRateLimiter(s.cfg.RateLimit, time.Minute)))
	}

	r.GET("/status", s.handleStatus)
	r.POST("/auth/register", s.handleRegister)
	r.POST("/auth/login", s.handleLogin)

	authed := r.Group("/", requireAuth(s.tokens))
	authed.GET("/users/me", s.handleMe)
	authed.POST("/interpret", s.handleInterpret)
	authed.GET("/profile/", s.handleProfile)
	authed.PUT("/profile/update", s.handleProfileUpdate)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
	})
	s.engine = r
}

func (s *Server) countRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.served.Add(1)
		c.Next()
	}
}

// ============================================================================
// AUTH HANDLERS
// ============================================================================

// fieldError matches the backend's validation error entries.
type fieldError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

func validationFailed(c *gin.Context, errs []fieldError) {
	c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": errs})
}

func (s *Server) handleRegister(c *gin.Context) {
	var req api.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationFailed(c, []fieldError{{Loc: []string{"body"}, Msg: "invalid JSON body", Type: "value_error"}})
		return
	}

	var errs []fieldError
	if strings.TrimSpace(req.Username) == "" {
		errs = append(errs, fieldError{Loc: []string{"body", "username"}, Msg: "Field required", Type: "missing"})
	}
	if !strings.Contains(req.Email, "@") {
		errs = append(errs, fieldError{Loc: []string{"body", "email"}, Msg: "value is not a valid email address", Type: "value_error"})
	}
	if len([]rune(req.Password)) < MinPasswordLength {
		errs = append(errs, fieldError{
			Loc:  []string{"body", "password"},
			Msg:  fmt.Sprintf("String should have at least %d characters", MinPasswordLength),
			Type: "string_too_short",
		})
	}
	if len(errs) > 0 {
		validationFailed(c, errs)
		return
	}

	u, err := s.users.register(req.Username, req.Email, req.Password)
	if errors.Is(err, errUsernameTaken) {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Username already registered"})
		return
	}
	if err != nil {
		logger.Error("register failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Could not create user"})
		return
	}

	logger.Info("user registered", "id", u.ID, "username", u.Username)
	c.JSON(http.StatusCreated, u)
}

func (s *Server) handleLogin(c *gin.Context) {
	username := c.PostForm("username")
	password := c.PostForm("password")
	if username == "" || password == "" {
		validationFailed(c, []fieldError{{Loc: []string{"body", "username"}, Msg: "Field required", Type: "missing"}})
		return
	}

	u, err := s.users.authenticate(username, password)
	if err != nil {
		c.Header("WWW-Authenticate", "Bearer")
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Incorrect username or password"})
		return
	}
	token, err := s.tokens.issue(u)
	if err != nil {
		logger.Error("token signing failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Could not issue token"})
		return
	}
	c.JSON(http.StatusOK, api.Token{AccessToken: token, TokenType: "bearer"})
}

// currentUser resolves the authenticated user, answering 401 when the
// token outlived its account.
func (s *Server) currentUser(c *gin.Context) (*user, bool) {
	u, ok := s.users.user(c.GetInt64(userIDKey))
	if !ok {
		unauthorized(c, "Could not validate credentials")
		return nil, false
	}
	return u, true
}

func (s *Server) handleMe(c *gin.Context) {
	u, ok := s.currentUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, u)
}

// ============================================================================
// INTERPRET
// ============================================================================

func (s *Server) handleInterpret(c *gin.Context) {
	u, ok := s.currentUser(c)
	if !ok {
		return
	}
	input := strings.TrimSpace(c.PostForm("user_input"))
	if input == "" {
		validationFailed(c, []fieldError{{Loc: []string{"body", "user_input"}, Msg: "Field required", Type: "missing"}})
		return
	}
	if len([]rune(input)) > MaxInputLength {
		validationFailed(c, []fieldError{{
			Loc:  []string{"body", "user_input"},
			Msg:  fmt.Sprintf("String should have at most %d characters", MaxInputLength),
			Type: "string_too_long",
		}})
		return
	}

	p, _ := s.users.profile(u.ID)
	reply := Compose(p.Nombre, p.Cultivo, p.Region, input)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	ctx := c.Request.Context()
	for i, word := range strings.Fields(reply) {
		if i > 0 {
			word = " " + word
		}
		if err := writeData(c, word); err != nil {
			return
		}
		if !sleep(ctx, s.cfg.WordDelay) {
			logger.Debug("client went away mid-stream", "user", u.ID)
			return
		}
	}
	writeData(c, api.DoneSentinel)
}

func writeData(c *gin.Context, payload string) error {
	if _, err := fmt.Fprintf(c.Writer, "%s%s\n", api.DataPrefix, payload); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Compose builds the canned reply for a question, addressing the farmer by
// profile when one is set.
func Compose(nombre, cultivo, region, question string) string {
	var b strings.Builder
	if nombre != "" {
		fmt.Fprintf(&b, "Hola %s. ", nombre)
	}
	fmt.Fprintf(&b, "Recibí tu consulta: %q.", question)
	switch {
	case cultivo != "" && region != "":
		fmt.Fprintf(&b, " Para %s en %s, revisa humedad del suelo y pronóstico antes de decidir.", cultivo, region)
	case cultivo != "":
		fmt.Fprintf(&b, " Para %s, revisa humedad del suelo antes de decidir.", cultivo)
	}
	return b.String()
}

// ============================================================================
// PROFILE
// ============================================================================

func (s *Server) handleProfile(c *gin.Context) {
	u, ok := s.currentUser(c)
	if !ok {
		return
	}
	p, ok := s.users.profile(u.ID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Profile not found"})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleProfileUpdate(c *gin.Context) {
	u, ok := s.currentUser(c)
	if !ok {
		return
	}
	var upd profileUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		validationFailed(c, []fieldError{{Loc: []string{"body"}, Msg: "invalid JSON body", Type: "value_error"}})
		return
	}
	if len(upd.ExtraJSON) > 0 && !json.Valid(upd.ExtraJSON) {
		validationFailed(c, []fieldError{{Loc: []string{"body", "extra_json"}, Msg: "invalid JSON", Type: "value_error"}})
		return
	}
	p, ok := s.users.updateProfile(u.ID, upd)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Profile not found"})
		return
	}
	c.JSON(http.StatusOK, p)
}

// ============================================================================
// STATUS
// ============================================================================

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"version":        Version,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"users":          s.users.count(),
		"requests":       s.served.Load(),
	})
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	logger.Info("devserver listening", "addr", s.cfg.Addr, "version", Version)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	logger.Info("devserver shutting down")
	return s.server.Shutdown(ctx)
}
