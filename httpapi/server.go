// Package httpapi exposes the engine over HTTP. It translates
// requests into engine calls and engine errors into stable JSON
// error bodies; all policy lives in the engine.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/COMRADE-APP/authcore"
)

// Server wires the engine behind a chi router.
type Server struct {
	engine *authcore.Engine
	logger *zap.Logger
	router chi.Router
}

// Option customizes a Server.
type Option func(*Server)

// WithLogger sets the request logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer builds the HTTP surface for an engine.
func NewServer(engine *authcore.Engine, opts ...Option) *Server {
	s := &Server{
		engine: engine,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(s.clientContext)
	r.Use(s.requestLog)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/login/verify", s.handleLoginVerify)
		r.Post("/2fa/verify", s.handleLogin2FA)
		r.Post("/otp/resend", s.handleResend)
		r.Post("/register", s.handleRegister)
		r.Post("/register/verify", s.handleRegisterVerify)
		r.Post("/password-reset/request", s.handleResetRequest)
		r.Post("/password-reset/confirm", s.handleResetConfirm)
		r.Post("/refresh", s.handleRefresh)
		r.Get("/delivery/{challengeID}", s.handleDeliveryStatus)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAccess)
			r.Post("/logout", s.handleLogout)
			r.Post("/logout-all", s.handleLogoutAll)
			r.Post("/password", s.handleChangePassword)
			r.Post("/totp/setup", s.handleTOTPSetup)
			r.Post("/totp/verify-setup", s.handleTOTPVerifySetup)
			r.Post("/totp/regenerate", s.handleTOTPRegenerate)
			r.Post("/totp/disable", s.handleTOTPDisable)
			r.Post("/totp/backup-codes", s.handleBackupCodes)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireAccess)
		r.Get("/devices", s.handleListDevices)
		r.Post("/devices/{deviceID}/trust", s.handleTrustDevice)
		r.Post("/devices/{deviceID}/revoke", s.handleRevokeDevice)
	})

	s.router = r
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
