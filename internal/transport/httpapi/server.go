// Package httpapi serves the JSON API: auth, crafting, auction house and
// leaderboard.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"bonecraft.ai/internal/game"
	"bonecraft.ai/internal/metrics"
	"bonecraft.ai/internal/protocol"
	"bonecraft.ai/internal/sim/accounts"
)

const (
	SessionCookie = "bc_session"
	maxBodyBytes  = 64 * 1024
)

type Config struct {
	Game      *game.Game
	Accounts  *accounts.Service
	Validator *protocol.Validator
	// Feed is mounted at /v1/ws when set.
	Feed          http.Handler
	ActionsPerSec float64
	Burst         int
	SecureCookie  bool
	CookieMaxAge  time.Duration
	Logger        logrus.FieldLogger
}

type Server struct {
	game     *game.Game
	accounts *accounts.Service
	val      *protocol.Validator
	limits   *limiters
	secure   bool
	maxAge   time.Duration
	log      logrus.FieldLogger
	router   chi.Router
}

type ctxKey struct{}

func userFrom(ctx context.Context) string {
	u, _ := ctx.Value(ctxKey{}).(string)
	return u
}

func New(cfg Config) *Server {
	s := &Server{
		game:     cfg.Game,
		accounts: cfg.Accounts,
		val:      cfg.Validator,
		limits:   newLimiters(cfg.ActionsPerSec, cfg.Burst),
		secure:   cfg.SecureCookie,
		maxAge:   cfg.CookieMaxAge,
		log:      cfg.Logger,
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	s.log = s.log.WithField("component", "http")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, protocol.Response{Success: true, Message: "ok"})
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	if cfg.Feed != nil {
		r.Method(http.MethodGet, "/v1/ws", cfg.Feed)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(metrics.InstrumentHandler)
		r.Use(s.requestLog)

		r.Group(func(r chi.Router) {
			r.Use(s.limitByAddr)
			r.Post("/auth/register", s.handleRegister)
			r.Post("/auth/login", s.handleLogin)
			r.Post("/auth/logout", s.handleLogout)
			r.Get("/ah/market", s.handleMarket)
			r.Get("/game/leaderboard", s.handleLeaderboard)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Use(s.limitBySession)
			r.Get("/game/sync", s.handleSync)
			r.Post("/game/synth", s.handleSynth)
			r.Post("/ah/list", s.handleList)
			r.Post("/ah/buy", s.handleBuy)
		})
	})
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Sweep drops idle rate-limit buckets and expired sessions.
func (s *Server) Sweep() (buckets, sessions int) {
	return s.limits.sweep(), s.accounts.Sessions().Sweep()
}

func sessionToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.accounts.Authenticate(sessionToken(r))
		if err != nil {
			s.fail(w, "auth", "", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, user)))
	})
}

func (s *Server) limitBySession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limits.allow("s:" + sessionToken(r)) {
			s.fail(w, "ratelimit", userFrom(r.Context()), protocol.NewError(protocol.ErrRateLimit, "Too many requests. Slow down."))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limitByAddr(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.RemoteAddr
		if i := strings.LastIndexByte(host, ':'); i > 0 {
			host = host[:i]
		}
		if !s.limits.allow("a:" + host) {
			s.fail(w, "ratelimit", "", protocol.NewError(protocol.ErrRateLimit, "Too many requests. Slow down."))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				s.log.WithFields(logrus.Fields{"path": r.URL.Path, "panic": v}).Error("handler panic")
				writeJSON(w, http.StatusInternalServerError, protocol.Response{Message: "Internal error.", Code: protocol.ErrInternal})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"request_id": middleware.GetReqID(r.Context()),
			"took_ms":    time.Since(start).Milliseconds(),
		}).Debug("request")
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, schema string, out any) error {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return protocol.NewError(protocol.ErrBadRequest, "request body too large")
	}
	return s.val.Decode(schema, raw, out)
}

func (s *Server) fail(w http.ResponseWriter, op, user string, err error) {
	resp := s.game.Failure(op, user, err)
	writeJSON(w, protocol.HTTPStatus(resp.Code), resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusOf answers 200 for successes and the code's status otherwise.
func statusOf(resp protocol.Response) int {
	if resp.Success {
		return http.StatusOK
	}
	return protocol.HTTPStatus(resp.Code)
}
