// Package accounts registers players, checks credentials and hands out
// session tokens.
package accounts

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"bonecraft.ai/internal/persistence/store"
	"bonecraft.ai/internal/protocol"
	"bonecraft.ai/internal/sim/catalogs"
	"bonecraft.ai/internal/sim/ledger"
	"bonecraft.ai/internal/sim/tuning"
)

var (
	ErrMissingCredentials = protocol.NewError(protocol.ErrBadRequest, "Missing username or password")
	ErrInvalidName        = protocol.NewError(protocol.ErrBadRequest, "Invalid username.")
	ErrNameTaken          = protocol.NewError(protocol.ErrConflict, "Username already taken.")
	ErrUserNotFound       = protocol.NewError(protocol.ErrUnauthorized, "User not found.")
	ErrBadPassword        = protocol.NewError(protocol.ErrUnauthorized, "Invalid password.")
	ErrPasswordTooLong    = protocol.NewError(protocol.ErrBadRequest, "Password is too long.")
)

const maxNameLen = 32

// maxPasswordBytes is the most bcrypt will hash.
const maxPasswordBytes = 72

type account struct {
	Password string         `json:"password"`
	Data     *ledger.Ledger `json:"data"`
}

type Config struct {
	Store      store.Store
	Catalogs   *catalogs.Catalogs
	Starter    tuning.StarterLedger
	Sessions   *Sessions
	BcryptCost int
	Logger     logrus.FieldLogger
}

type Service struct {
	st       store.Store
	cats     *catalogs.Catalogs
	starter  tuning.StarterLedger
	sessions *Sessions
	cost     int
	log      logrus.FieldLogger
}

func New(cfg Config) *Service {
	s := &Service{
		st:       cfg.Store,
		cats:     cfg.Catalogs,
		starter:  cfg.Starter,
		sessions: cfg.Sessions,
		cost:     cfg.BcryptCost,
		log:      cfg.Logger,
	}
	if s.cost == 0 {
		s.cost = bcrypt.DefaultCost
	}
	if s.sessions == nil {
		s.sessions = NewSessions(0)
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	s.log = s.log.WithField("component", "accounts")
	return s
}

func (s *Service) Sessions() *Sessions { return s.sessions }

func (s *Service) validName(name string) error {
	switch {
	case name == "":
		return ErrMissingCredentials
	case len(name) > maxNameLen, strings.ContainsAny(name, "/.#$[]"), strings.TrimSpace(name) != name:
		return ErrInvalidName
	case s.cats != nil && s.cats.IsBot(name):
		return ErrNameTaken
	}
	return nil
}

// Register creates user with the starter ledger.
func (s *Service) Register(ctx context.Context, user, password string) error {
	if user == "" || password == "" {
		return ErrMissingCredentials
	}
	if err := s.validName(user); err != nil {
		return err
	}
	if len(password) > maxPasswordBytes {
		return ErrPasswordTooLong
	}
	var existing account
	err := s.st.Get(ctx, ledger.UserPath(user), &existing)
	switch {
	case err == nil:
		return ErrNameTaken
	case !errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("register %s: %w", user, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	acct := account{
		Password: string(hash),
		Data:     ledger.New(s.starter.Currency, s.starter.Inventory),
	}
	if err := s.st.Create(ctx, ledger.UserPath(user), acct); err != nil {
		if errors.Is(err, store.ErrExists) {
			return ErrNameTaken
		}
		return fmt.Errorf("register %s: %w", user, err)
	}
	s.log.WithField("user", user).Info("account created")
	return nil
}

// Login checks the password and opens a session. Accounts still carrying a
// hex SHA-256 hash are moved to bcrypt on their first successful login.
func (s *Service) Login(ctx context.Context, user, password string) (string, error) {
	if user == "" || password == "" {
		return "", ErrMissingCredentials
	}
	if err := s.validName(user); err != nil {
		return "", ErrUserNotFound
	}
	var stored string
	if err := s.st.Get(ctx, ledger.UserPath(user)+"/password", &stored); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("login %s: %w", user, err)
	}

	if isLegacyHash(stored) {
		sum := sha256.Sum256([]byte(password))
		if subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum[:])), []byte(strings.ToLower(stored))) != 1 {
			return "", ErrBadPassword
		}
		if hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost); err == nil {
			if err := s.st.Put(ctx, ledger.UserPath(user)+"/password", string(hash)); err != nil {
				s.log.WithField("user", user).WithError(err).Warn("password rehash failed")
			}
		}
	} else if err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)); err != nil {
		return "", ErrBadPassword
	}
	return s.sessions.Open(user), nil
}

func isLegacyHash(h string) bool {
	if len(h) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(h)
	return err == nil
}

func (s *Service) Logout(token string) { s.sessions.Close(token) }

// Authenticate resolves a session token to its user.
func (s *Service) Authenticate(token string) (string, error) {
	return s.sessions.Lookup(token)
}

type leaderRow struct {
	Data *struct {
		Currency    int64 `json:"currency"`
		TotalSynths int   `json:"total_synths"`
	} `json:"data"`
}

// Leaderboard ranks players by currency, then name. Bots are excluded.
func (s *Service) Leaderboard(ctx context.Context) ([]protocol.LeaderboardEntry, error) {
	var users map[string]leaderRow
	if err := s.st.Get(ctx, "users", &users); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return []protocol.LeaderboardEntry{}, nil
		}
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	out := make([]protocol.LeaderboardEntry, 0, len(users))
	for name, u := range users {
		if u.Data == nil || (s.cats != nil && s.cats.IsBot(name)) {
			continue
		}
		out = append(out, protocol.LeaderboardEntry{Name: name, Currency: u.Data.Currency, Synths: u.Data.TotalSynths})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Currency != out[j].Currency {
			return out[i].Currency > out[j].Currency
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}
