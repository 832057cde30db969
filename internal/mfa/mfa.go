// Package mfa issues and verifies step-up challenges and the short-lived
// tokens that prove one was passed.
package mfa

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/audit"
	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/config"
	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/model"
)

const (
	DefaultCodeTTL  = 5 * time.Minute
	DefaultTokenTTL = 5 * time.Minute
	codeDigits      = 6
)

var (
	ErrRateLimited        = errors.New("too many MFA challenges, try again later")
	ErrInvalidMethod      = errors.New("unsupported MFA method")
	ErrChallengeNotFound  = errors.New("challenge not found")
	ErrChallengeNotPassed = errors.New("challenge has not been verified")
	ErrInvalidToken       = errors.New("invalid step-up token")
	ErrTokenUsed          = errors.New("step-up token already used")
	ErrActionRequired     = errors.New("challenge must be bound to an action")
)

// Store persists challenges. ConsumeChallenge and RedeemChallengeToken must
// each succeed for exactly one caller per challenge.
type Store interface {
	CreateChallenge(ctx context.Context, c *model.Challenge) error
	GetChallenge(ctx context.Context, id string) (*model.Challenge, error)
	ConsumeChallenge(ctx context.Context, id string, status model.ChallengeStatus, at time.Time) (bool, error)
	RedeemChallengeToken(ctx context.Context, id string, at time.Time) (bool, error)
}

// ChallengeContext binds a challenge to the action it gates.
type ChallengeContext struct {
	Action     model.Permission
	ResourceID string
}

// Result is the outcome of a verification attempt.
type Result struct {
	Status    model.ChallengeStatus `json:"status"`
	Challenge *model.Challenge      `json:"challenge,omitempty"`
}

// Verified reports whether the code was accepted.
func (r Result) Verified() bool { return r.Status == model.ChallengeVerified }

// Options configures a Service.
type Options struct {
	CodeTTL  time.Duration
	TokenTTL time.Duration
	// TokenSecret signs step-up tokens. When empty a random per-process
	// secret is used.
	TokenSecret []byte
	// IssueRate is challenges per minute per user; zero disables limiting.
	IssueRate  float64
	IssueBurst int
	Now        func() time.Time
}

// Service creates and verifies challenges.
type Service struct {
	store    Store
	sink     audit.Sink
	logger   *slog.Logger
	codeTTL  time.Duration
	tokenTTL time.Duration
	secret   []byte
	rate     rate.Limit
	burst    int
	now      func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewService returns a Service writing through store.
func NewService(store Store, sink audit.Sink, logger *slog.Logger, opts Options) (*Service, error) {
	s := &Service{
		store:    store,
		sink:     sink,
		logger:   logger,
		codeTTL:  opts.CodeTTL,
		tokenTTL: opts.TokenTTL,
		secret:   opts.TokenSecret,
		rate:     rate.Inf,
		burst:    opts.IssueBurst,
		now:      opts.Now,
		limiters: make(map[string]*rate.Limiter),
	}
	if s.sink == nil {
		s.sink = audit.Nop{}
	}
	if s.codeTTL <= 0 {
		s.codeTTL = DefaultCodeTTL
	}
	if s.tokenTTL <= 0 {
		s.tokenTTL = DefaultTokenTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.IssueRate > 0 {
		s.rate = rate.Limit(opts.IssueRate / 60)
	}
	if s.burst <= 0 {
		s.burst = 1
	}
	if len(s.secret) == 0 {
		s.secret = make([]byte, 32)
		if _, err := rand.Read(s.secret); err != nil {
			return nil, fmt.Errorf("generate token secret: %w", err)
		}
	}
	return s, nil
}

func (s *Service) allow(userID string) bool {
	if s.rate == rate.Inf {
		return true
	}
	s.mu.Lock()
	lim, ok := s.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(s.rate, s.burst)
		s.limiters[userID] = lim
	}
	s.mu.Unlock()
	return lim.AllowN(s.now(), 1)
}

// CreateChallenge issues a challenge and returns it with the plaintext
// code. Delivering the code over method is the caller's job; only its
// hash is stored.
func (s *Service) CreateChallenge(ctx context.Context, userID string, method model.MFAMethod, cc ChallengeContext) (*model.Challenge, string, error) {
	if !method.Valid() {
		return nil, "", fmt.Errorf("%w: %q", ErrInvalidMethod, method)
	}
	if !cc.Action.Valid() {
		return nil, "", fmt.Errorf("%w: got %q", ErrActionRequired, cc.Action)
	}
	if !s.allow(userID) {
		s.logger.Warn("mfa challenge rate limited", "user_id", userID)
		return nil, "", ErrRateLimited
	}
	code, err := generateCode()
	if err != nil {
		return nil, "", fmt.Errorf("generate code: %w", err)
	}

	now := s.now().UTC()
	c := &model.Challenge{
		UserID:     userID,
		Method:     method,
		Action:     cc.Action,
		ResourceID: cc.ResourceID,
		Status:     model.ChallengeCreated,
		ExpiresAt:  now.Add(s.codeTTL),
		CreatedAt:  now,
	}
	// The id salts the hash, so assign it before hashing.
	c.ID = uuid.NewString()
	c.CodeHash = hashCode(c.ID, code)
	c.Status = model.ChallengePending
	if err := s.store.CreateChallenge(ctx, c); err != nil {
		return nil, "", fmt.Errorf("create challenge: %w", err)
	}

	s.sink.LogSecurityEvent(ctx, audit.NewSecurityEvent(ctx, audit.EventChallengeIssued, audit.SeverityLow, userID, map[string]any{
		"challenge_id": c.ID,
		"method":       method,
		"action":       cc.Action,
		"expires_at":   c.ExpiresAt,
	}))
	s.logger.Info("mfa challenge issued", "challenge_id", c.ID, "user_id", userID, "method", method)
	return c, code, nil
}

// Verify checks code against the challenge and consumes it whatever the
// outcome. A challenge that was already consumed verifies as failed.
func (s *Service) Verify(ctx context.Context, challengeID, code string) (Result, error) {
	c, err := s.store.GetChallenge(ctx, challengeID)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return Result{Status: model.ChallengeFailed}, fmt.Errorf("%w: %s", ErrChallengeNotFound, challengeID)
		}
		return Result{Status: model.ChallengeFailed}, fmt.Errorf("get challenge: %w", err)
	}
	if c.ConsumedAt != nil || c.Status.Terminal() {
		s.failed(ctx, c, "already consumed")
		return Result{Status: model.ChallengeFailed, Challenge: c}, nil
	}

	now := s.now().UTC()
	status := model.ChallengeFailed
	switch {
	case !now.Before(c.ExpiresAt):
		status = model.ChallengeExpired
	case subtle.ConstantTimeCompare([]byte(hashCode(c.ID, code)), []byte(c.CodeHash)) == 1:
		status = model.ChallengeVerified
	}

	won, err := s.store.ConsumeChallenge(ctx, c.ID, status, now)
	if err != nil {
		return Result{Status: model.ChallengeFailed, Challenge: c}, fmt.Errorf("consume challenge: %w", err)
	}
	if !won {
		s.failed(ctx, c, "already consumed")
		return Result{Status: model.ChallengeFailed, Challenge: c}, nil
	}
	c.Status = status
	c.ConsumedAt = &now

	if status == model.ChallengeVerified {
		s.sink.LogSecurityEvent(ctx, audit.NewSecurityEvent(ctx, audit.EventChallengeVerified, audit.SeverityLow, c.UserID, map[string]any{
			"challenge_id": c.ID,
			"action":       c.Action,
		}))
		s.logger.Info("mfa challenge verified", "challenge_id", c.ID, "user_id", c.UserID)
	} else {
		s.failed(ctx, c, string(status))
	}
	return Result{Status: status, Challenge: c}, nil
}

func (s *Service) failed(ctx context.Context, c *model.Challenge, why string) {
	s.sink.LogSecurityEvent(ctx, audit.NewSecurityEvent(ctx, audit.EventChallengeFailed, audit.SeverityMedium, c.UserID, map[string]any{
		"challenge_id": c.ID,
		"action":       c.Action,
		"reason":       why,
	}))
	s.logger.Warn("mfa challenge failed", "challenge_id", c.ID, "user_id", c.UserID, "reason", why)
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

func hashCode(challengeID, code string) string {
	h := sha256.Sum256([]byte(challengeID + ":" + code))
	return hex.EncodeToString(h[:])
}
