package mfa

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/audit"
	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/model"
)

const tokenIssuer = "opstower-mfa"

type stepUpClaims struct {
	Action      string `json:"act"`
	ChallengeID string `json:"cid"`
	jwt.RegisteredClaims
}

// IssueStepUpToken signs a token proving c was verified. The token names
// the user and the action the challenge was bound to.
func (s *Service) IssueStepUpToken(c *model.Challenge) (string, error) {
	if c == nil || c.Status != model.ChallengeVerified {
		return "", ErrChallengeNotPassed
	}
	if c.Action == "" {
		return "", ErrActionRequired
	}
	now := s.now()
	claims := stepUpClaims{
		Action:      string(c.Action),
		ChallengeID: c.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.UserID,
			ID:        c.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			Issuer:    tokenIssuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign step-up token: %w", err)
	}
	return signed, nil
}

// ValidateStepUpToken checks that token is a live step-up token for userID
// bound to action. It does not use the token up; see RedeemStepUpToken.
func (s *Service) ValidateStepUpToken(tokenStr, userID string, action model.Permission) error {
	_, err := s.parseStepUpToken(tokenStr, userID, action)
	return err
}

// RedeemStepUpToken validates token like ValidateStepUpToken and marks it
// used. A second redemption of the same token fails with ErrTokenUsed.
func (s *Service) RedeemStepUpToken(ctx context.Context, tokenStr, userID string, action model.Permission) error {
	claims, err := s.parseStepUpToken(tokenStr, userID, action)
	if err != nil {
		return err
	}
	won, err := s.store.RedeemChallengeToken(ctx, claims.ChallengeID, s.now().UTC())
	if err != nil {
		return fmt.Errorf("redeem step-up token: %w", err)
	}
	if !won {
		s.sink.LogSecurityEvent(ctx, audit.NewSecurityEvent(ctx, audit.EventStepUpReplayed, audit.SeverityHigh, userID, map[string]any{
			"challenge_id": claims.ChallengeID,
			"action":       action,
		}))
		s.logger.Warn("step-up token replayed", "challenge_id", claims.ChallengeID, "user_id", userID, "action", action)
		return ErrTokenUsed
	}
	s.sink.LogSecurityEvent(ctx, audit.NewSecurityEvent(ctx, audit.EventStepUpRedeemed, audit.SeverityLow, userID, map[string]any{
		"challenge_id": claims.ChallengeID,
		"action":       action,
	}))
	return nil
}

func (s *Service) parseStepUpToken(tokenStr, userID string, action model.Permission) (*stepUpClaims, error) {
	claims := &stepUpClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject != userID {
		return nil, fmt.Errorf("%w: issued to another user", ErrInvalidToken)
	}
	if action == "" || claims.Action == "" {
		return nil, fmt.Errorf("%w: not bound to an action", ErrInvalidToken)
	}
	if model.Permission(claims.Action) != action {
		return nil, fmt.Errorf("%w: bound to %s", ErrInvalidToken, claims.Action)
	}
	return claims, nil
}
