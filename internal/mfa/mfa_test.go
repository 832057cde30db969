package mfa

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/config"
	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/model"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newService(t *testing.T, opts Options) (*Service, *clock) {
	t.Helper()
	s, err := config.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	clk := &clock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	opts.Now = clk.Now
	svc, err := NewService(s, nil, slog.New(slog.NewTextHandler(io.Discard, nil)), opts)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, clk
}

var unmask = ChallengeContext{Action: model.UnmaskPII, ResourceID: "drv-42"}

func TestVerifyConsumesChallenge(t *testing.T) {
	svc, _ := newService(t, Options{})
	ctx := context.Background()

	c, code, err := svc.CreateChallenge(ctx, "risk-1", model.MFATOTP, unmask)
	if err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}
	if len(code) != 6 {
		t.Errorf("code length: got %d, want 6", len(code))
	}
	if c.Status != model.ChallengePending {
		t.Errorf("Status: got %s, want pending", c.Status)
	}
	if c.CodeHash == "" || c.CodeHash == code {
		t.Error("code must be stored hashed")
	}

	res, err := svc.Verify(ctx, c.ID, code)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !res.Verified() {
		t.Fatalf("Verify: got %s, want verified", res.Status)
	}

	res, err = svc.Verify(ctx, c.ID, code)
	if err != nil {
		t.Fatalf("second Verify: %v", err)
	}
	if res.Status != model.ChallengeFailed {
		t.Errorf("reuse: got %s, want failed", res.Status)
	}
}

func TestWrongCodeBurnsChallenge(t *testing.T) {
	svc, _ := newService(t, Options{})
	ctx := context.Background()

	c, code, err := svc.CreateChallenge(ctx, "risk-1", model.MFASMS, unmask)
	if err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	res, err := svc.Verify(ctx, c.ID, wrong)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Status != model.ChallengeFailed {
		t.Errorf("wrong code: got %s, want failed", res.Status)
	}
	res, _ = svc.Verify(ctx, c.ID, code)
	if res.Status != model.ChallengeFailed {
		t.Errorf("right code after failure: got %s, want failed", res.Status)
	}
}

func TestVerifyExpired(t *testing.T) {
	svc, clk := newService(t, Options{CodeTTL: time.Minute})
	ctx := context.Background()

	c, code, err := svc.CreateChallenge(ctx, "risk-1", model.MFAEmail, unmask)
	if err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}
	clk.Advance(time.Minute)
	res, err := svc.Verify(ctx, c.ID, code)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Status != model.ChallengeExpired {
		t.Errorf("got %s, want expired", res.Status)
	}
}

func TestVerifyUnknownChallenge(t *testing.T) {
	svc, _ := newService(t, Options{})
	res, err := svc.Verify(context.Background(), "nope", "123456")
	if !errors.Is(err, ErrChallengeNotFound) {
		t.Errorf("got %v, want ErrChallengeNotFound", err)
	}
	if res.Status != model.ChallengeFailed {
		t.Errorf("Status: got %s, want failed", res.Status)
	}
}

func TestCreateChallengeRejectsMethod(t *testing.T) {
	svc, _ := newService(t, Options{})
	_, _, err := svc.CreateChallenge(context.Background(), "risk-1", "carrier_pigeon", unmask)
	if !errors.Is(err, ErrInvalidMethod) {
		t.Errorf("got %v, want ErrInvalidMethod", err)
	}
}

func TestCreateChallengeRateLimited(t *testing.T) {
	svc, clk := newService(t, Options{IssueRate: 1, IssueBurst: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, _, err := svc.CreateChallenge(ctx, "risk-1", model.MFAPush, unmask); err != nil {
			t.Fatalf("challenge %d: %v", i, err)
		}
	}
	if _, _, err := svc.CreateChallenge(ctx, "risk-1", model.MFAPush, unmask); !errors.Is(err, ErrRateLimited) {
		t.Errorf("third challenge: got %v, want ErrRateLimited", err)
	}
	if _, _, err := svc.CreateChallenge(ctx, "rm-1", model.MFAPush, unmask); err != nil {
		t.Errorf("other user should have own budget: %v", err)
	}
	clk.Advance(time.Minute)
	if _, _, err := svc.CreateChallenge(ctx, "risk-1", model.MFAPush, unmask); err != nil {
		t.Errorf("after refill: %v", err)
	}
}

func TestStepUpTokenRoundTrip(t *testing.T) {
	svc, clk := newService(t, Options{TokenSecret: []byte("test-secret"), TokenTTL: 2 * time.Minute})
	ctx := context.Background()

	c, code, err := svc.CreateChallenge(ctx, "risk-1", model.MFATOTP, unmask)
	if err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}
	if _, err := svc.IssueStepUpToken(c); !errors.Is(err, ErrChallengeNotPassed) {
		t.Errorf("token before verify: got %v, want ErrChallengeNotPassed", err)
	}
	res, err := svc.Verify(ctx, c.ID, code)
	if err != nil || !res.Verified() {
		t.Fatalf("Verify: %v %s", err, res.Status)
	}
	tok, err := svc.IssueStepUpToken(res.Challenge)
	if err != nil {
		t.Fatalf("IssueStepUpToken: %v", err)
	}

	if err := svc.ValidateStepUpToken(tok, "risk-1", model.UnmaskPII); err != nil {
		t.Errorf("valid token rejected: %v", err)
	}
	if err := svc.ValidateStepUpToken(tok, "rm-1", model.UnmaskPII); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("other user: got %v, want ErrInvalidToken", err)
	}
	if err := svc.ValidateStepUpToken(tok, "risk-1", model.ExportReports); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("other action: got %v, want ErrInvalidToken", err)
	}

	other, _ := newService(t, Options{TokenSecret: []byte("another-secret")})
	if err := other.ValidateStepUpToken(tok, "risk-1", model.UnmaskPII); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("foreign secret: got %v, want ErrInvalidToken", err)
	}

	clk.Advance(3 * time.Minute)
	if err := svc.ValidateStepUpToken(tok, "risk-1", model.UnmaskPII); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired token: got %v, want ErrInvalidToken", err)
	}
}

func TestCreateChallengeRequiresAction(t *testing.T) {
	svc, _ := newService(t, Options{})
	for _, cc := range []ChallengeContext{{}, {Action: "launch_rockets"}} {
		if _, _, err := svc.CreateChallenge(context.Background(), "risk-1", model.MFATOTP, cc); !errors.Is(err, ErrActionRequired) {
			t.Errorf("action %q: got %v, want ErrActionRequired", cc.Action, err)
		}
	}
	if _, err := svc.IssueStepUpToken(&model.Challenge{ID: "c1", UserID: "risk-1", Status: model.ChallengeVerified}); !errors.Is(err, ErrActionRequired) {
		t.Errorf("unbound challenge: got %v, want ErrActionRequired", err)
	}
}

func TestStepUpTokenWithoutActionRejected(t *testing.T) {
	secret := []byte("test-secret")
	svc, clk := newService(t, Options{TokenSecret: secret})
	now := clk.Now()
	claims := stepUpClaims{
		ChallengeID: "c1",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "risk-1",
			ID:        "c1",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
			Issuer:    tokenIssuer,
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.ValidateStepUpToken(tok, "risk-1", model.ApproveRequests); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("token without act: got %v, want ErrInvalidToken", err)
	}
	if err := svc.RedeemStepUpToken(context.Background(), tok, "risk-1", model.ApproveRequests); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("redeem without act: got %v, want ErrInvalidToken", err)
	}
}

func TestStepUpTokenRedeemedOnce(t *testing.T) {
	svc, _ := newService(t, Options{TokenSecret: []byte("test-secret")})
	ctx := context.Background()

	c, code, err := svc.CreateChallenge(ctx, "risk-1", model.MFATOTP, unmask)
	if err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}
	res, err := svc.Verify(ctx, c.ID, code)
	if err != nil || !res.Verified() {
		t.Fatalf("Verify: %v %s", err, res.Status)
	}
	tok, err := svc.IssueStepUpToken(res.Challenge)
	if err != nil {
		t.Fatalf("IssueStepUpToken: %v", err)
	}

	if err := svc.RedeemStepUpToken(ctx, tok, "risk-1", model.ExportReports); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong action: got %v, want ErrInvalidToken", err)
	}
	if err := svc.RedeemStepUpToken(ctx, tok, "risk-1", model.UnmaskPII); err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	if err := svc.RedeemStepUpToken(ctx, tok, "risk-1", model.UnmaskPII); !errors.Is(err, ErrTokenUsed) {
		t.Errorf("second redeem: got %v, want ErrTokenUsed", err)
	}

	var wg sync.WaitGroup
	var wins int32
	var mu sync.Mutex
	c2, code2, _ := svc.CreateChallenge(ctx, "risk-1", model.MFATOTP, unmask)
	res2, _ := svc.Verify(ctx, c2.ID, code2)
	tok2, _ := svc.IssueStepUpToken(res2.Challenge)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if svc.RedeemStepUpToken(ctx, tok2, "risk-1", model.UnmaskPII) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("concurrent redeems: %d succeeded, want 1", wins)
	}
}

func TestSensitivityLevel(t *testing.T) {
	tests := []struct {
		perm model.Permission
		want int
	}{
		{model.UnmaskPII, 4},
		{model.ApprovePayoutBatches, 4},
		{model.DecommissionVehicles, 3},
		{model.ViewVehicleFinancials, 2},
		{model.ViewVehiclesDetailed, 1},
		{model.ViewVehiclesBasic, 0},
		{"unknown", 0},
	}
	for _, tt := range tests {
		if got := SensitivityLevel(tt.perm); got != tt.want {
			t.Errorf("SensitivityLevel(%s): got %d, want %d", tt.perm, got, tt.want)
		}
	}
	if RequiresStepUp(model.ViewVehiclesDetailed) {
		t.Error("view_vehicles_detailed should not require step-up")
	}
	if !RequiresStepUp(model.CrossRegionOverride) {
		t.Error("cross_region_override should require step-up")
	}
}
