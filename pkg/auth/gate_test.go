package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/epoxyrpc/epoxy/pkg/auth"
)

func TestGateRejectsWithoutToken(t *testing.T) {
	g := auth.NewGate([]byte("secret"), nil)

	rec := g.OnConnected(context.Background())
	if rec == nil {
		t.Fatal("OnConnected() = nil, want a rejection")
	}
}

func TestGateAcceptsFreshToken(t *testing.T) {
	g := auth.NewGate([]byte("secret"), nil)
	if _, err := g.IssueToken("epoxyd", time.Hour); err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	if rec := g.OnConnected(context.Background()); rec != nil {
		t.Errorf("OnConnected() = %+v, want nil", rec)
	}
}

func TestGateRejectsExpiredToken(t *testing.T) {
	g := auth.NewGate([]byte("secret"), nil)
	if _, err := g.IssueToken("epoxyd", -time.Minute); err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	rec := g.OnConnected(context.Background())
	if rec == nil {
		t.Fatal("OnConnected() with an expired token = nil, want a rejection")
	}
}

func TestGateRejectsTokenFromDifferentSecret(t *testing.T) {
	issuer := auth.NewGate([]byte("secret-a"), nil)
	token, err := issuer.IssueToken("epoxyd", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	verifier := auth.NewGate([]byte("secret-b"), nil)
	verifier.SetActiveToken(token)

	if rec := verifier.OnConnected(context.Background()); rec == nil {
		t.Error("OnConnected() with a token signed by a different secret = nil, want a rejection")
	}
}
