// Package auth provides a server-side connection gate backed by a
// signed service credential, for use as an
// [github.com/epoxyrpc/epoxy/pkg/epoxy.Listener].
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/epoxyrpc/epoxy/pkg/epoxy"
)

// rejectionCode is the application-level error code carried in the
// Error record handed back when a connection is rejected. It is
// unrelated to the wire-level ProtocolErrorCode enum: authentication
// is out of scope for the connection core itself, so this is an
// ambient operational gate, not a protocol feature.
const rejectionCode = 1001

// Gate rejects incoming connections whenever the server's own service
// credential is missing or expired. It models the common operational
// pattern of a backend refusing new work once its upstream credential
// has lapsed, using a symmetric-key service token instead of a
// per-call API credential.
type Gate struct {
	mu     sync.RWMutex
	secret []byte
	token  string
	logger *slog.Logger
}

// NewGate creates a gate that signs and verifies tokens with secret.
func NewGate(secret []byte, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{secret: secret, logger: logger}
}

// IssueToken mints a new HS256 service token for subject, valid for
// ttl, and installs it as the gate's active credential.
func (g *Gate) IssueToken(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign service token: %w", err)
	}

	g.mu.Lock()
	g.token = signed
	g.mu.Unlock()

	return signed, nil
}

// SetActiveToken installs a token minted elsewhere (e.g. by another
// process sharing the same secret) as the gate's active credential.
func (g *Gate) SetActiveToken(token string) {
	g.mu.Lock()
	g.token = token
	g.mu.Unlock()
}

func (g *Gate) activeToken() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.token
}

func (g *Gate) validate(token string) error {
	if token == "" {
		return errors.New("no service token installed")
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return g.secret, nil
	})
	if err != nil {
		return err
	}
	if !parsed.Valid {
		return errors.New("service token is not valid")
	}
	return nil
}

// OnConnected implements [epoxy.Listener]. It rejects the connection
// with a structured error whenever the active service token is missing,
// malformed, or expired.
func (g *Gate) OnConnected(_ context.Context) *epoxy.ErrorRecord {
	if err := g.validate(g.activeToken()); err != nil {
		g.logger.Warn("rejecting connection: service credential check failed", slog.Any("error", err))
		return &epoxy.ErrorRecord{Code: rejectionCode, Message: "service credential invalid or expired: " + err.Error()}
	}
	return nil
}

// OnDisconnected implements [epoxy.Listener]. It logs the teardown
// details, if any were captured.
func (g *Gate) OnDisconnected(_ context.Context, details *epoxy.ErrorRecord) {
	if details != nil {
		g.logger.Info("connection closed after error", slog.Any("details", details))
		return
	}
	g.logger.Debug("connection closed")
}

var _ epoxy.Listener = (*Gate)(nil)
