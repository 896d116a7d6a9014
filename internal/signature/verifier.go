/**
 * @description
 * Authentication of webhook deliveries. A delivery is accepted only when its
 * Digital-Signature header is a valid secp256k1 ECDSA signature of the raw body under
 * the provider's current public key.
 *
 * Verification has three outcomes: a parsed domain.Event, ErrInvalidSignature when the
 * signature is absent, undecodable or does not match, or a *ParseError when the key
 * could not be fetched or the body is not a valid event.
 */
package signature

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/transfa/settlement-service/internal/domain"
	"github.com/transfa/settlement-service/pkg/starkkey"
)

// ErrInvalidSignature marks a delivery that failed authentication.
var ErrInvalidSignature = errors.New("invalid event signature")

// ParseError wraps every non-authentication failure while handling a delivery.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return "failed to parse event: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// KeySource fetches the PEM encoded public key events are signed with.
type KeySource interface {
	GetPublicKey(ctx context.Context) (string, error)
}

// Verifier authenticates and parses one delivery.
type Verifier interface {
	Verify(ctx context.Context, content []byte, signature string) (domain.Event, error)
}

// MinKeyRefreshInterval bounds how often a signature mismatch may refetch the key.
const MinKeyRefreshInterval = time.Minute

// ProviderVerifier verifies deliveries from the real provider. The key is cached and
// refreshed when a signature does not match, which covers key rotation. Refreshes are
// limited to one per MinKeyRefreshInterval.
type ProviderVerifier struct {
	keys   KeySource
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	key         *secp256k1.PublicKey
	lastRefresh time.Time
}

func NewProviderVerifier(keys KeySource, logger *slog.Logger) *ProviderVerifier {
	return &ProviderVerifier{keys: keys, logger: logger, now: time.Now}
}

func (v *ProviderVerifier) Verify(ctx context.Context, content []byte, signature string) (domain.Event, error) {
	if signature == "" {
		return nil, fmt.Errorf("%w: missing signature", ErrInvalidSignature)
	}

	key, err := v.publicKey(ctx, false)
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	err = starkkey.Verify(key, content, signature)
	if errors.Is(err, starkkey.ErrSignatureMismatch) {
		refreshed, refreshErr := v.refreshKey(ctx)
		if refreshErr != nil {
			return nil, &ParseError{Err: refreshErr}
		}
		if refreshed != nil {
			err = starkkey.Verify(refreshed, content, signature)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	event, err := domain.ParseProviderEvent(content)
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	return event, nil
}

func (v *ProviderVerifier) publicKey(ctx context.Context, refresh bool) (*secp256k1.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.key != nil && !refresh {
		return v.key, nil
	}
	key, err := fetchKey(ctx, v.keys)
	if err != nil {
		return nil, err
	}
	v.key = key
	return key, nil
}

// refreshKey refetches the key unless the last refresh was too recent, in which case it
// returns nil and the mismatch stands.
func (v *ProviderVerifier) refreshKey(ctx context.Context) (*secp256k1.PublicKey, error) {
	v.mu.Lock()
	now := v.now()
	if !v.lastRefresh.IsZero() && now.Sub(v.lastRefresh) < MinKeyRefreshInterval {
		v.mu.Unlock()
		return nil, nil
	}
	v.lastRefresh = now
	v.mu.Unlock()

	v.logger.Info("signature mismatch, refreshing provider public key")
	return v.publicKey(ctx, true)
}

// MockVerifier verifies deliveries from the local provider stub. The stub generates a
// fresh key pair on every start, so its key is fetched for each delivery.
type MockVerifier struct {
	keys KeySource
}

func NewMockVerifier(keys KeySource) *MockVerifier {
	return &MockVerifier{keys: keys}
}

func (v *MockVerifier) Verify(ctx context.Context, content []byte, signature string) (domain.Event, error) {
	key, err := fetchKey(ctx, v.keys)
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	if err := starkkey.Verify(key, content, signature); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	event, err := domain.ParseMockEvent(content)
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	return event, nil
}

func fetchKey(ctx context.Context, keys KeySource) (*secp256k1.PublicKey, error) {
	pemContent, err := keys.GetPublicKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch public key: %w", err)
	}
	key, err := starkkey.ParsePublicKeyPEM([]byte(pemContent))
	if err != nil {
		return nil, fmt.Errorf("failed to decode public key: %w", err)
	}
	return key, nil
}

// Selector picks the verifier matching a delivery's mode.
type Selector struct {
	Provider Verifier
	Mock     Verifier
}

func (s Selector) For(mockMode bool) Verifier {
	if mockMode {
		return s.Mock
	}
	return s.Provider
}
