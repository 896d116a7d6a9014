package signature

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/settlement-service/internal/domain"
	"github.com/transfa/settlement-service/pkg/starkkey"
)

type keySourceStub struct {
	keys  []*secp256k1.PublicKey
	err   error
	calls int
}

func (s *keySourceStub) GetPublicKey(ctx context.Context) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	idx := s.calls - 1
	if idx >= len(s.keys) {
		idx = len(s.keys) - 1
	}
	pem, err := starkkey.MarshalPublicKeyPEM(s.keys[idx])
	return string(pem), err
}

func newKey(t *testing.T) *secp256k1.PrivateKey {
	t.Helper()
	key, err := starkkey.GeneratePrivateKey()
	require.NoError(t, err)
	return key
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var creditedBody = []byte(`{"event":{"id":"evt_1","subscription":"invoice","log":{"type":"credited","invoice":{"id":"inv_1","amount":10000,"fee":200}}}}`)

func TestProviderVerifier_ValidSignature(t *testing.T) {
	key := newKey(t)
	keys := &keySourceStub{keys: []*secp256k1.PublicKey{key.PubKey()}}
	v := NewProviderVerifier(keys, discardLogger())

	event, err := v.Verify(context.Background(), creditedBody, starkkey.Sign(key, creditedBody))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID())

	_, err = v.Verify(context.Background(), creditedBody, starkkey.Sign(key, creditedBody))
	require.NoError(t, err)
	assert.Equal(t, 1, keys.calls, "key should be cached between deliveries")
}

func TestProviderVerifier_RefreshesKeyOnceOnMismatch(t *testing.T) {
	oldKey, newKeyPair := newKey(t), newKey(t)
	keys := &keySourceStub{keys: []*secp256k1.PublicKey{oldKey.PubKey(), newKeyPair.PubKey()}}
	v := NewProviderVerifier(keys, discardLogger())

	_, err := v.Verify(context.Background(), creditedBody, starkkey.Sign(newKeyPair, creditedBody))
	require.NoError(t, err)
	assert.Equal(t, 2, keys.calls)
}

func TestProviderVerifier_InvalidSignature(t *testing.T) {
	key, forger := newKey(t), newKey(t)
	keys := &keySourceStub{keys: []*secp256k1.PublicKey{key.PubKey()}}
	v := NewProviderVerifier(keys, discardLogger())

	tests := map[string]string{
		"forged":    starkkey.Sign(forger, creditedBody),
		"garbage":   "not-base64!",
		"missing":   "",
		"other msg": starkkey.Sign(key, []byte("other")),
	}
	for name, sig := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), creditedBody, sig)
			assert.True(t, errors.Is(err, ErrInvalidSignature), "got %v", err)

			var parseErr *ParseError
			assert.False(t, errors.As(err, &parseErr))
		})
	}
}

func TestProviderVerifier_KeyFetchFailureIsParseError(t *testing.T) {
	v := NewProviderVerifier(&keySourceStub{err: errors.New("connection refused")}, discardLogger())

	_, err := v.Verify(context.Background(), creditedBody, "c2ln")
	var parseErr *ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.False(t, errors.Is(err, ErrInvalidSignature))
}

func TestProviderVerifier_MalformedBodyIsParseError(t *testing.T) {
	key := newKey(t)
	v := NewProviderVerifier(&keySourceStub{keys: []*secp256k1.PublicKey{key.PubKey()}}, discardLogger())
	body := []byte(`{"subscription":"invoice"}`)

	_, err := v.Verify(context.Background(), body, starkkey.Sign(key, body))
	var parseErr *ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.ErrorIs(t, err, domain.ErrMissingEvent)
}

func TestMockVerifier_AcceptsBareAndWrappedEvents(t *testing.T) {
	key := newKey(t)
	v := NewMockVerifier(&keySourceStub{keys: []*secp256k1.PublicKey{key.PubKey()}})

	bare := []byte(`{"subscription":"invoice","log":{"type":"credited","invoice":{"id":"inv_mock_001","amount":10000,"fee":200}}}`)
	for _, body := range [][]byte{bare, creditedBody} {
		event, err := v.Verify(context.Background(), body, starkkey.Sign(key, body))
		require.NoError(t, err)
		_, isMock := event.(*domain.MockEvent)
		assert.True(t, isMock)
	}
}

func TestMockVerifier_UndecodableSignatureIsInvalid(t *testing.T) {
	key := newKey(t)
	v := NewMockVerifier(&keySourceStub{keys: []*secp256k1.PublicKey{key.PubKey()}})

	_, err := v.Verify(context.Background(), creditedBody, "***")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestSelector(t *testing.T) {
	provider := NewProviderVerifier(nil, discardLogger())
	mock := NewMockVerifier(nil)
	s := Selector{Provider: provider, Mock: mock}

	assert.Same(t, mock, s.For(true))
	assert.Same(t, provider, s.For(false))
}

func TestProviderVerifier_LimitsKeyRefreshes(t *testing.T) {
	key, forger := newKey(t), newKey(t)
	keys := &keySourceStub{keys: []*secp256k1.PublicKey{key.PubKey()}}
	v := NewProviderVerifier(keys, discardLogger())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	v.now = func() time.Time { return now }

	forged := starkkey.Sign(forger, creditedBody)
	for i := 0; i < 5; i++ {
		_, err := v.Verify(context.Background(), creditedBody, forged)
		require.ErrorIs(t, err, ErrInvalidSignature)
	}
	assert.Equal(t, 2, keys.calls, "initial fetch plus one refresh")

	now = now.Add(MinKeyRefreshInterval)
	_, err := v.Verify(context.Background(), creditedBody, forged)
	require.ErrorIs(t, err, ErrInvalidSignature)
	assert.Equal(t, 3, keys.calls)

	event, err := v.Verify(context.Background(), creditedBody, starkkey.Sign(key, creditedBody))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID())
	assert.Equal(t, 3, keys.calls)
}
