package infra

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/nacl/secretbox"

	"mailcrypt-service/config"
)

func newTestSealer(t *testing.T, passphrase string) *PassphraseSealer {
	t.Helper()
	s, err := NewPassphraseSealer(passphrase, "test-salt")
	require.NoError(t, err)
	return s
}

var testAAD = []byte("alice\x00rec-1")

func TestPassphraseSealer_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestSealer(t, "correct horse battery staple")

	sealed, err := s.Encrypt(ctx, []byte("private key material"), testAAD)
	require.NoError(t, err)
	assert.Equal(t, sealVersion, sealed[0])
	assert.NotContains(t, string(sealed), "private key material")

	plain, err := s.Decrypt(ctx, sealed, testAAD)
	require.NoError(t, err)
	assert.Equal(t, "private key material", string(plain))
}

func TestPassphraseSealer_FreshNonce(t *testing.T) {
	ctx := context.Background()
	s := newTestSealer(t, "pw")

	a, err := s.Encrypt(ctx, []byte("same"), testAAD)
	require.NoError(t, err)
	b, err := s.Encrypt(ctx, []byte("same"), testAAD)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestPassphraseSealer_WrongPassphrase(t *testing.T) {
	ctx := context.Background()
	sealed, err := newTestSealer(t, "right").Encrypt(ctx, []byte("secret"), testAAD)
	require.NoError(t, err)

	_, err = newTestSealer(t, "wrong").Decrypt(ctx, sealed, testAAD)
	assert.ErrorIs(t, err, ErrSealedDataInvalid)
}

func TestPassphraseSealer_Tampered(t *testing.T) {
	ctx := context.Background()
	s := newTestSealer(t, "pw")
	sealed, err := s.Encrypt(ctx, []byte("secret"), testAAD)
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0xff
	_, err = s.Decrypt(ctx, sealed, testAAD)
	assert.ErrorIs(t, err, ErrSealedDataInvalid)
}

func TestPassphraseSealer_Malformed(t *testing.T) {
	ctx := context.Background()
	s := newTestSealer(t, "pw")

	_, err := s.Decrypt(ctx, []byte{sealVersion, 1, 2}, testAAD)
	assert.ErrorIs(t, err, ErrSealedDataInvalid)

	sealed, err := s.Encrypt(ctx, []byte("secret"), testAAD)
	require.NoError(t, err)
	sealed[0] = 9
	_, err = s.Decrypt(ctx, sealed, testAAD)
	assert.ErrorIs(t, err, ErrSealedDataInvalid)
}

func TestPassphraseSealer_AssociatedDataMismatch(t *testing.T) {
	ctx := context.Background()
	s := newTestSealer(t, "pw")
	sealed, err := s.Encrypt(ctx, []byte("secret"), testAAD)
	require.NoError(t, err)

	_, err = s.Decrypt(ctx, sealed, []byte("alice\x00rec-2"))
	assert.ErrorIs(t, err, ErrSealedDataInvalid)
	_, err = s.Decrypt(ctx, sealed, nil)
	assert.ErrorIs(t, err, ErrSealedDataInvalid)
}

func TestPassphraseSealer_ReadsSecretboxFormat(t *testing.T) {
	s := newTestSealer(t, "pw")

	buf, err := s.key.Open()
	require.NoError(t, err)
	var nonce [sealNonceSize]byte
	nonce[0] = 7
	legacy := append([]byte{sealVersionSecretbox}, nonce[:]...)
	legacy = secretbox.Seal(legacy, []byte("old secret"), &nonce, buf.ByteArray32())
	buf.Destroy()

	plain, err := s.Decrypt(context.Background(), legacy, testAAD)
	require.NoError(t, err)
	assert.Equal(t, "old secret", string(plain))
}

func TestNewPassphraseSealer_RequiresInputs(t *testing.T) {
	_, err := NewPassphraseSealer("", "salt")
	assert.Error(t, err)
	_, err = NewPassphraseSealer("pw", "")
	assert.Error(t, err)
}

func TestNewSealer(t *testing.T) {
	s, err := NewSealer(context.Background(), &config.Config{
		SealerBackend:    config.SealerPassphrase,
		MasterPassphrase: "pw",
		KDFSalt:          "salt",
	})
	require.NoError(t, err)
	assert.Equal(t, "passphrase", s.Name())

	s, err = NewSealer(context.Background(), &config.Config{
		SealerBackend:  config.SealerTransit,
		TransitAddress: "http://127.0.0.1:8200",
		TransitMount:   "/transit/",
		TransitKeyName: "mailcrypt",
	})
	require.NoError(t, err)
	assert.Equal(t, "transit", s.Name())

	_, err = NewSealer(context.Background(), &config.Config{SealerBackend: "rot13"})
	assert.Error(t, err)
}
