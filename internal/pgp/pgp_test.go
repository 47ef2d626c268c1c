package pgp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testProfile = Profile{Algorithm: "curve25519"}

func generate(t *testing.T, name string) *KeyPair {
	t.Helper()
	kp, err := GenerateKeyPair(name, name+"@example.com", testProfile)
	require.NoError(t, err, "key generation should succeed")
	return kp
}

func TestGenerateKeyPair(t *testing.T) {
	kp := generate(t, "alice")

	assert.True(t, strings.HasPrefix(kp.PublicKey, "-----BEGIN PGP PUBLIC KEY BLOCK-----"))
	assert.NotEmpty(t, kp.PrivateKey)
	assert.NotEmpty(t, kp.Fingerprint)

	fp, err := Fingerprint(kp.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, kp.Fingerprint, fp, "public key fingerprint should be stable")

	privFP, err := PrivateKeyFingerprint(kp.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, kp.Fingerprint, privFP, "private half should derive the same fingerprint")
}

func TestGenerateKeyPair_UnsupportedAlgorithm(t *testing.T) {
	_, err := GenerateKeyPair("alice", "alice@example.com", Profile{Algorithm: "dsa"})
	assert.Error(t, err)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	kp := generate(t, "alice")

	armored, err := Encrypt([]byte("hello, world"), []string{kp.PublicKey})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(armored, "-----BEGIN PGP MESSAGE-----"), "ciphertext should be armored")
	assert.NotContains(t, armored, "hello, world")

	plaintext, err := Decrypt(armored, kp.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, "hello, world", string(plaintext))

	again, err := Decrypt(armored, kp.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, plaintext, again, "decryption should be deterministic")
}

func TestEncrypt_MultipleRecipients(t *testing.T) {
	keys := []*KeyPair{generate(t, "sender"), generate(t, "r1"), generate(t, "r2"), generate(t, "r3")}
	pubs := make([]string, len(keys))
	for i, k := range keys {
		pubs[i] = k.PublicKey
	}

	armored, err := Encrypt([]byte("quarterly report"), pubs)
	require.NoError(t, err)

	for _, k := range keys {
		plaintext, err := Decrypt(armored, k.PrivateKey)
		require.NoError(t, err)
		assert.Equal(t, "quarterly report", string(plaintext))
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	alice := generate(t, "alice")
	mallory := generate(t, "mallory")

	armored, err := Encrypt([]byte("secret"), []string{alice.PublicKey})
	require.NoError(t, err)

	_, err = Decrypt(armored, mallory.PrivateKey)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestDecrypt_Corrupt(t *testing.T) {
	alice := generate(t, "alice")

	_, err := Decrypt("not an armored message", alice.PrivateKey)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestEncrypt_NoRecipients(t *testing.T) {
	_, err := Encrypt([]byte("x"), nil)
	assert.ErrorIs(t, err, ErrNoRecipients)
}

func TestEncrypt_InvalidKey(t *testing.T) {
	_, err := Encrypt([]byte("x"), []string{"garbage"})
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestWipe(t *testing.T) {
	b := []byte{1, 2, 3}
	Wipe(b)
	assert.Equal(t, []byte{0, 0, 0}, b)
}
