package infra

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	kmspb "cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKMSEntry struct {
	plaintext []byte
	aad       []byte
}

// fakeKMS はCloud KMSの対称鍵の挙動を模倣する。
type fakeKMS struct {
	entries map[string]fakeKMSEntry

	skipVerify         bool
	corruptResponse    bool
	lastEncryptRequest *kmspb.EncryptRequest
}

func newFakeKMS() *fakeKMS {
	return &fakeKMS{entries: make(map[string]fakeKMSEntry)}
}

func (f *fakeKMS) Encrypt(ctx context.Context, req *kmspb.EncryptRequest, opts ...gax.CallOption) (*kmspb.EncryptResponse, error) {
	f.lastEncryptRequest = req
	if !crc32cMatches(req.GetPlaintext(), req.GetPlaintextCrc32C()) {
		return nil, errors.New("rpc error: code = InvalidArgument desc = plaintext checksum mismatch")
	}
	ciphertext := []byte(fmt.Sprintf("ct-%d", len(f.entries)))
	f.entries[string(ciphertext)] = fakeKMSEntry{plaintext: bytes.Clone(req.GetPlaintext()), aad: bytes.Clone(req.GetAdditionalAuthenticatedData())}

	sum := crc32c(ciphertext)
	if f.corruptResponse {
		ciphertext = append(ciphertext, '!')
	}
	return &kmspb.EncryptResponse{
		Name:                                      req.GetName() + "/cryptoKeyVersions/1",
		Ciphertext:                                ciphertext,
		CiphertextCrc32C:                          sum,
		VerifiedPlaintextCrc32C:                   !f.skipVerify,
		VerifiedAdditionalAuthenticatedDataCrc32C: !f.skipVerify,
	}, nil
}

func (f *fakeKMS) Decrypt(ctx context.Context, req *kmspb.DecryptRequest, opts ...gax.CallOption) (*kmspb.DecryptResponse, error) {
	if !crc32cMatches(req.GetCiphertext(), req.GetCiphertextCrc32C()) {
		return nil, errors.New("rpc error: code = InvalidArgument desc = ciphertext checksum mismatch")
	}
	entry, ok := f.entries[string(req.GetCiphertext())]
	if !ok || !bytes.Equal(entry.aad, req.GetAdditionalAuthenticatedData()) {
		return nil, errors.New("rpc error: code = InvalidArgument desc = Decryption failed")
	}
	plaintext := bytes.Clone(entry.plaintext)
	sum := crc32c(plaintext)
	if f.corruptResponse {
		plaintext[0] ^= 0xff
	}
	return &kmspb.DecryptResponse{Plaintext: plaintext, PlaintextCrc32C: sum}, nil
}

func (f *fakeKMS) Close() error { return nil }

const testKMSKey = "projects/p/locations/global/keyRings/mailcrypt/cryptoKeys/private-keys"

func TestKMSSealer_RoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := newFakeKMS()
	s := newKMSSealer(fake, testKMSKey)
	assert.Equal(t, "gcpkms", s.Name())

	sealed, err := s.Encrypt(ctx, []byte("private key"), testAAD)
	require.NoError(t, err)
	assert.Equal(t, testKMSKey, fake.lastEncryptRequest.GetName())
	assert.Equal(t, testAAD, fake.lastEncryptRequest.GetAdditionalAuthenticatedData())
	assert.NotNil(t, fake.lastEncryptRequest.GetAdditionalAuthenticatedDataCrc32C())

	plain, err := s.Decrypt(ctx, sealed, testAAD)
	require.NoError(t, err)
	assert.Equal(t, "private key", string(plain))
}

func TestKMSSealer_AssociatedDataMismatch(t *testing.T) {
	ctx := context.Background()
	s := newKMSSealer(newFakeKMS(), testKMSKey)

	sealed, err := s.Encrypt(ctx, []byte("private key"), testAAD)
	require.NoError(t, err)

	_, err = s.Decrypt(ctx, sealed, []byte("bob\x00rec-1"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrKMSIntegrity)
}

func TestKMSSealer_UnverifiedRequest(t *testing.T) {
	fake := newFakeKMS()
	fake.skipVerify = true
	s := newKMSSealer(fake, testKMSKey)

	_, err := s.Encrypt(context.Background(), []byte("private key"), testAAD)
	assert.ErrorIs(t, err, ErrKMSIntegrity)
}

func TestKMSSealer_CorruptedResponse(t *testing.T) {
	ctx := context.Background()
	fake := newFakeKMS()
	s := newKMSSealer(fake, testKMSKey)
	sealed, err := s.Encrypt(ctx, []byte("private key"), testAAD)
	require.NoError(t, err)

	fake.corruptResponse = true
	_, err = s.Encrypt(ctx, []byte("private key"), testAAD)
	assert.ErrorIs(t, err, ErrKMSIntegrity)
	_, err = s.Decrypt(ctx, sealed, testAAD)
	assert.ErrorIs(t, err, ErrKMSIntegrity)
}

func TestNewKMSSealer_RequiresKeyName(t *testing.T) {
	_, err := NewKMSSealer(context.Background(), "")
	assert.Error(t, err)
}
