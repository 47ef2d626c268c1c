package infra

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"

	kms "cloud.google.com/go/kms/apiv1"
	kmspb "cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ErrKMSIntegrity はCloud KMSとの往復でデータが破損したことを示す。
var ErrKMSIntegrity = errors.New("kms integrity check failed")

// kmsAPI はKMSSealerが使うCloud KMSの操作。
type kmsAPI interface {
	Encrypt(ctx context.Context, req *kmspb.EncryptRequest, opts ...gax.CallOption) (*kmspb.EncryptResponse, error)
	Decrypt(ctx context.Context, req *kmspb.DecryptRequest, opts ...gax.CallOption) (*kmspb.DecryptResponse, error)
	Close() error
}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func crc32c(b []byte) *wrapperspb.Int64Value {
	return wrapperspb.Int64(int64(crc32.Checksum(b, castagnoli)))
}

func crc32cMatches(b []byte, sum *wrapperspb.Int64Value) bool {
	return sum != nil && sum.GetValue() == crc32c(b).GetValue()
}

// KMSSealer はCloud KMSの対称鍵で秘密鍵を封印する。
// 関連データはAdditionalAuthenticatedDataとして認証され、送受信するデータはCRC32Cで検証する。
type KMSSealer struct {
	client  kmsAPI
	keyName string
}

// NewKMSSealer は指定された鍵名でKMSSealerを生成する。
// 鍵名は projects/*/locations/*/keyRings/*/cryptoKeys/* 形式。
func NewKMSSealer(ctx context.Context, keyName string) (*KMSSealer, error) {
	if keyName == "" {
		return nil, fmt.Errorf("KMS key name is required")
	}

	client, err := kms.NewKeyManagementClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating KMS client: %w", err)
	}
	return newKMSSealer(client, keyName), nil
}

func newKMSSealer(client kmsAPI, keyName string) *KMSSealer {
	return &KMSSealer{client: client, keyName: keyName}
}

// Name はバックエンド名を返す。
func (s *KMSSealer) Name() string {
	return "gcpkms"
}

// Encrypt は秘密鍵を関連データに結びつけてCloud KMSで封印する。
func (s *KMSSealer) Encrypt(ctx context.Context, plaintext, aad []byte) ([]byte, error) {
	resp, err := s.client.Encrypt(ctx, &kmspb.EncryptRequest{
		Name:                              s.keyName,
		Plaintext:                         plaintext,
		PlaintextCrc32C:                   crc32c(plaintext),
		AdditionalAuthenticatedData:       aad,
		AdditionalAuthenticatedDataCrc32C: crc32c(aad),
	})
	if err != nil {
		return nil, fmt.Errorf("kms encrypt: %w", err)
	}
	if !resp.GetVerifiedPlaintextCrc32C() || !resp.GetVerifiedAdditionalAuthenticatedDataCrc32C() {
		return nil, fmt.Errorf("%w: encrypt request was not verified by %s", ErrKMSIntegrity, s.keyName)
	}
	if !crc32cMatches(resp.GetCiphertext(), resp.GetCiphertextCrc32C()) {
		return nil, fmt.Errorf("%w: ciphertext corrupted in transit", ErrKMSIntegrity)
	}
	return resp.GetCiphertext(), nil
}

// Decrypt は封印データをCloud KMSで開封する。封印時と同じ関連データが必要。
func (s *KMSSealer) Decrypt(ctx context.Context, ciphertext, aad []byte) ([]byte, error) {
	resp, err := s.client.Decrypt(ctx, &kmspb.DecryptRequest{
		Name:                              s.keyName,
		Ciphertext:                        ciphertext,
		CiphertextCrc32C:                  crc32c(ciphertext),
		AdditionalAuthenticatedData:       aad,
		AdditionalAuthenticatedDataCrc32C: crc32c(aad),
	})
	if err != nil {
		return nil, fmt.Errorf("kms decrypt: %w", err)
	}
	if !crc32cMatches(resp.GetPlaintext(), resp.GetPlaintextCrc32C()) {
		return nil, fmt.Errorf("%w: plaintext corrupted in transit", ErrKMSIntegrity)
	}
	return resp.GetPlaintext(), nil
}

// Close はKMSクライアントを閉じる。
func (s *KMSSealer) Close() error {
	return s.client.Close()
}
