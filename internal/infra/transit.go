package infra

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
)

// TransitSealer はHashiCorp VaultのTransitエンジンで秘密鍵を封印する。
// 暗号文は "vault:v1:..." 形式の文字列をそのままバイト列として保存する。
type TransitSealer struct {
	client  *api.Client
	mount   string
	keyName string
}

// NewTransitSealer はVaultクライアントを初期化してTransitSealerを生成する。
func NewTransitSealer(address, token, mount, keyName string) (*TransitSealer, error) {
	cfg := api.DefaultConfig()
	cfg.Address = address
	cfg.Timeout = 30 * time.Second

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	return &TransitSealer{
		client:  client,
		mount:   strings.Trim(mount, "/"),
		keyName: keyName,
	}, nil
}

// Name はバックエンド名を返す。
func (s *TransitSealer) Name() string {
	return "transit"
}

// Encrypt は平文をTransitエンジンで暗号化する。
// 関連データはAEAD鍵タイプ(aes256-gcm96, chacha20-poly1305)で認証される。
func (s *TransitSealer) Encrypt(ctx context.Context, plaintext, aad []byte) ([]byte, error) {
	path := fmt.Sprintf("%s/encrypt/%s", s.mount, s.keyName)
	secret, err := s.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"plaintext":       base64.StdEncoding.EncodeToString(plaintext),
		"associated_data": base64.StdEncoding.EncodeToString(aad),
	})
	if err != nil {
		return nil, fmt.Errorf("transit encrypt: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("transit encrypt: empty response")
	}
	ciphertext, ok := secret.Data["ciphertext"].(string)
	if !ok || ciphertext == "" {
		return nil, fmt.Errorf("transit encrypt: ciphertext missing in response")
	}
	return []byte(ciphertext), nil
}

// Decrypt は暗号文をTransitエンジンで復号する。
func (s *TransitSealer) Decrypt(ctx context.Context, ciphertext, aad []byte) ([]byte, error) {
	path := fmt.Sprintf("%s/decrypt/%s", s.mount, s.keyName)
	secret, err := s.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"ciphertext":      string(ciphertext),
		"associated_data": base64.StdEncoding.EncodeToString(aad),
	})
	if err != nil {
		return nil, fmt.Errorf("transit decrypt: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("transit decrypt: empty response")
	}
	encoded, ok := secret.Data["plaintext"].(string)
	if !ok {
		return nil, fmt.Errorf("transit decrypt: plaintext missing in response")
	}
	plaintext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("transit decrypt: decoding plaintext: %w", err)
	}
	return plaintext, nil
}

// Close は何もしない。
func (s *TransitSealer) Close() error {
	return nil
}
