package infra

import (
	"context"
	"fmt"

	"mailcrypt-service/config"
)

// Sealer は秘密鍵を保管時に封印するバックエンド。
type Sealer interface {
	Name() string
	Encrypt(ctx context.Context, plaintext, aad []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext, aad []byte) ([]byte, error)
	Close() error
}

// NewSealer は設定に応じたシーラーを生成する。
func NewSealer(ctx context.Context, cfg *config.Config) (Sealer, error) {
	switch cfg.SealerBackend {
	case config.SealerPassphrase:
		return NewPassphraseSealer(cfg.MasterPassphrase, cfg.KDFSalt)
	case config.SealerGCPKMS:
		return NewKMSSealer(ctx, cfg.KMSKeyName)
	case config.SealerTransit:
		return NewTransitSealer(cfg.TransitAddress, cfg.TransitToken, cfg.TransitMount, cfg.TransitKeyName)
	default:
		return nil, fmt.Errorf("unknown sealer backend %q", cfg.SealerBackend)
	}
}
