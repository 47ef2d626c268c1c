package usecase

import (
	"context"

	"mailcrypt-service/internal/domain"
)

// Directory はアカウントの公開鍵を解決する外部ディレクトリのインターフェース。
// 鍵が無い場合は (nil, nil) を返す。副作用を持たないこと。
type Directory interface {
	ResolvePublicKey(ctx context.Context, accountID string) (*domain.PublicKey, error)
}

// VaultDirectory はVaultの有効な鍵レコードから公開鍵を解決するDirectory。
type VaultDirectory struct {
	vault *Vault
}

// NewVaultDirectory は新しいVaultDirectoryを生成する。
func NewVaultDirectory(vault *Vault) *VaultDirectory {
	return &VaultDirectory{vault: vault}
}

// ResolvePublicKey は有効な鍵の公開鍵を返す。失効済みの鍵は返さない。
func (d *VaultDirectory) ResolvePublicKey(ctx context.Context, accountID string) (*domain.PublicKey, error) {
	record, err := d.vault.ActiveRecord(ctx, accountID)
	if err != nil || record == nil {
		return nil, err
	}
	return &domain.PublicKey{
		AccountID:   record.AccountID,
		Armored:     record.PublicKey,
		Fingerprint: record.Fingerprint,
	}, nil
}
