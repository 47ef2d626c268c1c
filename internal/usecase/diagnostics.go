package usecase

import (
	"context"

	"mailcrypt-service/internal/domain"
)

// DiagnosticsService は運用者向けに鍵の状態確認と修復を提供する。
// 独自の状態は持たず、LifecycleManagerとVaultに委譲する。
type DiagnosticsService struct {
	lifecycle *LifecycleManager
	vault     *Vault
}

// NewDiagnosticsService は新しいDiagnosticsServiceを生成する。
func NewDiagnosticsService(lifecycle *LifecycleManager, vault *Vault) *DiagnosticsService {
	return &DiagnosticsService{lifecycle: lifecycle, vault: vault}
}

// CheckAccount はアカウントの鍵の健全性を返す。
func (s *DiagnosticsService) CheckAccount(ctx context.Context, accountID string) (*domain.KeyHealth, error) {
	return s.lifecycle.Verify(ctx, accountID)
}

// Wipe はアカウントの鍵を失効させる。
func (s *DiagnosticsService) Wipe(ctx context.Context, accountID string) (bool, error) {
	return s.lifecycle.Revoke(ctx, accountID)
}

// Rebuild は鍵を再生成し、完了まで待つ。
func (s *DiagnosticsService) Rebuild(ctx context.Context, accountID string, identity domain.Identity) (*domain.KeyRecord, error) {
	job, err := s.lifecycle.Regenerate(ctx, accountID, identity)
	if err != nil {
		return nil, err
	}
	return job.Wait(ctx)
}

// History はアカウントの全世代の鍵レコードを返す。
func (s *DiagnosticsService) History(ctx context.Context, accountID string) ([]*domain.KeyRecord, error) {
	return s.vault.History(ctx, accountID)
}
