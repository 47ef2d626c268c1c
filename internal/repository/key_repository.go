// Package repository はデータアクセス層の実装を提供する。
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"mailcrypt-service/internal/domain"
)

// ErrActiveRecordExists はアカウントに有効な鍵レコードが既に存在する場合のエラー。
var ErrActiveRecordExists = errors.New("active key record exists")

// 書き込みステップ名。WithStepHook に渡される。
const (
	StepRevoke      = "revoke"
	StepWriteRecord = "write_record"
	StepWriteSecret = "write_secret"
)

// KeyRecordModel は公開側の鍵レコードのgormモデル。
type KeyRecordModel struct {
	ID          string     `gorm:"type:char(36);primaryKey"`
	AccountID   string     `gorm:"type:varchar(128);not null;index:idx_account_revoked"`
	Fingerprint string     `gorm:"type:varchar(64);not null;index:idx_fingerprint"`
	PublicKey   string     `gorm:"type:text;not null"`
	Sealer      string     `gorm:"type:varchar(32);not null"`
	CreatedAt   time.Time  `gorm:"type:datetime(6);not null"`
	RevokedAt   *time.Time `gorm:"type:datetime(6);index:idx_account_revoked"`
	HasSecret   bool       `gorm:"->;-:migration;column:has_secret"`
}

// TableName はテーブル名を返す。
func (KeyRecordModel) TableName() string {
	return "key_records"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *KeyRecordModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

// toDomain はモデルをドメインエンティティに変換する。封印済み秘密鍵は含めない。
func (m *KeyRecordModel) toDomain() *domain.KeyRecord {
	return &domain.KeyRecord{
		ID:            m.ID,
		AccountID:     m.AccountID,
		PublicKey:     m.PublicKey,
		Fingerprint:   m.Fingerprint,
		HasPrivateKey: m.HasSecret,
		Sealer:        m.Sealer,
		CreatedAt:     m.CreatedAt,
		RevokedAt:     m.RevokedAt,
	}
}

// withSecretFlag は封印済み秘密鍵の本体を読まずに、その有無だけを has_secret として選択する。
func withSecretFlag(db *gorm.DB) *gorm.DB {
	return db.Select("key_records.*, EXISTS (SELECT 1 FROM key_secrets" +
		" WHERE key_secrets.key_record_id = key_records.id" +
		" AND LENGTH(key_secrets.encrypted_private_key) > 0) AS has_secret")
}

// KeySecretModel は封印済み秘密鍵のgormモデル。
type KeySecretModel struct {
	KeyRecordID         string    `gorm:"type:char(36);primaryKey"`
	EncryptedPrivateKey []byte    `gorm:"type:blob;not null"`
	CreatedAt           time.Time `gorm:"type:datetime(6);not null"`
}

// TableName はテーブル名を返す。
func (KeySecretModel) TableName() string {
	return "key_secrets"
}

// StepHook はトランザクション内の各書き込みステップの直前に呼ばれる。
// エラーを返すとトランザクションはロールバックされる。
type StepHook func(ctx context.Context, step string) error

// Option はKeyRepositoryの設定を変更する。
type Option func(*KeyRepository)

// WithStepHook は書き込みステップごとのフックを設定する。障害注入テストで使う。
func WithStepHook(hook StepHook) Option {
	return func(r *KeyRepository) {
		r.hook = hook
	}
}

// KeyRepository は鍵レコードのデータアクセスを提供する。
type KeyRepository struct {
	db   *gorm.DB
	hook StepHook
}

// NewKeyRepository は新しいKeyRepositoryを生成する。
func NewKeyRepository(db *gorm.DB, opts ...Option) *KeyRepository {
	r := &KeyRepository{db: db}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *KeyRepository) step(ctx context.Context, name string) error {
	if r.hook == nil {
		return nil
	}
	return r.hook(ctx, name)
}

// Create は公開鍵レコードと封印済み秘密鍵を1トランザクションで保存する。
// 有効なレコードが既に存在する場合は ErrActiveRecordExists を返す。
func (r *KeyRepository) Create(ctx context.Context, record *domain.KeyRecord, sealed []byte) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&KeyRecordModel{}).
			Where("account_id = ? AND revoked_at IS NULL", record.AccountID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrActiveRecordExists
		}
		return r.insert(ctx, tx, record, sealed)
	})
	if err != nil {
		if !errors.Is(err, ErrActiveRecordExists) {
			slog.ErrorContext(ctx, "failed to create key record",
				"operation", "create",
				"account_id", record.AccountID,
				"error", err,
			)
		}
		return err
	}
	return nil
}

// Rotate は有効なレコードを失効させ、新しいレコードを同じトランザクションで保存する。
// 失効させたレコードがあればtrueを返す。
func (r *KeyRepository) Rotate(ctx context.Context, record *domain.KeyRecord, sealed []byte, revokedAt time.Time) (bool, error) {
	var revoked bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.step(ctx, StepRevoke); err != nil {
			return err
		}
		res := tx.Model(&KeyRecordModel{}).
			Where("account_id = ? AND revoked_at IS NULL", record.AccountID).
			Update("revoked_at", revokedAt)
		if res.Error != nil {
			return res.Error
		}
		revoked = res.RowsAffected > 0
		return r.insert(ctx, tx, record, sealed)
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to rotate key record",
			"operation", "rotate",
			"account_id", record.AccountID,
			"error", err,
		)
		return false, err
	}
	return revoked, nil
}

// insert は公開鍵レコードと秘密鍵を順に書き込む。
func (r *KeyRepository) insert(ctx context.Context, tx *gorm.DB, record *domain.KeyRecord, sealed []byte) error {
	if len(sealed) == 0 {
		return fmt.Errorf("empty sealed private key for account %s", record.AccountID)
	}

	if err := r.step(ctx, StepWriteRecord); err != nil {
		return err
	}
	model := &KeyRecordModel{
		ID:          record.ID,
		AccountID:   record.AccountID,
		Fingerprint: record.Fingerprint,
		PublicKey:   record.PublicKey,
		Sealer:      record.Sealer,
		CreatedAt:   record.CreatedAt,
	}
	if err := tx.Create(model).Error; err != nil {
		return err
	}

	if err := r.step(ctx, StepWriteSecret); err != nil {
		return err
	}
	secret := &KeySecretModel{
		KeyRecordID:         model.ID,
		EncryptedPrivateKey: sealed,
		CreatedAt:           model.CreatedAt,
	}
	if err := tx.Create(secret).Error; err != nil {
		return err
	}

	// gormで設定された値をドメインエンティティに反映
	record.ID = model.ID
	record.HasPrivateKey = true
	return nil
}

// FindActiveByAccountID は指定されたアカウントの有効な鍵レコードを取得する。
func (r *KeyRepository) FindActiveByAccountID(ctx context.Context, accountID string) (*domain.KeyRecord, error) {
	var model KeyRecordModel
	err := r.db.WithContext(ctx).
		Scopes(withSecretFlag).
		Where("account_id = ? AND revoked_at IS NULL", accountID).
		Order("created_at DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find active key record",
			"operation", "find_active_by_account_id",
			"account_id", accountID,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// FindLatestByAccountID は失効済みを含めて最新の鍵レコードを取得する。
func (r *KeyRepository) FindLatestByAccountID(ctx context.Context, accountID string) (*domain.KeyRecord, error) {
	var model KeyRecordModel
	err := r.db.WithContext(ctx).
		Scopes(withSecretFlag).
		Where("account_id = ?", accountID).
		Order("revoked_at IS NULL DESC").
		Order("created_at DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find latest key record",
			"operation", "find_latest_by_account_id",
			"account_id", accountID,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// FindAllByAccountID は指定されたアカウントの全世代の鍵レコードを古い順に取得する。
func (r *KeyRepository) FindAllByAccountID(ctx context.Context, accountID string) ([]*domain.KeyRecord, error) {
	var models []KeyRecordModel
	err := r.db.WithContext(ctx).
		Scopes(withSecretFlag).
		Where("account_id = ?", accountID).
		Order("created_at ASC").
		Order("revoked_at IS NULL ASC").
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to find all key records by account_id",
			"operation", "find_all_by_account_id",
			"account_id", accountID,
			"error", err,
		)
		return nil, err
	}

	records := make([]*domain.KeyRecord, len(models))
	for i := range models {
		records[i] = models[i].toDomain()
	}
	return records, nil
}

// FindSealedPrivateKey はレコードIDに対応する封印済み秘密鍵を取得する。
func (r *KeyRepository) FindSealedPrivateKey(ctx context.Context, recordID string) ([]byte, error) {
	var model KeySecretModel
	err := r.db.WithContext(ctx).
		Where("key_record_id = ?", recordID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find sealed private key",
			"operation", "find_sealed_private_key",
			"key_record_id", recordID,
			"error", err,
		)
		return nil, err
	}
	return model.EncryptedPrivateKey, nil
}

// RevokeActive は指定されたアカウントの有効なレコードを失効させる。行は削除しない。
// 失効させたレコードがあればtrueを返す。
func (r *KeyRepository) RevokeActive(ctx context.Context, accountID string, revokedAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&KeyRecordModel{}).
		Where("account_id = ? AND revoked_at IS NULL", accountID).
		Update("revoked_at", revokedAt)
	if res.Error != nil {
		slog.ErrorContext(ctx, "failed to revoke key record",
			"operation", "revoke_active",
			"account_id", accountID,
			"error", res.Error,
		)
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
