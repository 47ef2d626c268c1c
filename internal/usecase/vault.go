// Package usecase はアプリケーションのユースケースを実装する。
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mailcrypt-service/internal/domain"
	"mailcrypt-service/internal/pgp"
)

var tracer = otel.Tracer("mailcrypt-service/internal/usecase")

// errPrivateKeyMismatch は開封した秘密鍵がレコードの指紋と一致しないことを示す。常に ErrVaultUnlock と共に返る。
var errPrivateKeyMismatch = errors.New("unsealed private key does not match key record")

// KeyRepository は鍵レコードのデータアクセスのインターフェース。
type KeyRepository interface {
	Create(ctx context.Context, record *domain.KeyRecord, sealed []byte) error
	Rotate(ctx context.Context, record *domain.KeyRecord, sealed []byte, revokedAt time.Time) (bool, error)
	FindActiveByAccountID(ctx context.Context, accountID string) (*domain.KeyRecord, error)
	FindLatestByAccountID(ctx context.Context, accountID string) (*domain.KeyRecord, error)
	FindAllByAccountID(ctx context.Context, accountID string) ([]*domain.KeyRecord, error)
	FindSealedPrivateKey(ctx context.Context, recordID string) ([]byte, error)
	RevokeActive(ctx context.Context, accountID string, revokedAt time.Time) (bool, error)
}

// Sealer は秘密鍵を保管時に封印/開封するインターフェース。
// 封印時の関連データと異なる関連データでは開封に失敗しなければならない。
type Sealer interface {
	Name() string
	Encrypt(ctx context.Context, plaintext, aad []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext, aad []byte) ([]byte, error)
}

// Vault は秘密鍵の唯一の保管者。鍵レコードの書き込みと秘密鍵の開封はVaultだけが行う。
type Vault struct {
	repo   KeyRepository
	sealer Sealer
	locks  *accountLocks
	now    func() time.Time
}

// NewVault は新しいVaultを生成する。
func NewVault(repo KeyRepository, sealer Sealer) *Vault {
	return &Vault{
		repo:   repo,
		sealer: sealer,
		locks:  newAccountLocks(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func startSpan(ctx context.Context, name, accountID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attribute.String("account.id", accountID)))
}

// secretAAD は封印済み秘密鍵をアカウントと鍵レコードに結びつける関連データを返す。
// アカウントIDは制御文字を含まないため、NULで区切る。
func secretAAD(record *domain.KeyRecord) []byte {
	return []byte("mailcrypt-key-secret\x00" + record.AccountID + "\x00" + record.ID)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// prepare は公開鍵と秘密鍵が同じ鍵ペアであることを確認し、秘密鍵を封印する。
func (v *Vault) prepare(ctx context.Context, accountID, publicKey string, rawPrivateKey []byte) (*domain.KeyRecord, []byte, error) {
	if err := domain.ValidateAccountID(accountID); err != nil {
		return nil, nil, err
	}

	fingerprint, err := pgp.Fingerprint(publicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: fingerprinting public key: %v", domain.ErrVaultWrite, err)
	}
	privFingerprint, err := pgp.PrivateKeyFingerprint(rawPrivateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: reading private key: %v", domain.ErrVaultWrite, err)
	}
	if fingerprint != privFingerprint {
		return nil, nil, fmt.Errorf("%w: public and private keys are from different key pairs", domain.ErrVaultWrite)
	}

	// 封印に使う関連データへ含めるため、レコードIDは保存前に決める
	record := &domain.KeyRecord{
		ID:          uuid.New().String(),
		AccountID:   accountID,
		PublicKey:   publicKey,
		Fingerprint: fingerprint,
		Sealer:      v.sealer.Name(),
		CreatedAt:   v.now(),
	}
	sealed, err := v.sealer.Encrypt(ctx, rawPrivateKey, secretAAD(record))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: sealing private key: %v", domain.ErrVaultWrite, err)
	}
	return record, sealed, nil
}

// Store は秘密鍵を封印し、公開鍵と共に1トランザクションで保存する。
// 有効な鍵が既にある場合は ErrVaultWrite を返す。
func (v *Vault) Store(ctx context.Context, accountID, publicKey string, rawPrivateKey []byte) (_ *domain.KeyRecord, err error) {
	ctx, span := startSpan(ctx, "Vault.Store", accountID)
	defer func() { endSpan(span, err) }()

	if err := domain.ValidateAccountID(accountID); err != nil {
		return nil, err
	}

	unlock := v.locks.Lock(accountID)
	defer unlock()

	existing, err := v.repo.FindActiveByAccountID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: checking active key: %v", domain.ErrVaultWrite, err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: account %s already has an active key", domain.ErrVaultWrite, accountID)
	}

	record, sealed, err := v.prepare(ctx, accountID, publicKey, rawPrivateKey)
	if err != nil {
		return nil, err
	}
	if err := v.repo.Create(ctx, record, sealed); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrVaultWrite, err)
	}

	span.SetAttributes(attribute.String("key.fingerprint", record.Fingerprint))
	return record, nil
}

// Rotate は有効な鍵を失効させ、新しい鍵を同じトランザクションで保存する。
// 有効な鍵が無い場合は新規保存と同じになる。
func (v *Vault) Rotate(ctx context.Context, accountID, publicKey string, rawPrivateKey []byte) (_ *domain.KeyRecord, err error) {
	ctx, span := startSpan(ctx, "Vault.Rotate", accountID)
	defer func() { endSpan(span, err) }()

	record, sealed, err := v.prepare(ctx, accountID, publicKey, rawPrivateKey)
	if err != nil {
		return nil, err
	}

	unlock := v.locks.Lock(accountID)
	defer unlock()

	record.CreatedAt = v.now()
	revoked, err := v.repo.Rotate(ctx, record, sealed, record.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrVaultWrite, err)
	}

	span.SetAttributes(
		attribute.String("key.fingerprint", record.Fingerprint),
		attribute.Bool("key.previous_revoked", revoked),
	)
	return record, nil
}

// UnlockPrivateKey は有効な鍵の秘密鍵を開封して返す。
// 呼び出し側は使用後に pgp.Wipe で消去すること。
func (v *Vault) UnlockPrivateKey(ctx context.Context, accountID string) (_ []byte, err error) {
	ctx, span := startSpan(ctx, "Vault.UnlockPrivateKey", accountID)
	defer func() { endSpan(span, err) }()

	unlock := v.locks.RLock(accountID)
	defer unlock()

	record, err := v.repo.FindActiveByAccountID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("finding active key: %w", err)
	}
	if record == nil {
		return nil, fmt.Errorf("%w: account %s", domain.ErrNoActiveKey, accountID)
	}

	sealed, err := v.repo.FindSealedPrivateKey(ctx, record.ID)
	if err != nil {
		return nil, fmt.Errorf("finding sealed private key: %w", err)
	}
	if sealed == nil {
		slog.ErrorContext(ctx, "sealed private key missing for active record",
			"operation", "unlock_private_key",
			"account_id", accountID,
			"key_record_id", record.ID,
		)
		return nil, fmt.Errorf("%w: private key missing for record %s", domain.ErrVaultUnlock, record.ID)
	}

	raw, err := v.sealer.Decrypt(ctx, sealed, secretAAD(record))
	if err != nil {
		slog.ErrorContext(ctx, "failed to unseal private key",
			"operation", "unlock_private_key",
			"account_id", accountID,
			"key_record_id", record.ID,
			"sealer", record.Sealer,
			"error", err,
		)
		return nil, fmt.Errorf("%w: record %s", domain.ErrVaultUnlock, record.ID)
	}

	// 開封した秘密鍵はレコードの指紋と同じ鍵ペアでなければならない
	privFingerprint, err := pgp.PrivateKeyFingerprint(raw)
	if err != nil || privFingerprint != record.Fingerprint {
		pgp.Wipe(raw)
		slog.ErrorContext(ctx, "unsealed private key does not match key record",
			"operation", "unlock_private_key",
			"account_id", accountID,
			"key_record_id", record.ID,
			"fingerprint", record.Fingerprint,
		)
		return nil, fmt.Errorf("%w: %w: record %s", domain.ErrVaultUnlock, errPrivateKeyMismatch, record.ID)
	}
	return raw, nil
}

// Revoke は有効な鍵を失効させる。行は削除しない。
// 有効な鍵が無い場合は何もせずfalseを返す。
func (v *Vault) Revoke(ctx context.Context, accountID string) (_ bool, err error) {
	ctx, span := startSpan(ctx, "Vault.Revoke", accountID)
	defer func() { endSpan(span, err) }()

	if err := domain.ValidateAccountID(accountID); err != nil {
		return false, err
	}

	unlock := v.locks.Lock(accountID)
	defer unlock()

	revoked, err := v.repo.RevokeActive(ctx, accountID, v.now())
	if err != nil {
		return false, fmt.Errorf("%w: revoking: %v", domain.ErrVaultWrite, err)
	}
	return revoked, nil
}

// ActiveRecord は有効な鍵レコードを返す。無ければnilを返す。
func (v *Vault) ActiveRecord(ctx context.Context, accountID string) (*domain.KeyRecord, error) {
	record, err := v.repo.FindActiveByAccountID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("finding active key: %w", err)
	}
	return record, nil
}

// LatestRecord は失効済みを含めて最新の鍵レコードを返す。
func (v *Vault) LatestRecord(ctx context.Context, accountID string) (*domain.KeyRecord, error) {
	record, err := v.repo.FindLatestByAccountID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("finding latest key: %w", err)
	}
	return record, nil
}

// History は全世代の鍵レコードを古い順に返す。
func (v *Vault) History(ctx context.Context, accountID string) ([]*domain.KeyRecord, error) {
	if err := domain.ValidateAccountID(accountID); err != nil {
		return nil, err
	}
	records, err := v.repo.FindAllByAccountID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("finding key history: %w", err)
	}
	return records, nil
}

// Snapshot は共有ロックを保持したまま有効な鍵レコード（無ければnil）で fn を実行する。
// fn の実行中は同じアカウントの Store / Rotate / Revoke がコミットされない。
func (v *Vault) Snapshot(ctx context.Context, accountID string, fn func(record *domain.KeyRecord) error) error {
	unlock := v.locks.RLock(accountID)
	defer unlock()

	record, err := v.repo.FindActiveByAccountID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("finding active key: %w", err)
	}
	return fn(record)
}

