package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"mailcrypt-service/internal/domain"
	"mailcrypt-service/internal/pgp"
)

const (
	defaultLookupTimeout = 3 * time.Second
	maxParallelLookups   = 8
)

// EncryptFunc は平文を複数の公開鍵に対して暗号化し、アーマー形式で返す。
type EncryptFunc func(plaintext []byte, armoredPublicKeys []string) (string, error)

// EnvelopeOption はEnvelopeBuilderの設定を変更する。
type EnvelopeOption func(*EnvelopeBuilder)

// WithLookupTimeout はディレクトリ検索1件あたりのタイムアウトを設定する。
func WithLookupTimeout(d time.Duration) EnvelopeOption {
	return func(b *EnvelopeBuilder) {
		if d > 0 {
			b.lookupTimeout = d
		}
	}
}

// WithEncryptFunc は暗号化プリミティブを差し替える。
func WithEncryptFunc(fn EncryptFunc) EnvelopeOption {
	return func(b *EnvelopeBuilder) {
		b.encrypt = fn
	}
}

// EnvelopeBuilder は送信時に宛先全員が読める暗号化エンベロープを構築する。
// 全員分の鍵が揃わない場合は理由付きで平文にフォールバックする。
type EnvelopeBuilder struct {
	vault         *Vault
	directory     Directory
	lookupTimeout time.Duration
	encrypt       EncryptFunc
}

// NewEnvelopeBuilder は新しいEnvelopeBuilderを生成する。
func NewEnvelopeBuilder(vault *Vault, directory Directory, opts ...EnvelopeOption) *EnvelopeBuilder {
	b := &EnvelopeBuilder{
		vault:         vault,
		directory:     directory,
		lookupTimeout: defaultLookupTimeout,
		encrypt:       pgp.Encrypt,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build はエンベロープを構築する。
// 鍵の欠落と暗号化の失敗は平文へのフォールバックとして結果に理由を載せ、エラーにはしない。
// 送信者の鍵レコードを読めない場合などの保管庫の障害はエラーとして返す。
func (b *EnvelopeBuilder) Build(ctx context.Context, senderID string, recipientIDs []string, subject, body string) (_ *domain.Envelope, _ domain.EncryptionOutcome, err error) {
	ctx, span := startSpan(ctx, "EnvelopeBuilder.Build", senderID)
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.Int("envelope.recipients", len(recipientIDs)))

	if err := domain.ValidateAccountID(senderID); err != nil {
		return nil, domain.EncryptionOutcome{}, err
	}

	plaintext := &domain.Envelope{Mode: domain.ModePlaintext, Subject: subject, Body: body}
	var (
		envelope *domain.Envelope
		outcome  domain.EncryptionOutcome
	)

	// 送信者の鍵はロックを保持したまま暗号化まで使い、ローテーションと混ざらないようにする
	err = b.vault.Snapshot(ctx, senderID, func(sender *domain.KeyRecord) error {
		if sender == nil {
			envelope, outcome = plaintext, domain.EncryptionOutcome{Reason: domain.OutcomeSenderKeyMissing, AccountID: senderID}
			return nil
		}

		keys, missing, err := b.resolveRecipients(ctx, senderID, recipientIDs)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			envelope, outcome = plaintext, domain.EncryptionOutcome{
				Reason:          domain.OutcomeRecipientKeyMissing,
				AccountID:       missing[0],
				MissingAccounts: missing,
			}
			return nil
		}

		envelope, outcome = b.seal(ctx, sender, keys, plaintext)
		return nil
	})
	if err != nil {
		return nil, domain.EncryptionOutcome{}, err
	}

	span.SetAttributes(attribute.String("envelope.outcome", string(outcome.Reason)))
	if !outcome.Encrypted() {
		slog.WarnContext(ctx, "envelope degraded to plaintext",
			"operation", "build_envelope",
			"account_id", senderID,
			"reason", string(outcome.Reason),
			"missing_accounts", outcome.MissingAccounts,
		)
	}
	return envelope, outcome, nil
}

// resolveRecipients は宛先の公開鍵を並列に解決する。
// 検索エラー、タイムアウト、鍵なしはいずれも欠落として扱い、入力順で返す。
func (b *EnvelopeBuilder) resolveRecipients(ctx context.Context, senderID string, recipientIDs []string) ([]*domain.PublicKey, []string, error) {
	var ids []string
	for _, id := range recipientIDs {
		if id != senderID && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}

	resolved := make([]*domain.PublicKey, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelLookups)
	for i, id := range ids {
		g.Go(func() error {
			resolved[i] = b.lookup(gctx, id)
			return nil
		})
	}
	_ = g.Wait()

	// 呼び出し元のキャンセルは欠落ではなくエラーとする
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var (
		keys    []*domain.PublicKey
		missing []string
	)
	for i, pk := range resolved {
		if pk == nil {
			missing = append(missing, ids[i])
			continue
		}
		keys = append(keys, pk)
	}
	return keys, missing, nil
}

// lookup はディレクトリの結果を検証済みの公開鍵に絞り込む。使えない場合はnilを返す。
func (b *EnvelopeBuilder) lookup(ctx context.Context, accountID string) *domain.PublicKey {
	if domain.ValidateAccountID(accountID) != nil {
		return nil
	}

	lctx, cancel := context.WithTimeout(ctx, b.lookupTimeout)
	defer cancel()

	pk, err := b.directory.ResolvePublicKey(lctx, accountID)
	if err != nil {
		slog.WarnContext(ctx, "directory lookup failed",
			"operation", "resolve_public_key",
			"account_id", accountID,
			"error", err,
		)
		return nil
	}
	if pk == nil || pk.Armored == "" {
		return nil
	}

	fingerprint, err := pgp.Fingerprint(pk.Armored)
	if err != nil {
		slog.WarnContext(ctx, "directory returned an unusable public key",
			"operation", "resolve_public_key",
			"account_id", accountID,
			"error", err,
		)
		return nil
	}
	return &domain.PublicKey{AccountID: accountID, Armored: pk.Armored, Fingerprint: fingerprint}
}

// seal は件名と本文を送信者と全宛先の鍵でそれぞれ暗号化する。
// どちらかが失敗した場合は両方とも平文に戻す。
func (b *EnvelopeBuilder) seal(ctx context.Context, sender *domain.KeyRecord, recipients []*domain.PublicKey, plaintext *domain.Envelope) (*domain.Envelope, domain.EncryptionOutcome) {
	seen := map[string]bool{sender.Fingerprint: true}
	armored := []string{sender.PublicKey}
	fingerprints := []string{sender.Fingerprint}
	for _, pk := range recipients {
		if seen[pk.Fingerprint] {
			continue
		}
		seen[pk.Fingerprint] = true
		armored = append(armored, pk.Armored)
		fingerprints = append(fingerprints, pk.Fingerprint)
	}
	slices.Sort(fingerprints)

	subject, err := b.encrypt([]byte(plaintext.Subject), armored)
	if err == nil {
		var body string
		body, err = b.encrypt([]byte(plaintext.Body), armored)
		if err == nil {
			return &domain.Envelope{
				Mode:               domain.ModeEncrypted,
				Subject:            subject,
				Body:               body,
				TargetFingerprints: fingerprints,
			}, domain.EncryptionOutcome{Reason: domain.OutcomeEncrypted}
		}
	}

	slog.ErrorContext(ctx, "encryption primitive failed",
		"operation", "build_envelope",
		"account_id", sender.AccountID,
		"error", err,
	)
	return plaintext, domain.EncryptionOutcome{
		Reason: domain.OutcomeEncryptionBackendError,
		Err:    fmt.Errorf("%w: %v", domain.ErrEncryptionBackend, err),
	}
}
