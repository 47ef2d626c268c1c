package usecase

import (
	"context"
	"errors"
	"fmt"

	"mailcrypt-service/internal/domain"
	"mailcrypt-service/internal/pgp"
)

// DecryptFunc はアーマー形式の暗号文を秘密鍵で復号する。
type DecryptFunc func(armored string, privateKey []byte) ([]byte, error)

// DecryptionGate は閲覧時にエンベロープを閲覧者の鍵で復号する。
type DecryptionGate struct {
	vault   *Vault
	decrypt DecryptFunc
}

// NewDecryptionGate は新しいDecryptionGateを生成する。
func NewDecryptionGate(vault *Vault) *DecryptionGate {
	return &DecryptionGate{vault: vault, decrypt: pgp.Decrypt}
}

// Open はエンベロープを閲覧者の鍵で開く。
// 閲覧者に鍵が無い場合は ErrViewerHasNoKey、鍵はあるが復号できない場合は
// ErrKeyMismatchOrCorrupt を返す。開封した秘密鍵は呼び出しの終わりに消去する。
func (g *DecryptionGate) Open(ctx context.Context, envelope *domain.Envelope, viewerID string) (_ *domain.Plaintext, err error) {
	if err := envelope.Validate(); err != nil {
		return nil, err
	}
	if envelope.Mode == domain.ModePlaintext {
		return &domain.Plaintext{Subject: envelope.Subject, Body: envelope.Body}, nil
	}

	ctx, span := startSpan(ctx, "DecryptionGate.Open", viewerID)
	defer func() { endSpan(span, err) }()

	if err := domain.ValidateAccountID(viewerID); err != nil {
		return nil, err
	}

	raw, err := g.vault.UnlockPrivateKey(ctx, viewerID)
	if err != nil {
		if errors.Is(err, domain.ErrNoActiveKey) {
			return nil, fmt.Errorf("%w: account %s", domain.ErrViewerHasNoKey, viewerID)
		}
		return nil, err
	}
	defer pgp.Wipe(raw)

	subject, err := g.decrypt(envelope.Subject, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: subject: %v", domain.ErrKeyMismatchOrCorrupt, err)
	}
	body, err := g.decrypt(envelope.Body, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: body: %v", domain.ErrKeyMismatchOrCorrupt, err)
	}

	return &domain.Plaintext{Subject: string(subject), Body: string(body), Encrypted: true}, nil
}
