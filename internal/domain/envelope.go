package domain

import (
	"fmt"
	"slices"
	"strings"
)

// EnvelopeMode はエンベロープの暗号化モードを表す。
type EnvelopeMode string

const (
	// ModePlaintext は平文のまま保存されるエンベロープ。
	ModePlaintext EnvelopeMode = "PLAINTEXT"
	// ModeEncrypted は宛先全員の公開鍵で暗号化されたエンベロープ。
	ModeEncrypted EnvelopeMode = "ENCRYPTED"
)

// Envelope はメッセージに添付される暗号化エンベロープを表す。
// 作成後は変更しない。
type Envelope struct {
	Mode               EnvelopeMode
	Subject            string
	Body               string
	TargetFingerprints []string
}

// Validate はエンベロープの不変条件を検証する。
func (e *Envelope) Validate() error {
	switch e.Mode {
	case ModePlaintext:
		return nil
	case ModeEncrypted:
		if len(e.TargetFingerprints) == 0 {
			return fmt.Errorf("%w: encrypted envelope without target fingerprints", ErrInvalidEnvelope)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidEnvelope, e.Mode)
	}
}

// SealedFor は指定されたフィンガープリントが封印対象に含まれるかを返す。
func (e *Envelope) SealedFor(fingerprint string) bool {
	return slices.Contains(e.TargetFingerprints, fingerprint)
}

// OutcomeReason は暗号化判定の結果理由を表す。
type OutcomeReason string

const (
	OutcomeEncrypted              OutcomeReason = "ENCRYPTED"
	OutcomeSenderKeyMissing       OutcomeReason = "SENDER_KEY_MISSING"
	OutcomeRecipientKeyMissing    OutcomeReason = "RECIPIENT_KEY_MISSING"
	OutcomeEncryptionBackendError OutcomeReason = "ENCRYPTION_BACKEND_ERROR"
)

// EncryptionOutcome はエンベロープ構築時の判定結果を表す。
type EncryptionOutcome struct {
	Reason OutcomeReason
	// AccountID は鍵が見つからなかった最初の宛先（RecipientKeyMissingの場合）。
	AccountID       string
	MissingAccounts []string
	Err             error
}

// Encrypted は暗号化が行われたかを返す。
func (o EncryptionOutcome) Encrypted() bool {
	return o.Reason == OutcomeEncrypted
}

// Warning は平文送信時に利用者へ表示する警告文を返す。
func (o EncryptionOutcome) Warning() string {
	switch o.Reason {
	case OutcomeSenderKeyMissing:
		return "message sent unencrypted: you have no active encryption key"
	case OutcomeRecipientKeyMissing:
		if len(o.MissingAccounts) > 1 {
			return fmt.Sprintf("message sent unencrypted: recipients without an encryption key: %s",
				strings.Join(o.MissingAccounts, ", "))
		}
		return fmt.Sprintf("message sent unencrypted: recipient %s has no encryption key", o.AccountID)
	case OutcomeEncryptionBackendError:
		return "message sent unencrypted: encryption failed"
	default:
		return ""
	}
}

// Plaintext は復号済みのメッセージ内容を表す。
type Plaintext struct {
	Subject   string
	Body      string
	Encrypted bool
}
