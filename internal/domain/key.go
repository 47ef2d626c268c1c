// Package domain はドメインモデルとビジネスルールを定義する。
package domain

import (
	"fmt"
	"time"
	"unicode"
)

// maxAccountIDLen はアカウントIDの最大長。key_records.account_id の桁数に合わせる。
const maxAccountIDLen = 128

// KeyState はアカウントの鍵の状態を表す。
type KeyState string

const (
	// KeyStateAbsent は鍵が一度も登録されていない状態を表す。
	KeyStateAbsent KeyState = "ABSENT"
	// KeyStateActive は有効な鍵が存在する状態を表す。
	KeyStateActive KeyState = "ACTIVE"
	// KeyStateRevoked は最新の鍵が失効済みの状態を表す。
	KeyStateRevoked KeyState = "REVOKED"
	// KeyStateInconsistent は公開鍵と秘密鍵の片方しか存在しない状態を表す。
	KeyStateInconsistent KeyState = "INCONSISTENT"
)

// Identity は鍵の自己記述に使う表示名とアドレス。認可には使わない。
type Identity struct {
	Name  string
	Email string
}

// KeyRecord はアカウントごとの鍵レコードを表す。
// 暗号化済み秘密鍵はVaultの外に出さないため、存在有無のみを保持する。
type KeyRecord struct {
	ID            string
	AccountID     string
	PublicKey     string // アーマー形式の公開鍵
	Fingerprint   string
	HasPrivateKey bool
	Sealer        string
	CreatedAt     time.Time
	RevokedAt     *time.Time
}

// Active はレコードが失効していないかを返す。
func (r *KeyRecord) Active() bool {
	return r != nil && r.RevokedAt == nil
}

// PublicKey はディレクトリから解決された公開鍵を表す。
type PublicKey struct {
	AccountID   string
	Armored     string
	Fingerprint string
}

// KeyHealth は鍵の健全性診断結果を表す（鍵素材を含まない）。
type KeyHealth struct {
	AccountID     string
	State         KeyState
	HasPublicKey  bool
	HasPrivateKey bool
	KeysMatch     bool
	Fingerprint   string
	Reason        string
}

// ValidateAccountID はアカウントIDの形式を検証する。
// IDの意味は外部の識別サービスが持つため、空白や制御文字を含まないことだけを確認する。
func ValidateAccountID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidAccountID)
	}
	if len(id) > maxAccountIDLen {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidAccountID, maxAccountIDLen)
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: contains whitespace or control characters", ErrInvalidAccountID)
		}
	}
	return nil
}
