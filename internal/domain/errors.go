package domain

import "errors"

// 鍵保管庫のエラー。
var (
	// ErrVaultWrite は有効な鍵が既に存在する、または書き込み内容が不整合な場合のエラー。
	ErrVaultWrite = errors.New("vault write error")

	// ErrVaultUnlock はマスターシークレットで秘密鍵を復号できない場合のエラー。
	// 設定ミスまたは保管データの破損を意味し、運用者の対応が必要。
	ErrVaultUnlock = errors.New("vault unlock error")

	// ErrNoActiveKey はアカウントに有効な鍵が存在しない場合のエラー。
	ErrNoActiveKey = errors.New("no active key")
)

// 鍵ライフサイクルのエラー。
var (
	// ErrKeyAlreadyExists はアカウントに有効な鍵が既に存在する場合のエラー。
	ErrKeyAlreadyExists = errors.New("key already exists")

	// ErrKeyGeneration は鍵ペアの生成に失敗した場合のエラー。利用者による再試行が可能。
	ErrKeyGeneration = errors.New("key generation error")

	// ErrJobNotFound は指定された鍵生成ジョブが存在しない場合のエラー。
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidAccountID はアカウントIDの形式が不正な場合のエラー。
	ErrInvalidAccountID = errors.New("invalid account ID")
)

// 暗号化・復号のエラー。
var (
	// ErrEncryptionBackend は送信時の暗号プリミティブが失敗した場合のエラー。
	ErrEncryptionBackend = errors.New("encryption backend error")

	// ErrViewerHasNoKey は閲覧者に復号用の鍵が存在しない場合のエラー。
	ErrViewerHasNoKey = errors.New("viewer has no key")

	// ErrKeyMismatchOrCorrupt は閲覧者の鍵で復号できない場合のエラー。
	// 送信後の鍵ローテーション、または暗号文の破損を意味する。
	ErrKeyMismatchOrCorrupt = errors.New("key mismatch or corrupt ciphertext")

	// ErrInvalidEnvelope はエンベロープの内容が不正な場合のエラー。
	ErrInvalidEnvelope = errors.New("invalid envelope")
)

// マイグレーションのエラー。
var (
	// ErrMigrationFailed はマイグレーション実行時のエラー。
	ErrMigrationFailed = errors.New("migration failed")

	// ErrMigrationFileNotFound はマイグレーションファイルが見つからない場合のエラー。
	ErrMigrationFileNotFound = errors.New("migration file not found")

	// ErrInvalidMigrationFile はマイグレーションファイルのフォーマットが不正な場合のエラー。
	ErrInvalidMigrationFile = errors.New("invalid migration file")
)
