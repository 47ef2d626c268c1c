package domain

import "time"

// MigrationStatus はマイグレーションの適用状態を表す。
type MigrationStatus string

const (
	MigrationStatusPending MigrationStatus = "pending"
	MigrationStatusApplied MigrationStatus = "applied"
)

// Migration はスキーママイグレーション1件を表す。
type Migration struct {
	Version   string // 例: "001"
	Name      string // ファイル名のバージョン以降の部分
	Path      string // マイグレーションFS内のパス
	AppliedAt *time.Time
	Status    MigrationStatus
}
