package usecase

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"

	"mailcrypt-service/internal/domain"
)

// MigrationRepository はマイグレーション履歴を管理するリポジトリのインターフェース。
type MigrationRepository interface {
	EnsureTable(ctx context.Context) error
	FindAllApplied(ctx context.Context) ([]*domain.Migration, error)
	Apply(ctx context.Context, migration *domain.Migration, statements []string) error
}

// MigrationService はスキーママイグレーションを適用する。
type MigrationService struct {
	repo  MigrationRepository
	files fs.FS
}

// NewMigrationService は新しいMigrationServiceを生成する。
// files には {version}_{name}.sql 形式のファイルがルートに並んでいること。
func NewMigrationService(repo MigrationRepository, files fs.FS) *MigrationService {
	return &MigrationService{
		repo:  repo,
		files: files,
	}
}

// scan はマイグレーションファイルをバージョン順に列挙する。
func (s *MigrationService) scan() ([]*domain.Migration, error) {
	entries, err := fs.ReadDir(s.files, ".")
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}

	var migrations []*domain.Migration
	seen := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}

		version, name, err := parseMigrationFileName(entry.Name())
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("%w: version %s used by %s and %s", domain.ErrInvalidMigrationFile, version, prev, entry.Name())
		}
		seen[version] = entry.Name()

		migrations = append(migrations, &domain.Migration{
			Version: version,
			Name:    name,
			Path:    entry.Name(),
			Status:  domain.MigrationStatusPending,
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// parseMigrationFileName はファイル名からバージョンと名前を抽出する。
func parseMigrationFileName(filename string) (version, name string, err error) {
	base := strings.TrimSuffix(filename, ".sql")
	version, name, ok := strings.Cut(base, "_")
	if !ok || version == "" || name == "" {
		return "", "", fmt.Errorf("%w: %s (expected {version}_{name}.sql)", domain.ErrInvalidMigrationFile, filename)
	}
	return version, name, nil
}

// splitStatements はSQLファイルをセミコロン区切りの文に分割する。
// MySQLドライバは既定で複数文の実行を許可しないため1文ずつ流す。
func splitStatements(sql string) []string {
	var stmts []string
	for _, part := range strings.Split(sql, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// ApplyMigrations は未適用のマイグレーションをバージョン順に適用し、適用件数を返す。
func (s *MigrationService) ApplyMigrations(ctx context.Context) (int, error) {
	if err := s.repo.EnsureTable(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrMigrationFailed, err)
	}

	migrations, err := s.GetMigrationStatus(ctx)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, m := range migrations {
		if m.Status == domain.MigrationStatusApplied {
			continue
		}

		body, err := fs.ReadFile(s.files, m.Path)
		if err != nil {
			return applied, fmt.Errorf("%w: %s", domain.ErrMigrationFileNotFound, m.Path)
		}
		stmts := splitStatements(string(body))
		if len(stmts) == 0 {
			return applied, fmt.Errorf("%w: %s has no statements", domain.ErrInvalidMigrationFile, m.Path)
		}

		if err := s.repo.Apply(ctx, m, stmts); err != nil {
			return applied, fmt.Errorf("%w: version %s: %v", domain.ErrMigrationFailed, m.Version, err)
		}
		slog.InfoContext(ctx, "migration applied",
			"operation", "apply_migrations",
			"version", m.Version,
			"name", m.Name,
		)
		applied++
	}
	return applied, nil
}

// GetMigrationStatus は全マイグレーションの適用状況を返す。
func (s *MigrationService) GetMigrationStatus(ctx context.Context) ([]*domain.Migration, error) {
	migrations, err := s.scan()
	if err != nil {
		return nil, err
	}

	if err := s.repo.EnsureTable(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMigrationFailed, err)
	}
	applied, err := s.repo.FindAllApplied(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to fetch applied migrations",
			"operation", "get_migration_status",
			"error", err,
		)
		return nil, fmt.Errorf("fetching applied migrations: %w", err)
	}

	appliedAt := make(map[string]*domain.Migration, len(applied))
	for _, m := range applied {
		appliedAt[m.Version] = m
	}
	for _, m := range migrations {
		if a, ok := appliedAt[m.Version]; ok {
			m.Status = domain.MigrationStatusApplied
			m.AppliedAt = a.AppliedAt
		}
	}
	return migrations, nil
}
