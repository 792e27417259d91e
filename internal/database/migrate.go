// Package database はデータベース接続とマイグレーション管理を提供する。
package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationsTable はマイグレーション履歴を保持するテーブル名。
const migrationsTable = "schema_migrations"

// SchemaVersion は適用済みマイグレーションの状態。
type SchemaVersion struct {
	Version uint `json:"version"`
	Dirty   bool `json:"dirty"`
	// Applied はマイグレーションが1つでも適用済みかどうか。
	Applied bool `json:"applied"`
}

// Migrator は台帳スキーマのマイグレーションを管理する。
// Openで開いた接続プールから1本の接続を借りて使い、Closeで接続をプールに返す。
type Migrator struct {
	m *migrate.Migrate
}

// NewMigrator はdbの接続を1本確保してMigratorを生成する。
// dbそのものはCloseしないため、serveやworkerと同じ接続プールを共有できる。
func NewMigrator(ctx context.Context, db *sql.DB) (*Migrator, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("マイグレーションソースの作成に失敗しました: %w", err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("マイグレーション用の接続取得に失敗しました: %w", err)
	}

	driver, err := postgres.WithConnection(ctx, conn, &postgres.Config{MigrationsTable: migrationsTable})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("マイグレーションドライバの作成に失敗しました: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		driver.Close()
		return nil, fmt.Errorf("マイグレーターの作成に失敗しました: %w", err)
	}

	return &Migrator{m: m}, nil
}

// Up は未適用のマイグレーションをすべて適用する。最新の場合は何もしない。
func (m *Migrator) Up() error {
	if err := m.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("マイグレーションの適用に失敗しました: %w", err)
	}
	return nil
}

// Down は直近のマイグレーションをsteps件ロールバックする。
func (m *Migrator) Down(steps int) error {
	if steps <= 0 {
		return fmt.Errorf("ロールバック件数は1以上で指定してください: %d", steps)
	}
	if err := m.m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("マイグレーションのロールバックに失敗しました: %w", err)
	}
	return nil
}

// Version は現在のスキーマバージョンを返す。未適用の場合はApplied=falseになる。
func (m *Migrator) Version() (SchemaVersion, error) {
	v, dirty, err := m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return SchemaVersion{}, nil
	}
	if err != nil {
		return SchemaVersion{}, fmt.Errorf("スキーマバージョンの取得に失敗しました: %w", err)
	}
	return SchemaVersion{Version: v, Dirty: dirty, Applied: true}, nil
}

// Close は借りていた接続をプールに返す。
func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	return errors.Join(srcErr, dbErr)
}

// RunMigrations はdb上で未適用のマイグレーションをすべて適用する。
func RunMigrations(ctx context.Context, db *sql.DB) error {
	m, err := NewMigrator(ctx, db)
	if err != nil {
		return err
	}
	defer m.Close()

	return m.Up()
}
