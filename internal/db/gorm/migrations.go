package gorm

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// runMigrations applies the schema with gormigrate. dims sizes the
// features.embedding column and is fixed once 002 has run.
func runMigrations(db *gorm.DB, dims int) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, migrations(dims))
	if err := m.Migrate(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func migrations(dims int) []*gormigrate.Migration {
	return []*gormigrate.Migration{
		// 001: core tables
		{
			ID: "001_core_tables",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(AllModels()...)
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("feedback_features", "features", "feedback", "customers")
			},
		},

		// 002: pgvector column
		{
			ID: "002_feature_embedding",
			Migrate: func(tx *gorm.DB) error {
				sqls := []string{
					"CREATE EXTENSION IF NOT EXISTS vector",
					fmt.Sprintf("ALTER TABLE features ADD COLUMN IF NOT EXISTS embedding vector(%d)", dims),
				}
				for _, s := range sqls {
					if err := tx.Exec(s).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Exec("ALTER TABLE features DROP COLUMN IF EXISTS embedding").Error
			},
		},

		// 003: foreign keys. Links cascade away with their feature; feedback
		// outlives its customer.
		{
			ID: "003_foreign_keys",
			Migrate: func(tx *gorm.DB) error {
				sqls := []string{
					`ALTER TABLE feedback_features
						ADD CONSTRAINT fk_links_feedback FOREIGN KEY (feedback_id)
						REFERENCES feedback(id) ON DELETE CASCADE`,
					`ALTER TABLE feedback_features
						ADD CONSTRAINT fk_links_feature FOREIGN KEY (feature_id)
						REFERENCES features(id) ON DELETE CASCADE`,
					`ALTER TABLE feedback
						ADD CONSTRAINT fk_feedback_customer FOREIGN KEY (customer_id)
						REFERENCES customers(id) ON DELETE SET NULL`,
				}
				for _, s := range sqls {
					if err := tx.Exec(s).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				sqls := []string{
					"ALTER TABLE feedback DROP CONSTRAINT IF EXISTS fk_feedback_customer",
					"ALTER TABLE feedback_features DROP CONSTRAINT IF EXISTS fk_links_feature",
					"ALTER TABLE feedback_features DROP CONSTRAINT IF EXISTS fk_links_feedback",
				}
				for _, s := range sqls {
					if err := tx.Exec(s).Error; err != nil {
						return err
					}
				}
				return nil
			},
		},

		// 004: search indexes. These are accelerators only; a database whose
		// pgvector build lacks HNSW still works with sequential scans.
		{
			ID: "004_search_indexes",
			Migrate: func(tx *gorm.DB) error {
				sqls := []string{
					"CREATE INDEX IF NOT EXISTS idx_features_embedding_hnsw ON features USING hnsw (embedding vector_cosine_ops)",
					"CREATE INDEX IF NOT EXISTS idx_features_title_lower ON features (lower(title))",
				}
				for _, s := range sqls {
					if err := tx.Exec(s).Error; err != nil {
						log.Warn().Err(err).Str("sql", s).Msg("Optional index not created")
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				sqls := []string{
					"DROP INDEX IF EXISTS idx_features_title_lower",
					"DROP INDEX IF EXISTS idx_features_embedding_hnsw",
				}
				for _, s := range sqls {
					if err := tx.Exec(s).Error; err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}
