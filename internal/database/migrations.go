package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/corkboard/internal/boards"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationNormalizeReactions = "2026-10-01_normalize_element_reactions"
	reactionRepairBatchSize     = 200
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeReactions, apply: normalizeElementReactions},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: time.Now().UTC().Unix()}).Error
		})
		if err != nil {
			return err
		}
		logger.Info("database migration applied", zap.String("migration", migration.name))
	}
	return nil
}

// normalizeElementReactions rewrites reaction maps written before empty
// symbols and duplicate reactors were rejected.
func normalizeElementReactions(db *gorm.DB) error {
	var elements []boards.Element
	writer := db.Session(&gorm.Session{NewDB: true})
	return db.Model(&boards.Element{}).
		Select("id", "reactions").
		FindInBatches(&elements, reactionRepairBatchSize, func(_ *gorm.DB, _ int) error {
			for _, element := range elements {
				normalized := element.Reactions.Normalize()
				if normalized.Equal(element.Reactions) {
					continue
				}
				if err := writer.Model(&boards.Element{}).
					Where("id = ?", element.ID).
					Update("reactions", normalized).Error; err != nil {
					return err
				}
			}
			return nil
		}).Error
}
