package database

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rainbot/rainbot/internal/models"
	"github.com/rainbot/rainbot/internal/store"
)

// Repository is the relational ConfigStore. Settings live in one row per
// guild and case records in mod_cases.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a repository on the package-level handle.
func NewRepository() *Repository {
	return &Repository{db: DB}
}

func NewRepositoryWithDB(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

var _ store.ConfigStore = (*Repository)(nil)

func (r *Repository) GetGuildConfig(ctx context.Context, guildID string) (*models.GuildConfig, error) {
	var cfg *models.GuildConfig
	err := WithRetry(func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			c, err := loadConfig(tx, guildID, false)
			cfg = c
			return err
		})
	})
	return cfg, err
}

// UpdateGuildConfig applies ops in one transaction. The settings row is
// locked for the duration on backends that support row locks.
func (r *Repository) UpdateGuildConfig(ctx context.Context, guildID string, ops ...store.Op) (*models.GuildConfig, error) {
	var cfg *models.GuildConfig
	err := WithRetry(func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			c, err := loadConfig(tx, guildID, true)
			if err != nil {
				return err
			}
			roots, err := store.ApplyOps(c, ops...)
			if err != nil {
				return err
			}

			if len(roots) > 0 {
				cols := append(roots, "updated_at")
				settings := c.Settings()
				settings.UpdatedAt = time.Now()
				if err := tx.Model(&models.GuildSettings{GuildID: guildID}).
					Select(cols).
					Updates(&settings).Error; err != nil {
					return err
				}
			}

			for _, op := range ops {
				switch op.Kind {
				case store.OpPush:
					row := models.NewModCase(guildID, op.List, op.Record)
					if err := tx.Create(&row).Error; err != nil {
						if isDuplicate(err) {
							return models.ErrDuplicateCase
						}
						return err
					}
				case store.OpPull:
					if op.Match.IsZero() {
						continue
					}
					q := tx.Where("guild_id = ? AND list = ?", guildID, op.List)
					if op.Match.CaseNumber != 0 {
						q = q.Where("case_number = ?", op.Match.CaseNumber)
					}
					if op.Match.SubjectID != "" {
						q = q.Where("subject_id = ?", op.Match.SubjectID)
					}
					if op.Match.ExpiresAt != 0 {
						q = q.Where("expires_at = ?", op.Match.ExpiresAt)
					}
					if err := q.Delete(&models.ModCase{}).Error; err != nil {
						return err
					}
				}
			}
			cfg = c
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (r *Repository) AllGuildConfigs(ctx context.Context) ([]*models.GuildConfig, error) {
	var settings []models.GuildSettings
	var cases []models.ModCase
	err := WithRetry(func() error {
		db := r.db.WithContext(ctx)
		if err := db.Order("guild_id").Find(&settings).Error; err != nil {
			return err
		}
		return db.Order("id").Find(&cases).Error
	})
	if err != nil {
		return nil, err
	}

	byGuild := make(map[string][]models.ModCase)
	for _, c := range cases {
		byGuild[c.GuildID] = append(byGuild[c.GuildID], c)
	}
	out := make([]*models.GuildConfig, 0, len(settings))
	for _, s := range settings {
		out = append(out, s.Config(byGuild[s.GuildID]))
	}
	return out, nil
}

func loadConfig(tx *gorm.DB, guildID string, lock bool) (*models.GuildConfig, error) {
	def := models.DefaultGuildConfig(guildID).Settings()
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&def).Error; err != nil {
		return nil, err
	}

	q := tx
	if lock && tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var settings models.GuildSettings
	if err := q.Where("guild_id = ?", guildID).First(&settings).Error; err != nil {
		return nil, err
	}

	var cases []models.ModCase
	if err := tx.Where("guild_id = ?", guildID).Order("id").Find(&cases).Error; err != nil {
		return nil, err
	}
	return settings.Config(cases), nil
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

func (r *Repository) UpsertServiceStatus(status *models.ServiceStatus) error {
	return WithRetry(func() error {
		// Save is an upsert for records with a primary key
		return r.db.Save(status).Error
	})
}

func (r *Repository) UpdateAPIHealthBulk(serviceName string, totalToAdd, successfulToAdd uint64) error {
	if totalToAdd == 0 && successfulToAdd == 0 {
		return nil
	}

	return WithRetry(func() error {
		row := models.APIHealthStat{
			ServiceName:        serviceName,
			TotalRequests:      totalToAdd,
			SuccessfulRequests: successfulToAdd,
			UpdatedAt:          time.Now(),
		}
		return r.db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "service_name"}},
			DoUpdates: clause.Assignments(map[string]any{
				"total_requests":      gorm.Expr("api_health_stats.total_requests + ?", totalToAdd),
				"successful_requests": gorm.Expr("api_health_stats.successful_requests + ?", successfulToAdd),
				"updated_at":          row.UpdatedAt,
			}),
		}).Create(&row).Error
	})
}

// GetAPIHealthStats returns every aggregated operation counter.
func (r *Repository) GetAPIHealthStats() ([]models.APIHealthStat, error) {
	var stats []models.APIHealthStat
	err := WithRetry(func() error {
		return r.db.Order("service_name").Find(&stats).Error
	})
	return stats, err
}
