package main

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"logoqr/models"
	"logoqr/pkg/config"
	"logoqr/pkg/database"
)

var db *gorm.DB

// initDB opens the configured database, migrates the schema when DB_AUTO_MIGRATE
// allows it and seeds the admin account.
func initDB(cfg *config.Config) error {
	var err error
	db, err = database.Open(cfg.DB)
	if err != nil {
		return err
	}
	if cfg.DB.AutoMigrate {
		migrateDB(db)
	}
	return seedAdmin(context.Background(), db, cfg.Auth)
}

// migrateDB migrates models one by one so a failure on one table does not block the others.
func migrateDB(conn *gorm.DB) {
	for _, m := range database.Models {
		if err := conn.AutoMigrate(m); err != nil {
			log.Warn("migration warning", zap.String("model", fmt.Sprintf("%T", m)), zap.Error(err))
		}
	}
}

// seedAdmin creates the configured admin account when it does not exist yet.
// An existing account is never overwritten; use scripts/reset_password for that.
func seedAdmin(ctx context.Context, conn *gorm.DB, cfg config.AuthConfig) error {
	username := strings.TrimSpace(cfg.AdminUsername)
	if username == "" {
		return nil
	}
	var count int64
	if err := conn.WithContext(ctx).Model(&models.AdminUser{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to look up admin user: %w", err)
	}
	if count > 0 {
		return nil
	}

	var hashed []byte
	switch {
	case cfg.AdminPasswordHash != "":
		hashed = []byte(cfg.AdminPasswordHash)
		if _, err := bcrypt.Cost(hashed); err != nil {
			return fmt.Errorf("ADMIN_PASSWORD_HASH is not a bcrypt hash: %w", err)
		}
	case cfg.AdminPassword != "":
		var err error
		hashed, err = bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
	default:
		log.Warn("no admin credentials configured; set ADMIN_PASSWORD or ADMIN_PASSWORD_HASH or run cmd/create_admin",
			zap.String("username", username))
		return nil
	}

	admin := models.AdminUser{Username: username, HashedPassword: hashed}
	if err := conn.WithContext(ctx).Create(&admin).Error; err != nil {
		if database.IsUniqueConstraintError(err) {
			return nil
		}
		return fmt.Errorf("failed to seed admin user: %w", err)
	}
	log.Info("seeded admin user", zap.String("username", username))
	return nil
}

func pingDB(ctx context.Context) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
