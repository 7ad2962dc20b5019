package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"logoqr/models"
	"logoqr/pkg/config"
	"logoqr/pkg/database"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Println("usage: go run ./cmd/create_admin <username> <password>")
		os.Exit(2)
	}
	username := strings.TrimSpace(os.Args[1])
	password := os.Args[2]
	if username == "" {
		log.Fatal("username required")
	}
	if len(password) < 8 {
		log.Fatal("password too short (min 8)")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	db, err := database.Open(cfg.DB)
	if err != nil {
		log.Fatalf("failed to open db: %v", err)
	}
	if err := db.AutoMigrate(&models.AdminUser{}); err != nil {
		log.Printf("migration warning (admin_users): %v", err)
	}

	var existing models.AdminUser
	if err := db.Where("username = ?", username).First(&existing).Error; err == nil {
		fmt.Printf("admin %s already exists (id=%d), use scripts/reset_password to change the password\n", username, existing.ID)
		os.Exit(0)
	}

	hpw, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("bcrypt failed: %v", err)
	}
	admin := models.AdminUser{Username: username, HashedPassword: hpw}
	if err := db.Create(&admin).Error; err != nil {
		if database.IsUniqueConstraintError(err) {
			log.Fatalf("admin %s already exists", username)
		}
		log.Fatalf("failed to create admin: %v", err)
	}
	fmt.Printf("created admin %s id=%d\n", username, admin.ID)
}
