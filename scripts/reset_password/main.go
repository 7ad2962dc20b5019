package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"golang.org/x/crypto/bcrypt"

	"logoqr/models"
	"logoqr/pkg/config"
	"logoqr/pkg/database"
)

func main() {
	username := flag.String("username", "", "admin username to reset")
	password := flag.String("password", "", "new plaintext password (min 8 chars)")
	keepSessions := flag.Bool("keep-sessions", false, "do not revoke the admin's open sessions")
	flag.Parse()
	if *username == "" || *password == "" {
		log.Fatal("--username and --password are required")
	}
	if len(*password) < 8 {
		log.Fatal("password too short (min 8)")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	db, err := database.Open(cfg.DB)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	var admin models.AdminUser
	if err := db.Where("username = ?", *username).First(&admin).Error; err != nil {
		log.Fatalf("admin not found: %v", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(*password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("bcrypt: %v", err)
	}
	if err := db.Model(&admin).Update("hashed_password", hash).Error; err != nil {
		log.Fatalf("update failed: %v", err)
	}
	if !*keepSessions {
		res := db.Model(&models.AdminSession{}).
			Where("admin_user_id = ? AND revoked = ? AND expires_at > ?", admin.ID, false, time.Now()).
			Update("revoked", true)
		if res.Error != nil {
			log.Fatalf("revoke sessions: %v", res.Error)
		}
		fmt.Printf("revoked %d open session(s)\n", res.RowsAffected)
	}
	fmt.Printf("Password reset for admin %s\n", admin.Username)
}
