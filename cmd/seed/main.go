package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"

	"github.com/tunekit/backend/internal/database"
	"github.com/tunekit/backend/internal/logger"
	"github.com/tunekit/backend/internal/models"
)

func main() {
	logger.Initialize()

	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env file found, using environment variables", nil)
	}

	database.Connect()
	database.AutoMigrate()

	if err := seedAdminUser(); err != nil {
		log.Fatalf("Failed to seed admin user: %v", err)
	}
	if err := seedSampleDataset(); err != nil {
		log.Fatalf("Failed to seed sample dataset: %v", err)
	}

	logger.Info("Database seeding completed", nil)
}

func seedAdminUser() error {
	email := os.Getenv("ADMIN_EMAIL")
	if email == "" {
		email = "admin@tunekit.local"
	}
	password := os.Getenv("ADMIN_PASSWORD")
	if password == "" {
		password = "changeme"
	}

	var existing models.User
	if err := database.DB.Where("email = ?", email).First(&existing).Error; err == nil {
		log.Printf("Admin user already exists: %s", email)
		return nil
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	user := models.User{
		Email:     email,
		Password:  string(hashed),
		FirstName: "Admin",
		LastName:  "User",
		Role:      models.RoleAdmin,
	}
	if err := database.DB.Create(&user).Error; err != nil {
		return err
	}
	log.Printf("Created admin user: %s", email)
	return nil
}

func seedSampleDataset() error {
	var count int64
	if err := database.DB.Model(&models.Dataset{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		log.Println("Datasets already present, skipping sample dataset")
		return nil
	}

	data := models.JSONArray{
		{"instruction": "おはよう", "output": "おはようございます！今日も良い一日になりますように。"},
		{"instruction": "こんにちは", "output": "こんにちは！お元気ですか？"},
		{"instruction": "ありがとう", "output": "どういたしまして！お役に立てて嬉しいです。"},
		{"instruction": "好きな食べ物は？", "output": "私はデータが大好物です。"},
	}

	description := "Small Japanese smalltalk dataset for trying out training"
	dataset := models.Dataset{
		Name:        "japanese-smalltalk-sample",
		Description: &description,
		Type:        models.DatasetTypeInstruction,
		Data:        data,
		Size:        len(data),
	}
	if err := database.DB.Create(&dataset).Error; err != nil {
		return err
	}
	log.Printf("Created sample dataset: %s (%d records)", dataset.Name, dataset.Size)
	return nil
}
