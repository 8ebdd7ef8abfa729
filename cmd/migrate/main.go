package main

import (
	"github.com/joho/godotenv"

	"github.com/tunekit/backend/internal/database"
	"github.com/tunekit/backend/internal/logger"
)

func main() {
	logger.Initialize()

	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env file found, using environment variables", nil)
	}

	database.Connect()
	database.AutoMigrate()

	logger.Info("Database migration completed", nil)
}
