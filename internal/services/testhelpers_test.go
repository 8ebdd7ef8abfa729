package services

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tunekit/backend/internal/models"
	"github.com/tunekit/backend/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access test database: %v", err)
	}
	// An in-memory database exists per connection; pin the pool to one
	// connection so every query sees the same database.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	err = db.AutoMigrate(
		&models.User{},
		&models.Dataset{},
		&models.TrainingJob{},
		&models.TrainingMetric{},
		&models.ChatSession{},
		&models.ChatMessage{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return store.New(db)
}

func createTestDataset(t *testing.T, st *store.Store, records int) *models.Dataset {
	t.Helper()

	data := make(models.JSONArray, 0, records)
	for i := 0; i < records; i++ {
		data = append(data, map[string]interface{}{
			"instruction": "こんにちは",
			"output":      "こんにちは！お元気ですか？",
		})
	}
	dataset := &models.Dataset{
		Name: "test-dataset",
		Type: models.DatasetTypeInstruction,
		Data: data,
		Size: len(data),
	}
	if err := st.CreateDataset(dataset); err != nil {
		t.Fatalf("failed to create test dataset: %v", err)
	}
	return dataset
}

func createTestJob(t *testing.T, st *store.Store, datasetID uint, status models.TrainingStatus) *models.TrainingJob {
	t.Helper()

	job := &models.TrainingJob{
		Name:           "test-job",
		ModelName:      "gemma2:2b",
		DatasetID:      datasetID,
		Status:         models.TrainingStatusPending,
		LoRAConfig:     models.DefaultLoRAConfig(),
		TrainingConfig: models.DefaultTrainingConfig(),
		TotalEpochs:    models.DefaultTrainingConfig().NumEpochs,
	}
	if err := st.CreateJob(job); err != nil {
		t.Fatalf("failed to create test job: %v", err)
	}
	if status != models.TrainingStatusPending {
		if err := st.UpdateJob(job.ID, map[string]interface{}{"status": status}); err != nil {
			t.Fatalf("failed to set job status: %v", err)
		}
		job.Status = status
	}
	return job
}
