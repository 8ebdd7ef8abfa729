package services

import (
	"fmt"

	"github.com/tunekit/backend/internal/apperrors"
	"github.com/tunekit/backend/internal/models"
	"github.com/tunekit/backend/internal/store"
)

// CreateDatasetRequest is the input for uploading a training dataset.
type CreateDatasetRequest struct {
	Name        string           `json:"name" binding:"required"`
	Description *string          `json:"description"`
	Type        string           `json:"type"`
	Data        models.JSONArray `json:"data" binding:"required"`
}

// DatasetService validates and stores training datasets.
type DatasetService struct {
	store *store.Store
}

func NewDatasetService(st *store.Store) *DatasetService {
	return &DatasetService{store: st}
}

func (s *DatasetService) Create(req CreateDatasetRequest) (*models.Dataset, error) {
	if len(req.Data) == 0 {
		return nil, fmt.Errorf("dataset data must not be empty: %w", apperrors.ErrValidation)
	}

	dsType := models.DatasetType(req.Type)
	if req.Type == "" {
		dsType = models.DatasetTypeInstruction
	}
	switch dsType {
	case models.DatasetTypeInstruction, models.DatasetTypeChat, models.DatasetTypeCompletion:
	default:
		return nil, fmt.Errorf("unknown dataset type %q: %w", req.Type, apperrors.ErrValidation)
	}

	dataset := &models.Dataset{
		Name:        req.Name,
		Description: req.Description,
		Type:        dsType,
		Data:        req.Data,
		Size:        len(req.Data),
	}
	if err := s.store.CreateDataset(dataset); err != nil {
		return nil, err
	}
	return dataset, nil
}

func (s *DatasetService) Get(id uint) (*models.Dataset, error) {
	return s.store.GetDataset(id)
}

func (s *DatasetService) List() ([]models.Dataset, error) {
	return s.store.ListDatasets()
}

func (s *DatasetService) Delete(id uint) error {
	return s.store.DeleteDataset(id)
}
