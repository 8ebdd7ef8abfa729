package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tunekit/backend/internal/services"
)

type DatasetController struct {
	datasets *services.DatasetService
}

func NewDatasetController(datasets *services.DatasetService) *DatasetController {
	return &DatasetController{datasets: datasets}
}

func (dc *DatasetController) CreateDataset(c *gin.Context) {
	var req services.CreateDatasetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	dataset, err := dc.datasets.Create(req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dataset)
}

func (dc *DatasetController) ListDatasets(c *gin.Context) {
	datasets, err := dc.datasets.List()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"datasets": datasets})
}

func (dc *DatasetController) GetDataset(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	dataset, err := dc.datasets.Get(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dataset)
}

func (dc *DatasetController) DeleteDataset(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if err := dc.datasets.Delete(id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Dataset deleted"})
}
