package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tunekit/backend/internal/services"
)

type ModelController struct {
	ollama *services.OllamaService
}

func NewModelController(ollama *services.OllamaService) *ModelController {
	return &ModelController{ollama: ollama}
}

// trainableModels are the base models offered for fine-tuning, alongside
// whatever the remote service hosts.
var trainableModels = []gin.H{
	{"name": "rinna/japanese-gpt-neox-3.6b", "kind": "trainable", "description": "Japanese GPT-NeoX 3.6B"},
	{"name": "rinna-1b", "kind": "trainable", "description": "Japanese GPT 1B"},
	{"name": "gemma2:2b", "kind": "trainable", "description": "Gemma 2 2B"},
}

// ListModels merges the trainable catalog with the remote model list.
// Remote unavailability degrades to the trainable catalog alone.
func (mc *ModelController) ListModels(c *gin.Context) {
	result := make([]gin.H, 0, len(trainableModels))
	result = append(result, trainableModels...)

	remote, err := mc.ollama.ListModels(c.Request.Context())
	if err == nil {
		for _, m := range remote {
			result = append(result, gin.H{"name": m.Name, "kind": "remote", "size": m.Size})
		}
	}
	c.JSON(http.StatusOK, gin.H{"models": result})
}

func (mc *ModelController) CheckModel(c *gin.Context) {
	name := c.Param("name")
	exists, err := mc.ollama.CheckModelExists(c.Request.Context(), name)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "exists": exists})
}

func (mc *ModelController) PullModel(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := mc.ollama.PullModel(c.Request.Context(), req.Name); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Model pulled", "name": req.Name})
}

func (mc *ModelController) OllamaHealth(c *gin.Context) {
	if err := mc.ollama.HealthCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
