package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tunekit/backend/internal/services"
)

type ChatController struct {
	chat   *services.ChatService
	runner *services.JobRunner
}

func NewChatController(chat *services.ChatService, runner *services.JobRunner) *ChatController {
	return &ChatController{chat: chat, runner: runner}
}

type GenerateRequest struct {
	Message     string  `json:"message" binding:"required"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

func (cc *ChatController) CreateSession(c *gin.Context) {
	var req services.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := cc.chat.CreateSession(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (cc *ChatController) ListSessions(c *gin.Context) {
	sessions, err := cc.chat.ListSessions()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (cc *ChatController) GetSession(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	session, err := cc.chat.GetSession(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (cc *ChatController) DeleteSession(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if err := cc.chat.DeleteSession(id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Session deleted"})
}

func (cc *ChatController) ListMessages(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	messages, err := cc.chat.ListMessages(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// Generate runs one chat turn. The reply is always present even when the
// backing model is unavailable.
func (cc *ChatController) Generate(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	turn, err := cc.chat.RecordTurn(c.Request.Context(), id, req.Message, services.GenerateParams{
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, turn)
}

// ListCompletedJobs lists jobs whose artifacts can back a new session.
func (cc *ChatController) ListCompletedJobs(c *gin.Context) {
	jobs, err := cc.runner.ListCompletedJobs()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}
