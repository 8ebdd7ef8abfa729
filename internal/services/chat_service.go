package services

import (
	"context"
	"fmt"
	"time"

	"github.com/tunekit/backend/internal/apperrors"
	"github.com/tunekit/backend/internal/logger"
	"github.com/tunekit/backend/internal/models"
	"github.com/tunekit/backend/internal/store"
)

// CreateSessionRequest binds a new chat session to exactly one backing
// model: either a finished training job or a remote Ollama model.
type CreateSessionRequest struct {
	Name      string       `json:"name" binding:"required"`
	JobID     *uint        `json:"job_id"`
	ModelName *string      `json:"model_name"`
	Settings  models.JSONB `json:"settings"`
}

// ChatTurn is the persisted outcome of one exchange.
type ChatTurn struct {
	UserMessage      *models.ChatMessage `json:"user_message"`
	AssistantMessage *models.ChatMessage `json:"assistant_message"`
	Tier             string              `json:"tier"`
}

// ChatService manages chat sessions and runs turns through the dispatcher.
type ChatService struct {
	store      *store.Store
	dispatcher *Dispatcher
	ollama     *OllamaService
	cache      *ModelCache
}

func NewChatService(st *store.Store, dispatcher *Dispatcher, ollama *OllamaService, cache *ModelCache) *ChatService {
	return &ChatService{store: st, dispatcher: dispatcher, ollama: ollama, cache: cache}
}

// CreateSession validates the model binding and persists the session.
func (s *ChatService) CreateSession(ctx context.Context, req CreateSessionRequest) (*models.ChatSession, error) {
	if (req.JobID == nil) == (req.ModelName == nil) {
		return nil, fmt.Errorf("exactly one of job_id and model_name must be set: %w", apperrors.ErrValidation)
	}

	session := &models.ChatSession{
		Name:     req.Name,
		Settings: req.Settings,
	}

	if req.JobID != nil {
		job, err := s.store.GetJob(*req.JobID)
		if err != nil {
			return nil, err
		}
		if job.Status != models.TrainingStatusCompleted || job.ModelPath == nil {
			return nil, fmt.Errorf("job %d has no trained model: %w", job.ID, apperrors.ErrNotFound)
		}
		session.JobID = req.JobID
		session.ModelPath = job.ModelPath
	} else {
		exists, err := s.ollama.CheckModelExists(ctx, *req.ModelName)
		if err != nil {
			return nil, fmt.Errorf("failed to reach Ollama: %w", err)
		}
		if !exists {
			return nil, fmt.Errorf("model %s not found on Ollama: %w", *req.ModelName, apperrors.ErrNotFound)
		}
		session.ModelName = req.ModelName
	}

	if err := s.store.CreateSession(session); err != nil {
		return nil, err
	}
	logger.WithSession(session.ID).Info("Chat session created")
	return session, nil
}

func (s *ChatService) GetSession(id uint) (*models.ChatSession, error) {
	return s.store.GetSession(id)
}

func (s *ChatService) ListSessions() ([]models.ChatSession, error) {
	return s.store.ListSessions()
}

// DeleteSession removes a session and its messages, and drops the cached
// model handle when no other session still uses the artifact.
func (s *ChatService) DeleteSession(id uint) error {
	session, err := s.store.GetSession(id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteSessionCascade(id); err != nil {
		return err
	}
	if session.ModelPath != nil {
		sessions, err := s.store.ListSessions()
		if err != nil {
			return nil
		}
		for _, other := range sessions {
			if other.ModelPath != nil && *other.ModelPath == *session.ModelPath {
				return nil
			}
		}
		s.cache.Invalidate(*session.ModelPath)
	}
	return nil
}

func (s *ChatService) ListMessages(sessionID uint) ([]models.ChatMessage, error) {
	if _, err := s.store.GetSession(sessionID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(sessionID)
}

// RecordTurn persists the user message, generates a reply and persists it.
// The assistant message is always written: the dispatcher guarantees text
// even when every model tier fails.
func (s *ChatService) RecordTurn(ctx context.Context, sessionID uint, text string, params GenerateParams) (*ChatTurn, error) {
	if text == "" {
		return nil, fmt.Errorf("message text is required: %w", apperrors.ErrValidation)
	}
	session, err := s.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	userMsg := &models.ChatMessage{
		SessionID: sessionID,
		Role:      models.ChatRoleUser,
		Content:   text,
	}
	if err := s.store.CreateMessage(userMsg); err != nil {
		return nil, err
	}

	reply, tier := s.generate(ctx, session, text, params)

	assistantMsg := &models.ChatMessage{
		SessionID: sessionID,
		Role:      models.ChatRoleAssistant,
		Content:   reply,
	}
	if err := s.store.CreateMessage(assistantMsg); err != nil {
		return nil, err
	}

	if err := s.store.DB().Model(&models.ChatSession{}).
		Where("id = ?", sessionID).
		Update("updated_at", time.Now()).Error; err != nil {
		logger.WithSession(sessionID).Warn("failed to touch session: " + err.Error())
	}

	logger.WithTier(sessionID, tier).Info("Chat turn recorded")
	return &ChatTurn{UserMessage: userMsg, AssistantMessage: assistantMsg, Tier: tier}, nil
}

func (s *ChatService) generate(ctx context.Context, session *models.ChatSession, text string, params GenerateParams) (reply string, tier string) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.WithSession(session.ID).Error(fmt.Sprintf("generation panicked: %v", rec))
			reply, tier = replyGenericError, "error"
		}
	}()
	return s.dispatcher.Generate(ctx, session, text, params)
}
