package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tunekit/backend/internal/apperrors"
	"github.com/tunekit/backend/internal/models"
	"github.com/tunekit/backend/internal/store"
)

func newTestChatService(t *testing.T, rt *fakeRuntime, ollamaURL string) (*ChatService, *store.Store) {
	t.Helper()
	st := newTestStore(t)
	ollama := NewOllamaService(ollamaURL)
	cache := NewModelCache(rt)
	dispatcher := NewDispatcher(ollama, cache, rt, &fakeAccelerated{})
	return NewChatService(st, dispatcher, ollama, cache), st
}

func completedJob(t *testing.T, st *store.Store) *models.TrainingJob {
	t.Helper()
	dataset := createTestDataset(t, st, 4)
	job := createTestJob(t, st, dataset.ID, models.TrainingStatusCompleted)
	path := "trained_models/job_1/final_model"
	if err := st.UpdateJob(job.ID, map[string]interface{}{"model_path": path}); err != nil {
		t.Fatalf("UpdateJob failed: %v", err)
	}
	job.ModelPath = &path
	return job
}

func TestCreateSessionExactlyOneBinding(t *testing.T) {
	svc, _ := newTestChatService(t, &fakeRuntime{}, "")

	jobID := uint(1)
	modelName := "gemma2:2b"

	// Neither binding
	_, err := svc.CreateSession(context.Background(), CreateSessionRequest{Name: "chat"})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Expected ErrValidation with no binding, got %v", err)
	}

	// Both bindings
	_, err = svc.CreateSession(context.Background(), CreateSessionRequest{
		Name:      "chat",
		JobID:     &jobID,
		ModelName: &modelName,
	})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Expected ErrValidation with both bindings, got %v", err)
	}
}

func TestCreateSessionRequiresCompletedArtifact(t *testing.T) {
	svc, st := newTestChatService(t, &fakeRuntime{}, "")
	dataset := createTestDataset(t, st, 4)

	for _, status := range []models.TrainingStatus{
		models.TrainingStatusPending,
		models.TrainingStatusRunning,
		models.TrainingStatusFailed,
	} {
		job := createTestJob(t, st, dataset.ID, status)
		_, err := svc.CreateSession(context.Background(), CreateSessionRequest{Name: "chat", JobID: &job.ID})
		if !errors.Is(err, apperrors.ErrNotFound) {
			t.Errorf("%s: expected ErrNotFound, got %v", status, err)
		}
	}
}

func TestCreateSessionWithCompletedJob(t *testing.T) {
	svc, st := newTestChatService(t, &fakeRuntime{}, "")
	job := completedJob(t, st)

	session, err := svc.CreateSession(context.Background(), CreateSessionRequest{Name: "chat", JobID: &job.ID})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if session.JobID == nil || *session.JobID != job.ID {
		t.Error("Expected session bound to job")
	}
	if session.ModelPath == nil || *session.ModelPath != *job.ModelPath {
		t.Error("Expected session to carry the job's artifact path")
	}
	if session.ModelName != nil {
		t.Error("Job-bound session must not carry a remote model name")
	}
}

func TestCreateSessionWithRemoteModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(OllamaModelsResponse{Models: []OllamaModel{{Name: "gemma2:2b"}}})
	}))
	defer srv.Close()

	svc, _ := newTestChatService(t, &fakeRuntime{}, srv.URL)

	known := "gemma2:2b"
	session, err := svc.CreateSession(context.Background(), CreateSessionRequest{Name: "chat", ModelName: &known})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if session.ModelName == nil || *session.ModelName != known {
		t.Error("Expected session bound to remote model")
	}

	unknown := "missing:latest"
	_, err = svc.CreateSession(context.Background(), CreateSessionRequest{Name: "chat", ModelName: &unknown})
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown remote model, got %v", err)
	}
}

func TestRecordTurnAlwaysPersistsReply(t *testing.T) {
	// Every model tier fails; the fallback must still produce a reply
	rt := &fakeRuntime{generateErr: fmt.Errorf("model crashed")}
	svc, st := newTestChatService(t, rt, "")
	job := completedJob(t, st)

	session, err := svc.CreateSession(context.Background(), CreateSessionRequest{Name: "chat", JobID: &job.ID})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	turn, err := svc.RecordTurn(context.Background(), session.ID, "おはよう", GenerateParams{})
	if err != nil {
		t.Fatalf("RecordTurn failed: %v", err)
	}
	if turn.UserMessage == nil || turn.UserMessage.Content != "おはよう" {
		t.Error("Expected persisted user message")
	}
	if turn.AssistantMessage == nil || turn.AssistantMessage.Content == "" {
		t.Error("Expected non-empty assistant message")
	}

	messages, err := svc.ListMessages(session.ID)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(messages))
	}
	if messages[0].Role != models.ChatRoleUser || messages[1].Role != models.ChatRoleAssistant {
		t.Errorf("Expected user then assistant, got %s then %s", messages[0].Role, messages[1].Role)
	}
}

func TestRecordTurnRequiresText(t *testing.T) {
	svc, st := newTestChatService(t, &fakeRuntime{}, "")
	job := completedJob(t, st)
	session, err := svc.CreateSession(context.Background(), CreateSessionRequest{Name: "chat", JobID: &job.ID})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if _, err := svc.RecordTurn(context.Background(), session.ID, "", GenerateParams{}); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Expected ErrValidation for empty text, got %v", err)
	}
}

func TestRecordTurnMissingSession(t *testing.T) {
	svc, _ := newTestChatService(t, &fakeRuntime{}, "")

	if _, err := svc.RecordTurn(context.Background(), 9999, "hello", GenerateParams{}); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestDeleteSessionCascades(t *testing.T) {
	svc, st := newTestChatService(t, &fakeRuntime{response: "返事です"}, "")
	job := completedJob(t, st)

	session, err := svc.CreateSession(context.Background(), CreateSessionRequest{Name: "chat", JobID: &job.ID})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if _, err := svc.RecordTurn(context.Background(), session.ID, "こんにちは", GenerateParams{}); err != nil {
		t.Fatalf("RecordTurn failed: %v", err)
	}

	if err := svc.DeleteSession(session.ID); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}

	if _, err := svc.GetSession(session.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected session to be gone, got %v", err)
	}
	messages, err := st.ListMessages(session.ID)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("Expected no messages after delete, got %d", len(messages))
	}
}
