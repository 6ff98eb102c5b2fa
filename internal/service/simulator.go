// Package service backs the dev stand-in for the production backend:
// it records simulated workflows in redis and queues their progression
// through asynq, so the daemon can be exercised end to end without the
// real job processor.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/makereels/sync/internal/model"
)

const (
	TaskTypeSimulateVideo = "simulate:video"

	workflowTTL = 24 * time.Hour
)

// SimulateVideoPayload is the asynq task payload for one simulated render
type SimulateVideoPayload struct {
	WorkflowID string `json:"workflowId"`
	UserID     string `json:"userId"`
	Title      string `json:"title"`
}

// SimulatorService manages simulated pending workflows
type SimulatorService struct {
	redis       *redis.Client
	asynqClient *asynq.Client
	queue       string
}

func NewSimulatorService(redisClient *redis.Client, asynqClient *asynq.Client, queue string) *SimulatorService {
	return &SimulatorService{
		redis:       redisClient,
		asynqClient: asynqClient,
		queue:       queue,
	}
}

// StartVideo records a pending workflow and queues its simulation
func (s *SimulatorService) StartVideo(ctx context.Context, userID, title string) (*model.PendingWorkflow, error) {
	wf := &model.PendingWorkflow{
		ID:          uuid.New().String(),
		ExecutionID: uuid.New().String(),
		Title:       title,
		Status:      "pending",
		CreatedAt:   time.Now(),
	}

	if err := s.saveWorkflow(ctx, userID, wf); err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	payload, err := json.Marshal(SimulateVideoPayload{
		WorkflowID: wf.ID,
		UserID:     userID,
		Title:      title,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task payload: %w", err)
	}

	task := asynq.NewTask(TaskTypeSimulateVideo, payload)
	if _, err := s.asynqClient.Enqueue(task,
		asynq.Queue(s.queue),
		asynq.MaxRetry(1),
		asynq.Retention(workflowTTL),
	); err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	return wf, nil
}

// ListPending returns the user's workflows still marked pending/processing
func (s *SimulatorService) ListPending(ctx context.Context, userID string) ([]model.PendingWorkflow, error) {
	ids, err := s.redis.SMembers(ctx, s.indexKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	workflows := make([]model.PendingWorkflow, 0, len(ids))
	for _, id := range ids {
		wf, err := s.getWorkflow(ctx, userID, id)
		if err != nil {
			continue
		}
		if wf.Pending() {
			workflows = append(workflows, *wf)
		}
	}
	return workflows, nil
}

// SetStatus updates one workflow's status
func (s *SimulatorService) SetStatus(ctx context.Context, userID, workflowID, status string) error {
	wf, err := s.getWorkflow(ctx, userID, workflowID)
	if err != nil {
		return err
	}
	wf.Status = status
	return s.saveWorkflow(ctx, userID, wf)
}

func (s *SimulatorService) saveWorkflow(ctx context.Context, userID string, wf *model.PendingWorkflow) error {
	data, err := json.Marshal(wf)
	if err != nil {
		return err
	}
	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, s.workflowKey(userID, wf.ID), data, workflowTTL)
	pipe.SAdd(ctx, s.indexKey(userID), wf.ID)
	pipe.Expire(ctx, s.indexKey(userID), workflowTTL)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *SimulatorService) getWorkflow(ctx context.Context, userID, workflowID string) (*model.PendingWorkflow, error) {
	data, err := s.redis.Get(ctx, s.workflowKey(userID, workflowID)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("workflow not found")
	}
	if err != nil {
		return nil, err
	}
	var wf model.PendingWorkflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

func (s *SimulatorService) workflowKey(userID, workflowID string) string {
	return fmt.Sprintf("devserver:workflow:%s:%s", userID, workflowID)
}

func (s *SimulatorService) indexKey(userID string) string {
	return fmt.Sprintf("devserver:workflows:%s", userID)
}
