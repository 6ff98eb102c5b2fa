// Package worker walks simulated workflows through the production wire
// shapes so the daemon's normalizer sees realistic traffic.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/makereels/sync/internal/hub"
	"github.com/makereels/sync/internal/model"
	"github.com/makereels/sync/internal/service"
)

// SimulatorWorker processes simulated video tasks
type SimulatorWorker struct {
	svc       *service.SimulatorService
	hub       *hub.Hub
	stepDelay time.Duration
	log       *logrus.Entry
}

func NewSimulatorWorker(svc *service.SimulatorService, h *hub.Hub, stepDelay time.Duration, log *logrus.Entry) *SimulatorWorker {
	if stepDelay <= 0 {
		stepDelay = 2 * time.Second
	}
	return &SimulatorWorker{
		svc:       svc,
		hub:       h,
		stepDelay: stepDelay,
		log:       log,
	}
}

// ProcessTask emits the event sequence of one simulated render. The
// payload shapes deliberately mix the field aliases seen in production
// (videoId vs id, top-level vs nested message).
func (w *SimulatorWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload service.SimulateVideoPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	log := w.log.WithField("workflow_id", payload.WorkflowID)
	log.Info("Simulating video workflow")

	steps := []struct {
		status   string
		typ      string
		message  string
		nested   bool
		progress int
	}{
		{status: "pending", message: "Your video is queued"},
		{status: "processing", typ: "progress", message: "Rendering scenes...", progress: 25},
		{typ: "progress", message: "Rendering scenes...", nested: true, progress: 50},
		{status: "processing", typ: "progress", message: "Encoding video...", nested: true, progress: 75},
	}

	if err := w.svc.SetStatus(ctx, payload.UserID, payload.WorkflowID, "processing"); err != nil {
		log.WithError(err).Warn("Failed to mark workflow processing")
	}

	for _, step := range steps {
		select {
		case <-ctx.Done():
			log.Info("Simulation cancelled")
			return ctx.Err()
		default:
		}

		event := model.RawVideoEvent{
			Status:    step.status,
			Type:      step.typ,
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		}
		if step.nested {
			event.ID = payload.WorkflowID
			event.Data = &model.RawVideoData{Message: step.message}
		} else {
			event.VideoID = payload.WorkflowID
			event.Message = step.message
		}

		w.hub.Broadcast(payload.UserID, model.EventVideoDownloadUpdate, event)
		time.Sleep(w.stepDelay)
	}

	if err := w.svc.SetStatus(ctx, payload.UserID, payload.WorkflowID, "completed"); err != nil {
		log.WithError(err).Warn("Failed to mark workflow completed")
	}

	w.hub.Broadcast(payload.UserID, model.EventVideoDownloadUpdate, model.RawVideoEvent{
		VideoID:   payload.WorkflowID,
		Status:    "completed",
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Data: &model.RawVideoData{
			Message:     "Your video is ready",
			DownloadURL: fmt.Sprintf("https://cdn.makereels.local/videos/%s.mp4", payload.WorkflowID),
		},
	})

	log.Info("Simulation finished")
	return nil
}
