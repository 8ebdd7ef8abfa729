package services

import (
	"sync"

	"gorm.io/gorm"

	"github.com/tunekit/backend/internal/logger"
	"github.com/tunekit/backend/internal/models"
	"github.com/tunekit/backend/internal/store"
)

// progressUpdate is one durable progress write queued for the writer.
type progressUpdate struct {
	jobID       uint
	totalEpochs int
	event       StepEvent
}

// ProgressReporter persists step events out of band of the training loop.
// Reports go through a buffered channel to a single writer goroutine with
// its own database session, so a slow database never stalls training and
// persistence failures never abort a job.
type ProgressReporter struct {
	store   *store.Store
	updates chan progressUpdate
	wg      sync.WaitGroup
	once    sync.Once
}

func NewProgressReporter(st *store.Store) *ProgressReporter {
	r := &ProgressReporter{
		store:   st.NewSession(),
		updates: make(chan progressUpdate, 256),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Report queues one step event for persistence. It never blocks: when the
// buffer is full the update is dropped and the next one catches up.
func (r *ProgressReporter) Report(jobID uint, totalEpochs int, ev StepEvent) {
	select {
	case r.updates <- progressUpdate{jobID: jobID, totalEpochs: totalEpochs, event: ev}:
	default:
		logger.WithJob(jobID).Debug("progress buffer full, dropping update")
	}
}

// Close drains queued updates and stops the writer.
func (r *ProgressReporter) Close() {
	r.once.Do(func() {
		close(r.updates)
	})
	r.wg.Wait()
}

func (r *ProgressReporter) run() {
	defer r.wg.Done()
	for u := range r.updates {
		r.persist(u)
	}
}

func (r *ProgressReporter) persist(u progressUpdate) {
	ev := u.event
	progress := computeProgress(ev, u.totalEpochs)

	metric := &models.TrainingMetric{
		JobID:        u.jobID,
		Step:         ev.Step,
		Epoch:        ev.Epoch,
		Loss:         ev.Loss,
		LearningRate: ev.LearningRate,
	}
	fields := map[string]interface{}{
		"progress":      progress,
		"current_epoch": ev.Epoch,
		"current_step":  ev.Step,
		"loss":          ev.Loss,
		"best_loss": gorm.Expr(
			"CASE WHEN best_loss IS NULL OR best_loss > ? THEN ? ELSE best_loss END",
			ev.Loss, ev.Loss),
	}
	if ev.MaxSteps > 0 {
		fields["total_steps"] = ev.MaxSteps
	}

	applied, err := r.store.AppendMetric(metric, fields)
	if err != nil {
		logger.WithJob(u.jobID).WithField("step", ev.Step).Warn("failed to persist progress: " + err.Error())
		return
	}
	if !applied {
		logger.WithJob(u.jobID).WithField("step", ev.Step).Debug("job no longer running, dropping progress update")
	}
}

// computeProgress derives a 0..100 percentage from a step event, preferring
// step counts and falling back to epoch counts when steps are unknown.
func computeProgress(ev StepEvent, totalEpochs int) float64 {
	var progress float64
	switch {
	case ev.MaxSteps > 0:
		progress = float64(ev.Step) / float64(ev.MaxSteps) * 100
	case totalEpochs > 0:
		progress = float64(ev.Epoch) / float64(totalEpochs) * 100
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	return progress
}
