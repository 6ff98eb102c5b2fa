// Package toast projects the tracked job list into dismissible
// notification records. The job list is replaced wholesale on every
// reconciliation pass, so the adapter's whole job is to carry the
// user's minimize choices across that churn.
package toast

import (
	"sync"

	"github.com/makereels/sync/internal/model"
)

// Adapter holds the toast list. It has no persistence of its own: a
// restart rebuilds everything from the tracker with minimize flags
// reset, which is acceptable.
type Adapter struct {
	mu     sync.Mutex
	toasts []model.Toast
}

func NewAdapter() *Adapter {
	return &Adapter{}
}

// Update rebuilds the toast list from the current jobs. A toast whose
// job is still present keeps its minimize flag and picks up the job's
// live title/message/timestamp. A toast whose job vanished is dropped,
// unless it is minimized; a minimized toast is retained unchanged so
// the user can still restore it and see the final state.
func (a *Adapter) Update(jobs []model.ProcessingJob) {
	a.mu.Lock()
	defer a.mu.Unlock()

	previous := make(map[string]model.Toast, len(a.toasts))
	for _, t := range a.toasts {
		previous[t.ID] = t
	}

	next := make([]model.Toast, 0, len(jobs))
	live := make(map[string]struct{}, len(jobs))
	for _, job := range jobs {
		live[job.ID] = struct{}{}
		minimized := false
		if prev, ok := previous[job.ID]; ok {
			minimized = prev.Minimized
		}
		next = append(next, model.Toast{
			ID:        job.ID,
			Title:     job.Title,
			Message:   job.Message,
			Timestamp: job.Timestamp,
			Minimized: minimized,
		})
	}

	for _, t := range a.toasts {
		if _, present := live[t.ID]; present {
			continue
		}
		if t.Minimized {
			next = append(next, t)
		}
	}

	a.toasts = next
}

// Minimize flips only the minimized flag of the toast with the given id
func (a *Adapter) Minimize(id string) {
	a.setMinimized(id, true)
}

// Restore un-minimizes the toast with the given id
func (a *Adapter) Restore(id string) {
	a.setMinimized(id, false)
}

func (a *Adapter) setMinimized(id string, minimized bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.toasts {
		if a.toasts[i].ID == id {
			a.toasts[i].Minimized = minimized
			return
		}
	}
}

// Toasts returns a snapshot of the current toast list
func (a *Adapter) Toasts() []model.Toast {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]model.Toast(nil), a.toasts...)
}

// MinimizedCount is the number of currently minimized toasts
func (a *Adapter) MinimizedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	count := 0
	for _, t := range a.toasts {
		if t.Minimized {
			count++
		}
	}
	return count
}
