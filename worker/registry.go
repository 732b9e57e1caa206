package worker

import (
	"fmt"
	"sort"
	"sync"

	"github.com/BaSui01/valuationflow/workflow"
)

// Registry is a thread-safe map from stage name to worker with an optional
// fallback for unregistered stages.
type Registry struct {
	mu       sync.RWMutex
	workers  map[string]workflow.Worker
	fallback workflow.Worker
}

// NewRegistry creates a Registry. fallback may be nil.
func NewRegistry(fallback workflow.Worker) *Registry {
	return &Registry{
		workers:  make(map[string]workflow.Worker),
		fallback: fallback,
	}
}

// Register binds a worker to a stage, replacing any previous binding.
func (r *Registry) Register(stage string, w workflow.Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[stage] = w
}

// WorkerFor returns the worker for stage, or the fallback.
func (r *Registry) WorkerFor(stage string) (workflow.Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if w, ok := r.workers[stage]; ok {
		return w, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("no worker registered for stage %q", stage)
}

// Stages returns the sorted names of explicitly registered stages.
func (r *Registry) Stages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.workers))
	for name := range r.workers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
