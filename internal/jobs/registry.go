package jobs

import (
	"sync"
	"time"
)

// Registry is the table of active jobs. It owns the personal-job index and
// the broadcast fallback chain; callers never touch the maps directly.
type Registry struct {
	mu              sync.RWMutex
	jobs            map[string]*Job
	byOwner         map[string]string
	latestBroadcast string

	builder  *Builder
	onRemove func(jobID string)
}

// NewRegistry returns an empty registry. onRemove is invoked for every
// evicted job id so per-job nonce state can be released; it may be nil.
func NewRegistry(builder *Builder, onRemove func(jobID string)) *Registry {
	return &Registry{
		jobs:     make(map[string]*Job),
		byOwner:  make(map[string]string),
		builder:  builder,
		onRemove: onRemove,
	}
}

// Add registers a job, updating the owner index or the broadcast pointer.
func (r *Registry) Add(job *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs[job.ID] = job
	if job.Owner == BroadcastOwner {
		r.latestBroadcast = job.ID
	} else if job.Owner != "" {
		r.byOwner[job.Owner] = job.ID
	}
}

// Get returns the job with the given id.
func (r *Registry) Get(id string) (*Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	return job, ok
}

// Remove evicts a job, drops its owner subscription and releases its nonce
// state through the removal callback.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if ok {
		delete(r.jobs, id)
		if job.Owner != "" && r.byOwner[job.Owner] == id {
			delete(r.byOwner, job.Owner)
		}
		if r.latestBroadcast == id {
			r.latestBroadcast = ""
		}
	}
	r.mu.Unlock()

	if ok && r.onRemove != nil {
		r.onRemove(id)
	}
}

// ForMiner resolves the job a miner should work on: its own personal job if
// one is still active, otherwise the most recent broadcast job, otherwise a
// synthesized fallback so the miner is never left idle.
func (r *Registry) ForMiner(addr, extraNonce1 string) *Job {
	r.mu.RLock()
	personal, hasPersonal := r.ownedLocked(addr)
	if hasPersonal && !personal.Synthetic {
		r.mu.RUnlock()
		return personal
	}
	// A broadcast job supersedes a synthesized placeholder.
	if r.latestBroadcast != "" {
		if job, ok := r.jobs[r.latestBroadcast]; ok {
			r.mu.RUnlock()
			return job
		}
	}
	if hasPersonal {
		r.mu.RUnlock()
		return personal
	}
	r.mu.RUnlock()

	job := r.builder.Synthetic(addr, extraNonce1)
	r.Add(job)
	return job
}

func (r *Registry) ownedLocked(addr string) (*Job, bool) {
	id, ok := r.byOwner[addr]
	if !ok {
		return nil, false
	}
	job, ok := r.jobs[id]
	return job, ok
}

// Len returns the number of active jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// CleanupOlderThan evicts every job older than maxAge and returns how many
// were removed. A job without a creation timestamp is treated as stale.
func (r *Registry) CleanupOlderThan(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	r.mu.Lock()
	var evicted []string
	for id, job := range r.jobs {
		if job.CreatedAt.IsZero() || job.CreatedAt.Before(cutoff) {
			evicted = append(evicted, id)
			delete(r.jobs, id)
			if job.Owner != "" && r.byOwner[job.Owner] == id {
				delete(r.byOwner, job.Owner)
			}
			if r.latestBroadcast == id {
				r.latestBroadcast = ""
			}
		}
	}
	r.mu.Unlock()

	if r.onRemove != nil {
		for _, id := range evicted {
			r.onRemove(id)
		}
	}
	return len(evicted)
}
