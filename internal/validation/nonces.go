package validation

import "sync"

// nonceTracker remembers which (job, nonce) pairs have been submitted. Sets
// are per job, capped by a fixed-size ring that evicts the oldest nonce, and
// dropped wholesale when the job goes away.
type nonceTracker struct {
	mu   sync.Mutex
	jobs map[string]*jobNonces
	cap  int
}

type jobNonces struct {
	seen map[string]struct{}
	ring []string
	next int
}

func newNonceTracker(capPerJob int) *nonceTracker {
	return &nonceTracker{
		jobs: make(map[string]*jobNonces),
		cap:  capPerJob,
	}
}

// observe records the nonce for the job and reports whether it was new. The
// check and the insert happen under one lock so concurrent submits of the
// same nonce cannot both win.
func (t *nonceTracker) observe(jobID, nonce string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	jn, ok := t.jobs[jobID]
	if !ok {
		jn = &jobNonces{
			seen: make(map[string]struct{}),
			ring: make([]string, t.cap),
		}
		t.jobs[jobID] = jn
	}

	if _, dup := jn.seen[nonce]; dup {
		return false
	}

	if len(jn.seen) >= t.cap {
		delete(jn.seen, jn.ring[jn.next])
	}
	jn.ring[jn.next] = nonce
	jn.next = (jn.next + 1) % t.cap
	jn.seen[nonce] = struct{}{}
	return true
}

// release drops all nonce state for a removed job.
func (t *nonceTracker) release(jobID string) {
	t.mu.Lock()
	delete(t.jobs, jobID)
	t.mu.Unlock()
}

// trackedJobs returns how many jobs currently hold nonce state.
func (t *nonceTracker) trackedJobs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}
