package job

import (
	"sync"
	"sync/atomic"
	"time"

	dt "github.com/RobinTMiller/dt-sub002"
)

// Registry is the process-wide set of live jobs. Its lock guards
// membership only; each job's own lock guards that job's state. The
// registry lock is never held across a blocking I/O call.
//
// Construct registries explicitly (no package-level instance) so tests
// can run independent engines side by side.
type Registry struct {
	mu     sync.RWMutex
	nextID atomic.Int64
	jobs   map[int64]*Job
	order  []int64 // ascending ids; traversal-stable under insert/remove
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[int64]*Job)}
}

// NextID allocates the next job id. Ids are strictly increasing and
// never reused within one process lifetime.
func (r *Registry) NextID() int64 { return r.nextID.Add(1) }

// Insert registers a job. The job id must have been allocated by this
// registry's NextID.
func (r *Registry) Insert(j *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[j.ID]; ok {
		return dt.ErrJobExists
	}
	r.jobs[j.ID] = j
	r.order = append(r.order, j.ID)
	return nil
}

// Remove deregisters a job, typically after it has been reaped by a
// wait or query call.
func (r *Registry) Remove(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return
	}
	delete(r.jobs, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Find returns the job with the given id.
func (r *Registry) Find(id int64) (*Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	return j, ok
}

// FindByTag returns every live job carrying the tag, in id order.
// Tags are not unique; they exist for bulk selection.
func (r *Registry) FindByTag(tag string) []*Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Job
	for _, id := range r.order {
		if j := r.jobs[id]; j.Tag == tag {
			out = append(out, j)
		}
	}
	return out
}

// Jobs returns a snapshot of the live jobs in id order. The snapshot
// is taken under the read lock and released before the caller touches
// any job, so readers never block writers longer than the copy.
func (r *Registry) Jobs() []*Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Job, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.jobs[id])
	}
	return out
}

// Len returns the number of live jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// MinCheckInterval returns the smallest check interval requested by
// any live job, or def if no job requests one. The watchdog polls at
// this cadence; it only ever shrinks while such a job is registered.
func (r *Registry) MinCheckInterval(def time.Duration) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	min := def
	for _, j := range r.jobs {
		if ci := j.Tuning.CheckInterval; ci > 0 && ci < min {
			min = ci
		}
	}
	return min
}
