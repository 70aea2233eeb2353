package cron

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/nexuscore/agentcore/internal/config"
)

// JobStore persists the declarative cron job list so that jobs
// added or removed at runtime through the cron tool survive a restart,
// the same way the scheduler's ExecutionStore persists run history.
type JobStore interface {
	Load(ctx context.Context) ([]config.CronJobConfig, error)
	Save(ctx context.Context, jobs []config.CronJobConfig) error
}

// jobStoreDocument is the on-disk format: a single JSON document
// {version: 1, jobs: [...]}.
type jobStoreDocument struct {
	Version int                    `json:"version"`
	Jobs    []config.CronJobConfig `json:"jobs"`
}

// FileJobStore stores the cron job list as one JSON document at a fixed
// path, written atomically (temp file + rename) after every mutation.
type FileJobStore struct {
	mu   sync.Mutex
	path string
}

// NewFileJobStore creates a JobStore backed by the file at path.
func NewFileJobStore(path string) *FileJobStore {
	return &FileJobStore{path: path}
}

// Load reads the job document, returning an empty list if it doesn't exist yet.
func (s *FileJobStore) Load(ctx context.Context) ([]config.CronJobConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var doc jobStoreDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc.Jobs, nil
}

// Save writes the full job list atomically, replacing any previous document.
func (s *FileJobStore) Save(ctx context.Context, jobs []config.CronJobConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}

	doc := jobStoreDocument{Version: 1, Jobs: jobs}
	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// PersistentJobs wires a JobStore to a Scheduler: it loads the saved job
// list into the scheduler at startup and persists the full list back to
// disk after every RegisterJob/UnregisterJob call, so cron-tool mutations
// survive a restart alongside the config-seeded jobs.
type PersistentJobs struct {
	scheduler *Scheduler
	store     JobStore
}

// NewPersistentJobs pairs a scheduler with a job store and hooks the
// scheduler's own mutations (delete_after_run removals) so every change
// to the job set is persisted, not just register/unregister calls.
func NewPersistentJobs(scheduler *Scheduler, store JobStore) *PersistentJobs {
	p := &PersistentJobs{scheduler: scheduler, store: store}
	if scheduler != nil {
		scheduler.mu.Lock()
		scheduler.jobsChanged = func(ctx context.Context) {
			if err := p.persist(ctx); err != nil && scheduler.logger != nil {
				scheduler.logger.Warn("cron store save failed", "error", err)
			}
		}
		scheduler.mu.Unlock()
	}
	return p
}

// LoadInto registers every saved job onto the scheduler. Call once at
// startup, after any config-seeded jobs have already been registered.
func (p *PersistentJobs) LoadInto(ctx context.Context) error {
	if p == nil || p.store == nil || p.scheduler == nil {
		return nil
	}
	jobs, err := p.store.Load(ctx)
	if err != nil {
		return err
	}
	for _, cfg := range jobs {
		if _, err := p.scheduler.RegisterJob(cfg); err != nil {
			return err
		}
	}
	return nil
}

// RegisterJob registers a job on the scheduler and persists the resulting
// job list.
func (p *PersistentJobs) RegisterJob(ctx context.Context, cfg config.CronJobConfig) (*Job, error) {
	job, err := p.scheduler.RegisterJob(cfg)
	if err != nil {
		return nil, err
	}
	if err := p.persist(ctx); err != nil {
		return nil, err
	}
	return job, nil
}

// UnregisterJob removes a job from the scheduler and persists the
// resulting job list.
func (p *PersistentJobs) UnregisterJob(ctx context.Context, id string) (bool, error) {
	removed := p.scheduler.UnregisterJob(id)
	if !removed {
		return false, nil
	}
	if err := p.persist(ctx); err != nil {
		return true, err
	}
	return true, nil
}

func (p *PersistentJobs) persist(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	var configs []config.CronJobConfig
	for _, job := range p.scheduler.Jobs() {
		configs = append(configs, jobToConfig(job))
	}
	return p.store.Save(ctx, configs)
}

func jobToConfig(job *Job) config.CronJobConfig {
	cfg := config.CronJobConfig{
		ID:             job.ID,
		Name:           job.Name,
		Type:           string(job.Type),
		Enabled:        job.Enabled,
		Message:        job.Message,
		Webhook:        job.Webhook,
		Custom:         job.Custom,
		Retry:          job.Retry,
		DeleteAfterRun: job.DeleteAfterRun,
	}
	switch job.Schedule.Kind {
	case "cron":
		cfg.Schedule.Cron = job.Schedule.CronExpr
	case "every":
		cfg.Schedule.Every = job.Schedule.Every
	case "at":
		cfg.Schedule.At = job.Schedule.At.Format("2006-01-02T15:04:05Z07:00")
	}
	cfg.Schedule.Timezone = job.Schedule.Timezone
	return cfg
}
