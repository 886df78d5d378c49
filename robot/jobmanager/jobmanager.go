// Package jobmanager schedules the background jobs of the rig that run next to the control loop.
package jobmanager

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"go.viam.com/edukit/logging"
)

// MaintenanceInterval is how often the maintenance job runs.
const MaintenanceInterval = time.Second

// JobConfig describes one scheduled job. Schedule is either a duration ("1s") or a cron
// expression ("*/5 * * * *").
type JobConfig struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
}

// Validate ensures all parts of the config are valid.
func (jc JobConfig) Validate() error {
	if jc.Name == "" {
		return errors.New("job needs a name")
	}
	if _, err := jc.definition(); err != nil {
		return err
	}
	return nil
}

func (jc JobConfig) definition() (gocron.JobDefinition, error) {
	if jc.Schedule == "" {
		return nil, errors.Errorf("job %q needs a schedule", jc.Name)
	}
	t, err := time.ParseDuration(jc.Schedule)
	if err != nil {
		return gocron.CronJob(jc.Schedule, false), nil
	}
	if t <= 0 {
		return nil, errors.Errorf("job %q needs a positive interval, got %v", jc.Name, t)
	}
	return gocron.DurationJob(t), nil
}

// A JobFunc is the body of a job. The context is cancelled on shutdown.
type JobFunc func(ctx context.Context) error

// Jobmanager runs jobs on a gocron scheduler. Each job runs in singleton mode: a run that is still
// in progress when the next one is due pushes the next one back.
type Jobmanager struct {
	scheduler gocron.Scheduler
	logger    logging.Logger

	cancelCtx  context.Context
	cancelFunc context.CancelFunc

	mu           sync.Mutex
	namesToUUIDs map[string]uuid.UUID
}

// New returns a job manager. Jobs run once Start is called.
func New(logger logging.Logger) (*Jobmanager, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	return &Jobmanager{
		scheduler:    scheduler,
		logger:       logger.Sublogger("jobs"),
		cancelCtx:    cancelCtx,
		cancelFunc:   cancelFunc,
		namesToUUIDs: make(map[string]uuid.UUID),
	}, nil
}

// AddJob schedules f under jc.Name. Names are unique.
func (jm *Jobmanager) AddJob(jc JobConfig, f JobFunc) error {
	if err := jc.Validate(); err != nil {
		return err
	}
	definition, err := jc.definition()
	if err != nil {
		return err
	}

	jm.mu.Lock()
	defer jm.mu.Unlock()
	if _, ok := jm.namesToUUIDs[jc.Name]; ok {
		return errors.Errorf("job %q already exists", jc.Name)
	}

	name := jc.Name
	j, err := jm.scheduler.NewJob(
		definition,
		gocron.NewTask(func() {
			if err := f(jm.cancelCtx); err != nil && jm.cancelCtx.Err() == nil {
				jm.logger.Warnw("job failed", "name", name, "error", err)
			}
		}),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return errors.Wrapf(err, "cannot schedule job %q", name)
	}
	jm.namesToUUIDs[name] = j.ID()
	jm.logger.Debugw("job scheduled", "name", name, "schedule", jc.Schedule, "uuid", j.ID())
	return nil
}

// RemoveJob unschedules the named job.
func (jm *Jobmanager) RemoveJob(name string) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	id, ok := jm.namesToUUIDs[name]
	if !ok {
		return errors.Errorf("no job named %q", name)
	}
	if err := jm.scheduler.RemoveJob(id); err != nil {
		return err
	}
	delete(jm.namesToUUIDs, name)
	return nil
}

// RunNow runs the named job immediately, outside its schedule.
func (jm *Jobmanager) RunNow(name string) error {
	jm.mu.Lock()
	id, ok := jm.namesToUUIDs[name]
	jm.mu.Unlock()
	if !ok {
		return errors.Errorf("no job named %q", name)
	}
	for _, j := range jm.scheduler.Jobs() {
		if j.ID() == id {
			return j.RunNow()
		}
	}
	return errors.Errorf("job %q is not scheduled", name)
}

// JobNames returns the names of the scheduled jobs, sorted.
func (jm *Jobmanager) JobNames() []string {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	names := make([]string, 0, len(jm.namesToUUIDs))
	for name := range jm.namesToUUIDs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start starts the scheduler.
func (jm *Jobmanager) Start() {
	jm.scheduler.Start()
}

// Shutdown cancels running jobs and stops the scheduler, waiting for in-flight runs.
func (jm *Jobmanager) Shutdown() error {
	jm.logger.Debug("shutting down job manager")
	jm.cancelFunc()
	return jm.scheduler.Shutdown()
}

// Maintenance returns the housekeeping job of the rig. It collects garbage outside the control
// tick so the collector never has to run in the middle of one, and reports heap usage.
func Maintenance(logger logging.Logger) JobFunc {
	var stats runtime.MemStats
	return func(ctx context.Context) error {
		runtime.GC()
		runtime.ReadMemStats(&stats)
		logger.CDebugw(ctx, "maintenance",
			"heap_alloc", units.BytesSize(float64(stats.HeapAlloc)),
			"heap_objects", stats.HeapObjects,
			"num_gc", stats.NumGC,
			"pause_total", time.Duration(stats.PauseTotalNs),
		)
		return nil
	}
}
