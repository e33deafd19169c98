// Package scheduler dispatches queued jobs to sequencer workers.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/Marksio90/narraforge/internal/executor"
	"github.com/Marksio90/narraforge/internal/models"
	"github.com/Marksio90/narraforge/internal/pipeline"
	"github.com/Marksio90/narraforge/internal/store"
	"github.com/google/uuid"
)

// Config defines the scheduler configuration.
type Config struct {
	// GlobalMax is the maximum number of jobs running concurrently.
	GlobalMax int `yaml:"global_max"`
	// PollInterval is how often the queue is checked for work.
	PollInterval time.Duration `yaml:"poll_interval"`
	// LeaseTTLSec is the job lease lifetime; a worker renews its lease
	// at each heartbeat and the lease dies with a crashed process.
	LeaseTTLSec int `yaml:"lease_ttl_sec"`
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		GlobalMax:    4,
		PollInterval: 1 * time.Second,
		LeaseTTLSec:  300,
	}
}

// Scheduler polls for queued jobs, claims them with a lease, and runs each
// one's sequencer loop on its own goroutine. Jobs never share mutable
// state beyond the store.
type Scheduler struct {
	store   *store.Store
	exec    executor.Executor
	seqOpts pipeline.Options
	config  Config

	mu            sync.Mutex
	activeWorkers int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new scheduler.
func New(s *store.Store, exec executor.Executor, seqOpts pipeline.Options, cfg Config) *Scheduler {
	if cfg.GlobalMax <= 0 {
		cfg.GlobalMax = DefaultConfig().GlobalMax
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.LeaseTTLSec <= 0 {
		cfg.LeaseTTLSec = DefaultConfig().LeaseTTLSec
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:   s,
		exec:    exec,
		seqOpts: seqOpts,
		config:  cfg,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins the scheduler loop.
func (sch *Scheduler) Start() {
	sch.wg.Add(1)
	go sch.schedulerLoop()
	log.Println("Scheduler started")
}

// Stop gracefully stops the scheduler and waits for in-flight workers.
func (sch *Scheduler) Stop() {
	sch.cancel()
	sch.wg.Wait()
	log.Println("Scheduler stopped")
}

func (sch *Scheduler) schedulerLoop() {
	defer sch.wg.Done()

	ticker := time.NewTicker(sch.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sch.ctx.Done():
			return
		case <-ticker.C:
			sch.pollAndDispatch()
		}
	}
}

// pollAndDispatch claims at most one queued job per tick and hands it to a
// worker goroutine.
func (sch *Scheduler) pollAndDispatch() {
	sch.mu.Lock()
	if sch.activeWorkers >= sch.config.GlobalMax {
		sch.mu.Unlock()
		return
	}
	sch.mu.Unlock()

	workerID := uuid.New().String()
	claim, err := sch.store.ClaimQueuedJob(workerID, sch.config.LeaseTTLSec)
	if err != nil {
		log.Printf("Error claiming job: %v", err)
		return
	}
	if claim == nil {
		// No queued jobs
		return
	}

	log.Printf("Dispatched job %s to worker %s", claim.Job.ID, workerID)

	sch.mu.Lock()
	sch.activeWorkers++
	sch.mu.Unlock()

	sch.wg.Add(1)
	go sch.runWorker(claim.Job, claim.Lease, workerID)
}

// runWorker drives one job's sequencer to a terminal state while keeping
// the job lease alive.
func (sch *Scheduler) runWorker(job *models.Job, lease *models.JobLease, workerID string) {
	defer sch.wg.Done()
	defer func() {
		sch.mu.Lock()
		sch.activeWorkers--
		sch.mu.Unlock()
	}()
	// The lease must outlive the run, then always be released so the job
	// is never permanently claimed.
	defer func() {
		if err := sch.store.ReleaseJobLease(lease.ID); err != nil {
			log.Printf("Error releasing lease: %v", err)
		}
	}()

	heartbeat := time.Duration(lease.TTLSec) * time.Second / 3
	if heartbeat < time.Second {
		heartbeat = time.Second
	}
	hbCtx, hbCancel := context.WithCancel(sch.ctx)
	defer hbCancel()
	go sch.heartbeatLoop(hbCtx, lease, heartbeat)

	seq := pipeline.NewSequencer(sch.store, sch.exec, sch.seqOpts)
	if _, err := seq.Run(sch.ctx, job.ID); err != nil {
		log.Printf("Worker %s: job %s ended: %v", workerID, job.ID, err)
		return
	}
	log.Printf("Worker %s finished job %s", workerID, job.ID)
}

func (sch *Scheduler) heartbeatLoop(ctx context.Context, lease *models.JobLease, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sch.store.RenewJobLease(lease.ID, lease.TTLSec); err != nil {
				log.Printf("Error renewing lease %s: %v", lease.ID, err)
			}
		}
	}
}

// Stats returns current scheduler statistics.
func (sch *Scheduler) Stats() map[string]interface{} {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	return map[string]interface{}{
		"active_workers": sch.activeWorkers,
		"global_max":     sch.config.GlobalMax,
	}
}
