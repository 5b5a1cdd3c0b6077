package worker

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/guozi058/tlmc/internal/csvreplay"
	"github.com/guozi058/tlmc/internal/hasher"
	"github.com/guozi058/tlmc/internal/remap"
	"github.com/guozi058/tlmc/internal/stats"
)

const (
	defaultQueueDepth = 1000
)

// replayRequest adapts one replay record to the remap request contract.
// Scratch state is worker-local; nothing is shared across in-flight records.
type replayRequest struct {
	host    []byte
	path    []byte
	newHost []byte
}

func (r *replayRequest) Host() []byte { return r.host }
func (r *replayRequest) Path() []byte { return r.path }

func (r *replayRequest) SetHost(host []byte) error {
	r.newHost = append(r.newHost[:0], host...)
	return nil
}

// Worker represents a single worker that replays records through the engine.
type Worker struct {
	id    int
	rule  *remap.Rule // Shared, read-only after construction
	tasks chan *csvreplay.Record
	log   *zap.Logger

	// Backpressure monitoring
	backpressureEvents atomic.Int64
}

// Pool manages a pool of workers for concurrent replay.
// Records are dispatched by hostname hash, so all traffic for one host is
// processed by one worker, mirroring the cache-affinity the rewrite creates
// downstream.
type Pool struct {
	workers    []*Worker
	affinity   *hasher.Affinity
	collector  *stats.Collector
	rule       *remap.Rule
	numWorkers int
	queueDepth int
	log        *zap.Logger
	onRemap    func(*csvreplay.Record, string)
	workerWg   sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc

	// Tracking
	processed         atomic.Int64
	submitted         atomic.Int64
	totalBackpressure atomic.Int64 // Total times we hit backpressure
	maxQueueDepthSeen atomic.Int64 // Maximum queue depth observed

	// Shutdown state
	shutdownOnce sync.Once
}

// PoolConfig holds configuration for the worker pool.
type PoolConfig struct {
	NumWorkers int
	QueueDepth int
	Logger     *zap.Logger

	// OnRemap, when set, is called after each successful rewrite with the
	// record and the new hostname. Workers invoke it concurrently; it must
	// be safe for concurrent use. Used by the replay tool's print mode for
	// external hash verification.
	OnRemap func(*csvreplay.Record, string)
}

// NewPool creates a new worker pool replaying records through rule.
func NewPool(ctx context.Context, rule *remap.Rule, collector *stats.Collector, cfg PoolConfig) (*Pool, error) {
	cfg = normalizeConfig(cfg)
	ctx, cancel := context.WithCancel(ctx)

	p := &Pool{
		workers:    make([]*Worker, cfg.NumWorkers),
		affinity:   hasher.NewAffinity(cfg.NumWorkers),
		collector:  collector,
		rule:       rule,
		numWorkers: cfg.NumWorkers,
		queueDepth: cfg.QueueDepth,
		log:        cfg.Logger,
		onRemap:    cfg.OnRemap,
		ctx:        ctx,
		cancel:     cancel,
	}

	for i := 0; i < cfg.NumWorkers; i++ {
		p.workers[i] = &Worker{
			id:    i,
			rule:  rule,
			tasks: make(chan *csvreplay.Record, cfg.QueueDepth),
			log:   cfg.Logger,
		}
	}

	p.log.Info("worker pool created",
		zap.Int("workers", cfg.NumWorkers),
		zap.Int("queue_depth", cfg.QueueDepth))

	return p, nil
}

// Start begins processing with all workers
func (p *Pool) Start() {
	for _, w := range p.workers {
		p.workerWg.Add(1)
		go p.runWorker(w)
	}
}

// Submit submits a single record to its hash-affine worker.
// Uses blocking backpressure, so it will wait if the queue is full.
func (p *Pool) Submit(record *csvreplay.Record) error {
	workerID := p.affinity.WorkerID(record.Host)
	return p.submitToWorker(workerID, record)
}

// CloseQueues signals workers to stop accepting new work
func (p *Pool) CloseQueues() {
	for _, w := range p.workers {
		close(w.tasks)
	}
}

// Wait waits for all workers to complete
func (p *Pool) Wait() {
	p.workerWg.Wait()

	p.log.Debug("processing complete",
		zap.Int64("processed", p.processed.Load()),
		zap.Int64("backpressure_events", p.totalBackpressure.Load()),
		zap.Int64("max_queue_depth", p.maxQueueDepthSeen.Load()))
}

// Shutdown gracefully shuts down the pool (safe to call multiple times)
func (p *Pool) Shutdown() {
	p.shutdownOnce.Do(func() {
		p.cancel()
		p.workerWg.Wait()
	})
}

// Processed returns processed count
func (p *Pool) Processed() int64 {
	return p.processed.Load()
}

// Total returns total submitted
func (p *Pool) Total() int64 {
	return p.submitted.Load()
}

// runWorker replays records from a worker queue
func (p *Pool) runWorker(w *Worker) {
	defer p.workerWg.Done()

	// Request scratch reused across this worker's records only; a record is
	// never visible to two workers.
	req := &replayRequest{}

	for record := range w.tasks {
		req.host = append(req.host[:0], record.Host...)
		req.path = append(req.path[:0], record.Path...)
		req.newHost = req.newHost[:0]

		start := time.Now()
		res := w.rule.Remap(req)
		duration := time.Since(start)

		if res.Status == remap.Remapped {
			p.collector.RecordRemap(duration)
			if p.onRemap != nil {
				p.onRemap(record, string(res.Host))
			}
		} else {
			p.collector.RecordFallback()
			w.log.Debug("record not remapped",
				zap.Int("worker_id", w.id),
				zap.String("host", record.Host),
				zap.Int("line", record.LineNum),
				zap.Error(res.Err))
		}

		p.processed.Add(1)
	}
}

// submitToWorker sends a record to a specific worker using blocking
// backpressure:
// 1. Try non-blocking send first (fast path)
// 2. If the queue is full, silently block until space is available
// 3. All records are guaranteed to be processed (no drops)
//
// Dropping records would skew the replay statistics, and blocking naturally
// throttles the reader to match worker capacity while keeping memory bounded
// (queueDepth x numWorkers). Backpressure is tracked silently and reported
// only in final statistics.
func (p *Pool) submitToWorker(workerID int, record *csvreplay.Record) error {
	worker := p.workers[workerID]

	// Fast path: try non-blocking send first
	select {
	case <-p.ctx.Done():
		return p.ctx.Err()
	case worker.tasks <- record:
		p.submitted.Add(1)
		p.updateMaxQueueDepth(len(worker.tasks))
		return nil
	default:
		// Queue is full - will block below
	}

	p.totalBackpressure.Add(1)
	worker.backpressureEvents.Add(1)

	select {
	case <-p.ctx.Done():
		return p.ctx.Err()
	case worker.tasks <- record:
		p.submitted.Add(1)
		p.updateMaxQueueDepth(len(worker.tasks))
		return nil
	}
}

// updateMaxQueueDepth atomically updates the maximum queue depth seen
func (p *Pool) updateMaxQueueDepth(currentDepth int) {
	for {
		old := p.maxQueueDepthSeen.Load()
		if int64(currentDepth) <= old {
			break
		}
		if p.maxQueueDepthSeen.CompareAndSwap(old, int64(currentDepth)) {
			break
		}
	}
}

// normalizeConfig ensures all config values are valid
func normalizeConfig(cfg PoolConfig) PoolConfig {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = runtime.NumCPU()
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaultQueueDepth
	}
	if cfg.Logger == nil {
		cfg.Logger, _ = zap.NewDevelopment()
	}
	return cfg
}
