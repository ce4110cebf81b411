// Package coordinator owns the device registry and the collection loop: it
// dispatches collectors on a worker pool, accumulates points in a bounded
// in-memory ring, and flushes them to the storage engine in batches.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/netwatch-io/netwatch/internal/collectors"
	nwerrors "github.com/netwatch-io/netwatch/internal/errors"
	"github.com/netwatch-io/netwatch/internal/models"
	"github.com/netwatch-io/netwatch/internal/storage"
	"github.com/rs/zerolog/log"
)

// Sink receives flushed point batches. The storage engine satisfies it.
type Sink interface {
	Store(ctx context.Context, points []models.MetricPoint) storage.StoreResult
}

// Config holds coordinator tunables.
type Config struct {
	MaxWorkers         int           // worker pool size
	CollectionInterval time.Duration // global tick between scheduling passes
	FlushInterval      time.Duration // max time between flushes
	BatchSize          int           // points per flush batch
	BufferHighWater    int           // ring capacity; 0 means 100 x device count at Start
	DrainTimeout       time.Duration // how long Stop waits for outstanding tasks
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:         10,
		CollectionInterval: 30 * time.Second,
		FlushInterval:      30 * time.Second,
		BatchSize:          1000,
		DrainTimeout:       10 * time.Second,
	}
}

type task struct {
	device    models.Device
	collector collectors.Collector
}

// Coordinator runs the collection loop.
type Coordinator struct {
	cfg     Config
	sink    Sink
	deps    collectors.Deps
	metrics *PipelineMetrics

	mu          sync.Mutex
	devices     map[string]models.Device
	instances   map[string]collectors.Collector
	lastAttempt map[string]time.Time
	skipped     map[string]bool // permanent collection errors until reconfigured

	buffer  *Ring[models.MetricPoint]
	tasks   chan task
	flushCh chan struct{}

	inflight sync.WaitGroup
	workers  sync.WaitGroup
	loopDone chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	started  bool
}

// New creates a coordinator flushing into sink. Collector dependencies are
// shared across all devices.
func New(cfg Config, sink Sink, deps collectors.Deps, metrics *PipelineMetrics) *Coordinator {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 10
	}
	if cfg.CollectionInterval <= 0 {
		cfg.CollectionInterval = 30 * time.Second
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 10 * time.Second
	}
	if metrics == nil {
		metrics = NewPipelineMetrics()
	}
	return &Coordinator{
		cfg:         cfg,
		sink:        sink,
		deps:        deps,
		metrics:     metrics,
		devices:     make(map[string]models.Device),
		instances:   make(map[string]collectors.Collector),
		lastAttempt: make(map[string]time.Time),
		skipped:     make(map[string]bool),
		tasks:       make(chan task, cfg.MaxWorkers*2),
		flushCh:     make(chan struct{}, 1),
		loopDone:    make(chan struct{}),
		stopCh:      make(chan struct{}),
	}
}

// UpsertDevice adds or replaces a device in the registry. Reconfiguring a
// device clears any permanent-error skip.
func (c *Coordinator) UpsertDevice(device models.Device) error {
	if device.ID == "" {
		return fmt.Errorf("device id must not be empty")
	}
	if !device.Kind.Valid() {
		return fmt.Errorf("unknown device kind %q", device.Kind)
	}
	col, err := collectors.New(device, c.deps)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.devices[device.ID] = device
	c.instances[device.ID] = col
	delete(c.skipped, device.ID)
	return nil
}

// RemoveDevice drops a device from the registry.
func (c *Coordinator) RemoveDevice(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.devices, id)
	delete(c.instances, id)
	delete(c.lastAttempt, id)
	delete(c.skipped, id)
}

// Devices returns a snapshot of the registry.
func (c *Coordinator) Devices() []models.Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Device, 0, len(c.devices))
	for _, d := range c.devices {
		out = append(out, d)
	}
	return out
}

// Start launches the worker pool and the scheduling loop.
func (c *Coordinator) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	if c.buffer == nil {
		highWater := c.cfg.BufferHighWater
		if highWater <= 0 {
			highWater = 100 * max(len(c.devices), 1)
		}
		c.buffer = NewRing[models.MetricPoint](highWater)
	}
	c.mu.Unlock()

	for i := 0; i < c.cfg.MaxWorkers; i++ {
		c.workers.Add(1)
		go c.worker(i)
	}
	go c.loop()

	log.Info().
		Int("workers", c.cfg.MaxWorkers).
		Dur("tick", c.cfg.CollectionInterval).
		Msg("Collection coordinator started")
}

// Stop shuts the coordinator down: no new tasks are scheduled, outstanding
// tasks are drained up to DrainTimeout, and remaining buffered points are
// offered to the sink best effort.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	<-c.loopDone

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(c.cfg.DrainTimeout):
		log.Warn().Dur("timeout", c.cfg.DrainTimeout).Msg("Abandoning outstanding collection tasks")
	}

	close(c.tasks)
	c.workers.Wait()

	// Final best-effort flush of whatever made it into the buffer.
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DrainTimeout)
	defer cancel()
	for c.buffer.Len() > 0 {
		if !c.flushOnce(ctx) {
			break
		}
	}
	log.Info().Msg("Collection coordinator stopped")
}

// loop wakes on the global tick, schedules due devices, and flushes on the
// timer or on demand when the buffer crosses the batch size.
func (c *Coordinator) loop() {
	defer close(c.loopDone)

	tick := time.NewTicker(c.cfg.CollectionInterval)
	flush := time.NewTicker(c.cfg.FlushInterval)
	defer tick.Stop()
	defer flush.Stop()

	// Schedule immediately on start rather than waiting a full tick.
	c.scheduleDue(time.Now())

	for {
		select {
		case <-c.stopCh:
			return
		case now := <-tick.C:
			c.scheduleDue(now)
		case <-flush.C:
			c.flushOnce(context.Background())
		case <-c.flushCh:
			c.flushOnce(context.Background())
		}
	}
}

// scheduleDue submits a collection task for every device whose next-due
// time has arrived. Next-due is last attempt plus the device's own poll
// interval, regardless of the attempt's outcome.
func (c *Coordinator) scheduleDue(now time.Time) {
	c.mu.Lock()
	var due []task
	for id, device := range c.devices {
		if c.skipped[id] {
			continue
		}
		interval := device.PollInterval
		if interval <= 0 {
			interval = c.cfg.CollectionInterval
		}
		if last, ok := c.lastAttempt[id]; ok && now.Sub(last) < interval {
			continue
		}
		c.lastAttempt[id] = now
		due = append(due, task{device: device, collector: c.instances[id]})
	}
	c.mu.Unlock()

	for _, t := range due {
		c.inflight.Add(1)
		select {
		case c.tasks <- t:
		default:
			// Pool saturated; the device stays due and the next tick retries.
			c.inflight.Done()
			c.mu.Lock()
			delete(c.lastAttempt, t.device.ID)
			c.mu.Unlock()
			log.Warn().Str("device", t.device.ID).Msg("Worker pool saturated, deferring collection")
		}
	}
}

func (c *Coordinator) worker(id int) {
	defer c.workers.Done()
	for t := range c.tasks {
		c.runTask(t)
		c.inflight.Done()
	}
	log.Debug().Int("worker", id).Msg("Collection worker stopped")
}

// runTask executes one collection under the hard per-task deadline and
// appends the results to the buffer.
func (c *Coordinator) runTask(t task) {
	ctx, cancel := context.WithTimeout(context.Background(), collectors.CollectTimeout)
	defer cancel()

	points, err := t.collector.Collect(ctx)
	if err != nil {
		kind := nwerrors.KindOf(err)
		c.metrics.collectErrors.WithLabelValues(string(kind)).Inc()
		if !nwerrors.IsRetryable(err) {
			c.mu.Lock()
			c.skipped[t.device.ID] = true
			c.mu.Unlock()
			log.Error().Err(err).Str("device", t.device.ID).
				Msg("Permanent collection error, skipping device until reconfiguration")
			return
		}
		points = append(points, syntheticErrorPoint(t.device, err))
	} else if ctx.Err() == context.DeadlineExceeded {
		c.metrics.collectErrors.WithLabelValues(string(nwerrors.KindTimeout)).Inc()
		points = append(points, syntheticErrorPoint(t.device,
			nwerrors.New(nwerrors.KindTimeout, "collect", t.device.ID, ctx.Err())))
	}

	if len(points) == 0 {
		return
	}
	c.metrics.pointsCollected.WithLabelValues(string(t.device.Kind)).Add(float64(len(points)))

	if dropped := c.buffer.Push(points...); dropped > 0 {
		c.metrics.pointsDropped.Add(float64(dropped))
		log.Warn().Int("dropped", dropped).Str("device", t.device.ID).
			Msg("Point buffer over high-water mark, evicted oldest points")
	}
	c.metrics.bufferDepth.Set(float64(c.buffer.Len()))

	if c.buffer.Len() >= c.cfg.BatchSize {
		select {
		case c.flushCh <- struct{}{}:
		default:
		}
	}
}

// flushOnce hands one batch to the sink. On a total write failure the batch
// is pushed back so the next flush retries, capacity permitting. Returns
// whether progress was made.
func (c *Coordinator) flushOnce(ctx context.Context) bool {
	batch := c.buffer.PopBatch(c.cfg.BatchSize)
	if len(batch) == 0 {
		return false
	}

	result := c.sink.Store(ctx, batch)
	c.metrics.bufferDepth.Set(float64(c.buffer.Len()))

	if result.Stored == 0 && result.Total > 0 {
		c.metrics.flushErrors.Inc()
		c.buffer.Push(batch...)
		log.Error().Int("points", result.Total).Msg("Storage rejected batch, keeping points for next flush")
		return false
	}

	c.metrics.batchesFlushed.Inc()
	log.Debug().Int("stored", result.Stored).Int("errors", result.Errors).
		Msg("Flushed point batch")
	return true
}

func syntheticErrorPoint(device models.Device, err error) models.MetricPoint {
	return models.MetricPoint{
		DeviceID:   device.ID,
		DeviceName: device.Name,
		DeviceKind: device.Kind,
		Family:     models.FamilyConnectivity,
		Name:       "collection_error",
		Value:      models.StringValue(err.Error()),
		Timestamp:  time.Now(),
		Metadata:   map[string]string{"error_kind": string(nwerrors.KindOf(err))},
	}
}
