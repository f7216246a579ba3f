package siem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/apiwarden/apiwarden/pkg/infra/prometheus"
	"github.com/apiwarden/apiwarden/pkg/threat"
)

type Config struct {
	QueueCapacity   int `mapstructure:"queue_capacity"`
	BatchSize       int `mapstructure:"batch_size"`
	FlushIntervalMs int `mapstructure:"flush_interval_ms"`
	RetryAttempts   int `mapstructure:"retry_attempts"`
	RetryDelayMs    int `mapstructure:"retry_delay_ms"`
	DeliveryTimeout int `mapstructure:"delivery_timeout_seconds"`
}

func DefaultConfig() Config {
	return Config{
		QueueCapacity:   1000,
		BatchSize:       50,
		FlushIntervalMs: 5000,
		RetryAttempts:   3,
		RetryDelayMs:    100,
		DeliveryTimeout: 10,
	}
}

func (c Config) validate() error {
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("queue_capacity must be positive, got %d", c.QueueCapacity)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.BatchSize > c.QueueCapacity {
		return fmt.Errorf("batch_size %d exceeds queue_capacity %d", c.BatchSize, c.QueueCapacity)
	}
	if c.FlushIntervalMs <= 0 {
		return fmt.Errorf("flush_interval_ms must be positive, got %d", c.FlushIntervalMs)
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("retry_attempts must be at least 1, got %d", c.RetryAttempts)
	}
	return nil
}

type registeredSink struct {
	sink    Sink
	filters []Filter
}

// Dispatcher ships security events to sinks off the request path. The
// queue is capacity-bounded and drops the oldest event on overflow; a
// background worker flushes when a batch fills or the ticker fires,
// whichever comes first. Delivery is best-effort at-most-once with a
// bounded number of attempts per sink.
type Dispatcher struct {
	config  Config
	logger  *logrus.Logger
	metrics *prometheus.Metrics

	mu    sync.Mutex
	queue []SecurityEvent
	sinks []registeredSink

	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	closeOnce sync.Once
}

func NewDispatcher(config Config, logger *logrus.Logger, metrics *prometheus.Metrics) (*Dispatcher, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	d := &Dispatcher{
		config:  config,
		logger:  logger,
		metrics: metrics,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go d.run()
	return d, nil
}

// AddSink registers a sink with its routing filters. Invalid filters are
// rejected before the sink is registered.
func (d *Dispatcher) AddSink(sink Sink, filters ...Filter) error {
	for _, filter := range filters {
		if err := filter.validate(); err != nil {
			return err
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, registeredSink{sink: sink, filters: filters})
	return nil
}

// Enqueue accepts one analysis outcome. It never blocks: when the queue is
// full the oldest event is dropped to make room.
func (d *Dispatcher) Enqueue(req threat.RequestContext, overall threat.Score, actions []threat.Action) {
	event := NewSecurityEvent(req, overall, actions)

	d.mu.Lock()
	if len(d.queue) >= d.config.QueueCapacity {
		d.queue = d.queue[1:]
		if d.metrics != nil {
			d.metrics.SiemEventsDropped.Inc()
		}
		d.logger.WithField("capacity", d.config.QueueCapacity).
			Debug("siem queue full, dropped oldest event")
	}
	d.queue = append(d.queue, event)
	full := len(d.queue) >= d.config.BatchSize
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.SiemEventsQueued.Inc()
	}
	if full {
		select {
		case d.wake <- struct{}{}:
		default:
		}
	}
}

// QueueDepth reports the number of events waiting for delivery.
func (d *Dispatcher) QueueDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Close flushes everything still queued and shuts down sinks.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.stop)
		<-d.done

		d.mu.Lock()
		sinks := d.sinks
		d.mu.Unlock()
		for _, registered := range sinks {
			registered.sink.Close()
		}
	})
}

func (d *Dispatcher) run() {
	defer close(d.done)

	ticker := time.NewTicker(time.Duration(d.config.FlushIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			for d.flush() {
			}
			return
		case <-ticker.C:
			d.flush()
		case <-d.wake:
			d.flush()
		}
	}
}

// flush delivers one batch and reports whether events remain queued.
func (d *Dispatcher) flush() bool {
	d.mu.Lock()
	if len(d.queue) == 0 || len(d.sinks) == 0 {
		d.mu.Unlock()
		return false
	}
	n := len(d.queue)
	if n > d.config.BatchSize {
		n = d.config.BatchSize
	}
	batch := make([]SecurityEvent, n)
	copy(batch, d.queue[:n])
	d.queue = d.queue[n:]
	remaining := len(d.queue) > 0
	sinks := d.sinks
	d.mu.Unlock()

	for _, registered := range sinks {
		d.deliverToSink(registered, batch)
	}
	return remaining
}

func (d *Dispatcher) deliverToSink(registered registeredSink, batch []SecurityEvent) {
	matched := make([]SecurityEvent, 0, len(batch))
	for _, event := range batch {
		if matchesAll(event, registered.filters) {
			matched = append(matched, event)
		}
	}
	if len(matched) == 0 {
		return
	}

	var err error
	for attempt := 1; attempt <= d.config.RetryAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(),
			time.Duration(d.config.DeliveryTimeout)*time.Second)
		err = registered.sink.Deliver(ctx, matched)
		cancel()
		if err == nil {
			return
		}
		if attempt < d.config.RetryAttempts {
			time.Sleep(time.Duration(d.config.RetryDelayMs) * time.Millisecond)
		}
	}

	if d.metrics != nil {
		d.metrics.SiemSinkFailures.WithLabelValues(registered.sink.Name()).Inc()
	}
	d.logger.WithError(err).WithFields(logrus.Fields{
		"sink":   registered.sink.Name(),
		"events": len(matched),
	}).Error("siem sink delivery failed, events lost")
}
