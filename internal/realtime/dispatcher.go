package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/angelmondragon/evrent-backend/pkg/logger"
	"github.com/angelmondragon/evrent-backend/pkg/metrics"
)

const (
	defaultBufferSize = 1024
	defaultWorkers    = 4
	deliverTimeout    = 5 * time.Second
)

// Notifier is the surface domain services use after their transaction commits.
type Notifier interface {
	Notify(ctx context.Context, event Event, group Group, payload any)
}

// Sink receives messages from the dispatcher workers.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, msg Message) error
}

// DispatcherParams configures a Dispatcher.
type DispatcherParams struct {
	BufferSize int
	Workers    int
	Sinks      []Sink
	Logger     *logger.Logger
	Metrics    *metrics.FlowMetrics
}

// Dispatcher queues notifications and delivers them off the caller's goroutine.
// A full queue drops the message.
type Dispatcher struct {
	queue   chan Message
	workers int
	sinks   []Sink
	logg    *logger.Logger
	metrics *metrics.FlowMetrics

	startOnce sync.Once
	wg        sync.WaitGroup
}

// NewDispatcher validates params and allocates the queue. Call Start to begin delivery.
func NewDispatcher(params DispatcherParams) (*Dispatcher, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if len(params.Sinks) == 0 {
		return nil, errors.New("at least one sink is required")
	}
	size := params.BufferSize
	if size <= 0 {
		size = defaultBufferSize
	}
	workers := params.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Dispatcher{
		queue:   make(chan Message, size),
		workers: workers,
		sinks:   params.Sinks,
		logg:    params.Logger,
		metrics: params.Metrics,
	}, nil
}

// Start launches the workers. They exit when ctx is done.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go d.run(ctx)
		}
	})
}

// Wait blocks until every worker has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Notify enqueues without blocking. Marshal failures and a full queue are logged and swallowed.
func (d *Dispatcher) Notify(ctx context.Context, event Event, group Group, payload any) {
	if d == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		d.logg.Error(d.logg.WithField(ctx, "event", string(event)), "realtime payload marshal failed", err)
		return
	}
	msg := Message{Event: event, Group: group, Payload: raw, SentAt: time.Now().UTC()}

	select {
	case d.queue <- msg:
	default:
		d.metrics.IncRealtimeDropped()
		d.logg.Warn(d.logg.WithFields(ctx, map[string]any{
			"event": string(event),
			"group": string(group),
		}), "realtime queue full, message dropped")
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-d.queue:
			d.deliver(ctx, msg)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) {
	for _, sink := range d.sinks {
		sendCtx, cancel := context.WithTimeout(ctx, deliverTimeout)
		err := sink.Deliver(sendCtx, msg)
		cancel()
		if err != nil {
			d.logg.Error(d.logg.WithFields(ctx, map[string]any{
				"sink":  sink.Name(),
				"event": string(msg.Event),
				"group": string(msg.Group),
			}), "realtime delivery failed", err)
			continue
		}
		d.metrics.IncRealtimeDelivered(sink.Name())
	}
}
