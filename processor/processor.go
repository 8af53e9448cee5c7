// Package processor runs a Sawtooth transaction processor: it registers a
// TransactionHandler with the validator, executes process requests on a
// worker pool and sends each response back under the request's correlation id.
//
// A single dispatch goroutine owns the validator stream's receive side. It
// answers pings inline, hands process requests to the pool and interleaves
// the responses the workers queue up with further receives.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/blockchaintp/sawtooth-mttp/engine"
	"github.com/blockchaintp/sawtooth-mttp/events"
	"github.com/blockchaintp/sawtooth-mttp/network"
	"github.com/blockchaintp/sawtooth-mttp/protocol"
)

const logPrefix = "processor:processor"

// Transport is the validator connection as seen by the processor.
// *network.Stream implements it.
type Transport interface {
	Requester

	// SendBack sends a reply to a message the validator sent us.
	SendBack(messageType protocol.MessageType, correlationID string, content []byte) error

	// Receive waits up to timeout for the next validator message. It returns
	// (nil, nil) on timeout and network.ErrValidatorConnection when the
	// connection was lost.
	Receive(timeout time.Duration) (*protocol.Message, error)
}

// Config holds the processor configuration.
type Config struct {
	// MaxOccupancy is the number of concurrent transactions advertised to the validator
	MaxOccupancy int

	// Workers is the number of worker goroutines
	Workers int

	// TaskQueueSize bounds the tasks waiting for a worker (default Workers*100)
	TaskQueueSize int

	// ReceiveTimeout is how long one receive waits for a validator message
	ReceiveTimeout time.Duration

	// RegisterRetryDelay is the first wait after a failed registration attempt
	RegisterRetryDelay time.Duration

	// RegisterRetryMaxDelay caps the registration backoff
	RegisterRetryMaxDelay time.Duration

	// ShutdownTimeout is how long to wait for in-flight transactions on stop.
	// Zero stops the pool without waiting.
	ShutdownTimeout time.Duration

	// UnregisterOnStop sends TP_UNREGISTER_REQUEST before stopping
	UnregisterOnStop bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxOccupancy:          runtime.NumCPU(),
		Workers:               runtime.NumCPU(),
		ReceiveTimeout:        time.Millisecond,
		RegisterRetryDelay:    time.Second,
		RegisterRetryMaxDelay: 30 * time.Second,
	}
}

// EngineState is the lifecycle state of a Processor.
type EngineState int32

const (
	StateRegistering EngineState = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s EngineState) String() string {
	switch s {
	case StateRegistering:
		return "REGISTERING"
	case StateRunning:
		return "RUNNING"
	case StateDraining:
		return "DRAINING"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("STATE_%d", int32(s))
	}
}

// Metrics receives processor measurements. api.Metrics implements it.
type Metrics interface {
	RecordRegistration(success bool)
	RecordMessage(messageType string)
	RecordResponse(status string, latency time.Duration)
	RecordRejected()
	UpdateQueue(outstanding int64, pending int)
	UpdatePool(stats engine.PoolStats)
}

type noopMetrics struct{}

func (noopMetrics) RecordRegistration(bool) {}
func (noopMetrics) RecordMessage(string) {}
func (noopMetrics) RecordResponse(string, time.Duration) {}
func (noopMetrics) RecordRejected() {}
func (noopMetrics) UpdateQueue(int64, int) {}
func (noopMetrics) UpdatePool(engine.PoolStats) {}

// Stats contains dispatch counters.
type Stats struct {
	State       string           `json:"state"`
	Enqueued    uint64           `json:"enqueued"`
	Dequeued    uint64           `json:"dequeued"`
	Outstanding int64            `json:"outstanding"`
	Pending     int              `json:"pending"`
	Pool        engine.PoolStats `json:"pool"`
}

// Processor connects a TransactionHandler to a validator.
type Processor struct {
	handler    TransactionHandler
	transport  Transport
	config     Config
	descriptor *protocol.TpRegisterRequest

	pool  *engine.WorkerPool
	queue *ResponseQueue

	metrics   Metrics
	publisher events.Publisher

	state         atomic.Int32
	hookMu        sync.Mutex
	onStateChange func(EngineState)

	enqueued atomic.Uint64
	dequeued atomic.Uint64

	running atomic.Bool
}

// New creates a Processor for handler over transport and starts its worker
// pool. The handler's version must be a semantic version; "1.0" style
// versions are accepted.
func New(handler TransactionHandler, transport Transport, config Config) (*Processor, error) {
	if handler == nil {
		return nil, errors.New("processor: handler is required")
	}
	if transport == nil {
		return nil, errors.New("processor: transport is required")
	}
	if handler.FamilyName() == "" {
		return nil, errors.New("processor: handler family name is empty")
	}
	if _, err := semver.NewVersion(handler.Version()); err != nil {
		return nil, fmt.Errorf("processor: invalid handler version %q: %w", handler.Version(), err)
	}

	defaults := DefaultConfig()
	if config.MaxOccupancy <= 0 {
		config.MaxOccupancy = defaults.MaxOccupancy
	}
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.ReceiveTimeout <= 0 {
		config.ReceiveTimeout = defaults.ReceiveTimeout
	}
	if config.RegisterRetryDelay <= 0 {
		config.RegisterRetryDelay = defaults.RegisterRetryDelay
	}
	if config.RegisterRetryMaxDelay < config.RegisterRetryDelay {
		config.RegisterRetryMaxDelay = config.RegisterRetryDelay
	}

	p := &Processor{
		handler:   handler,
		transport: transport,
		config:    config,
		descriptor: &protocol.TpRegisterRequest{
			Family:       handler.FamilyName(),
			Version:      handler.Version(),
			Namespaces:   handler.Namespaces(),
			MaxOccupancy: uint32(config.MaxOccupancy),
		},
		pool:      engine.NewWorkerPool(handler.FamilyName(), config.Workers, config.TaskQueueSize),
		queue:     NewResponseQueue(),
		metrics:   noopMetrics{},
		publisher: &events.NoOpPublisher{},
	}
	p.state.Store(int32(StateStopped))
	return p, nil
}

// SetMetrics installs a metrics sink. Call before Run.
func (p *Processor) SetMetrics(m Metrics) {
	if m == nil {
		m = noopMetrics{}
	}
	p.metrics = m
}

// SetPublisher installs a result event publisher. Call before Run.
func (p *Processor) SetPublisher(pub events.Publisher) {
	if pub == nil {
		pub = &events.NoOpPublisher{}
	}
	p.publisher = pub
}

// OnStateChange registers fn to be called on every lifecycle transition.
func (p *Processor) OnStateChange(fn func(EngineState)) {
	p.hookMu.Lock()
	p.onStateChange = fn
	p.hookMu.Unlock()
}

// State returns the current lifecycle state.
func (p *Processor) State() EngineState {
	return EngineState(p.state.Load())
}

// Config returns the effective configuration.
func (p *Processor) Config() Config {
	return p.config
}

// GetStats returns current dispatch statistics.
func (p *Processor) GetStats() Stats {
	enqueued := p.enqueued.Load()
	dequeued := p.dequeued.Load()

	return Stats{
		State:       p.State().String(),
		Enqueued:    enqueued,
		Dequeued:    dequeued,
		Outstanding: int64(enqueued) - int64(dequeued),
		Pending:     p.queue.Len(),
		Pool:        p.pool.GetStats(),
	}
}

func (p *Processor) setState(s EngineState) {
	if EngineState(p.state.Swap(int32(s))) == s {
		return
	}
	slog.Info(fmt.Sprintf("%s - %s %s", logPrefix, p.handler.FamilyName(), s))

	p.hookMu.Lock()
	fn := p.onStateChange
	p.hookMu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// Run registers with the validator and dispatches messages until ctx is
// cancelled, then drains outstanding responses and stops the worker pool.
//
// Run returns nil after a stop requested through ctx, ctx.Err() when
// cancelled before the first registration succeeded, and the underlying error
// when registration is rejected or the transport fails for good.
func (p *Processor) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return errors.New("processor: already running")
	}

	p.setState(StateRegistering)
	if err := p.register(ctx); err != nil {
		p.pool.Shutdown()
		p.setState(StateStopped)
		return err
	}
	p.setState(StateRunning)

	err := p.dispatch(ctx)
	p.stop()
	return err
}

// dispatch is the RUNNING loop. It returns nil once ctx is cancelled.
func (p *Processor) dispatch(ctx context.Context) error {
	for ctx.Err() == nil {
		msg, err := p.transport.Receive(p.config.ReceiveTimeout)
		for msg != nil && err == nil {
			p.handle(msg)
			p.drainOne()
			msg, err = p.transport.Receive(p.config.ReceiveTimeout)
		}

		switch {
		case err == nil:
			p.drainAll()

		case errors.Is(err, network.ErrValidatorConnection):
			slog.Warn(fmt.Sprintf("%s - Connection to validator lost, re-registering", logPrefix))
			p.setState(StateRegistering)
			if err := p.register(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			p.setState(StateRunning)

		default:
			slog.Error(fmt.Sprintf("%s - Receive failed: %v", logPrefix, err))
			return err
		}
	}
	return nil
}

// stop drains outstanding responses and shuts the pool down.
func (p *Processor) stop() {
	p.setState(StateDraining)
	p.drainAll()

	if p.config.ShutdownTimeout > 0 {
		if err := p.pool.ShutdownWithTimeout(p.config.ShutdownTimeout); err != nil {
			slog.Warn(fmt.Sprintf("%s - %d transactions still running after %v", logPrefix,
				p.pool.GetStats().Active, p.config.ShutdownTimeout))
		}
		p.drainAll()
	} else {
		p.pool.Shutdown()
	}

	if p.config.UnregisterOnStop {
		timeout := p.config.ShutdownTimeout
		if timeout <= 0 {
			timeout = time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := p.Unregister(ctx); err != nil {
			slog.Warn(fmt.Sprintf("%s - Unregister failed: %v", logPrefix, err))
		}
		cancel()
	}

	stats := p.GetStats()
	slog.Info(fmt.Sprintf("%s - Stopped: enqueued=%d dequeued=%d outstanding=%d",
		logPrefix, stats.Enqueued, stats.Dequeued, stats.Outstanding))
	p.setState(StateStopped)
}

// handle classifies one inbound message.
func (p *Processor) handle(msg *protocol.Message) {
	p.metrics.RecordMessage(msg.MessageType.String())

	switch msg.MessageType {
	case protocol.MessageTypePingRequest:
		if err := p.transport.SendBack(protocol.MessageTypePingResponse, msg.CorrelationID, nil); err != nil {
			slog.Warn(fmt.Sprintf("%s - Failed to answer ping %s: %v", logPrefix, msg.CorrelationID, err))
		}

	case protocol.MessageTypeTpProcessRequest:
		p.submit(msg)

	default:
		slog.Debug(fmt.Sprintf("%s - Ignoring %v message %s", logPrefix, msg.MessageType, msg.CorrelationID))
	}
}

// submit hands a process request to the pool. When the pool is saturated the
// request is answered at once with an internal error.
func (p *Processor) submit(msg *protocol.Message) {
	receivedAt := time.Now()
	task := engine.NewTask(msg.CorrelationID, func(ctx context.Context) error {
		return p.execute(ctx, msg, receivedAt)
	})

	if err := p.pool.Submit(task); err != nil {
		slog.Warn(fmt.Sprintf("%s - Rejecting %s: %v", logPrefix, msg.CorrelationID, err))
		p.metrics.RecordRejected()
		busy := PendingResponse{
			CorrelationID: msg.CorrelationID,
			Response: &protocol.TpProcessResponse{
				Status:  protocol.ProcessStatusInternalError,
				Message: "processor busy: " + err.Error(),
			},
			ReceivedAt: receivedAt,
		}
		_ = p.queue.Put(context.Background(), busy)
	}

	enqueued := p.enqueued.Add(1)
	if enqueued%1000 == 0 {
		dequeued := p.dequeued.Load()
		slog.Debug(fmt.Sprintf("%s - enqueued=%d dequeued=%d outstanding=%d",
			logPrefix, enqueued, dequeued, int64(enqueued)-int64(dequeued)))
	}
}

// drainOne sends at most one pending response.
func (p *Processor) drainOne() bool {
	r, ok := p.queue.Poll()
	if !ok {
		return false
	}

	err := p.transport.SendBack(protocol.MessageTypeTpProcessRequest, r.CorrelationID, r.Response.Marshal())
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - Failed to send response %s: %v", logPrefix, r.CorrelationID, err))
	}

	dequeued := p.dequeued.Add(1)
	latency := time.Since(r.ReceivedAt)
	status := r.Response.Status.String()

	p.metrics.RecordResponse(status, latency)
	p.metrics.UpdateQueue(int64(p.enqueued.Load())-int64(dequeued), p.queue.Len())
	p.metrics.UpdatePool(p.pool.GetStats())

	event := &events.ResultEvent{
		Family:        p.descriptor.Family,
		Version:       p.descriptor.Version,
		CorrelationID: r.CorrelationID,
		Status:        status,
		Message:       r.Response.Message,
		Latency:       latency,
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := p.publisher.PublishResult(context.Background(), event); err != nil {
		slog.Debug(fmt.Sprintf("%s - Failed to publish result %s: %v", logPrefix, r.CorrelationID, err))
	}
	return true
}

// drainAll sends every pending response.
func (p *Processor) drainAll() {
	for p.drainOne() {
	}
}
