package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blockchaintp/sawtooth-mttp/events"
	"github.com/blockchaintp/sawtooth-mttp/network"
	"github.com/blockchaintp/sawtooth-mttp/protocol"
)

// fakeTransport plays the validator side of the stream in memory.
type fakeTransport struct {
	inbound chan *protocol.Message
	lost    chan struct{}
	replies chan *protocol.Message

	mu                     sync.Mutex
	nextID                 int
	registerFailures       int
	registerStatus         protocol.RegisterStatus
	registerAttempts       int
	receiveCalls           int
	receivesAtRegistration int
	unregistered           bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound:        make(chan *protocol.Message, 1000),
		lost:           make(chan struct{}, 1),
		replies:        make(chan *protocol.Message, 1000),
		registerStatus: protocol.RegisterStatusOK,
	}
}

func (f *fakeTransport) Send(ctx context.Context, messageType protocol.MessageType, content []byte) (*network.Future, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	future := network.NewFuture(fmt.Sprintf("req-%d", f.nextID))

	switch messageType {
	case protocol.MessageTypeTpRegisterRequest:
		f.registerAttempts++
		if f.registerAttempts <= f.registerFailures {
			return nil, fmt.Errorf("%w: connection refused", network.ErrValidatorConnection)
		}
		f.receivesAtRegistration = f.receiveCalls
		resp := &protocol.TpRegisterResponse{Status: f.registerStatus}
		future.Resolve(&protocol.Message{
			MessageType:   protocol.MessageTypeTpRegisterResponse,
			CorrelationID: future.CorrelationID(),
			Content:       resp.Marshal(),
		})

	case protocol.MessageTypeTpUnregisterRequest:
		f.unregistered = true
		resp := &protocol.TpUnregisterResponse{Status: protocol.RegisterStatusOK}
		future.Resolve(&protocol.Message{
			MessageType:   protocol.MessageTypeTpUnregisterResponse,
			CorrelationID: future.CorrelationID(),
			Content:       resp.Marshal(),
		})

	default:
		future.Fail(network.ErrValidatorConnection)
	}
	return future, nil
}

func (f *fakeTransport) SendBack(messageType protocol.MessageType, correlationID string, content []byte) error {
	f.replies <- &protocol.Message{MessageType: messageType, CorrelationID: correlationID, Content: content}
	return nil
}

func (f *fakeTransport) Receive(timeout time.Duration) (*protocol.Message, error) {
	f.mu.Lock()
	f.receiveCalls++
	f.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-f.inbound:
		return msg, nil
	case <-f.lost:
		return nil, network.ErrValidatorConnection
	case <-timer.C:
		return nil, nil
	}
}

func (f *fakeTransport) attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registerAttempts
}

// scriptedHandler dispatches on the payload text.
type scriptedHandler struct {
	apply func(ctx context.Context, req *protocol.TpProcessRequest, state State) error
}

func (h *scriptedHandler) FamilyName() string   { return "test" }
func (h *scriptedHandler) Version() string      { return "1.0" }
func (h *scriptedHandler) Namespaces() []string { return []string{"abcdef"} }

func (h *scriptedHandler) Apply(ctx context.Context, req *protocol.TpProcessRequest, state State) error {
	return h.apply(ctx, req, state)
}

func processRequest(correlationID, payload string) *protocol.Message {
	req := &protocol.TpProcessRequest{
		Header:    &protocol.TransactionHeader{FamilyName: "test", FamilyVersion: "1.0"},
		Payload:   []byte(payload),
		ContextID: "ctx-" + correlationID,
	}
	return &protocol.Message{
		MessageType:   protocol.MessageTypeTpProcessRequest,
		CorrelationID: correlationID,
		Content:       req.Marshal(),
	}
}

func testConfig(workers int) Config {
	config := DefaultConfig()
	config.Workers = workers
	config.RegisterRetryDelay = time.Millisecond
	config.RegisterRetryMaxDelay = 4 * time.Millisecond
	return config
}

// startProcessor runs p until the test ends.
func startProcessor(t *testing.T, p *Processor) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	stopped := make(chan struct{})
	go func() {
		done <- p.Run(ctx)
		close(stopped)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			t.Error("Processor did not stop")
		}
	})
	return cancel, done
}

func awaitReply(t *testing.T, f *fakeTransport) *protocol.Message {
	t.Helper()
	select {
	case msg := <-f.replies:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout waiting for reply")
		return nil
	}
}

func decodeResponse(t *testing.T, msg *protocol.Message) protocol.TpProcessResponse {
	t.Helper()
	if msg.MessageType != protocol.MessageTypeTpProcessRequest {
		t.Fatalf("Expected reply type TP_PROCESS_REQUEST, got %v", msg.MessageType)
	}
	var resp protocol.TpProcessResponse
	if err := resp.Unmarshal(msg.Content); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp
}

func TestNewValidatesHandler(t *testing.T) {
	transport := newFakeTransport()

	if _, err := New(nil, transport, DefaultConfig()); err == nil {
		t.Error("Expected error for nil handler")
	}

	p, err := New(&scriptedHandler{}, transport, Config{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if p.Config().Workers <= 0 || p.Config().MaxOccupancy <= 0 {
		t.Errorf("Expected defaults to be applied, got %+v", p.Config())
	}
	if p.State() != StateStopped {
		t.Errorf("Expected STOPPED before Run, got %v", p.State())
	}
}

type versionHandler struct {
	scriptedHandler
	version string
}

func (h *versionHandler) Version() string { return h.version }

func TestNewRejectsInvalidVersion(t *testing.T) {
	_, err := New(&versionHandler{version: "one"}, newFakeTransport(), DefaultConfig())
	if err == nil {
		t.Error("Expected error for non-semantic version")
	}

	if _, err := New(&versionHandler{version: "1.2.3"}, newFakeTransport(), DefaultConfig()); err != nil {
		t.Errorf("Expected 1.2.3 to be accepted, got %v", err)
	}
}

func TestRegistrationDescriptor(t *testing.T) {
	config := testConfig(2)
	config.MaxOccupancy = 7
	p, err := New(&scriptedHandler{}, newFakeTransport(), config)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	var desc protocol.TpRegisterRequest
	if err := desc.Unmarshal(p.descriptor.Marshal()); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if desc.Family != "test" || desc.Version != "1.0" {
		t.Errorf("Expected test 1.0, got %s %s", desc.Family, desc.Version)
	}
	if len(desc.Namespaces) != 1 || desc.Namespaces[0] != "abcdef" {
		t.Errorf("Expected namespaces [abcdef], got %v", desc.Namespaces)
	}
	if desc.MaxOccupancy != 7 {
		t.Errorf("Expected max occupancy 7, got %d", desc.MaxOccupancy)
	}
}

func TestPingAnsweredWhileWorkersBusy(t *testing.T) {
	transport := newFakeTransport()
	release := make(chan struct{})
	started := make(chan struct{})

	handler := &scriptedHandler{apply: func(ctx context.Context, req *protocol.TpProcessRequest, state State) error {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}}

	p, err := New(handler, transport, testConfig(1))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	startProcessor(t, p)

	transport.inbound <- processRequest("c0", "slow")
	<-started
	transport.inbound <- &protocol.Message{MessageType: protocol.MessageTypePingRequest, CorrelationID: "ping-1"}

	reply := awaitReply(t, transport)
	if reply.MessageType != protocol.MessageTypePingResponse {
		t.Fatalf("Expected PING_RESPONSE first, got %v", reply.MessageType)
	}
	if reply.CorrelationID != "ping-1" {
		t.Errorf("Expected correlation id 'ping-1', got %s", reply.CorrelationID)
	}
	if len(reply.Content) != 0 {
		t.Errorf("Expected empty ping response, got %d bytes", len(reply.Content))
	}

	close(release)
	resp := awaitReply(t, transport)
	if resp.CorrelationID != "c0" {
		t.Errorf("Expected c0 after release, got %s", resp.CorrelationID)
	}
}

func TestCorrelationIntegrity(t *testing.T) {
	transport := newFakeTransport()
	handler := &scriptedHandler{apply: func(ctx context.Context, req *protocol.TpProcessRequest, state State) error {
		if strings.HasSuffix(string(req.Payload), "odd") {
			return NewInvalidTransactionError("%s", req.ContextID)
		}
		return nil
	}}

	p, err := New(handler, transport, testConfig(4))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	startProcessor(t, p)

	n := 50
	for i := 0; i < n; i++ {
		payload := "even"
		if i%2 == 1 {
			payload = "odd"
		}
		transport.inbound <- processRequest(fmt.Sprintf("c%d", i), payload)
	}

	seen := make(map[string]bool)
	for i := 0; i < n; i++ {
		reply := awaitReply(t, transport)
		resp := decodeResponse(t, reply)

		if seen[reply.CorrelationID] {
			t.Errorf("Duplicate response for %s", reply.CorrelationID)
		}
		seen[reply.CorrelationID] = true

		var idx int
		fmt.Sscanf(reply.CorrelationID, "c%d", &idx)
		if idx%2 == 1 {
			if resp.Status != protocol.ProcessStatusInvalidTransaction {
				t.Errorf("%s: expected INVALID_TRANSACTION, got %v", reply.CorrelationID, resp.Status)
			}
			if resp.Message != "ctx-"+reply.CorrelationID {
				t.Errorf("%s: response carries message %q of another request", reply.CorrelationID, resp.Message)
			}
		} else if resp.Status != protocol.ProcessStatusOK {
			t.Errorf("%s: expected OK, got %v", reply.CorrelationID, resp.Status)
		}
	}
	if len(seen) != n {
		t.Errorf("Expected %d distinct responses, got %d", n, len(seen))
	}
}

func TestStatusMapping(t *testing.T) {
	transport := newFakeTransport()
	handler := &scriptedHandler{apply: func(ctx context.Context, req *protocol.TpProcessRequest, state State) error {
		switch string(req.Payload) {
		case "ok":
			return nil
		case "invalid":
			return &InvalidTransactionError{Message: "bad", ExtendedData: []byte{0xaa}}
		case "internal":
			return &InternalError{Message: "broken"}
		case "wrapped":
			return fmt.Errorf("apply: %w", &InvalidTransactionError{Message: "wrapped bad"})
		case "plain":
			return errors.New("unexpected")
		case "panic":
			panic("kaboom")
		case "state":
			_, err := state.GetState(ctx, []string{"abcdef00"})
			return err
		}
		return nil
	}}

	p, err := New(handler, transport, testConfig(2))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	startProcessor(t, p)

	tests := []struct {
		payload string
		status  protocol.ProcessStatus
		message string
	}{
		{"ok", protocol.ProcessStatusOK, ""},
		{"invalid", protocol.ProcessStatusInvalidTransaction, "bad"},
		{"internal", protocol.ProcessStatusInternalError, "broken"},
		{"wrapped", protocol.ProcessStatusInvalidTransaction, "wrapped bad"},
		{"plain", protocol.ProcessStatusInternalError, "unexpected"},
		{"panic", protocol.ProcessStatusInternalError, "handler panic: kaboom"},
		{"state", protocol.ProcessStatusInternalError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			transport.inbound <- processRequest(tt.payload, tt.payload)
			reply := awaitReply(t, transport)
			if reply.CorrelationID != tt.payload {
				t.Fatalf("Expected correlation id %s, got %s", tt.payload, reply.CorrelationID)
			}

			resp := decodeResponse(t, reply)
			if resp.Status != tt.status {
				t.Errorf("Expected %v, got %v", tt.status, resp.Status)
			}
			if tt.message != "" && resp.Message != tt.message {
				t.Errorf("Expected message %q, got %q", tt.message, resp.Message)
			}
			if tt.status == protocol.ProcessStatusInternalError && resp.Message == "" {
				t.Error("Internal error responses must carry a message")
			}
			if tt.payload == "invalid" && (len(resp.ExtendedData) != 1 || resp.ExtendedData[0] != 0xaa) {
				t.Errorf("Expected extended data [0xaa], got %v", resp.ExtendedData)
			}
		})
	}
}

func TestMalformedRequestGetsNoResponse(t *testing.T) {
	transport := newFakeTransport()
	handler := &scriptedHandler{apply: func(ctx context.Context, req *protocol.TpProcessRequest, state State) error {
		return nil
	}}

	p, err := New(handler, transport, testConfig(2))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	startProcessor(t, p)

	transport.inbound <- &protocol.Message{
		MessageType:   protocol.MessageTypeTpProcessRequest,
		CorrelationID: "garbage",
		Content:       []byte{0x0a, 0xff, 0xff},
	}
	transport.inbound <- &protocol.Message{MessageType: protocol.MessageTypeTpStateGetResponse, CorrelationID: "stray"}
	transport.inbound <- processRequest("c1", "ok")
	transport.inbound <- &protocol.Message{MessageType: protocol.MessageTypePingRequest, CorrelationID: "ping"}

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		got[awaitReply(t, transport).CorrelationID] = true
	}
	if !got["c1"] || !got["ping"] {
		t.Errorf("Expected replies for c1 and ping, got %v", got)
	}

	select {
	case extra := <-transport.replies:
		t.Errorf("Unexpected reply %s", extra.CorrelationID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRegistrationRetry(t *testing.T) {
	transport := newFakeTransport()
	transport.registerFailures = 3
	transport.inbound <- processRequest("early", "ok")

	handler := &scriptedHandler{apply: func(ctx context.Context, req *protocol.TpProcessRequest, state State) error {
		return nil
	}}

	p, err := New(handler, transport, testConfig(2))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	startProcessor(t, p)

	reply := awaitReply(t, transport)
	if reply.CorrelationID != "early" {
		t.Errorf("Expected early, got %s", reply.CorrelationID)
	}
	if n := transport.attempts(); n != 4 {
		t.Errorf("Expected exactly 4 registration attempts, got %d", n)
	}

	transport.mu.Lock()
	receives := transport.receivesAtRegistration
	transport.mu.Unlock()
	if receives != 0 {
		t.Errorf("Expected no receive before registration, got %d", receives)
	}
}

func TestRegistrationRejected(t *testing.T) {
	transport := newFakeTransport()
	transport.registerStatus = protocol.RegisterStatusError

	p, err := New(&scriptedHandler{}, transport, testConfig(1))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	err = p.Run(context.Background())
	if !errors.Is(err, ErrRegistrationRejected) {
		t.Errorf("Expected ErrRegistrationRejected, got %v", err)
	}
	if transport.attempts() != 1 {
		t.Errorf("Rejection must not be retried, got %d attempts", transport.attempts())
	}
	if p.State() != StateStopped {
		t.Errorf("Expected STOPPED, got %v", p.State())
	}
}

func TestRegistrationCancelled(t *testing.T) {
	transport := newFakeTransport()
	transport.registerFailures = 1 << 30

	config := testConfig(1)
	config.RegisterRetryDelay = time.Hour
	config.RegisterRetryMaxDelay = time.Hour

	p, err := New(&scriptedHandler{}, transport, config)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not observe cancellation during backoff")
	}
}

func TestReregisterAfterConnectionLoss(t *testing.T) {
	transport := newFakeTransport()
	handler := &scriptedHandler{apply: func(ctx context.Context, req *protocol.TpProcessRequest, state State) error {
		return nil
	}}

	p, err := New(handler, transport, testConfig(1))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	var states []EngineState
	var statesMu sync.Mutex
	p.OnStateChange(func(s EngineState) {
		statesMu.Lock()
		states = append(states, s)
		statesMu.Unlock()
	})
	startProcessor(t, p)

	transport.inbound <- processRequest("before", "ok")
	awaitReply(t, transport)

	transport.lost <- struct{}{}
	deadline := time.Now().Add(2 * time.Second)
	for transport.attempts() < 2 || p.State() != StateRunning {
		if time.Now().After(deadline) {
			t.Fatal("Timeout waiting for re-registration")
		}
		time.Sleep(time.Millisecond)
	}
	transport.inbound <- processRequest("after", "ok")

	reply := awaitReply(t, transport)
	if reply.CorrelationID != "after" {
		t.Errorf("Expected after, got %s", reply.CorrelationID)
	}
	if n := transport.attempts(); n != 2 {
		t.Errorf("Expected 2 registrations, got %d", n)
	}

	statesMu.Lock()
	defer statesMu.Unlock()
	want := []EngineState{StateRegistering, StateRunning, StateRegistering, StateRunning}
	if fmt.Sprint(states) != fmt.Sprint(want) {
		t.Errorf("Expected states %v, got %v", want, states)
	}
}

func TestConcurrentThroughput(t *testing.T) {
	transport := newFakeTransport()
	latency := 50 * time.Millisecond

	handler := &scriptedHandler{apply: func(ctx context.Context, req *protocol.TpProcessRequest, state State) error {
		time.Sleep(latency)
		return nil
	}}

	p, err := New(handler, transport, testConfig(4))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	startProcessor(t, p)

	start := time.Now()
	for i := 0; i < 8; i++ {
		transport.inbound <- processRequest(fmt.Sprintf("c%d", i), "ok")
	}
	for i := 0; i < 8; i++ {
		awaitReply(t, transport)
	}
	elapsed := time.Since(start)

	// Two rounds of four; a serial processor would need eight rounds
	if elapsed >= 6*latency {
		t.Errorf("Expected roughly 2x latency with 4 workers, took %v", elapsed)
	}
}

func TestEndToEnd(t *testing.T) {
	transport := newFakeTransport()
	var applied atomic.Int64

	handler := &scriptedHandler{apply: func(ctx context.Context, req *protocol.TpProcessRequest, state State) error {
		applied.Add(1)
		return nil
	}}

	p, err := New(handler, transport, testConfig(4))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	var published sync.Map
	p.SetPublisher(events.NewCallbackPublisher(func(_ context.Context, event *events.ResultEvent) error {
		published.Store(event.CorrelationID, event.Status)
		return nil
	}))
	cancel, done := startProcessor(t, p)

	for i := 0; i < 10; i++ {
		transport.inbound <- processRequest(fmt.Sprintf("c%d", i), "ok")
	}

	seen := make(map[string]int)
	for i := 0; i < 10; i++ {
		reply := awaitReply(t, transport)
		if resp := decodeResponse(t, reply); resp.Status != protocol.ProcessStatusOK {
			t.Errorf("%s: expected OK, got %v", reply.CorrelationID, resp.Status)
		}
		seen[reply.CorrelationID]++
	}
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("c%d", i)
		if seen[id] != 1 {
			t.Errorf("Expected exactly one response for %s, got %d", id, seen[id])
		}
		if status, ok := published.Load(id); !ok || status != "OK" {
			t.Errorf("Expected OK result event for %s, got %v", id, status)
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Expected clean stop, got %v", err)
	}

	stats := p.GetStats()
	if stats.Enqueued != 10 || stats.Dequeued != 10 || stats.Outstanding != 0 {
		t.Errorf("Expected enqueued=dequeued=10, got %+v", stats)
	}
	if applied.Load() != 10 {
		t.Errorf("Expected 10 applies, got %d", applied.Load())
	}
	if p.State() != StateStopped {
		t.Errorf("Expected STOPPED, got %v", p.State())
	}
}

func TestBusyResponseWhenPoolSaturated(t *testing.T) {
	transport := newFakeTransport()
	release := make(chan struct{})
	started := make(chan struct{}, 10)

	handler := &scriptedHandler{apply: func(ctx context.Context, req *protocol.TpProcessRequest, state State) error {
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}}

	config := testConfig(1)
	config.TaskQueueSize = 1
	p, err := New(handler, transport, config)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	startProcessor(t, p)

	transport.inbound <- processRequest("c0", "block")
	<-started
	transport.inbound <- processRequest("c1", "queued")
	transport.inbound <- processRequest("c2", "overflow")

	reply := awaitReply(t, transport)
	if reply.CorrelationID != "c2" {
		t.Fatalf("Expected busy reply for c2, got %s", reply.CorrelationID)
	}
	resp := decodeResponse(t, reply)
	if resp.Status != protocol.ProcessStatusInternalError {
		t.Errorf("Expected INTERNAL_ERROR, got %v", resp.Status)
	}
	if !strings.Contains(resp.Message, "busy") {
		t.Errorf("Expected busy message, got %q", resp.Message)
	}

	close(release)
	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		got[awaitReply(t, transport).CorrelationID] = true
	}
	if !got["c0"] || !got["c1"] {
		t.Errorf("Expected replies for c0 and c1, got %v", got)
	}
}

func TestShutdownWaitsForInFlight(t *testing.T) {
	transport := newFakeTransport()
	started := make(chan struct{})

	handler := &scriptedHandler{apply: func(ctx context.Context, req *protocol.TpProcessRequest, state State) error {
		close(started)
		time.Sleep(30 * time.Millisecond)
		return nil
	}}

	config := testConfig(1)
	config.ShutdownTimeout = 2 * time.Second
	config.UnregisterOnStop = true
	p, err := New(handler, transport, config)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	cancel, done := startProcessor(t, p)

	transport.inbound <- processRequest("inflight", "ok")
	<-started
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("Expected clean stop, got %v", err)
	}

	select {
	case reply := <-transport.replies:
		if reply.CorrelationID != "inflight" {
			t.Errorf("Expected inflight, got %s", reply.CorrelationID)
		}
	default:
		t.Error("In-flight response was not sent before stop")
	}

	transport.mu.Lock()
	defer transport.mu.Unlock()
	if !transport.unregistered {
		t.Error("Expected unregister on stop")
	}
}

func TestRunTwice(t *testing.T) {
	p, err := New(&scriptedHandler{}, newFakeTransport(), testConfig(1))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	startProcessor(t, p)

	waitState(t, p, StateRunning)
	if err := p.Run(context.Background()); err == nil {
		t.Error("Expected second Run to fail")
	}
}

func waitState(t *testing.T, p *Processor, want EngineState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for p.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Timeout waiting for %v, state is %v", want, p.State())
		}
		time.Sleep(time.Millisecond)
	}
}

func BenchmarkDispatch(b *testing.B) {
	transport := newFakeTransport()
	handler := &scriptedHandler{apply: func(ctx context.Context, req *protocol.TpProcessRequest, state State) error {
		return nil
	}}

	config := DefaultConfig()
	config.TaskQueueSize = 10000
	p, err := New(handler, transport, config)
	if err != nil {
		b.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Run(ctx) }()

	msg := processRequest("bench", "ok")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		transport.inbound <- msg
		<-transport.replies
	}
}
