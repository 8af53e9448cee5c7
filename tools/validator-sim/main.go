// Command validator-sim stands in for a Sawtooth validator to load test an
// intkey transaction processor. It listens where the validator would, accepts
// the processor's registration, serves its state requests from memory and
// drives it with process requests and pings.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/blockchaintp/sawtooth-mttp/handlers/intkey"
	"github.com/blockchaintp/sawtooth-mttp/protocol"
)

const logPrefix = "main:validator-sim"

var errNotRegistered = errors.New("no processor registered")

// SimConfig holds configuration for a simulation run.
type SimConfig struct {
	Address      string
	Requests     int
	Concurrency  int
	Duration     time.Duration
	PingInterval time.Duration
	InvalidEvery int
	ReportFile   string
}

// SimResult holds the results of a simulation run.
type SimResult struct {
	Family         string
	Namespaces     []string
	Sent           int64
	Answered       int64
	OK             int64
	Invalid        int64
	Internal       int64
	Pings          int64
	Pongs          int64
	StateRequests  int64
	TotalDuration  time.Duration
	AvgLatency     time.Duration
	MinLatency     time.Duration
	MaxLatency     time.Duration
	RequestsPerSec float64
}

func main() {
	config := parseFlags()

	fmt.Println("=== Sawtooth Validator Simulator ===")
	fmt.Printf("Listening: %s\n", config.Address)
	fmt.Printf("Requests: %d (window %d)\n", config.Requests, config.Concurrency)
	fmt.Printf("Timeout: %v\n", config.Duration)
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := newSimulator(config).run(ctx)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - %v", logPrefix, err))
		os.Exit(1)
	}

	printResults(result)

	if config.ReportFile != "" {
		saveReport(config, result)
	}
}

func parseFlags() SimConfig {
	config := SimConfig{}

	flag.StringVar(&config.Address, "addr", "tcp://127.0.0.1:4004", "Endpoint to listen on for the processor")
	flag.IntVar(&config.Requests, "n", 1000, "Number of process requests")
	flag.IntVar(&config.Concurrency, "c", 64, "Maximum requests in flight")
	flag.DurationVar(&config.Duration, "d", time.Minute, "Give up after this long")
	flag.DurationVar(&config.PingInterval, "ping", 100*time.Millisecond, "Ping interval (0 disables)")
	flag.IntVar(&config.InvalidEvery, "invalid", 10, "Make every n-th request invalid (0 disables)")
	flag.StringVar(&config.ReportFile, "o", "", "Output report file (JSON)")

	flag.Parse()

	return config
}

type simulator struct {
	config SimConfig
	socket zmq4.Socket
	sendMu sync.Mutex

	identityMu sync.Mutex
	identity   []byte
	family     string
	namespaces []string
	registered chan struct{}
	regOnce    sync.Once

	stateMu sync.Mutex
	state   map[string][]byte

	pendingMu sync.Mutex
	pending   map[string]time.Time
	window    chan struct{}
	allDone   chan struct{}
	doneOnce  sync.Once
	finished  atomic.Bool

	sent, answered, ok, invalid, internal int64
	pings, pongs, stateRequests           int64
	totalLatency                          int64
	minLatency                            int64
	maxLatency                            int64
}

func newSimulator(config SimConfig) *simulator {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	return &simulator{
		config:     config,
		registered: make(chan struct{}),
		state:      make(map[string][]byte),
		pending:    make(map[string]time.Time),
		window:     make(chan struct{}, config.Concurrency),
		allDone:    make(chan struct{}),
		minLatency: 1<<63 - 1,
	}
}

func (s *simulator) run(ctx context.Context) (SimResult, error) {
	s.socket = zmq4.NewRouter(ctx, zmq4.WithID(zmq4.SocketIdentity("validator-sim")))
	if err := s.socket.Listen(s.config.Address); err != nil {
		return SimResult{}, fmt.Errorf("listen on %s: %w", s.config.Address, err)
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(s.receiveLoop)
	g.Go(func() error {
		defer s.finish()
		return s.generate(gctx)
	})
	if s.config.PingInterval > 0 {
		g.Go(func() error { return s.pingLoop(gctx) })
	}

	err := g.Wait()
	return s.result(time.Since(start)), err
}

// finish stops every loop and unblocks the receiver.
func (s *simulator) finish() {
	if s.finished.CompareAndSwap(false, true) {
		_ = s.socket.Close()
	}
}

func (s *simulator) receiveLoop() error {
	for {
		frame, err := s.socket.Recv()
		if err != nil {
			if s.finished.Load() {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}
		if len(frame.Frames) < 2 {
			continue
		}

		identity := frame.Frames[0]
		msg, err := protocol.ParseMessage(frame.Frames[len(frame.Frames)-1])
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - Dropping undecodable frame: %v", logPrefix, err))
			continue
		}
		s.dispatch(identity, msg)
	}
}

func (s *simulator) dispatch(identity []byte, msg *protocol.Message) {
	switch msg.MessageType {
	case protocol.MessageTypeTpRegisterRequest:
		var req protocol.TpRegisterRequest
		status := protocol.RegisterStatusOK
		if err := req.Unmarshal(msg.Content); err != nil {
			status = protocol.RegisterStatusError
		}
		resp := &protocol.TpRegisterResponse{Status: status, ProtocolVersion: 1}
		s.reply(identity, protocol.MessageTypeTpRegisterResponse, msg.CorrelationID, resp.Marshal())
		if status == protocol.RegisterStatusOK {
			s.identityMu.Lock()
			s.identity = append([]byte(nil), identity...)
			s.family = req.Family + " " + req.Version
			s.namespaces = req.Namespaces
			s.identityMu.Unlock()
			s.regOnce.Do(func() { close(s.registered) })
			fmt.Printf("Registered %s namespaces=%v max_occupancy=%d\n", s.family, req.Namespaces, req.MaxOccupancy)
		}

	case protocol.MessageTypeTpUnregisterRequest:
		resp := &protocol.TpUnregisterResponse{Status: protocol.RegisterStatusOK}
		s.reply(identity, protocol.MessageTypeTpUnregisterResponse, msg.CorrelationID, resp.Marshal())

	case protocol.MessageTypeTpProcessRequest:
		s.recordResponse(msg)

	case protocol.MessageTypePingResponse:
		atomic.AddInt64(&s.pongs, 1)

	case protocol.MessageTypeTpStateGetRequest,
		protocol.MessageTypeTpStateSetRequest,
		protocol.MessageTypeTpStateDeleteRequest,
		protocol.MessageTypeTpReceiptAddDataRequest,
		protocol.MessageTypeTpEventAddRequest:
		atomic.AddInt64(&s.stateRequests, 1)
		typ, content := s.serveState(msg)
		s.reply(identity, typ, msg.CorrelationID, content)

	default:
		slog.Debug(fmt.Sprintf("%s - Ignoring %v", logPrefix, msg.MessageType))
	}
}

// serveState answers a context request from the in-memory state.
func (s *simulator) serveState(msg *protocol.Message) (protocol.MessageType, []byte) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	switch msg.MessageType {
	case protocol.MessageTypeTpStateGetRequest:
		var req protocol.StateGetRequest
		resp := &protocol.StateGetResponse{Status: protocol.StateStatusOK}
		if err := req.Unmarshal(msg.Content); err != nil {
			resp.Status = protocol.StateStatusUnset
		}
		for _, address := range req.Addresses {
			resp.Entries = append(resp.Entries, protocol.StateEntry{Address: address, Data: s.state[address]})
		}
		return protocol.MessageTypeTpStateGetResponse, resp.Marshal()

	case protocol.MessageTypeTpStateSetRequest:
		var req protocol.StateSetRequest
		resp := &protocol.AddressesResponse{Status: protocol.StateStatusOK}
		if err := req.Unmarshal(msg.Content); err != nil {
			resp.Status = protocol.StateStatusUnset
		}
		for _, entry := range req.Entries {
			s.state[entry.Address] = entry.Data
			resp.Addresses = append(resp.Addresses, entry.Address)
		}
		return protocol.MessageTypeTpStateSetResponse, resp.Marshal()

	case protocol.MessageTypeTpStateDeleteRequest:
		var req protocol.StateDeleteRequest
		resp := &protocol.AddressesResponse{Status: protocol.StateStatusOK}
		if err := req.Unmarshal(msg.Content); err != nil {
			resp.Status = protocol.StateStatusUnset
		}
		for _, address := range req.Addresses {
			if _, ok := s.state[address]; ok {
				delete(s.state, address)
				resp.Addresses = append(resp.Addresses, address)
			}
		}
		return protocol.MessageTypeTpStateDeleteResponse, resp.Marshal()

	case protocol.MessageTypeTpReceiptAddDataRequest:
		resp := &protocol.StatusResponse{Status: protocol.StateStatusOK}
		return protocol.MessageTypeTpReceiptAddDataResponse, resp.Marshal()

	default:
		resp := &protocol.StatusResponse{Status: protocol.StateStatusOK}
		return protocol.MessageTypeTpEventAddResponse, resp.Marshal()
	}
}

func (s *simulator) recordResponse(msg *protocol.Message) {
	s.pendingMu.Lock()
	sentAt, ok := s.pending[msg.CorrelationID]
	delete(s.pending, msg.CorrelationID)
	s.pendingMu.Unlock()
	if !ok {
		slog.Warn(fmt.Sprintf("%s - Response for unknown request %s", logPrefix, msg.CorrelationID))
		return
	}
	<-s.window

	var resp protocol.TpProcessResponse
	if err := resp.Unmarshal(msg.Content); err != nil {
		slog.Warn(fmt.Sprintf("%s - Undecodable response %s: %v", logPrefix, msg.CorrelationID, err))
	}
	switch resp.Status {
	case protocol.ProcessStatusOK:
		atomic.AddInt64(&s.ok, 1)
	case protocol.ProcessStatusInvalidTransaction:
		atomic.AddInt64(&s.invalid, 1)
	default:
		atomic.AddInt64(&s.internal, 1)
	}

	lat := int64(time.Since(sentAt))
	atomic.AddInt64(&s.totalLatency, lat)
	for {
		old := atomic.LoadInt64(&s.minLatency)
		if lat >= old || atomic.CompareAndSwapInt64(&s.minLatency, old, lat) {
			break
		}
	}
	for {
		old := atomic.LoadInt64(&s.maxLatency)
		if lat <= old || atomic.CompareAndSwapInt64(&s.maxLatency, old, lat) {
			break
		}
	}

	if atomic.AddInt64(&s.answered, 1) == int64(s.config.Requests) {
		s.doneOnce.Do(func() { close(s.allDone) })
	}
}

// generate sends the configured requests, keeping at most Concurrency in
// flight, and waits for their responses.
func (s *simulator) generate(ctx context.Context) error {
	timeout := time.NewTimer(s.config.Duration)
	defer timeout.Stop()

	select {
	case <-s.registered:
	case <-timeout.C:
		return errNotRegistered
	case <-ctx.Done():
		return ctx.Err()
	}

	for i := 0; i < s.config.Requests; i++ {
		select {
		case s.window <- struct{}{}:
		case <-timeout.C:
			return nil
		case <-ctx.Done():
			return nil
		}
		if err := s.sendRequest(i); err != nil {
			return err
		}
	}

	if s.config.Requests == 0 {
		return nil
	}
	select {
	case <-s.allDone:
	case <-timeout.C:
	case <-ctx.Done():
	}
	return nil
}

func (s *simulator) sendRequest(i int) error {
	payload := &intkey.Payload{Verb: intkey.VerbSet, Name: fmt.Sprintf("sim-%d", i), Value: int64(i)}
	if s.config.InvalidEvery > 0 && i%s.config.InvalidEvery == s.config.InvalidEvery-1 {
		payload = &intkey.Payload{Verb: intkey.VerbDec, Name: fmt.Sprintf("missing-%d", i), Value: 1}
	}
	data, err := payload.Encode()
	if err != nil {
		return err
	}

	address := intkey.Address(payload.Name)
	req := &protocol.TpProcessRequest{
		Header: &protocol.TransactionHeader{
			FamilyName:    intkey.FamilyName,
			FamilyVersion: intkey.FamilyVersion,
			Inputs:        []string{address},
			Outputs:       []string{address},
			Nonce:         uuid.NewString(),
		},
		Payload:   data,
		ContextID: uuid.NewString(),
	}

	correlationID := uuid.NewString()
	s.pendingMu.Lock()
	s.pending[correlationID] = time.Now()
	s.pendingMu.Unlock()

	atomic.AddInt64(&s.sent, 1)
	return s.send(protocol.MessageTypeTpProcessRequest, correlationID, req.Marshal())
}

func (s *simulator) pingLoop(ctx context.Context) error {
	select {
	case <-s.registered:
	case <-ctx.Done():
		return nil
	}

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.allDone:
			return nil
		case <-ticker.C:
			if s.finished.Load() {
				return nil
			}
			atomic.AddInt64(&s.pings, 1)
			if err := s.send(protocol.MessageTypePingRequest, uuid.NewString(), nil); err != nil && !s.finished.Load() {
				slog.Warn(fmt.Sprintf("%s - Ping failed: %v", logPrefix, err))
			}
		}
	}
}

// send sends a validator-initiated message to the registered processor.
func (s *simulator) send(messageType protocol.MessageType, correlationID string, content []byte) error {
	s.identityMu.Lock()
	identity := s.identity
	s.identityMu.Unlock()
	if identity == nil {
		return errNotRegistered
	}
	return s.write(identity, messageType, correlationID, content)
}

func (s *simulator) reply(identity []byte, messageType protocol.MessageType, correlationID string, content []byte) {
	if err := s.write(identity, messageType, correlationID, content); err != nil && !s.finished.Load() {
		slog.Warn(fmt.Sprintf("%s - Reply %v failed: %v", logPrefix, messageType, err))
	}
}

func (s *simulator) write(identity []byte, messageType protocol.MessageType, correlationID string, content []byte) error {
	msg := &protocol.Message{MessageType: messageType, CorrelationID: correlationID, Content: content}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.socket.Send(zmq4.NewMsgFrom(identity, msg.Marshal()))
}

func (s *simulator) result(duration time.Duration) SimResult {
	s.identityMu.Lock()
	family, namespaces := s.family, s.namespaces
	s.identityMu.Unlock()

	answered := atomic.LoadInt64(&s.answered)
	var avgLatency time.Duration
	if answered > 0 {
		avgLatency = time.Duration(atomic.LoadInt64(&s.totalLatency) / answered)
	}
	minLat := atomic.LoadInt64(&s.minLatency)
	if answered == 0 {
		minLat = 0
	}

	return SimResult{
		Family:         family,
		Namespaces:     namespaces,
		Sent:           atomic.LoadInt64(&s.sent),
		Answered:       answered,
		OK:             atomic.LoadInt64(&s.ok),
		Invalid:        atomic.LoadInt64(&s.invalid),
		Internal:       atomic.LoadInt64(&s.internal),
		Pings:          atomic.LoadInt64(&s.pings),
		Pongs:          atomic.LoadInt64(&s.pongs),
		StateRequests:  atomic.LoadInt64(&s.stateRequests),
		TotalDuration:  duration,
		AvgLatency:     avgLatency,
		MinLatency:     time.Duration(minLat),
		MaxLatency:     time.Duration(atomic.LoadInt64(&s.maxLatency)),
		RequestsPerSec: float64(answered) / duration.Seconds(),
	}
}

func percent(n, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

func printResults(result SimResult) {
	fmt.Println("=== Results ===")
	fmt.Printf("Processor:       %s\n", result.Family)
	fmt.Printf("Duration:        %v\n", result.TotalDuration.Round(time.Millisecond))
	fmt.Printf("Sent:            %d\n", result.Sent)
	fmt.Printf("Answered:        %d (%.2f%%)\n", result.Answered, percent(result.Answered, result.Sent))
	fmt.Printf("OK:              %d\n", result.OK)
	fmt.Printf("Invalid:         %d\n", result.Invalid)
	fmt.Printf("Internal error:  %d\n", result.Internal)
	fmt.Printf("Pings/Pongs:     %d/%d\n", result.Pings, result.Pongs)
	fmt.Printf("State requests:  %d\n", result.StateRequests)
	fmt.Printf("Requests/sec:    %.2f\n", result.RequestsPerSec)
	fmt.Printf("Avg Latency:     %v\n", result.AvgLatency.Round(time.Microsecond))
	fmt.Printf("Min Latency:     %v\n", result.MinLatency.Round(time.Microsecond))
	fmt.Printf("Max Latency:     %v\n", result.MaxLatency.Round(time.Microsecond))
}

func saveReport(config SimConfig, result SimResult) {
	report := map[string]interface{}{
		"config": map[string]interface{}{
			"address":     config.Address,
			"requests":    config.Requests,
			"concurrency": config.Concurrency,
			"timeout":     config.Duration.String(),
		},
		"results": map[string]interface{}{
			"processor":        result.Family,
			"sent":             result.Sent,
			"answered":         result.Answered,
			"ok":               result.OK,
			"invalid":          result.Invalid,
			"internal_error":   result.Internal,
			"pings":            result.Pings,
			"pongs":            result.Pongs,
			"state_requests":   result.StateRequests,
			"requests_per_sec": result.RequestsPerSec,
			"avg_latency_ms":   float64(result.AvgLatency.Microseconds()) / 1000,
			"min_latency_ms":   float64(result.MinLatency.Microseconds()) / 1000,
			"max_latency_ms":   float64(result.MaxLatency.Microseconds()) / 1000,
		},
		"timestamp": time.Now().Format(time.RFC3339),
	}

	data, _ := json.MarshalIndent(report, "", "  ")
	if err := os.WriteFile(config.ReportFile, data, 0644); err != nil {
		slog.Error(fmt.Sprintf("%s - Failed to write report: %v", logPrefix, err))
	} else {
		fmt.Printf("Report saved to: %s\n", config.ReportFile)
	}
}
