// Package network provides the ZeroMQ stream between a transaction processor
// and its validator.
//
// The processor dials the validator's ROUTER endpoint with a DEALER socket.
// Every frame is a single protocol.Message. Replies to requests we sent are
// matched on correlation id and delivered to the request's Future; everything
// else is queued for Receive.
package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/google/uuid"

	"github.com/blockchaintp/sawtooth-mttp/protocol"
)

const logPrefix = "network:stream"

// Common errors for stream operations
var (
	ErrStreamClosed        = errors.New("stream is closed")
	ErrValidatorConnection = errors.New("validator connection error")
)

// StreamConfig defines configuration for a validator stream.
type StreamConfig struct {
	// URL of the validator component endpoint (e.g., "tcp://localhost:4004")
	URL string

	// InboundQueueSize bounds the messages buffered for Receive
	InboundQueueSize int

	// DialRetry is the wait between two failed dial attempts
	DialRetry time.Duration

	// DialMaxRetries bounds dial attempts per connect
	DialMaxRetries int
}

// DefaultStreamConfig returns a StreamConfig with sensible defaults.
func DefaultStreamConfig(url string) StreamConfig {
	return StreamConfig{
		URL:              url,
		InboundQueueSize: 1000,
		DialRetry:        250 * time.Millisecond,
		DialMaxRetries:   4,
	}
}

// StreamStats contains stream statistics.
type StreamStats struct {
	URL       string `json:"url"`
	Connected bool   `json:"connected"`
	Sent      uint64 `json:"sent"`
	Received  uint64 `json:"received"`
	Pending   int    `json:"pending"`
	QueueSize int    `json:"queue_size"`
}

// Stream is a ZeroMQ DEALER connection to a validator.
// It is safe for concurrent use: sends are serialized on the socket.
type Stream struct {
	config StreamConfig

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex // guards socket and closed; serializes sends
	socket zmq4.Socket
	closed bool

	futuresMu sync.Mutex
	futures   map[string]*Future

	inbound chan *protocol.Message
	lost    chan struct{}

	sent     uint64
	received uint64

	wg sync.WaitGroup
}

// NewStream creates a stream. No connection is made until Connect or the
// first send.
func NewStream(config StreamConfig) *Stream {
	if config.InboundQueueSize <= 0 {
		config.InboundQueueSize = 1000
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Stream{
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
		futures: make(map[string]*Future),
		inbound: make(chan *protocol.Message, config.InboundQueueSize),
		lost:    make(chan struct{}, 1),
	}
}

// Connect dials the validator if the stream is not already connected.
func (s *Stream) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked()
}

func (s *Stream) connectLocked() error {
	if s.closed {
		return ErrStreamClosed
	}
	if s.socket != nil {
		return nil
	}

	socket := zmq4.NewDealer(s.ctx,
		zmq4.WithID(zmq4.SocketIdentity(uuid.NewString())),
		zmq4.WithDialerRetry(s.config.DialRetry),
		zmq4.WithDialerMaxRetries(s.config.DialMaxRetries),
	)
	if err := socket.Dial(s.config.URL); err != nil {
		_ = socket.Close()
		return fmt.Errorf("%w: dial %s: %v", ErrValidatorConnection, s.config.URL, err)
	}

	s.socket = socket
	slog.Info(fmt.Sprintf("%s - Connected to validator at %s", logPrefix, s.config.URL))

	s.wg.Add(1)
	go s.receiverLoop(socket)
	return nil
}

// Close shuts the stream down and fails every pending future.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	socket := s.socket
	s.socket = nil
	s.mu.Unlock()

	s.cancel()

	// Best effort: errors during shutdown are expected
	if socket != nil {
		_ = socket.Close()
	}

	s.failFutures(ErrStreamClosed)
	s.wg.Wait()
}

// Send sends a request to the validator under a fresh correlation id and
// returns the future for its reply.
func (s *Stream) Send(ctx context.Context, messageType protocol.MessageType, content []byte) (*Future, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	future := NewFuture(uuid.NewString())

	s.futuresMu.Lock()
	s.futures[future.CorrelationID()] = future
	s.futuresMu.Unlock()

	msg := &protocol.Message{
		MessageType:   messageType,
		CorrelationID: future.CorrelationID(),
		Content:       content,
	}
	if err := s.write(msg); err != nil {
		s.takeFuture(future.CorrelationID())
		return nil, err
	}
	return future, nil
}

// SendBack sends a reply tagged with the correlation id of the validator's request.
func (s *Stream) SendBack(messageType protocol.MessageType, correlationID string, content []byte) error {
	return s.write(&protocol.Message{
		MessageType:   messageType,
		CorrelationID: correlationID,
		Content:       content,
	})
}

// Receive returns the next message sent by the validator, waiting up to
// timeout. It returns (nil, nil) when nothing arrived in time, and
// ErrValidatorConnection once after the connection was lost.
func (s *Stream) Receive(timeout time.Duration) (*protocol.Message, error) {
	select {
	case msg := <-s.inbound:
		return msg, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-s.inbound:
		return msg, nil
	case <-s.lost:
		return nil, ErrValidatorConnection
	case <-s.ctx.Done():
		return nil, ErrStreamClosed
	case <-timer.C:
		return nil, nil
	}
}

// GetStats returns current stream statistics.
func (s *Stream) GetStats() StreamStats {
	s.mu.Lock()
	connected := s.socket != nil
	s.mu.Unlock()

	s.futuresMu.Lock()
	pending := len(s.futures)
	s.futuresMu.Unlock()

	return StreamStats{
		URL:       s.config.URL,
		Connected: connected,
		Sent:      atomic.LoadUint64(&s.sent),
		Received:  atomic.LoadUint64(&s.received),
		Pending:   pending,
		QueueSize: len(s.inbound),
	}
}

func (s *Stream) write(msg *protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.connectLocked(); err != nil {
		return err
	}

	socket := s.socket
	if err := socket.Send(zmq4.NewMsg(msg.Marshal())); err != nil {
		s.dropLocked(socket)
		return fmt.Errorf("%w: send %v: %v", ErrValidatorConnection, msg.MessageType, err)
	}

	atomic.AddUint64(&s.sent, 1)
	return nil
}

// receiverLoop reads frames from one socket until it fails or is replaced.
func (s *Stream) receiverLoop(socket zmq4.Socket) {
	defer s.wg.Done()

	for {
		frame, err := socket.Recv()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.mu.Lock()
			current := s.socket == socket
			if current {
				slog.Warn(fmt.Sprintf("%s - Lost connection to validator: %v", logPrefix, err))
				s.dropLocked(socket)
			}
			s.mu.Unlock()
			return
		}
		if len(frame.Frames) == 0 {
			continue
		}

		msg, err := protocol.ParseMessage(frame.Frames[len(frame.Frames)-1])
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - Dropping undecodable frame: %v", logPrefix, err))
			continue
		}
		atomic.AddUint64(&s.received, 1)

		if future := s.takeFuture(msg.CorrelationID); future != nil {
			future.Resolve(msg)
			continue
		}

		select {
		case s.inbound <- msg:
		case <-s.ctx.Done():
			return
		}
	}
}

// dropLocked discards a failed socket so the next send redials, fails the
// requests that were waiting on it and signals Receive.
func (s *Stream) dropLocked(socket zmq4.Socket) {
	if s.socket != socket {
		return
	}
	s.socket = nil
	_ = socket.Close()

	s.failFutures(ErrValidatorConnection)

	select {
	case s.lost <- struct{}{}:
	default:
	}
}

func (s *Stream) takeFuture(correlationID string) *Future {
	s.futuresMu.Lock()
	defer s.futuresMu.Unlock()

	future, ok := s.futures[correlationID]
	if !ok {
		return nil
	}
	delete(s.futures, correlationID)
	return future
}

func (s *Stream) failFutures(err error) {
	s.futuresMu.Lock()
	pending := s.futures
	s.futures = make(map[string]*Future)
	s.futuresMu.Unlock()

	for _, future := range pending {
		future.Fail(err)
	}
}
