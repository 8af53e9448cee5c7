package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/blockchaintp/sawtooth-mttp/network"
	"github.com/blockchaintp/sawtooth-mttp/protocol"
)

// ErrRegistrationRejected is returned when the validator refuses the handler.
var ErrRegistrationRejected = errors.New("registration rejected by validator")

// register performs the registration handshake. Connection failures are
// retried with exponential backoff until ctx is done; a rejection is final.
func (p *Processor) register(ctx context.Context) error {
	content := p.descriptor.Marshal()
	delay := p.config.RegisterRetryDelay

	for attempt := 1; ; attempt++ {
		slog.Info(fmt.Sprintf("%s - Registering %s %s (attempt %d)", logPrefix,
			p.descriptor.Family, p.descriptor.Version, attempt))

		err := p.registerOnce(ctx, content)
		p.metrics.RecordRegistration(err == nil)
		if err == nil {
			slog.Info(fmt.Sprintf("%s - Registered %s %s namespaces=%v max_occupancy=%d", logPrefix,
				p.descriptor.Family, p.descriptor.Version, p.descriptor.Namespaces, p.descriptor.MaxOccupancy))
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !errors.Is(err, network.ErrValidatorConnection) {
			slog.Error(fmt.Sprintf("%s - Registration failed: %v", logPrefix, err))
			return err
		}

		slog.Warn(fmt.Sprintf("%s - Registration attempt %d failed, retrying in %v: %v", logPrefix, attempt, delay, err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > p.config.RegisterRetryMaxDelay {
			delay = p.config.RegisterRetryMaxDelay
		}
	}
}

func (p *Processor) registerOnce(ctx context.Context, content []byte) error {
	future, err := p.transport.Send(ctx, protocol.MessageTypeTpRegisterRequest, content)
	if err != nil {
		return err
	}

	msg, err := future.Result(ctx)
	if err != nil {
		return err
	}
	if msg.MessageType != protocol.MessageTypeTpRegisterResponse {
		return fmt.Errorf("%w: unexpected reply %v", ErrRegistrationRejected, msg.MessageType)
	}

	var resp protocol.TpRegisterResponse
	if err := resp.Unmarshal(msg.Content); err != nil {
		return fmt.Errorf("%w: %v", ErrRegistrationRejected, err)
	}
	if resp.Status != protocol.RegisterStatusOK {
		return fmt.Errorf("%w: status %v", ErrRegistrationRejected, resp.Status)
	}
	return nil
}

// Unregister tells the validator to stop routing transactions to this
// processor. Run calls it on stop when UnregisterOnStop is set.
func (p *Processor) Unregister(ctx context.Context) error {
	future, err := p.transport.Send(ctx, protocol.MessageTypeTpUnregisterRequest, nil)
	if err != nil {
		return err
	}

	msg, err := future.Result(ctx)
	if err != nil {
		return err
	}

	var resp protocol.TpUnregisterResponse
	if err := resp.Unmarshal(msg.Content); err != nil {
		return err
	}
	if resp.Status != protocol.RegisterStatusOK {
		return fmt.Errorf("unregister failed with status %v", resp.Status)
	}

	slog.Info(fmt.Sprintf("%s - Unregistered %s %s", logPrefix, p.descriptor.Family, p.descriptor.Version))
	return nil
}
