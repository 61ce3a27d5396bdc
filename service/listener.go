package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/nbd-wtf/go-nostr"
	"github.com/purrmint/purrmint/nip74"
	"github.com/purrmint/purrmint/relay"
	"github.com/purrmint/purrmint/signer"
)

type outcome int

const (
	ignored outcome = iota
	dropped
	replied
)

func (o outcome) String() string {
	switch o {
	case ignored:
		return "ignored"
	case dropped:
		return "dropped"
	case replied:
		return "replied"
	default:
		return "unknown"
	}
}

// listener answers kind 27401 requests addressed to pubkey. Events are
// processed one at a time in the order the pool delivers them.
type listener struct {
	pool    relay.Pool
	signer  signer.Signer
	handler nip74.RequestHandler
	pubkey  string
	logger  *slog.Logger
}

func (l *listener) run(ctx context.Context) {
	notifications := l.pool.Notifications()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-notifications:
			if !ok {
				return
			}
			l.process(ctx, evt)
		}
	}
}

// process takes one inbound event to a reply or drops it. Nothing that
// goes wrong here is returned: a bad event must not stop the listener.
func (l *listener) process(ctx context.Context, evt *nostr.Event) outcome {
	if evt == nil || evt.Kind != nip74.KindOperationReq {
		return ignored
	}

	// requests tagged for other mints are skipped without decrypting
	if recipients := nip74.TagValues(evt, "p"); len(recipients) > 0 && !slices.Contains(recipients, l.pubkey) {
		return ignored
	}

	if ok, err := evt.CheckSignature(); !ok {
		l.logger.Warn(fmt.Sprintf("dropping request %v with invalid signature: %v", evt.ID, err))
		return dropped
	}

	req, err := nip74.DecryptRequest(ctx, evt, l.signer)
	if err != nil {
		l.logger.Warn(fmt.Sprintf("dropping request %v from %v: %v", evt.ID, evt.PubKey, err))
		return dropped
	}

	l.logger.Debug(fmt.Sprintf("handling %v request %v from %v", req.Method, req.RequestId, evt.PubKey))
	result, err := l.handle(ctx, req)
	if err != nil {
		l.logger.Error(fmt.Sprintf("handler failed for request %v: %v", req.RequestId, err))
		return dropped
	}

	if ctx.Err() != nil {
		l.logger.Info(fmt.Sprintf("stopping before reply to request %v", req.RequestId))
		return dropped
	}
	// the requester matches on request_id as well as the e tag
	result.RequestId = req.RequestId

	reply, err := nip74.BuildResultEvent(ctx, result, l.signer, evt, nil)
	if err != nil {
		l.logger.Error(fmt.Sprintf("could not build reply to request %v: %v", req.RequestId, err))
		return dropped
	}

	if ctx.Err() != nil {
		l.logger.Info(fmt.Sprintf("stopping before publishing reply to request %v", req.RequestId))
		return dropped
	}

	results := l.pool.Publish(ctx, *reply)
	if len(relay.Succeeded(results)) == 0 {
		l.logger.Error(fmt.Sprintf("reply %v to request %v not accepted by any relay: %v",
			reply.ID, req.RequestId, errors.Join(failedErrors(results)...)))
		return dropped
	}

	l.logger.Info(fmt.Sprintf("replied to %v request %v with %v", req.Method, req.RequestId, result.Status))
	return replied
}

// handle runs the handler, turning a panic into an error so that one
// request cannot take the listener down.
func (l *listener) handle(ctx context.Context, req nip74.OperationRequest) (result nip74.OperationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return l.handler.Handle(ctx, req)
}

func failedErrors(results []relay.PublishResult) []error {
	var errs []error
	for url, err := range relay.Failed(results) {
		errs = append(errs, fmt.Errorf("%v: %w", url, err))
	}
	return errs
}
