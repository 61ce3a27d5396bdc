package nip74

import "context"

// RequestHandler performs the mint operation for a decoded request.
//
// Business failures (unknown quote, insufficient funds) are returned as an
// OperationResult with status Error and are delivered to the requester.
// A non-nil error means the request could not be processed at all: no
// reply is sent and the requester will time out.
//
// Requests are handled one at a time per listener, so Handle should
// return promptly.
type RequestHandler interface {
	Handle(ctx context.Context, req OperationRequest) (OperationResult, error)
}

type HandlerFunc func(ctx context.Context, req OperationRequest) (OperationResult, error)

func (f HandlerFunc) Handle(ctx context.Context, req OperationRequest) (OperationResult, error) {
	return f(ctx, req)
}
