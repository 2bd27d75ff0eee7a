package proxy

import (
	"errors"
	"fmt"

	"github.com/dominant-strategies/go-merge-mining-proxy/chain"
	"github.com/dominant-strategies/go-merge-mining-proxy/rpc"
)

// JSON-RPC error codes. The negative single digit codes follow the foreign
// daemon's conventions so mining software recognises them.
const (
	codeParseError         = -32700
	codeInvalidRequest     = -32600
	codeMethodNotFound     = -32601
	codeInvalidParams      = -32602
	codeInternalError      = -5
	codeWrongBlockBlob     = -6
	codeBlockNotAccepted   = -7
	codeBackendUnavailable = -9
	codeWorkNotReady       = -10
)

var (
	ErrBadBlockBlob      = errors.New("invalid block blob")
	ErrTemplateNotFound  = errors.New("block template not found or expired")
	ErrStaleTemplate     = errors.New("block template was superseded by a newer one")
	ErrAlreadySubmitted  = errors.New("block template was already submitted")
	ErrPrevHashMismatch  = errors.New("block does not build on the template's previous block")
	ErrHeightMismatch    = errors.New("block height does not match the template")
	ErrNotSynced         = errors.New("base node has not achieved initial sync")
	ErrWorkNotReady      = errors.New("work not ready")
	ErrBadBackendReply   = errors.New("unexpected backend reply")
	ErrInvalidParams     = errors.New("invalid params")
	ErrBlockNotAccepted  = errors.New("block not accepted")
	ErrEmptyDestinations = errors.New("no transfer destinations")
)

type ErrorReply struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *ErrorReply) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

// backendError marks a failure to reach one of the backends.
type backendError struct {
	backend string
	err     error
}

func (e *backendError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.backend, e.err)
}

func (e *backendError) Unwrap() error {
	return e.err
}

// rejectedError is a request the base node or wallet answered with an
// application error.
type rejectedError struct {
	backend string
	message string
	err     error
}

func (e *rejectedError) Error() string {
	return fmt.Sprintf("%s rejected request: %s", e.backend, e.message)
}

func (e *rejectedError) Unwrap() error {
	return e.err
}

// chainError classifies an error returned by a base node or wallet call.
func chainError(backend string, err error) error {
	if err == nil {
		return nil
	}
	if chain.IsTransportError(err) {
		return &backendError{backend: backend, err: err}
	}
	return &rejectedError{backend: backend, message: chain.ErrorMessage(err), err: err}
}

// daemonError classifies an error returned by the foreign daemon client.
func daemonError(err error) error {
	if err == nil {
		return nil
	}
	var rpcErr *rpc.RPCError
	if errors.As(err, &rpcErr) {
		return err
	}
	return &backendError{backend: "foreign daemon", err: err}
}

func errorReply(err error) *ErrorReply {
	var reply *ErrorReply
	if errors.As(err, &reply) {
		return reply
	}
	var rpcErr *rpc.RPCError
	if errors.As(err, &rpcErr) {
		return &ErrorReply{Code: rpcErr.Code, Message: rpcErr.Message}
	}
	var unavailable *backendError
	if errors.As(err, &unavailable) {
		return &ErrorReply{Code: codeBackendUnavailable, Message: unavailable.Error()}
	}
	var rejected *rejectedError
	if errors.As(err, &rejected) {
		return &ErrorReply{Code: codeInternalError, Message: rejected.message}
	}
	switch {
	case errors.Is(err, ErrBadBlockBlob):
		return &ErrorReply{Code: codeWrongBlockBlob, Message: err.Error()}
	case errors.Is(err, ErrInvalidParams), errors.Is(err, ErrEmptyDestinations):
		return &ErrorReply{Code: codeInvalidParams, Message: err.Error()}
	case errors.Is(err, ErrTemplateNotFound),
		errors.Is(err, ErrStaleTemplate),
		errors.Is(err, ErrAlreadySubmitted),
		errors.Is(err, ErrPrevHashMismatch),
		errors.Is(err, ErrHeightMismatch),
		errors.Is(err, ErrBlockNotAccepted):
		return &ErrorReply{Code: codeBlockNotAccepted, Message: err.Error()}
	case errors.Is(err, ErrNotSynced), errors.Is(err, ErrWorkNotReady):
		return &ErrorReply{Code: codeWorkNotReady, Message: err.Error()}
	}
	return &ErrorReply{Code: codeInternalError, Message: err.Error()}
}
