// internal/blockchain/solbc/rpc/errors.go
package rpc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

var (
	// ErrNoActiveNodes is returned when every configured node has been marked down.
	ErrNoActiveNodes = errors.New("no active RPC nodes available")

	ErrRateLimit        = errors.New("rate limit exceeded")
	ErrTimeout          = errors.New("request timeout")
	ErrInvalidResponse  = errors.New("invalid RPC response")
	ErrConnectionFailed = errors.New("connection failed")
)

// Error is an RPC failure with the node and method that produced it.
type Error struct {
	Err     error
	NodeURL string
	Method  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("RPC error [%s] at %s: %v", e.Method, e.NodeURL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err, classifying transport failures into the sentinels above.
func NewError(err error, nodeURL, method string) error {
	return &Error{
		Err:     classify(err),
		NodeURL: nodeURL,
		Method:  method,
	}
}

func classify(err error) error {
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) && rpcErr.Code == 429 {
		return fmt.Errorf("%w: %v", ErrRateLimit, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "too many requests"):
		return fmt.Errorf("%w: %v", ErrRateLimit, err)
	case strings.Contains(msg, "timeout"):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "eof"):
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	case strings.Contains(msg, "invalid character"), strings.Contains(msg, "unexpected end of json"):
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return err
}

// IsRetryableError reports whether another node may succeed where this one failed.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrInvalidResponse)
}

// IsBlockhashExpired reports whether the cluster no longer knows the blockhash.
func IsBlockhashExpired(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "blockhashnotfound") ||
		strings.Contains(msg, "blockhash not found") ||
		strings.Contains(msg, "block height exceeded")
}
