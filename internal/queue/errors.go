package queue

import (
	"context"
	"io"
	"net"
	"syscall"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"

	"github.com/SirClappington/delayq/internal/domain"
)

// classify tags connection-level failures as domain.ErrUnavailable so the
// daemon can reconnect instead of giving up. Everything else passes through.
func classify(err error) error {
	if err == nil || errors.Is(err, r.Nil) {
		return err
	}
	if isConnErr(err) {
		return domain.Unavailable(err)
	}
	return err
}

func isConnErr(err error) bool {
	switch {
	case errors.Is(err, r.ErrClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, net.ErrClosed):
		return true
	case errors.Is(err, context.Canceled):
		return false
	}
	var ne net.Error
	return errors.As(err, &ne)
}
