package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/gotd/td/tgerr"

	"github.com/blockedby/tgfetch/internal/apperr"
)

var (
	ErrNotAuthorized = errors.New("telegram client not authorized")

	// ErrForwardRestricted is returned when the source chat forbids forwarding.
	ErrForwardRestricted = errors.New("chat forbids forwarding")
)

var notFoundCodes = []string{
	"MSG_ID_INVALID",
	"MESSAGE_IDS_EMPTY",
	"USERNAME_NOT_OCCUPIED",
	"USERNAME_INVALID",
	"CHANNEL_INVALID",
	"CHANNEL_PRIVATE",
	"PEER_ID_INVALID",
	"CHAT_ID_INVALID",
}

// classify maps an RPC failure onto the apperr taxonomy.
// parent is the caller's context: its cancellation is never transient.
func classify(parent context.Context, err error) error {
	if err == nil {
		return nil
	}
	if parent.Err() != nil {
		return err
	}
	if wait, ok := floodWait(err); ok {
		return apperr.Transient(err, wait)
	}
	if rpcErr, ok := tgerr.As(err); ok {
		switch {
		case rpcErr.IsOneOf(notFoundCodes...):
			return fmt.Errorf("%w: %w", apperr.ErrNotFound, err)
		case rpcErr.IsOneOf("CHAT_FORWARDS_RESTRICTED"):
			return fmt.Errorf("%w: %w", ErrForwardRestricted, err)
		case rpcErr.Code >= 500:
			return apperr.Transient(err, 0)
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) {
		return apperr.Transient(err, 0)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperr.Transient(err, 0)
	}
	return err
}

// floodWait extracts the mandatory pause from a FLOOD_WAIT error.
func floodWait(err error) (time.Duration, bool) {
	if wait, ok := tgerr.AsFloodWait(err); ok {
		return wait, true
	}
	// wrapped errors that lost their type still carry the text
	if seconds := checkFloodWait(err); seconds > 0 {
		return time.Duration(seconds) * time.Second, true
	}
	return 0, false
}

// checkFloodWait scans the error text for FLOOD_WAIT_X and returns X
func checkFloodWait(err error) int {
	str := err.Error()
	_, rest, found := strings.Cut(str, "FLOOD_WAIT_")
	if !found {
		return 0
	}
	var seconds int
	_, _ = fmt.Sscanf(strings.TrimSpace(rest), "%d", &seconds)
	return seconds
}
