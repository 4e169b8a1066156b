package transfer

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/blockedby/tgfetch/internal/apperr"
	"github.com/blockedby/tgfetch/internal/link"
	"github.com/blockedby/tgfetch/internal/telegram"
)

// maxForwardIDs is the most ids one forward request may carry.
const maxForwardIDs = 100

// errTextRestricted marks text messages of a protected chat, which can be
// neither forwarded nor downloaded.
var errTextRestricted = errors.New("text message in a chat that forbids forwarding")

// Forward copies messages start..end of source into target. Chats that
// forbid forwarding fall back to download then upload of their media.
func (s *Service) Forward(ctx context.Context, source, target, start, end string) (Summary, error) {
	first, last, err := link.Bounds(start, end)
	if err != nil {
		return Summary{}, err
	}
	from, to, err := s.forwardPeers(ctx, source, target)
	if err != nil {
		return Summary{}, err
	}
	ids := make([]int, 0, last-first+1)
	for id := first; id <= last; id++ {
		ids = append(ids, id)
	}

	sum := newSummary()
	for len(ids) > 0 {
		n := min(maxForwardIDs, len(ids))
		s.forwardChunk(ctx, sum, from, to, ids[:n])
		ids = ids[n:]
	}
	return *sum, nil
}

func (s *Service) forwardPeers(ctx context.Context, source, target string) (*telegram.Chat, *telegram.Chat, error) {
	from, err := s.resolveChatLink(ctx, source)
	if err != nil {
		return nil, nil, err
	}
	to, err := s.resolveChatLink(ctx, target)
	if err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

func (s *Service) forwardChunk(ctx context.Context, sum *Summary, from, to *telegram.Chat, ids []int) {
	msgs, err := s.client.GetMessages(ctx, from, ids)
	if err != nil {
		for _, id := range ids {
			sum.failed(link.MessageKey(from.ID, id), err)
		}
		return
	}

	byID := make(map[int]telegram.Message, len(msgs))
	for _, m := range msgs {
		byID[m.ID] = m
	}
	var existing []telegram.Message
	for _, id := range ids {
		m, ok := byID[id]
		if !ok || m.Empty {
			sum.failed(link.MessageKey(from.ID, id), apperr.ErrNotFound)
			continue
		}
		existing = append(existing, m)
	}
	if len(existing) == 0 {
		return
	}

	err = s.forwardMessages(ctx, from, to, existing)
	switch {
	case err == nil:
		for _, m := range existing {
			sum.Accepted = append(sum.Accepted, link.MessageKey(from.ID, m.ID))
		}
	case errors.Is(err, telegram.ErrForwardRestricted):
		s.log.Info().Int64("chat_id", from.ID).Msg("transfer: forwarding restricted, downloading instead")
		for _, m := range existing {
			key := link.MessageKey(from.ID, m.ID)
			switch err := s.relay(m, to); {
			case err == nil:
				sum.Accepted = append(sum.Accepted, key)
			case errors.Is(err, apperr.ErrDuplicateTask):
				sum.Duplicate = append(sum.Duplicate, key)
			default:
				sum.failed(key, err)
			}
		}
	default:
		for _, m := range existing {
			sum.failed(link.MessageKey(from.ID, m.ID), err)
		}
	}
}

// forwardMessages retries transient failures a bounded number of times.
// Flood waits are absorbed by the client's rate limiter between attempts.
func (s *Service) forwardMessages(ctx context.Context, from, to *telegram.Chat, msgs []telegram.Message) error {
	ids := make([]int, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	op := func() error {
		err := s.client.Forward(ctx, from, ids, to)
		if err != nil && !apperr.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.opts.ForwardAttempts-1), ctx)
	return backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		s.log.Warn().Err(err).Dur("wait", wait).Int64("from", from.ID).Int64("to", to.ID).Msg("transfer: forward retry")
	})
}

// relay queues a download of msg that uploads the file to target and removes it.
func (s *Service) relay(msg telegram.Message, target *telegram.Chat) error {
	if !msg.HasMedia() {
		return errTextRestricted
	}
	return s.submitDownload(downloadJob{msg: msg, uploadTo: target, deleteAfterUpload: true})
}

// forwardOne forwards a single live message, relaying it when the source
// forbids forwarding.
func (s *Service) forwardOne(ctx context.Context, from, to *telegram.Chat, msg telegram.Message) error {
	err := s.forwardMessages(ctx, from, to, []telegram.Message{msg})
	if errors.Is(err, telegram.ErrForwardRestricted) {
		err = s.relay(msg, to)
		if errors.Is(err, apperr.ErrDuplicateTask) {
			return nil
		}
	}
	return err
}
