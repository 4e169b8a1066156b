package transfer

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/blockedby/tgfetch/internal/apperr"
	"github.com/blockedby/tgfetch/internal/listen"
	"github.com/blockedby/tgfetch/internal/link"
	"github.com/blockedby/tgfetch/internal/telegram"
	"github.com/blockedby/tgfetch/internal/wizard"
)

const historyPage = 100

var _ wizard.Executor = (*Service)(nil)

// RunChatJob walks the history of source newest first and enqueues a
// download for every message the filter accepts. It stops at the first
// message older than the range start.
func (s *Service) RunChatJob(ctx context.Context, source string, filter wizard.ChatFilter) (wizard.Report, error) {
	report := wizard.Report{JobID: uuid.NewString()}

	chat, err := s.resolveChatLink(ctx, source)
	if err != nil {
		return report, err
	}
	log := s.log.With().Str("job", report.JobID).Int64("chat_id", chat.ID).Logger()
	log.Info().Str("filter", filter.String()).Msg("transfer: chat job started")

	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		page, err := s.client.History(ctx, chat, offset, historyPage)
		if err != nil {
			return report, err
		}
		if len(page) == 0 {
			break
		}
		for _, msg := range page {
			if filter.DateRange.Before(msg.Date) {
				log.Info().Int("scanned", report.Scanned).Msg("transfer: chat job reached range start")
				return report, nil
			}
			report.Scanned++
			if !filter.Match(msg) {
				report.Skipped++
				continue
			}
			report.Matched++
			switch err := s.submitDownload(downloadJob{msg: msg}); {
			case err == nil:
				report.Enqueued++
			case errors.Is(err, apperr.ErrDuplicateTask):
				report.Duplicate++
			default:
				return report, err
			}
		}
		offset = page[len(page)-1].ID
	}

	log.Info().Int("scanned", report.Scanned).Int("enqueued", report.Enqueued).Msg("transfer: chat job finished")
	return report, nil
}

// Listener adapts the service to listen.Dispatcher.
type Listener struct {
	s *Service
}

var _ listen.Dispatcher = Listener{}

// Listener returns the dispatcher that feeds listen events into the service.
func (s *Service) Listener() Listener {
	return Listener{s: s}
}

// Download queues the media of a new message in a listened chat.
func (l Listener) Download(_ context.Context, _ listen.Subscription, msg telegram.Message) error {
	err := l.s.submitDownload(downloadJob{msg: msg})
	if errors.Is(err, apperr.ErrDuplicateTask) {
		return nil
	}
	return err
}

// Forward copies a new message of a listened chat to the subscription target.
func (l Listener) Forward(ctx context.Context, sub listen.Subscription, msg telegram.Message) error {
	from, err := l.s.client.ResolveChat(ctx, link.ChatRef{ID: sub.Source})
	if err != nil {
		return err
	}
	to, err := l.s.client.ResolveChat(ctx, link.ChatRef{ID: sub.Target})
	if err != nil {
		return err
	}
	return l.s.forwardOne(ctx, from, to, msg)
}
