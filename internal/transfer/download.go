package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/blockedby/tgfetch/internal/apperr"
	"github.com/blockedby/tgfetch/internal/link"
	"github.com/blockedby/tgfetch/internal/taskqueue"
	"github.com/blockedby/tgfetch/internal/telegram"
)

// errNoMedia marks a link that resolved to text only messages.
var errNoMedia = errors.New("no downloadable media")

// DownloadLinks resolves every link and enqueues one download per media
// message. A bad link never aborts the batch.
func (s *Service) DownloadLinks(ctx context.Context, links []string) Summary {
	sum := newSummary()
	for _, raw := range links {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		s.downloadLink(ctx, sum, raw)
	}
	s.log.Info().
		Str("batch", sum.BatchID).
		Int("accepted", len(sum.Accepted)).
		Int("duplicate", len(sum.Duplicate)).
		Int("invalid", len(sum.Invalid)).
		Int("failed", len(sum.Failed)).
		Msg("transfer: download batch queued")
	return *sum
}

// DownloadRange expands base/start..end and downloads every link of it.
func (s *Service) DownloadRange(ctx context.Context, base, start, end string) (Summary, error) {
	links, err := link.ExpandRange(base, start, end)
	if err != nil {
		return Summary{}, err
	}
	return s.DownloadLinks(ctx, links), nil
}

func (s *Service) downloadLink(ctx context.Context, sum *Summary, raw string) {
	item, err := s.resolver.ResolveLink(ctx, raw)
	if err != nil {
		if errors.Is(err, apperr.ErrInvalidLink) {
			sum.invalid(raw, err)
		} else {
			sum.failed(raw, err)
		}
		return
	}

	var queued, dup int
	for _, msg := range item.Items {
		if !msg.HasMedia() || !s.downloadTypes[msg.Media] {
			continue
		}
		switch err := s.submitDownload(downloadJob{msg: msg}); {
		case err == nil:
			queued++
		case errors.Is(err, apperr.ErrDuplicateTask):
			dup++
		default:
			sum.failed(raw, err)
			return
		}
	}

	switch {
	case queued > 0:
		sum.Accepted = append(sum.Accepted, raw)
	case dup > 0:
		sum.Duplicate = append(sum.Duplicate, raw)
	default:
		sum.failed(raw, errNoMedia)
	}
}

// downloadJob is one queued media download.
type downloadJob struct {
	msg telegram.Message

	// uploadTo, when set, receives the file once it is on disk.
	uploadTo          *telegram.Chat
	deleteAfterUpload bool
}

// SavePath is where msg ends up on disk.
func (s *Service) SavePath(msg telegram.Message) string {
	name := sanitizeFileName(msg.FileName)
	if name == "" {
		name = string(msg.Media)
	}
	return filepath.Join(s.opts.SaveDirectory,
		strconv.FormatInt(msg.ChatID, 10),
		fmt.Sprintf("%d_%s", msg.ID, name))
}

func sanitizeFileName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}
		return r
	}, name)
	return strings.TrimSpace(strings.Trim(name, "."))
}

func (s *Service) submitDownload(job downloadJob) error {
	path := s.SavePath(job.msg)
	return s.queue.Submit(taskqueue.Task{
		Key:  link.MessageKey(job.msg.ChatID, job.msg.ID),
		Kind: taskqueue.KindDownload,
		Precheck: func(context.Context) (bool, error) {
			return alreadySaved(path, job.msg.Size), nil
		},
		Run: func(ctx context.Context) error {
			return s.runDownload(ctx, job, path)
		},
	})
}

// alreadySaved reports whether path holds a complete copy of the media.
func alreadySaved(path string, size int64) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return size <= 0 || info.Size() == size
}

func (s *Service) runDownload(ctx context.Context, job downloadJob, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create save dir: %w", err)
	}
	part := path + ".part"
	if err := s.client.Download(ctx, job.msg, part); err != nil {
		_ = os.Remove(part)
		return err
	}
	if job.msg.Size > 0 {
		info, err := os.Stat(part)
		if err != nil {
			return fmt.Errorf("stat download: %w", err)
		}
		if info.Size() != job.msg.Size {
			_ = os.Remove(part)
			return apperr.Transient(fmt.Errorf("short download: %d of %d bytes", info.Size(), job.msg.Size), 0)
		}
	}
	if err := os.Rename(part, path); err != nil {
		return fmt.Errorf("finalize download: %w", err)
	}
	s.log.Info().Str("path", path).Int64("chat_id", job.msg.ChatID).Int("msg_id", job.msg.ID).Msg("transfer: downloaded")

	return s.afterDownload(ctx, job, path)
}

// afterDownload hands the file to the upload pool when the job or the
// upload-after-download setting asks for it.
func (s *Service) afterDownload(ctx context.Context, job downloadJob, path string) error {
	target := job.uploadTo
	deleteAfter := job.deleteAfterUpload
	if target == nil && s.opts.UploadAfter && s.opts.UploadTarget != "" {
		chat, err := s.resolveChatLink(ctx, s.opts.UploadTarget)
		if err != nil {
			// the download itself succeeded
			s.log.Warn().Err(err).Str("target", s.opts.UploadTarget).Msg("transfer: upload target unavailable")
			return nil
		}
		target = chat
		deleteAfter = s.opts.DeleteAfterUpload
	}
	if target == nil {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat download: %w", err)
	}
	if err := s.submitUpload(path, info.Size(), target, deleteAfter); err != nil && !errors.Is(err, apperr.ErrDuplicateTask) {
		s.log.Warn().Err(err).Str("path", path).Msg("transfer: follow-up upload rejected")
	}
	return nil
}
