package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/blockedby/tgfetch/internal/apperr"
	"github.com/blockedby/tgfetch/internal/taskqueue"
	"github.com/blockedby/tgfetch/internal/telegram"
)

var (
	ErrEmptyFile = errors.New("file is empty")
	ErrNoFiles   = errors.New("directory has no regular files")
)

// Upload enqueues path for upload to the target chat. A directory expands to
// the regular files directly inside it. Local checks run before the target is
// resolved, so a batch with nothing to send never touches the network.
func (s *Service) Upload(ctx context.Context, path, target string) Summary {
	sum := newSummary()

	files, err := expandPath(path)
	if err != nil {
		sum.invalid(path, err)
		return *sum
	}

	type upload struct {
		path string
		size int64
	}
	var pending []upload
	privileged := s.client.IsPremium()
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			sum.invalid(f, err)
			continue
		}
		if info.Size() == 0 {
			sum.invalid(f, ErrEmptyFile)
			continue
		}
		if err := taskqueue.CheckUploadSize(info.Size(), privileged); err != nil {
			sum.failed(f, err)
			continue
		}
		pending = append(pending, upload{path: f, size: info.Size()})
	}
	if len(pending) == 0 {
		return *sum
	}

	chat, err := s.resolveChatLink(ctx, target)
	if err != nil {
		if errors.Is(err, apperr.ErrInvalidLink) {
			sum.invalid(target, err)
		} else {
			sum.failed(target, err)
		}
		return *sum
	}

	for _, u := range pending {
		switch err := s.submitUpload(u.path, u.size, chat, false); {
		case err == nil:
			sum.Accepted = append(sum.Accepted, u.path)
		case errors.Is(err, apperr.ErrDuplicateTask):
			sum.Duplicate = append(sum.Duplicate, u.path)
		default:
			sum.failed(u.path, err)
		}
	}
	return *sum
}

// expandPath returns the absolute files path stands for.
func expandPath(path string) ([]string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{abs}, nil
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			files = append(files, filepath.Join(abs, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	sort.Strings(files)
	return files, nil
}

func (s *Service) submitUpload(path string, size int64, target *telegram.Chat, deleteAfter bool) error {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return s.queue.Submit(taskqueue.Task{
		Key:  path,
		Kind: taskqueue.KindUpload,
		Precheck: func(context.Context) (bool, error) {
			info, err := os.Stat(path)
			if err != nil {
				return false, fmt.Errorf("upload source: %w", err)
			}
			if info.Size() != size {
				return false, fmt.Errorf("upload source changed: %d bytes, expected %d", info.Size(), size)
			}
			return false, nil
		},
		Run: func(ctx context.Context) error {
			if err := s.client.Upload(ctx, path, target); err != nil {
				return err
			}
			s.log.Info().Str("path", path).Int64("target", target.ID).Msg("transfer: uploaded")
			if deleteAfter {
				if err := os.Remove(path); err != nil {
					s.log.Warn().Err(err).Str("path", path).Msg("transfer: remove uploaded file")
				}
			}
			return nil
		},
	})
}
