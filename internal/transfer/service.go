// Package transfer turns links, ranges, paths and chat jobs into queued
// download and upload tasks, and runs forwards between chats.
package transfer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/blockedby/tgfetch/internal/link"
	"github.com/blockedby/tgfetch/internal/logger"
	"github.com/blockedby/tgfetch/internal/resolver"
	"github.com/blockedby/tgfetch/internal/taskqueue"
	"github.com/blockedby/tgfetch/internal/telegram"
)

// Client is the messaging service surface used by transfers.
type Client interface {
	resolver.Service
	GetMessages(ctx context.Context, chat *telegram.Chat, ids []int) ([]telegram.Message, error)
	History(ctx context.Context, chat *telegram.Chat, offsetID int, limit int) ([]telegram.Message, error)
	Download(ctx context.Context, msg telegram.Message, path string) error
	Upload(ctx context.Context, path string, target *telegram.Chat) error
	Forward(ctx context.Context, from *telegram.Chat, ids []int, to *telegram.Chat) error
	IsPremium() bool
}

// Options carries the transfer part of the configuration.
type Options struct {
	SaveDirectory     string
	DownloadTypes     []telegram.MediaKind
	UploadAfter       bool   // upload every finished download
	UploadTarget      string // chat link the finished downloads go to
	DeleteAfterUpload bool
	ForwardAttempts   uint64
}

// Service orchestrates transfers on top of the task queue.
type Service struct {
	client   Client
	resolver *resolver.Resolver
	queue    *taskqueue.Queue
	opts     Options
	log      *logger.Logger

	downloadTypes map[telegram.MediaKind]bool
}

// New creates a Service.
func New(client Client, queue *taskqueue.Queue, opts Options, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	if opts.SaveDirectory == "" {
		opts.SaveDirectory = "download"
	}
	if len(opts.DownloadTypes) == 0 {
		opts.DownloadTypes = telegram.MediaKinds()
	}
	if opts.ForwardAttempts == 0 {
		opts.ForwardAttempts = 3
	}
	types := make(map[telegram.MediaKind]bool, len(opts.DownloadTypes))
	for _, k := range opts.DownloadTypes {
		types[k] = true
	}
	return &Service{
		client:        client,
		resolver:      resolver.New(client, log),
		queue:         queue,
		opts:          opts,
		log:           log,
		downloadTypes: types,
	}
}

// Failure is one rejected input.
type Failure struct {
	Input string
	Err   error
}

// Summary partitions the inputs of one batch.
type Summary struct {
	BatchID   string
	Accepted  []string
	Duplicate []string
	Invalid   []Failure
	Failed    []Failure
}

func newSummary() *Summary {
	return &Summary{BatchID: uuid.NewString()}
}

func (s *Summary) invalid(input string, err error) {
	s.Invalid = append(s.Invalid, Failure{Input: input, Err: err})
}

func (s *Summary) failed(input string, err error) {
	s.Failed = append(s.Failed, Failure{Input: input, Err: err})
}

// Total counts every input of the batch.
func (s Summary) Total() int {
	return len(s.Accepted) + len(s.Duplicate) + len(s.Invalid) + len(s.Failed)
}

func (s Summary) String() string {
	var b strings.Builder
	section := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		sort.Strings(items)
		b.WriteString(title)
		b.WriteString("\n")
		for _, item := range items {
			b.WriteString(item)
			b.WriteString("\n")
		}
	}
	failures := func(fs []Failure) []string {
		out := make([]string, 0, len(fs))
		for _, f := range fs {
			out = append(out, fmt.Sprintf("%s (%v)", f.Input, f.Err))
		}
		return out
	}

	section("✅ Queued:", append([]string(nil), s.Accepted...))
	section("🔁 Already queued:", append([]string(nil), s.Duplicate...))
	section("⚠️ Invalid:", failures(s.Invalid))
	section("❌ Failed:", failures(s.Failed))
	if b.Len() == 0 {
		return "Nothing to do."
	}
	return strings.TrimRight(b.String(), "\n")
}

// resolveChatLink resolves a chat given as a link or bare username.
func (s *Service) resolveChatLink(ctx context.Context, raw string) (*telegram.Chat, error) {
	addr, _, err := link.Parse(raw)
	if err != nil {
		return nil, err
	}
	return s.client.ResolveChat(ctx, addr.Chat)
}
