package transport

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/interop/pamgw/internal/ingest"
)

// FilePollerOptions configures one polled inbox directory.
type FilePollerOptions struct {
	Directory    string
	Ref          string
	PollInterval time.Duration
	Extensions   []string // allow-list, with leading dot

	// RequireReady makes the poller wait for a "<name>.ready" sentinel
	// before touching a payload file. The sentinel is removed once the
	// payload moves to processing.
	RequireReady bool
}

// FilePoller watches an inbox directory and feeds each file through the
// inbound handler. Files move inbox -> processing -> archive or error, so a
// crash mid-run leaves each file in exactly one place.
type FilePoller struct {
	opts    FilePollerOptions
	handler InboundHandler
	logger  zerolog.Logger
}

func NewFilePoller(opts FilePollerOptions, handler InboundHandler, logger zerolog.Logger) *FilePoller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = []string{".hl7", ".txt"}
	}
	if opts.Ref == "" {
		opts.Ref = opts.Directory
	}
	return &FilePoller{
		opts:    opts,
		handler: handler,
		logger: logger.With().Str("component", "file_poller").
			Str("endpoint", opts.Ref).Logger(),
	}
}

// Run polls until ctx is cancelled. A filesystem watcher shortens the
// latency between upload and pickup; the ticker remains the guarantee.
func (p *FilePoller) Run(ctx context.Context) error {
	for _, sub := range []string{"processing", "archive", "error"} {
		if err := os.MkdirAll(filepath.Join(p.opts.Directory, sub), 0o755); err != nil {
			return err
		}
	}

	events := make(chan struct{}, 1)
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		if err := watcher.Add(p.opts.Directory); err != nil {
			p.logger.Warn().Err(err).Msg("watch inbox, falling back to polling only")
		} else {
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case ev, ok := <-watcher.Events:
						if !ok {
							return
						}
						if ev.Op&(fsnotify.Create|fsnotify.Rename) != 0 {
							select {
							case events <- struct{}{}:
							default:
							}
						}
					case _, ok := <-watcher.Errors:
						if !ok {
							return
						}
					}
				}
			}()
		}
	} else {
		p.logger.Warn().Err(err).Msg("fsnotify unavailable, polling only")
	}

	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()
	for {
		p.Sweep(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-events:
		}
	}
}

// Sweep processes every eligible file currently in the inbox.
func (p *FilePoller) Sweep(ctx context.Context) {
	entries, err := os.ReadDir(p.opts.Directory)
	if err != nil {
		p.logger.Error().Err(err).Msg("read inbox directory")
		return
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		if entry.IsDir() || !p.eligible(entry.Name()) {
			continue
		}
		p.processFile(ctx, entry.Name())
	}
}

func (p *FilePoller) eligible(name string) bool {
	if strings.HasSuffix(name, ".ready") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	allowed := false
	for _, e := range p.opts.Extensions {
		if ext == e {
			allowed = true
			break
		}
	}
	if !allowed {
		return false
	}
	if p.opts.RequireReady {
		sentinel := filepath.Join(p.opts.Directory, name+".ready")
		if _, err := os.Stat(sentinel); err != nil {
			return false
		}
	}
	return true
}

func (p *FilePoller) processFile(ctx context.Context, name string) {
	src := filepath.Join(p.opts.Directory, name)
	work := filepath.Join(p.opts.Directory, "processing", name)

	// The rename claims the file; a concurrent sweep loses the race and
	// skips it.
	if err := os.Rename(src, work); err != nil {
		return
	}
	if p.opts.RequireReady {
		_ = os.Remove(src + ".ready")
	}

	data, err := os.ReadFile(work)
	if err != nil {
		p.logger.Error().Err(err).Str("file", name).Msg("read claimed file")
		p.finish(name, false)
		return
	}

	allAccepted := true
	messages := SplitMessages(data)
	for _, payload := range messages {
		ack, _ := p.handler.Handle(ctx, payload, ingest.Endpoint{
			Kind: "FILE",
			Ref:  p.opts.Ref,
		})
		if !ack.IsAccept() {
			allAccepted = false
			p.logger.Warn().Str("file", name).Str("msa1", ack.Code).
				Str("code", ack.ErrCode).Msg("file message rejected")
		}
	}
	if len(messages) == 0 {
		allAccepted = false
		p.logger.Warn().Str("file", name).Msg("file carries no message")
	}

	p.finish(name, allAccepted)
	p.logger.Info().Str("file", name).Int("messages", len(messages)).
		Bool("accepted", allAccepted).Msg("file processed")
}

func (p *FilePoller) finish(name string, ok bool) {
	dest := "error"
	if ok {
		dest = "archive"
	}
	from := filepath.Join(p.opts.Directory, "processing", name)
	to := filepath.Join(p.opts.Directory, dest, name)
	if _, err := os.Stat(to); err == nil {
		// A same-named file was processed before; keep both.
		to = filepath.Join(p.opts.Directory, dest,
			time.Now().UTC().Format("20060102150405")+"_"+name)
	}
	if err := os.Rename(from, to); err != nil {
		p.logger.Error().Err(err).Str("file", name).Msg("move processed file")
	}
}

// SplitMessages cuts a file body into individual HL7 payloads on blank
// lines. Line endings inside each payload are left for the parser, which
// tolerates LF.
func SplitMessages(data []byte) [][]byte {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var out [][]byte
	var current []string
	flush := func() {
		if len(current) > 0 {
			out = append(out, []byte(strings.Join(current, "\n")))
			current = nil
		}
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		current = append(current, line)
	}
	flush()
	return out
}
