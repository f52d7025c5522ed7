// Package gateway owns the job queue, the active job and the durable
// session state, and routes chat messages to commands or the runner.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/roelfdiedericks/wacodex/internal/commands"
	"github.com/roelfdiedericks/wacodex/internal/dedup"
	. "github.com/roelfdiedericks/wacodex/internal/logging"
	"github.com/roelfdiedericks/wacodex/internal/queue"
	"github.com/roelfdiedericks/wacodex/internal/runner"
	"github.com/roelfdiedericks/wacodex/internal/state"
)

// Sender delivers text to a chat.
type Sender interface {
	SendText(ctx context.Context, to, text string) error
}

// process is the part of *runner.Execution the gateway uses.
type process interface {
	PID() int
	StartedAt() time.Time
	OutputFile() string
	Wait() *runner.Result
	Terminate() bool
}

type startFunc func(ctx context.Context, req runner.Request) (process, error)

// GatewayConfig holds gateway settings
type GatewayConfig struct {
	DefaultWorkdir string
	QueueMax       int
	JobTimeout     time.Duration
	ReplyMaxChars  int
	ChunkSize      int
	CommandPrefix  string
}

// Deps are the collaborators a Gateway is built from.
type Deps struct {
	Store      *state.Durable
	Runner     *runner.Runner
	Sender     Sender
	Dedup      *dedup.Registry // pruned by housekeeping when set
	Connection func() string   // reports transport state for /status
}

// activeJob is the job currently executing. At most one exists.
type activeJob struct {
	queue.Job
	proc       process
	PID        int
	StartedAt  time.Time
	OutputFile string
	stopped    bool
}

// Gateway is the context object for one authorized chat.
type Gateway struct {
	config     GatewayConfig
	store      *state.Durable
	runner     *runner.Runner
	start      startFunc
	sender     Sender
	dedup      *dedup.Registry
	connection func() string
	commands   *commands.Manager
	queue      *queue.Queue
	startTime  time.Time

	// Jobs run under ctx; Shutdown cancels it
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	active     *activeJob
	workdir    string
	session    string
	sessionGen uint64 // bumped whenever the session is cleared
	favorites  map[string]string
	draining   bool
	closed     bool
	drainWG    sync.WaitGroup

	cron *cron.Cron
}

// New creates a Gateway and loads the persisted workdir, session and
// favorites.
func New(cfg GatewayConfig, deps Deps) (*Gateway, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("gateway: state store is required")
	}
	if cfg.DefaultWorkdir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("gateway: no default workdir: %w", err)
		}
		cfg.DefaultWorkdir = wd
	}
	if cfg.ReplyMaxChars <= 0 {
		cfg.ReplyMaxChars = runner.DefaultReplyMaxChars
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = runner.DefaultChunkSize
	}
	if cfg.JobTimeout <= 0 && deps.Runner != nil {
		cfg.JobTimeout = deps.Runner.Config().Timeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		config:     cfg,
		store:      deps.Store,
		runner:     deps.Runner,
		sender:     deps.Sender,
		dedup:      deps.Dedup,
		connection: deps.Connection,
		queue:      queue.New(cfg.QueueMax),
		startTime:  time.Now(),
		ctx:        ctx,
		cancel:     cancel,
	}
	if deps.Runner != nil {
		g.start = func(ctx context.Context, req runner.Request) (process, error) {
			return deps.Runner.Start(ctx, req)
		}
	}
	g.commands = commands.NewManager(cfg.CommandPrefix, g)

	if err := g.load(); err != nil {
		cancel()
		return nil, err
	}
	return g, nil
}

func (g *Gateway) load() error {
	g.workdir = g.config.DefaultWorkdir
	if dir, ok, err := g.store.LoadWorkdir(); err != nil {
		return fmt.Errorf("gateway: load workdir: %w", err)
	} else if ok {
		if info, statErr := os.Stat(dir); statErr == nil && info.IsDir() {
			g.workdir = dir
		} else {
			L_warn("gateway: persisted workdir unusable, using default", "workdir", dir, "default", g.workdir)
		}
	}

	tok, _, err := g.store.LoadSession()
	if err != nil {
		return fmt.Errorf("gateway: load session: %w", err)
	}
	g.session = tok

	favs, err := g.store.LoadFavorites()
	if err != nil {
		L_warn("gateway: favorites unreadable, starting empty", "error", err)
		favs = make(map[string]string)
	}
	g.favorites = favs

	L_info("gateway: state loaded", "workdir", g.workdir, "session", g.session != "", "favorites", len(g.favorites))
	return nil
}

// HandleMessage routes one authorized inbound text.
func (g *Gateway) HandleMessage(ctx context.Context, replyTo, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	if g.commands.IsCommand(text) {
		name, _, _ := g.commands.Parse(text)
		L_debug("gateway: command", "name", name, "from", replyTo)
		res := g.commands.Execute(ctx, text, replyTo)
		if res.Error != nil {
			L_info("gateway: command failed", "name", name, "error", res.Error)
		}
		g.reply(ctx, replyTo, res.Text)
		return
	}

	job, pos, err := g.enqueue(replyTo, text)
	switch {
	case errors.Is(err, queue.ErrQueueFull):
		L_info("gateway: queue full, dropping prompt", "from", replyTo, "max", g.queue.Max())
		g.reply(ctx, replyTo, fmt.Sprintf("Queue full (%d/%d). Try again when a job finishes.", g.queue.Len(), g.queue.Max()))
		return
	case err != nil:
		g.reply(ctx, replyTo, err.Error())
		return
	}

	g.reply(ctx, replyTo, queuedText(job.ID, pos))
	g.kick()
}

// queuedText acknowledges a job at 1-based queue position pos. The running
// job holds position 1 until it finishes, so pos-1 jobs are ahead.
func queuedText(id int64, pos int) string {
	if pos <= 1 {
		return fmt.Sprintf("Queued job #%d, starting now.", id)
	}
	return fmt.Sprintf("Queued job #%d, %d ahead of it.", id, pos-1)
}

// Submit enqueues a prompt and starts the drain loop if it is idle.
func (g *Gateway) Submit(replyTo, prompt string) (int, error) {
	_, pos, err := g.enqueue(replyTo, prompt)
	if err != nil {
		return 0, err
	}
	g.kick()
	return pos, nil
}

func (g *Gateway) enqueue(replyTo, prompt string) (queue.Job, int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return queue.Job{}, 0, ErrClosed
	}
	job := queue.Job{
		ID:         g.queue.NextID(),
		ReplyTo:    replyTo,
		Prompt:     prompt,
		EnqueuedAt: time.Now(),
	}
	pos, err := g.queue.Enqueue(job)
	if err != nil {
		return queue.Job{}, 0, err
	}
	L_debug("gateway: job queued", "job", job.ID, "position", pos, "promptLen", len(prompt))
	return job, pos, nil
}

// reply sends text in transport-sized chunks. Send failures are logged.
func (g *Gateway) reply(ctx context.Context, to, text string) {
	g.mu.Lock()
	sender := g.sender
	g.mu.Unlock()
	if sender == nil || text == "" {
		return
	}
	for _, chunk := range runner.SplitChunks(text, g.config.ChunkSize) {
		if err := sender.SendText(ctx, to, chunk); err != nil {
			L_warn("gateway: send failed", "to", to, "error", err)
			return
		}
	}
}

// Shutdown stops accepting jobs, discards the queue, terminates the active
// job and waits for the drain loop to exit or ctx to expire.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	dropped := g.queue.Clear()
	if g.active != nil {
		g.active.stopped = true
		if g.active.proc != nil {
			g.active.proc.Terminate()
		}
	}
	g.mu.Unlock()

	L_info("gateway: shutting down", "discarded", dropped)
	g.cancel()
	g.stopHousekeeping()

	done := make(chan struct{})
	go func() {
		g.drainWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
