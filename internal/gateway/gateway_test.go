package gateway

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/roelfdiedericks/wacodex/internal/runner"
	"github.com/roelfdiedericks/wacodex/internal/state"
)

// fakeProc stands in for a tool process; the test decides when it exits.
type fakeProc struct {
	owner  *fakeRunner
	req    runner.Request
	start  time.Time
	exit   chan *runner.Result
	once   sync.Once
	result *runner.Result
}

func (p *fakeProc) PID() int             { return 4242 }
func (p *fakeProc) StartedAt() time.Time { return p.start }
func (p *fakeProc) OutputFile() string   { return "/tmp/job-out.txt" }

func (p *fakeProc) Wait() *runner.Result {
	p.once.Do(func() {
		p.result = <-p.exit
		p.owner.mu.Lock()
		p.owner.running--
		p.owner.mu.Unlock()
	})
	return p.result
}

func (p *fakeProc) Terminate() bool {
	select {
	case p.exit <- &runner.Result{ExitCode: -1, Signal: "killed"}:
	default:
	}
	return true
}

func (p *fakeProc) finish(res *runner.Result) {
	p.exit <- res
}

type fakeRunner struct {
	mu         sync.Mutex
	reqs       []runner.Request
	running    int
	maxRunning int
	failNext   error
	started    chan *fakeProc
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{started: make(chan *fakeProc, 16)}
}

func (f *fakeRunner) start(ctx context.Context, req runner.Request) (process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failNext; err != nil {
		f.failNext = nil
		return nil, &runner.SpawnError{Binary: "codex", Err: err}
	}
	f.reqs = append(f.reqs, req)
	f.running++
	if f.running > f.maxRunning {
		f.maxRunning = f.running
	}
	p := &fakeProc{owner: f, req: req, start: time.Now(), exit: make(chan *runner.Result, 1)}
	f.started <- p
	return p, nil
}

func (f *fakeRunner) next(t *testing.T) *fakeProc {
	t.Helper()
	select {
	case p := <-f.started:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("no job started")
		return nil
	}
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
}

func (s *fakeSender) SendText(ctx context.Context, to, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, text)
	return nil
}

func (s *fakeSender) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return ""
	}
	return s.sent[len(s.sent)-1]
}

// waitFor polls until some sent message contains substr.
func (s *fakeSender) waitFor(t *testing.T, substr string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		for _, m := range s.sent {
			if strings.Contains(m, substr) {
				s.mu.Unlock()
				return
			}
		}
		s.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no message containing %q; sent: %q", substr, s.sent)
}

type harness struct {
	gw      *Gateway
	runner  *fakeRunner
	sender  *fakeSender
	store   *state.Durable
	workdir string
}

func newHarness(t *testing.T, queueMax int) *harness {
	t.Helper()
	root := t.TempDir()
	fs, err := state.NewFileStore(filepath.Join(root, "state"))
	if err != nil {
		t.Fatal(err)
	}
	workdir := filepath.Join(root, "work")
	if err := os.Mkdir(workdir, 0750); err != nil {
		t.Fatal(err)
	}
	h := &harness{runner: newFakeRunner(), sender: &fakeSender{}, store: state.NewDurable(fs), workdir: workdir}
	h.gw = h.open(t, queueMax)
	return h
}

// open builds a gateway over the harness store, as a restart would.
func (h *harness) open(t *testing.T, queueMax int) *Gateway {
	t.Helper()
	gw, err := New(GatewayConfig{DefaultWorkdir: h.workdir, QueueMax: queueMax, JobTimeout: time.Minute},
		Deps{Store: h.store, Sender: h.sender})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	gw.start = h.runner.start
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
	})
	return gw
}

func (h *harness) send(text string) string {
	h.gw.HandleMessage(context.Background(), "me@s.whatsapp.net", text)
	return h.sender.last()
}

func waitIdle(t *testing.T, gw *Gateway) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st := gw.Status()
		if !st.Active && st.QueueLength == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("gateway did not become idle")
}

func TestCapacityOneScenario(t *testing.T) {
	h := newHarness(t, 1)

	if got := h.send("job A"); !strings.Contains(got, "starting now") {
		t.Fatalf("A: %q", got)
	}
	a := h.runner.next(t)

	if got := h.send("job B"); !strings.Contains(got, "Queue full") {
		t.Fatalf("B while A runs: %q", got)
	}

	a.finish(&runner.Result{Output: "answer A"})
	h.sender.waitFor(t, "answer A")
	waitIdle(t, h.gw)

	if got := h.send("job B"); !strings.Contains(got, "starting now") {
		t.Fatalf("B after A: %q", got)
	}
	h.runner.next(t).finish(&runner.Result{Output: "answer B"})
	h.sender.waitFor(t, "answer B")
}

func TestJobsRunInOrderOneAtATime(t *testing.T) {
	h := newHarness(t, 5)
	for _, p := range []string{"first", "second", "third"} {
		if _, err := h.gw.Submit("me", p); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 3; i++ {
		p := h.runner.next(t)
		p.finish(&runner.Result{Output: "done " + p.req.Prompt})
	}
	waitIdle(t, h.gw)

	h.runner.mu.Lock()
	defer h.runner.mu.Unlock()
	var order []string
	for _, r := range h.runner.reqs {
		order = append(order, r.Prompt)
	}
	if strings.Join(order, ",") != "first,second,third" {
		t.Errorf("order = %v", order)
	}
	if h.runner.maxRunning != 1 {
		t.Errorf("max concurrent jobs = %d", h.runner.maxRunning)
	}
}

func TestSessionTokenPersistsAcrossReload(t *testing.T) {
	h := newHarness(t, 5)
	const tok = "0199a213-81c0-7800-8aa1-bbab2a035a53"

	h.send("hello")
	p := h.runner.next(t)
	if p.req.SessionToken != "" {
		t.Errorf("first run should start fresh, got %q", p.req.SessionToken)
	}
	p.finish(&runner.Result{Output: "hi", SessionToken: tok})
	waitIdle(t, h.gw)

	if got := h.send("/session"); got != "Session: "+tok {
		t.Errorf("/session = %q", got)
	}
	if got := h.send("/status"); !strings.Contains(got, tok) {
		t.Errorf("/status = %q", got)
	}

	restarted := h.open(t, 5)
	if restarted.SessionToken() != tok {
		t.Fatalf("token after reload = %q", restarted.SessionToken())
	}
	if _, err := restarted.Submit("me", "again"); err != nil {
		t.Fatal(err)
	}
	p = h.runner.next(t)
	if p.req.SessionToken != tok {
		t.Errorf("resumed with %q", p.req.SessionToken)
	}
	p.finish(&runner.Result{Output: "ok"})
}

func TestWorkdirChangesClearSessionAndRespectBusy(t *testing.T) {
	h := newHarness(t, 5)
	sub := filepath.Join(h.workdir, "sub")
	if err := os.Mkdir(sub, 0750); err != nil {
		t.Fatal(err)
	}
	if err := h.store.SaveSession("tok-old"); err != nil {
		t.Fatal(err)
	}
	gw := h.open(t, 5)
	h.gw = gw

	gw.Submit("me", "long job")
	p := h.runner.next(t)

	for _, cmd := range []string{"/cd sub", "/cd-reset"} {
		h.send(cmd)
	}
	if _, err := gw.ChangeDir("sub"); !errors.Is(err, ErrBusy) {
		t.Errorf("ChangeDir while busy: %v", err)
	}
	if gw.Workdir() != h.workdir || gw.SessionToken() != "tok-old" {
		t.Errorf("state mutated while busy: %q %q", gw.Workdir(), gw.SessionToken())
	}

	p.finish(&runner.Result{Output: "ok"})
	waitIdle(t, gw)

	if got := h.send("/cd sub"); !strings.Contains(got, sub) {
		t.Fatalf("/cd = %q", got)
	}
	if gw.SessionToken() != "" {
		t.Error("cd should clear the session")
	}
	if _, ok, _ := h.store.LoadSession(); ok {
		t.Error("cleared session should not be persisted")
	}
	if dir, _, _ := h.store.LoadWorkdir(); dir != sub {
		t.Errorf("persisted workdir = %q", dir)
	}

	if got := h.send("/cd nope"); !strings.Contains(got, "does not exist") {
		t.Errorf("/cd nope = %q", got)
	}
	var pathErr *PathError
	if _, err := gw.ChangeDir("nope"); !errors.As(err, &pathErr) {
		t.Errorf("expected PathError, got %v", err)
	}

	if err := h.store.SaveSession("tok-2"); err != nil {
		t.Fatal(err)
	}
	gw.session = "tok-2"
	if got := h.send("/cd-reset"); !strings.Contains(got, h.workdir) {
		t.Errorf("/cd-reset = %q", got)
	}
	if gw.SessionToken() != "" || gw.Workdir() != h.workdir {
		t.Errorf("after reset: %q %q", gw.SessionToken(), gw.Workdir())
	}
	if _, ok, _ := h.store.LoadWorkdir(); ok {
		t.Error("reset should drop the persisted workdir")
	}
}

func TestSupersededRunDoesNotRestoreSession(t *testing.T) {
	h := newHarness(t, 5)
	h.send("work")
	p := h.runner.next(t)

	h.send("/new")
	p.finish(&runner.Result{Output: "ok", SessionToken: "11111111-1111-4111-8111-111111111111"})
	waitIdle(t, h.gw)

	if tok := h.gw.SessionToken(); tok != "" {
		t.Errorf("session resurrected after /new: %q", tok)
	}
}

func TestStopTerminatesAndClears(t *testing.T) {
	h := newHarness(t, 5)
	h.gw.Submit("me", "a")
	h.runner.next(t)
	h.gw.Submit("me", "b")
	h.gw.Submit("me", "c")

	res := h.gw.Stop()
	if !res.Terminated || res.Cleared != 2 {
		t.Errorf("Stop = %+v", res)
	}
	h.sender.waitFor(t, "stopped")
	waitIdle(t, h.gw)

	h.runner.mu.Lock()
	n := len(h.runner.reqs)
	h.runner.mu.Unlock()
	if n != 1 {
		t.Errorf("cleared jobs should not run, got %d runs", n)
	}

	if got := h.send("/stop"); got != "Nothing to stop." {
		t.Errorf("idle /stop = %q", got)
	}
}

func TestFavoritesLifecycle(t *testing.T) {
	h := newHarness(t, 5)
	proj := filepath.Join(h.workdir, "proj")
	if err := os.Mkdir(proj, 0750); err != nil {
		t.Fatal(err)
	}

	if got := h.send("/fav-add proj " + proj); !strings.Contains(got, proj) {
		t.Fatalf("fav-add = %q", got)
	}
	if got := h.send("/fav-list"); !strings.Contains(got, "proj → "+proj) {
		t.Errorf("fav-list = %q", got)
	}
	if got := h.send("/fav proj"); !strings.Contains(got, proj) || h.gw.Workdir() != proj {
		t.Errorf("fav = %q, workdir %q", got, h.gw.Workdir())
	}
	if got := h.send("/fav-rm proj"); !strings.Contains(got, "removed") {
		t.Errorf("fav-rm = %q", got)
	}
	if _, _, err := h.gw.UseFavorite("proj"); !errors.Is(err, ErrFavoriteNotFound) {
		t.Errorf("expected ErrFavoriteNotFound, got %v", err)
	}

	if _, _, err := h.gw.AddFavorite("bad!", proj); !errors.Is(err, state.ErrInvalidFavoriteName) {
		t.Errorf("expected invalid name, got %v", err)
	}
	favs, err := h.store.LoadFavorites()
	if err != nil {
		t.Fatal(err)
	}
	if len(favs) != 0 {
		t.Errorf("nothing should be stored, got %v", favs)
	}
}

func TestFavoriteSwitchRejectedWhileBusy(t *testing.T) {
	h := newHarness(t, 5)
	if _, _, err := h.gw.AddFavorite("here", h.workdir); err != nil {
		t.Fatal(err)
	}
	h.gw.Submit("me", "busy")
	p := h.runner.next(t)
	if _, _, err := h.gw.UseFavorite("here"); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}
	p.finish(&runner.Result{Output: "ok"})
}

func TestSpawnErrorDoesNotStopQueue(t *testing.T) {
	h := newHarness(t, 5)
	h.runner.failNext = errors.New("exec: not found")

	h.gw.Submit("me", "first")
	h.gw.Submit("me", "second")
	h.sender.waitFor(t, "could not start")

	p := h.runner.next(t)
	if p.req.Prompt != "second" {
		t.Errorf("next job = %q", p.req.Prompt)
	}
	p.finish(&runner.Result{Output: "fine"})
	h.sender.waitFor(t, "fine")
}

func TestReplyIsChunked(t *testing.T) {
	h := newHarness(t, 5)
	h.gw.config.ChunkSize = 50
	h.gw.Submit("me", "big")
	h.runner.next(t).finish(&runner.Result{Output: strings.Repeat("line of output\n", 20)})
	waitIdle(t, h.gw)

	h.sender.mu.Lock()
	defer h.sender.mu.Unlock()
	if len(h.sender.sent) < 3 {
		t.Fatalf("expected several chunks, got %d", len(h.sender.sent))
	}
	for _, m := range h.sender.sent {
		if len([]rune(m)) > 50 {
			t.Errorf("chunk too long: %d", len([]rune(m)))
		}
	}
}

func TestShutdownDiscardsQueue(t *testing.T) {
	h := newHarness(t, 5)
	h.gw.Submit("me", "a")
	h.runner.next(t)
	h.gw.Submit("me", "b")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.gw.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if _, err := h.gw.Submit("me", "late"); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit after shutdown: %v", err)
	}
	h.runner.mu.Lock()
	defer h.runner.mu.Unlock()
	if len(h.runner.reqs) != 1 {
		t.Errorf("queued job ran after shutdown")
	}
}

func TestFavoritesHotReload(t *testing.T) {
	h := newHarness(t, 5)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := h.gw.Start(ctx); err != nil {
		t.Fatal(err)
	}

	// External edit of the favorites document
	fs := h.store.Store().(*state.FileStore)
	if err := fs.Set(state.KeyFavorites, `{"ext": "/srv/ext"}`); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if h.gw.Favorites()["ext"] == "/srv/ext" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("favorites were not reloaded")
}

func TestEmptyAndUnknown(t *testing.T) {
	h := newHarness(t, 5)
	h.gw.HandleMessage(context.Background(), "me", "   ")
	if h.sender.last() != "" {
		t.Error("blank text should be ignored")
	}
	if got := h.send("/frobnicate"); !strings.Contains(got, "Unknown command") {
		t.Errorf("got %q", got)
	}
}

func TestAckAndStatusCountWaitingJobs(t *testing.T) {
	h := newHarness(t, 5)

	h.send("job A")
	a := h.runner.next(t)

	got := h.send("job B")
	if !strings.Contains(got, "1 ahead of it") {
		t.Fatalf("B while A runs: %q", got)
	}
	if got := h.send("job C"); !strings.Contains(got, "2 ahead of it") {
		t.Fatalf("C: %q", got)
	}

	st := h.gw.Status()
	if !st.Active || st.QueueLength != 3 || len(st.Waiting) != 2 {
		t.Fatalf("status = %+v", st)
	}
	if st.Waiting[0] == st.ActiveJobID || st.Waiting[0] >= st.Waiting[1] {
		t.Errorf("waiting %v, active %d", st.Waiting, st.ActiveJobID)
	}
	text := h.send("/status")
	if !strings.Contains(text, "Queue: 3/5 in use, 2 waiting (#") {
		t.Errorf("status text: %q", text)
	}

	a.finish(&runner.Result{Output: "answer A"})
	h.runner.next(t).finish(&runner.Result{Output: "answer B"})
	h.runner.next(t).finish(&runner.Result{Output: "answer C"})
	waitIdle(t, h.gw)
}
