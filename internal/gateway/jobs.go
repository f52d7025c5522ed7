package gateway

import (
	"fmt"
	"runtime/debug"

	. "github.com/roelfdiedericks/wacodex/internal/logging"
	"github.com/roelfdiedericks/wacodex/internal/queue"
	"github.com/roelfdiedericks/wacodex/internal/runner"
)

// kick starts the drain loop unless it is already running.
func (g *Gateway) kick() {
	g.mu.Lock()
	if g.draining || g.closed {
		g.mu.Unlock()
		return
	}
	g.draining = true
	g.drainWG.Add(1)
	g.mu.Unlock()

	go g.drain()
}

// drain runs queued jobs one at a time. The running job stays at the head
// of the queue until it finishes, so it counts against capacity.
func (g *Gateway) drain() {
	defer g.drainWG.Done()
	for {
		g.mu.Lock()
		job, ok := g.queue.Peek()
		if !ok || g.closed {
			g.draining = false
			g.mu.Unlock()
			return
		}
		g.active = &activeJob{Job: job}
		g.mu.Unlock()

		g.runJob(job)

		g.mu.Lock()
		g.active = nil
		g.queue.Remove(job.ID)
		g.mu.Unlock()
	}
}

// runJob executes one job and replies with its outcome. A panic is
// reported to the chat and does not stop the drain loop.
func (g *Gateway) runJob(job queue.Job) {
	defer func() {
		if r := recover(); r != nil {
			L_error("gateway: job panicked", "job", job.ID, "panic", r, "stack", string(debug.Stack()))
			g.reply(g.ctx, job.ReplyTo, fmt.Sprintf("Job #%d crashed: %v", job.ID, r))
		}
	}()

	g.mu.Lock()
	req := runner.Request{
		JobID:        job.ID,
		Prompt:       job.Prompt,
		Workdir:      g.workdir,
		SessionToken: g.session,
		Timeout:      g.config.JobTimeout,
	}
	gen := g.sessionGen
	stopped := g.active.stopped
	g.mu.Unlock()

	if stopped {
		g.reply(g.ctx, job.ReplyTo, runner.FormatReply(nil, runner.ReplyContext{JobID: job.ID, Stopped: true}))
		return
	}
	if g.start == nil {
		g.reply(g.ctx, job.ReplyTo, fmt.Sprintf("Job #%d could not start: no runner configured", job.ID))
		return
	}

	proc, err := g.start(g.ctx, req)
	if err != nil {
		L_error("gateway: job failed to start", "job", job.ID, "error", err)
		g.reply(g.ctx, job.ReplyTo, fmt.Sprintf("Job #%d could not start: %v", job.ID, err))
		return
	}

	g.mu.Lock()
	g.active.proc = proc
	g.active.PID = proc.PID()
	g.active.StartedAt = proc.StartedAt()
	g.active.OutputFile = proc.OutputFile()
	if g.active.stopped {
		// Stopped between spawn and bookkeeping
		proc.Terminate()
	}
	g.mu.Unlock()

	L_info("gateway: job running", "job", job.ID, "pid", proc.PID(), "workdir", req.Workdir, "resume", req.SessionToken != "")

	res := proc.Wait()

	g.mu.Lock()
	stopped = g.active.stopped
	if res != nil && res.SessionToken != "" && res.SessionToken != g.session {
		if gen == g.sessionGen {
			g.session = res.SessionToken
			if err := g.store.SaveSession(res.SessionToken); err != nil {
				L_warn("gateway: failed to persist session", "error", err)
			}
			L_info("gateway: session updated", "job", job.ID, "session", res.SessionToken)
		} else {
			L_debug("gateway: ignoring session from superseded run", "job", job.ID, "session", res.SessionToken)
		}
	}
	g.mu.Unlock()

	if res != nil {
		L_info("gateway: job finished", "job", job.ID, "exitCode", res.ExitCode, "timedOut", res.TimedOut,
			"stopped", stopped, "elapsed", res.Elapsed)
	}

	g.reply(g.ctx, job.ReplyTo, runner.FormatReply(res, runner.ReplyContext{
		JobID:    job.ID,
		Stopped:  stopped,
		Timeout:  req.Timeout,
		MaxChars: g.config.ReplyMaxChars,
	}))
}
