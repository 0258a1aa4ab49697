package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"clawlink/internal/client"
	"clawlink/internal/config"
	"clawlink/internal/transcript"
)

// runRequest is one message to send to the agent
type runRequest struct {
	Message string
	Source  string
	Options client.MessageOptions
}

// runResult is what a finished run produced
type runResult struct {
	RunID      string             `json:"run_id,omitempty"`
	SessionKey string             `json:"session_key"`
	Response   string             `json:"response,omitempty"`
	Outcome    transcript.Outcome `json:"outcome"`
	Error      string             `json:"error,omitempty"`

	err error
}

// messageOptions returns the run defaults from the agent config section
func messageOptions(cfg *config.Config) client.MessageOptions {
	return client.MessageOptions{
		Thinking:          cfg.Agent.Thinking,
		SessionKey:        cfg.Agent.SessionKey,
		AgentID:           cfg.Agent.AgentID,
		Timeout:           cfg.Agent.RunTimeout(),
		ExtraSystemPrompt: cfg.Agent.ExtraSystemPrompt,
	}
}

// executeRun sends the message, waits for the outcome, and records it when
// store is non-nil
func executeRun(ctx context.Context, c *client.Client, store *transcript.Store, req runRequest) runResult {
	opts := req.Options
	if opts.SessionKey == "" {
		opts.SessionKey = client.DefaultSessionKey
	}

	var runID string
	onRun := opts.OnRun
	opts.OnRun = func(id string) {
		runID = id
		if onRun != nil {
			onRun(id)
		}
	}

	started := time.Now()
	text, err := c.SendMessage(ctx, req.Message, opts)
	finished := time.Now()

	res := runResult{
		RunID:      runID,
		SessionKey: opts.SessionKey,
		Response:   text,
		Outcome:    transcript.Classify(err),
		err:        err,
	}
	if err != nil {
		res.Error = err.Error()
	}

	if store != nil {
		entry := &transcript.Entry{
			RunID:      runID,
			SessionKey: opts.SessionKey,
			Source:     req.Source,
			Message:    req.Message,
			Response:   text,
			Outcome:    res.Outcome,
			Error:      res.Error,
			StartedAt:  started,
			FinishedAt: finished,
		}
		// a fresh context so an interrupted run is still recorded
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := store.Record(rctx, entry); err != nil {
			log.Printf("[Transcript] %v", err)
		}
		cancel()
	}
	return res
}

// abortOnDone returns a context for executeRun tied to ctx. When ctx ends an
// accepted run is aborted on the gateway; before acceptance the pending agent
// request is dropped instead.
func abortOnDone(ctx context.Context, c *client.Client, onAbort func(runID string)) (context.Context, func()) {
	runCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, func() {
		if runID, ok := c.AbortCurrentRun(); ok {
			if onAbort != nil {
				onAbort(runID)
			}
			return
		}
		cancel()
	})
	return runCtx, func() {
		stop()
		cancel()
	}
}

// openTranscript opens the transcript store, or returns nil when disabled
func openTranscript(cfg *config.Config) (*transcript.Store, error) {
	if !cfg.Transcript.Enabled {
		return nil, nil
	}
	path, err := cfg.TranscriptPath()
	if err != nil {
		return nil, err
	}
	return transcript.NewStore(path)
}

// streamPrinter renders OnStream callbacks. Response text goes to out as it
// grows; notices and thinking go to info.
type streamPrinter struct {
	out          io.Writer
	info         io.Writer
	styles       Styles
	showThinking bool

	mu              sync.Mutex
	printed         string
	printedThinking string
}

func newStreamPrinter(out, info io.Writer, showThinking bool) *streamPrinter {
	return &streamPrinter{out: out, info: info, styles: NewStyles(info), showThinking: showThinking}
}

func (p *streamPrinter) handle(text string, kind client.StreamKind) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch kind {
	case client.StreamResponse:
		p.printed = writeDelta(p.out, p.printed, text)
	case client.StreamThinking:
		if p.showThinking {
			p.printedThinking = writeDelta(p.info, p.printedThinking, text)
		}
	case client.StreamTool:
		p.notice(p.styles.Tool.Render(text))
	case client.StreamStatus:
		p.notice(p.styles.Status.Render(text))
	}
}

func (p *streamPrinter) notice(line string) {
	if p.printed != "" && !strings.HasSuffix(p.printed, "\n") {
		fmt.Fprintln(p.info)
	}
	fmt.Fprintln(p.info, line)
}

// finish prints whatever part of the final text was not streamed
func (p *streamPrinter) finish(final string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if final != "" {
		p.printed = writeDelta(p.out, p.printed, final)
	}
	if p.printed != "" && !strings.HasSuffix(p.printed, "\n") {
		fmt.Fprintln(p.out)
	}
}

// writeDelta prints the suffix of text beyond what was already printed.
// Text that does not extend the printed prefix is printed whole on a new line.
func writeDelta(w io.Writer, printed, text string) string {
	if text == printed {
		return printed
	}
	if strings.HasPrefix(text, printed) {
		fmt.Fprint(w, text[len(printed):])
		return text
	}
	if printed != "" {
		fmt.Fprintln(w)
	}
	fmt.Fprint(w, text)
	return text
}
