// Package webhookrelay fans the server's tag and error events out to
// configured webhook subscribers over HTTP, off the request goroutine.
package webhookrelay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/brindlecode/smartgit/internal/config"
	"github.com/brindlecode/smartgit/internal/gitproto"
)

const defaultWorkers = 2

type delivery struct {
	subscription config.WebhookSubscription
	event        string
	body         []byte
}

// Relay owns a bounded worker pool that drains a job channel of webhook
// deliveries, adapted from the reference codebase's indexing worker pool but
// polling an in-memory channel rather than a database-backed queue since a
// dropped delivery on process restart is acceptable (see DESIGN.md).
type Relay struct {
	subs    []config.WebhookSubscription
	workers int
	jobs    chan delivery
	client  *http.Client
	logger  *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

func New(subs []config.WebhookSubscription, workers int, logger *slog.Logger) *Relay {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		subs:    subs,
		workers: workers,
		jobs:    make(chan delivery, 64),
		client:  &http.Client{Timeout: 5 * time.Second},
		logger:  logger,
	}
}

// Attach registers listeners for the "tag" and "error" events on the given
// server; call Start before or after Attach, order does not matter.
func (r *Relay) Attach(s *gitproto.Server) {
	s.On("tag", func(v any) {
		info, ok := v.(*gitproto.TagInfo)
		if !ok {
			return
		}
		r.enqueue("tag", info.Repo, map[string]any{
			"event":   "tag",
			"repo":    info.Repo,
			"commit":  info.Commit,
			"version": info.Version,
		})
	})
	s.On("error", func(v any) {
		err, _ := v.(error)
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		r.enqueue("error", "", map[string]any{
			"event": "error",
			"error": msg,
		})
	})
}

func (r *Relay) enqueue(event, repo string, payload map[string]any) {
	body, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("webhookrelay: marshal payload failed", "event", event, "error", err)
		return
	}
	for _, sub := range r.subs {
		if !subscriptionMatches(sub, repo, event) {
			continue
		}
		select {
		case r.jobs <- delivery{subscription: sub, event: event, body: body}:
		default:
			r.logger.Warn("webhookrelay: job queue full, dropping delivery", "event", event, "url", sub.URL)
		}
	}
}

func (r *Relay) Start(parent context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done
	r.started = true

	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			r.run(ctx, workerID)
		}(i + 1)
	}
	go func() {
		wg.Wait()
		close(done)
	}()
	return nil
}

func (r *Relay) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.mu.Lock()
	r.started = false
	r.mu.Unlock()
	return nil
}

func (r *Relay) run(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-r.jobs:
			r.deliver(ctx, job)
		}
	}
}

func (r *Relay) deliver(ctx context.Context, job delivery) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.subscription.URL, bytes.NewReader(job.body))
	if err != nil {
		r.logger.Error("webhookrelay: build request failed", "url", job.subscription.URL, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Smartgit-Event", job.event)
	if job.subscription.Secret != "" {
		req.Header.Set("X-Smartgit-Signature-256", signBody(job.subscription.Secret, job.body))
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Error("webhookrelay: delivery failed", "url", job.subscription.URL, "event", job.event, "error", err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 32*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.logger.Error("webhookrelay: delivery rejected", "url", job.subscription.URL, "event", job.event, "status", resp.StatusCode)
	}
}

func signBody(secret string, body []byte) string {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write(body)
	return "sha256=" + hex.EncodeToString(m.Sum(nil))
}

func subscriptionMatches(sub config.WebhookSubscription, repo, event string) bool {
	if !eventMatches(sub.Events, event) {
		return false
	}
	if sub.RepoPattern == "" || sub.RepoPattern == "*" {
		return true
	}
	ok, err := path.Match(sub.RepoPattern, repo)
	return err == nil && ok
}

func eventMatches(events []string, event string) bool {
	if len(events) == 0 {
		return true
	}
	for _, e := range events {
		if strings.EqualFold(e, event) {
			return true
		}
	}
	return false
}
