// Package worker drains the per-category queues, runs generation and stores
// the produced artifacts.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"creditjobs/internal/domain"
	"creditjobs/internal/jobs"
	"creditjobs/internal/queue"
	"creditjobs/internal/storage"
)

// errStopped means the item left the active state under the worker, usually
// because its owner cancelled it.
var errStopped = errors.New("worker: item no longer active")

// Artifact is one generated output.
type Artifact struct {
	MIME string
	Data []byte
}

// Generator produces the artifacts for a work item. report publishes progress
// in percent and fails once the item is no longer active.
type Generator interface {
	Generate(ctx context.Context, item jobs.WorkItem, report func(pct int) error) ([]Artifact, error)
}

// Failure tags an error with the kind recorded on the queue item.
type Failure struct {
	Kind domain.FailureKind
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Fail wraps err with a failure kind.
func Fail(kind domain.FailureKind, err error) error {
	return &Failure{Kind: kind, Err: err}
}

type Config struct {
	Concurrency int
	IdleWait    time.Duration
	// JobTimeout bounds one generation; zero disables the bound.
	JobTimeout time.Duration
	Categories []domain.Category
}

type Worker struct {
	queue     queue.Queue
	store     *storage.FileStore
	generator Generator
	cfg       Config
	logger    zerolog.Logger
}

func New(q queue.Queue, store *storage.FileStore, gen Generator, cfg Config, logger zerolog.Logger) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = 500 * time.Millisecond
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = domain.Categories
	}
	return &Worker{queue: q, store: store, generator: gen, cfg: cfg, logger: logger}
}

// Run processes items until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Int("concurrency", w.cfg.Concurrency).Msg("worker: started")
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		g.Go(func() error { return w.loop(gctx) })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Worker) loop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		worked, err := w.ProcessNext(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("worker: failed to claim item")
		}
		if worked {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.cfg.IdleWait):
		}
	}
}

// ProcessNext claims one item, probing categories in order, and handles it.
// It reports whether an item was found.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	for _, category := range w.cfg.Categories {
		item, err := w.queue.Claim(ctx, category)
		if errors.Is(err, queue.ErrEmpty) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("claim %s: %w", category, err)
		}
		w.handle(ctx, item)
		return true, nil
	}
	return false, nil
}

func (w *Worker) handle(ctx context.Context, item *queue.Item) {
	log := w.logger.With().Str("job_id", item.ID).Str("category", string(item.Category)).Logger()
	log.Info().Int("attempts", item.Attempts).Msg("worker: picked item")

	var work jobs.WorkItem
	if err := json.Unmarshal(item.Payload, &work); err != nil {
		w.fail(ctx, item, Fail(domain.FailureInvalidInput, fmt.Errorf("decode work item: %w", err)), log)
		return
	}
	if work.JobID == "" {
		work.JobID = item.ID
	}
	if work.Category == "" {
		work.Category = item.Category
	}

	runCtx := ctx
	if w.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.cfg.JobTimeout)
		defer cancel()
	}

	report := func(pct int) error {
		err := w.queue.Progress(runCtx, item.Category, item.ID, pct)
		if errors.Is(err, queue.ErrItemState) || errors.Is(err, queue.ErrItemNotFound) {
			return errStopped
		}
		return err
	}

	artifacts, err := w.generator.Generate(runCtx, work, report)
	if err == nil {
		err = report(90)
	}
	if errors.Is(err, errStopped) {
		log.Info().Msg("worker: item left active state, dropping")
		return
	}
	if err != nil {
		w.fail(ctx, item, err, log)
		return
	}

	result, err := w.persist(runCtx, work, artifacts)
	if err != nil {
		w.fail(ctx, item, Fail(domain.FailureWorkerCrash, err), log)
		return
	}
	body, err := json.Marshal(result)
	if err != nil {
		w.fail(ctx, item, Fail(domain.FailureWorkerCrash, err), log)
		return
	}
	doneCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := w.queue.Complete(doneCtx, item.Category, item.ID, body); err != nil {
		if errors.Is(err, queue.ErrItemState) || errors.Is(err, queue.ErrItemNotFound) {
			log.Info().Msg("worker: item left active state before completion")
			w.discard(doneCtx, work, log)
			return
		}
		log.Error().Err(err).Msg("worker: complete failed")
		return
	}
	log.Info().Int("artifacts", len(result.Artifacts)).Msg("worker: item completed")
}

// discard removes artifacts stored for an item that will never complete.
func (w *Worker) discard(ctx context.Context, work jobs.WorkItem, log zerolog.Logger) {
	if w.store == nil {
		return
	}
	if err := w.store.RemovePrefix(ctx, artifactPrefix(work.Category, work.JobID)); err != nil {
		log.Warn().Err(err).Msg("worker: discard artifacts failed")
	}
}

// fail records err on the item. A worker shutdown mid-generation counts as a
// crash so the job stays retryable.
func (w *Worker) fail(ctx context.Context, item *queue.Item, err error, log zerolog.Logger) {
	kind := classify(ctx, err)
	log.Warn().Err(err).Str("reason", string(kind)).Msg("worker: item failed")

	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := w.queue.MoveToFailed(failCtx, item.Category, item.ID, kind, err.Error()); err != nil && !errors.Is(err, queue.ErrItemState) {
		log.Error().Err(err).Msg("worker: move to failed")
	}
}

func classify(ctx context.Context, err error) domain.FailureKind {
	var f *Failure
	switch {
	case errors.As(err, &f):
		return f.Kind
	case ctx.Err() != nil:
		return domain.FailureWorkerCrash
	case errors.Is(err, context.DeadlineExceeded):
		return domain.FailureWorkerTimeout
	default:
		return domain.FailureWorkerCrash
	}
}

// Result is the JSON stored on a completed queue item.
type Result struct {
	Artifacts []StoredArtifact `json:"artifacts"`
	Attempt   int              `json:"attempt"`
}

type StoredArtifact struct {
	StorageKey string `json:"storage_key"`
	MIME       string `json:"mime"`
	Size       int64  `json:"size"`
}

func (w *Worker) persist(ctx context.Context, work jobs.WorkItem, artifacts []Artifact) (Result, error) {
	res := Result{Attempt: work.Attempt, Artifacts: make([]StoredArtifact, 0, len(artifacts))}
	for i, a := range artifacts {
		key := defaultStorageKey(work.Category, work.JobID, a.MIME, i, len(artifacts))
		if w.store != nil {
			saved, err := w.store.Write(ctx, key, a.Data)
			if err != nil {
				return Result{}, err
			}
			key = saved
		}
		res.Artifacts = append(res.Artifacts, StoredArtifact{StorageKey: key, MIME: a.MIME, Size: int64(len(a.Data))})
	}
	return res, nil
}

// defaultStorageKey lays artifacts out as generated/<category>/<job>/<name>.
// Single outputs drop the index suffix.
func defaultStorageKey(category domain.Category, jobID, mime string, index, total int) string {
	ext := extensionForMIME(mime)
	if ext == "" {
		ext = ".bin"
	}
	name := categoryDir(category)
	if total <= 1 {
		return fmt.Sprintf("%s/%s%s", artifactPrefix(category, jobID), name, ext)
	}
	return fmt.Sprintf("%s/%s-%02d%s", artifactPrefix(category, jobID), name, index+1, ext)
}

func artifactPrefix(category domain.Category, jobID string) string {
	return fmt.Sprintf("generated/%s/%s", categoryDir(category), jobID)
}

func categoryDir(category domain.Category) string {
	if category == "" {
		return "artifact"
	}
	return string(category)
}

func extensionForMIME(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "video/mp4":
		return ".mp4"
	case "application/json":
		return ".json"
	case "text/plain":
		return ".txt"
	default:
		return ""
	}
}
