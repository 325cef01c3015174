// Package runner orchestrates one digest run end to end: fetch every
// channel, summarize, write the artifact, then fan out to the optional
// delivery targets.
package runner

import (
	"context"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/herald/internal/digest"
	"github.com/MikeSquared-Agency/herald/internal/fetcher"
	"github.com/MikeSquared-Agency/herald/internal/hermes"
)

// Fetcher is implemented by *fetcher.Fetcher.
type Fetcher interface {
	FetchAll(ctx context.Context, channels []fetcher.Channel) []fetcher.ChannelResult
}

// Assembler is implemented by *digest.Assembler.
type Assembler interface {
	Assemble(ctx context.Context, results []fetcher.ChannelResult, runAt time.Time, windowHours int) *digest.Digest
}

// Saver is implemented by *store.Store. Nil when no database is configured.
type Saver interface {
	SaveDigest(ctx context.Context, d *digest.Digest, model string) error
}

// Poster is implemented by *slack.Poster. Nil when slack delivery is off.
type Poster interface {
	PostDigest(ctx context.Context, content string) (string, error)
}

// Publisher is implemented by *hermes.Client.
type Publisher interface {
	Publish(subject string, data any) error
}

// RunRecorder is implemented by *api.Server.
type RunRecorder interface {
	RecordRun(at time.Time, outputPath string)
}

type Runner struct {
	fetcher   Fetcher
	assembler Assembler
	saver     Saver
	poster    Poster
	publisher Publisher
	recorder  RunRecorder
	logger    *slog.Logger

	channels    []fetcher.Channel
	outputDir   string
	windowHours int
	model       string

	now func() time.Time
}

type Options struct {
	Channels    []fetcher.Channel
	OutputDir   string
	WindowHours int
	Model       string
}

func New(f Fetcher, a Assembler, saver Saver, poster Poster, publisher Publisher, recorder RunRecorder, opts Options, logger *slog.Logger) *Runner {
	return &Runner{
		fetcher:     f,
		assembler:   a,
		saver:       saver,
		poster:      poster,
		publisher:   publisher,
		recorder:    recorder,
		logger:      logger,
		channels:    opts.Channels,
		outputDir:   opts.OutputDir,
		windowHours: opts.WindowHours,
		model:       opts.Model,
		now:         time.Now,
	}
}

// RunOnce executes a full digest run and returns the written artifact path.
// Only the file write can fail the run; store, slack and bus delivery
// failures are logged and swallowed.
func (r *Runner) RunOnce(ctx context.Context) (string, error) {
	runAt := r.now()
	r.logger.Info("digest run starting", "channels", len(r.channels), "window_hours", r.windowHours)

	results := r.fetcher.FetchAll(ctx, r.channels)
	d := r.assembler.Assemble(ctx, results, runAt, r.windowHours)

	path, err := digest.WriteFile(r.outputDir, d)
	if err != nil {
		return "", err
	}
	r.logger.Info("digest written", "path", path, "records", d.RecordCount)

	if r.saver != nil {
		if err := r.saver.SaveDigest(ctx, d, r.model); err != nil {
			r.logger.Error("failed to persist digest", "error", err)
		}
	}

	if r.poster != nil {
		if _, err := r.poster.PostDigest(ctx, d.Content); err != nil {
			r.logger.Error("failed to post digest to slack", "error", err)
		}
	}

	if r.publisher != nil {
		evt := hermes.DigestCompletedEvent{
			DigestID:     d.ID.String(),
			RunAt:        d.RunAt.UTC().Format(time.RFC3339),
			ChannelCount: d.ChannelCount,
			RecordCount:  d.RecordCount,
			OutputPath:   path,
		}
		if err := r.publisher.Publish(hermes.SubjectDigestCompleted, evt); err != nil {
			r.logger.Warn("failed to publish completion event", "error", err)
		}
	}

	if r.recorder != nil {
		r.recorder.RecordRun(runAt, path)
	}

	return path, nil
}

// HandleDigestRequested is the NATS handler for on-demand runs.
func (r *Runner) HandleDigestRequested(subject string, data []byte) {
	r.logger.Info("digest requested", "subject", subject)
	if _, err := r.RunOnce(context.Background()); err != nil {
		r.logger.Error("requested digest run failed", "error", err)
	}
}

// Start runs a digest immediately, then on every interval tick until ctx is
// canceled.
func (r *Runner) Start(ctx context.Context, interval time.Duration) {
	if _, err := r.RunOnce(ctx); err != nil {
		r.logger.Error("digest run failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Error("digest run failed", "error", err)
			}
		}
	}
}
