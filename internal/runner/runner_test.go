package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/herald/internal/digest"
	"github.com/MikeSquared-Agency/herald/internal/fetcher"
	"github.com/MikeSquared-Agency/herald/internal/hermes"
	"github.com/MikeSquared-Agency/herald/internal/records"
)

type fakeFetcher struct {
	results []fetcher.ChannelResult
}

func (f *fakeFetcher) FetchAll(ctx context.Context, channels []fetcher.Channel) []fetcher.ChannelResult {
	return f.results
}

type fakeAssembler struct{}

func (fakeAssembler) Assemble(ctx context.Context, results []fetcher.ChannelResult, runAt time.Time, windowHours int) *digest.Digest {
	total := 0
	for _, r := range results {
		total += len(r.Records)
	}
	return &digest.Digest{
		ID:           uuid.New(),
		RunAt:        runAt,
		WindowHours:  windowHours,
		ChannelCount: len(results),
		RecordCount:  total,
		Content:      "# fake digest\n",
	}
}

type fakeSaver struct {
	saved *digest.Digest
	err   error
}

func (f *fakeSaver) SaveDigest(ctx context.Context, d *digest.Digest, model string) error {
	f.saved = d
	return f.err
}

type fakePoster struct {
	posted string
	err    error
}

func (f *fakePoster) PostDigest(ctx context.Context, content string) (string, error) {
	f.posted = content
	return "1700.1", f.err
}

type fakePublisher struct {
	subject string
	data    any
}

func (f *fakePublisher) Publish(subject string, data any) error {
	f.subject = subject
	f.data = data
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRunner(t *testing.T, saver Saver, poster Poster, publisher Publisher) *Runner {
	t.Helper()
	f := &fakeFetcher{results: []fetcher.ChannelResult{
		{ChannelName: "general", Records: []records.Record{{Text: "hi", Timestamp: "1700.0"}}},
	}}
	return New(f, fakeAssembler{}, saver, poster, publisher, nil, Options{
		Channels:    []fetcher.Channel{{ID: "C1", Name: "general"}},
		OutputDir:   t.TempDir(),
		WindowHours: 24,
		Model:       "test-model",
	}, discardLogger())
}

func TestRunOnce_WritesAndFansOut(t *testing.T) {
	saver := &fakeSaver{}
	poster := &fakePoster{}
	publisher := &fakePublisher{}
	r := testRunner(t, saver, poster, publisher)

	path, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(path, "digest-") {
		t.Errorf("unexpected path: %s", path)
	}
	if saver.saved == nil {
		t.Error("expected digest persisted")
	}
	if poster.posted != "# fake digest\n" {
		t.Errorf("expected digest posted, got %q", poster.posted)
	}
	if publisher.subject != hermes.SubjectDigestCompleted {
		t.Errorf("expected completion event, got %q", publisher.subject)
	}
	evt, ok := publisher.data.(hermes.DigestCompletedEvent)
	if !ok {
		t.Fatalf("unexpected event type %T", publisher.data)
	}
	if evt.RecordCount != 1 || evt.OutputPath != path {
		t.Errorf("unexpected event: %+v", evt)
	}
}

func TestRunOnce_DeliveryFailuresAreNotFatal(t *testing.T) {
	saver := &fakeSaver{err: errors.New("db down")}
	poster := &fakePoster{err: errors.New("slack down")}
	r := testRunner(t, saver, poster, &fakePublisher{})

	if _, err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("expected delivery failures swallowed, got %v", err)
	}
}

func TestRunOnce_NilCollaborators(t *testing.T) {
	r := testRunner(t, nil, nil, nil)

	if _, err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("expected run to work without optional collaborators, got %v", err)
	}
}

func TestRunOnce_WriteFailureIsFatal(t *testing.T) {
	r := testRunner(t, nil, nil, nil)
	// Point the output dir at a path that cannot be a directory.
	r.outputDir = "/dev/null/out"

	if _, err := r.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error when the artifact cannot be written")
	}
}

func TestHandleDigestRequested(t *testing.T) {
	saver := &fakeSaver{}
	r := testRunner(t, saver, nil, nil)

	r.HandleDigestRequested(hermes.SubjectDigestRequested, nil)

	if saver.saved == nil {
		t.Error("expected a run triggered by the request event")
	}
}
