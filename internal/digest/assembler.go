// Package digest turns per-channel message sets into a human-readable
// markdown digest, delegating the prose to the Anthropic API.
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/herald/internal/anthropic"
	"github.com/MikeSquared-Agency/herald/internal/fetcher"
	"github.com/MikeSquared-Agency/herald/internal/records"
)

const systemPrompt = `You summarize Slack channel activity for a daily team digest.
Write 2-5 tight bullet points covering decisions, announcements, blockers and
notable threads. Use the participants' names. No preamble, no closing remarks.`

// Digest is one assembled run, persisted and served as-is.
type Digest struct {
	ID           uuid.UUID
	RunAt        time.Time
	WindowHours  int
	ChannelCount int
	RecordCount  int
	Content      string
}

type Assembler struct {
	llm         *anthropic.Client
	logger      *slog.Logger
	temperature float64
	maxTokens   int
}

func NewAssembler(llm *anthropic.Client, temperature float64, maxTokens int, logger *slog.Logger) *Assembler {
	return &Assembler{
		llm:         llm,
		logger:      logger,
		temperature: temperature,
		maxTokens:   maxTokens,
	}
}

// Assemble summarizes each channel in turn and composes the digest document.
// A failed summary degrades to a placeholder section; Assemble itself only
// reflects per-channel outcomes, it does not fail.
func (a *Assembler) Assemble(ctx context.Context, results []fetcher.ChannelResult, runAt time.Time, windowHours int) *Digest {
	var sb strings.Builder
	total := 0

	fmt.Fprintf(&sb, "# Channel digest — %s\n\n", runAt.Format("2006-01-02"))

	for _, res := range results {
		total += len(res.Records)
		fmt.Fprintf(&sb, "## #%s (%d messages)\n\n", res.ChannelName, len(res.Records))

		if len(res.Records) == 0 {
			sb.WriteString("_No messages in this window._\n\n")
			continue
		}

		summary, err := a.summarize(ctx, res.ChannelName, res.Records)
		if err != nil {
			a.logger.Error("channel summary failed", "channel", res.ChannelName, "error", err)
			sb.WriteString("_Summary unavailable for this channel._\n\n")
			continue
		}
		sb.WriteString(strings.TrimSpace(summary))
		sb.WriteString("\n\n")
	}

	fmt.Fprintf(&sb, "---\n_%d channels · %d messages · last %dh · generated %s_\n",
		len(results), total, windowHours, runAt.UTC().Format(time.RFC3339))

	return &Digest{
		ID:           uuid.New(),
		RunAt:        runAt,
		WindowHours:  windowHours,
		ChannelCount: len(results),
		RecordCount:  total,
		Content:      sb.String(),
	}
}

func (a *Assembler) summarize(ctx context.Context, channel string, recs []records.Record) (string, error) {
	prompt := fmt.Sprintf("Channel: #%s\n\nMessages (oldest first):\n%s", channel, formatTranscript(recs))

	a.logger.Info("summarizing channel", "channel", channel, "records", len(recs))

	return a.llm.Complete(ctx, systemPrompt, []anthropic.Message{
		{Role: "user", Content: prompt},
	}, a.maxTokens, a.temperature)
}

// formatTranscript renders records as one message per line for the prompt.
// Thread replies are indented under their parent timestamp.
func formatTranscript(recs []records.Record) string {
	var sb strings.Builder
	for _, rec := range recs {
		name := rec.UserName
		if rec.RealName != "" {
			name = rec.RealName
		}
		when := formatEpoch(rec.Timestamp)
		if rec.ThreadTS != "" {
			fmt.Fprintf(&sb, "    [%s] %s (in thread): %s\n", when, name, rec.Text)
		} else {
			fmt.Fprintf(&sb, "[%s] %s: %s\n", when, name, rec.Text)
		}
	}
	return sb.String()
}

func formatEpoch(ts string) string {
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return ts
	}
	return time.Unix(int64(f), 0).UTC().Format("2006-01-02 15:04")
}
