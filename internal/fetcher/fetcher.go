// Package fetcher pulls recent message history for configured channels, one
// MCP session per channel. A channel that fails to fetch yields an empty
// result instead of failing the batch.
package fetcher

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/MikeSquared-Agency/herald/internal/mcp"
	"github.com/MikeSquared-Agency/herald/internal/records"
)

// Caller is the slice of *mcp.Session the fetcher needs. One Caller handles
// exactly one tool call.
type Caller interface {
	CallTool(ctx context.Context, tool string, args map[string]any) (string, error)
}

// Channel identifies one channel to digest.
type Channel struct {
	ID   string
	Name string
}

// ChannelQuery is the request for one history fetch. Oldest is an epoch-
// seconds lower bound on message timestamps.
type ChannelQuery struct {
	ChannelID  string
	Oldest     int64
	Limit      int
	FetchFlags map[string]bool
}

// ChannelResult is the outcome for one channel. Records is empty, never nil
// semantics aside, when the fetch failed.
type ChannelResult struct {
	ChannelName string
	Records     []records.Record
}

// Config describes the MCP tool binary and the fetch window.
type Config struct {
	Command    string
	Args       []string
	Timeout    time.Duration
	Tool       string
	Window     time.Duration
	Limit      int
	FetchFlags map[string]bool
}

type Fetcher struct {
	cfg    Config
	logger *slog.Logger

	// Overridable in tests.
	newSession func() Caller
	now        func() time.Time
}

func New(cfg Config, logger *slog.Logger) *Fetcher {
	f := &Fetcher{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	f.newSession = func() Caller {
		return mcp.NewSession(cfg.Command, cfg.Args, cfg.Timeout, logger)
	}
	return f
}

// Fetch runs one history query. It never returns an error: any session
// fault is logged and downgraded to an empty sequence so one channel cannot
// abort the batch.
func (f *Fetcher) Fetch(ctx context.Context, query ChannelQuery) []records.Record {
	args := map[string]any{
		"channel_id": query.ChannelID,
		"oldest":     strconv.FormatInt(query.Oldest, 10),
		"limit":      query.Limit,
	}
	for flag, v := range query.FetchFlags {
		args[flag] = v
	}

	payload, err := f.newSession().CallTool(ctx, f.cfg.Tool, args)
	if err != nil {
		f.logger.Warn("channel fetch failed",
			"channel", query.ChannelID,
			"error", err,
		)
		return nil
	}

	recs := records.Decode(payload)

	// The tool is asked for the window but not trusted to honor it; drop
	// anything older than the requested bound.
	kept := recs[:0]
	for _, rec := range recs {
		if ts, err := strconv.ParseFloat(rec.Timestamp, 64); err == nil && int64(ts) < query.Oldest {
			continue
		}
		kept = append(kept, rec)
	}

	f.logger.Info("channel fetched",
		"channel", query.ChannelID,
		"records", len(kept),
		"filtered", len(recs)-len(kept),
	)
	return kept
}

// FetchAll fetches every channel sequentially and returns one result per
// channel, in input order. Each channel gets its own session and child
// process; a failure leaves that channel's result empty.
func (f *Fetcher) FetchAll(ctx context.Context, channels []Channel) []ChannelResult {
	oldest := f.now().Add(-f.cfg.Window).Unix()

	results := make([]ChannelResult, 0, len(channels))
	for _, ch := range channels {
		query := ChannelQuery{
			ChannelID:  ch.ID,
			Oldest:     oldest,
			Limit:      f.cfg.Limit,
			FetchFlags: f.cfg.FetchFlags,
		}
		results = append(results, ChannelResult{
			ChannelName: ch.Name,
			Records:     f.Fetch(ctx, query),
		})
	}
	return results
}
