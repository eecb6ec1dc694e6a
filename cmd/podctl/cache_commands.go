package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"content-podcaster/internal/feedcache"
	"content-podcaster/internal/invalidation"
)

type cacheStatsResponse struct {
	Cache        feedcache.Stats    `json:"cache"`
	Invalidation invalidation.Stats `json:"invalidation"`
}

type invalidateResponse struct {
	FeedSlug string `json:"feed_slug"`
	Removed  int    `json:"removed"`
}

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and invalidate the feed cache",
	}
	cacheCmd.AddCommand(newCacheStatsCommand(ctx))
	cacheCmd.AddCommand(newCacheInvalidateCommand(ctx))
	return cacheCmd
}

func newCacheStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache and invalidation counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp cacheStatsResponse
			if err := ctx.client().do(cmd.Context(), http.MethodGet, "/admin/cache/stats", nil, &resp); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderCacheStats(resp))
			return nil
		},
	}
}

func newCacheInvalidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate <feed-slug>",
		Short: "Drop every cached rendering of a feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp invalidateResponse
			path := "/admin/cache/" + url.PathEscape(args[0]) + "/invalidate"
			if err := ctx.client().do(cmd.Context(), http.MethodPost, path, nil, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Invalidated %s: %s entries removed\n", resp.FeedSlug, humanize.Comma(int64(resp.Removed)))
			return nil
		},
	}
}

func renderCacheStats(s cacheStatsResponse) string {
	c, inv := s.Cache, s.Invalidation
	rows := [][]string{
		{"Requests", humanize.Comma(c.Requests)},
		{"Hits", humanize.Comma(c.Hits)},
		{"Misses", humanize.Comma(c.Misses)},
		{"Hit ratio", fmt.Sprintf("%.1f%%", c.HitRatio*100)},
		{"Avg latency", c.AvgLatency.Round(time.Microsecond).String()},
		{"Served", humanize.Bytes(uint64(max(c.BytesServed, 0)))},
		{"Entries", humanize.Comma(c.Entries)},
		{"Rejected", humanize.Comma(c.Rejected)},
		{"Swept", humanize.Comma(c.Swept)},
		{"Invalidations", humanize.Comma(c.Invalidations)},
		{"Invalidated entries", humanize.Comma(c.InvalidatedEntries)},
		{"Last invalidation", sinceOrNever(c.LastInvalidation)},
		{"Strategy", string(inv.Strategy)},
		{"Events received", humanize.Comma(inv.EventsReceived)},
		{"Events coalesced", humanize.Comma(inv.EventsCoalesced)},
		{"Flushes", humanize.Comma(inv.Flushes)},
		{"Edge purges", fmt.Sprintf("%s (%s failed)", humanize.Comma(inv.EdgePurges), humanize.Comma(inv.EdgePurgeFailures))},
		{"Pending feeds", humanize.Comma(int64(inv.PendingFeeds))},
		{"Dirty feeds", humanize.Comma(int64(inv.DirtyFeeds))},
		{"Last event", sinceOrNever(inv.LastEventAt)},
	}
	return renderTable([]string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight})
}

func sinceOrNever(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return strings.TrimSpace(humanize.Time(t))
}
