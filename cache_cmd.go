package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	gap "github.com/muesli/go-app-paths"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tilawa/recite/internal/prefetch"
	"github.com/tilawa/recite/internal/verse"
)

var (
	warmJobs int

	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Manage the offline segment store",
		Long:  paragraph(fmt.Sprintf("\n%s recitation segments on disk so playback works without a connection.", keyword("Keep"))),
		Args:  cobra.NoArgs,
	}

	cacheWarmCmd = &cobra.Command{
		Use:     "warm CHAPTER|KEY|SPAN",
		Short:   "Download segments into the store",
		Example: paragraph("recite cache warm 36\nrecite cache warm 2:255-257 --reciter husary"),
		Args:    cobra.ExactArgs(1),
		RunE:    runCacheWarm,
	}

	cacheStatsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show what the store holds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck

			st, err := store.Stats()
			if err != nil {
				return err
			}
			ratio := "-"
			if st.Bytes > 0 {
				ratio = fmt.Sprintf("%.0f%%", 100*float64(st.StoredBytes)/float64(st.Bytes))
			}
			printPairs(cmd.OutOrStdout(), [][2]string{
				{"Segments", humanize.Comma(int64(st.Count))},
				{"Size", humanize.IBytes(uint64(st.Bytes))},         //nolint:gosec
				{"On disk", humanize.IBytes(uint64(st.StoredBytes))}, //nolint:gosec
				{"Compressed to", ratio},
				{"Limit", humanize.IBytes(uint64(st.MaxBytes))}, //nolint:gosec
			})
			return nil
		},
	}

	cacheClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Remove every stored segment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck

			if err := store.Clear(); err != nil {
				return fmt.Errorf("unable to clear store: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cleared the segment store.")
			return nil
		},
	}
)

func init() {
	cacheWarmCmd.Flags().StringP("reciter", "r", "", "reciter folder or name")
	cacheWarmCmd.Flags().IntVarP(&warmJobs, "jobs", "j", 4, "parallel downloads")
	cacheCmd.AddCommand(cacheWarmCmd, cacheStatsCmd, cacheClearCmd)
}

// storeDir picks the directory of the on-disk store.
func storeDir() (string, error) {
	switch {
	case cfg.Prefetch.DiskDir != "":
		return cfg.Prefetch.DiskDir, nil
	case environ.CacheHome != "":
		return environ.CacheHome, nil
	}
	return gap.NewScope(gap.User, "recite").CacheDir()
}

func openStore() (*prefetch.DiskStore, error) {
	dir, err := storeDir()
	if err != nil {
		return nil, fmt.Errorf("could not find cache directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec
		return nil, fmt.Errorf("unable to create cache directory: %w", err)
	}
	return prefetch.OpenDiskStore(filepath.Join(dir, "segments.db"), int64(cfg.Prefetch.DiskMaxBytes), log.Default())
}

// warmSpan expands a bare chapter to all of its verses.
func warmSpan(table *verse.Table, arg string) (verse.Key, verse.Key, error) {
	from, to, err := verse.ParseSpan(arg)
	if err != nil {
		return from, to, err
	}
	if !strings.Contains(arg, ":") {
		to = from.WithVerse(table.VerseCount(from.Chapter))
	}
	if err := table.Validate(from); err != nil {
		return from, to, err
	}
	return from, to, table.Validate(to)
}

func runCacheWarm(cmd *cobra.Command, args []string) error {
	table := verse.Quran()
	from, to, err := warmSpan(table, args[0])
	if err != nil {
		return err
	}
	name := cfg.Reciter
	if cmd.Flags().Changed("reciter") {
		name, _ = cmd.Flags().GetString("reciter")
	}
	reciter, err := verse.FindReciter(name)
	if err != nil {
		return err
	}
	urls := verse.URLBuilder{Base: cfg.AudioBaseURL, Folder: reciter.Folder}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck

	fetcher := &prefetch.StoreFetcher{
		Store: store,
		Next: prefetch.NewHTTPFetcher(prefetch.HTTPFetcherConfig{
			RequestsPerSecond: cfg.Prefetch.RequestsPerSecond,
			UserAgent:         environ.UserAgent,
		}),
	}

	type result struct {
		key  verse.Key
		size int
		err  error
	}
	results := make([]result, to.Verse-from.Verse+1)

	var mu sync.Mutex
	var total int64
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(max(warmJobs, 1))
	for i := range results {
		i := i
		k := from.WithVerse(from.Verse + i)
		g.Go(func() error {
			p, err := fetcher.Fetch(ctx, urls.URL(k), 0)
			results[i] = result{key: k, size: len(p.Data), err: err}
			if err == nil {
				mu.Lock()
				total += int64(len(p.Data))
				mu.Unlock()
			}
			// keep going past single failures
			return nil
		})
	}
	_ = g.Wait()

	rows := make([][]string, 0, len(results))
	failed := 0
	for _, r := range results {
		state := "ok"
		if r.err != nil {
			failed++
			state = r.err.Error()
		}
		rows = append(rows, []string{r.key.String(), humanize.IBytes(uint64(r.size)), state}) //nolint:gosec
	}
	printTable(cmd.OutOrStdout(), []string{"Verse", "Size", "Status"}, rows)

	fmt.Fprintf(cmd.OutOrStdout(), "\n%s %d of %d segments, %s for %s\n",
		keyword("Stored"), len(results)-failed, len(results), humanize.IBytes(uint64(total)), reciter.Name) //nolint:gosec
	if failed > 0 {
		return fmt.Errorf("%d segments failed to download", failed)
	}
	return nil
}

func printTable(w io.Writer, headers []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	table.AppendBulk(rows)
	table.Render()
}

func printPairs(w io.Writer, pairs [][2]string) {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator(":")
	table.SetRowSeparator("")
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	for _, p := range pairs {
		table.Append([]string{p[0], p[1]})
	}
	table.Render()
}
