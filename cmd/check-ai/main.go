package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/kdimtricp/cinesuggest/internal/ai"
	"github.com/kdimtricp/cinesuggest/internal/config"
	"github.com/kdimtricp/cinesuggest/internal/extract"
	"github.com/kdimtricp/cinesuggest/internal/feed"
	"github.com/kdimtricp/cinesuggest/internal/httpx"
	"github.com/kdimtricp/cinesuggest/internal/logging"
	"github.com/kdimtricp/cinesuggest/internal/models"
	"github.com/kdimtricp/cinesuggest/internal/search"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg *config.Config

	root := &cobra.Command{
		Use:          "check-ai",
		Short:        "Exercise the feed, completion and metadata integrations from the command line",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return err
			}
			logging.Init(logging.Config{Level: cfg.Logging.Level, Format: "console"})
			return nil
		},
	}

	fetch := func(ctx context.Context, username string) (*models.RatingMap, error) {
		client := feed.NewClient(cfg.Feed.BaseURL, httpx.NewClient(cfg.Feed.Timeout, 0))
		return client.FetchRatings(ctx, username)
	}

	root.AddCommand(&cobra.Command{
		Use:   "ratings <username>",
		Short: "Print a member's ratings as read from their RSS feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ratings, err := fetch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, ratings)
		},
	})

	var raw bool
	complete := &cobra.Command{
		Use:   "complete <username>",
		Short: "Run a completion over a member's current ratings and print the extracted suggestions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ratings, err := fetch(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			completer, err := ai.NewCompleter(ai.ConfigFrom(cfg.Completion), nil)
			if err != nil {
				return err
			}
			reply, err := completer.Complete(cmd.Context(), ratings, cfg.Completion.Instruction)
			if err != nil {
				return err
			}
			if raw {
				fmt.Fprintln(cmd.OutOrStdout(), reply)
			}

			suggestions, err := extract.Suggestions(reply)
			var shapeErr *extract.ShapeError
			switch {
			case errors.Is(err, extract.ErrNoArray):
				return fmt.Errorf("reply has no suggestion array: %q", reply)
			case errors.As(err, &shapeErr):
				return fmt.Errorf("%w\nfragment: %s", err, shapeErr.Fragment)
			case err != nil:
				return err
			}
			return printJSON(cmd, suggestions)
		},
	}
	complete.Flags().BoolVar(&raw, "raw", false, "also print the raw reply")
	root.AddCommand(complete)

	root.AddCommand(&cobra.Command{
		Use:   "poster <title>",
		Short: "Look up a poster with the configured metadata provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lookup, err := search.NewLookup(cfg.Metadata, nil)
			if err != nil {
				return err
			}
			title := search.CleanTitle(args[0])
			info, err := lookup.FindPoster(cmd.Context(), title)
			if err != nil {
				return err
			}
			if info == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "no poster found for %q\n", title)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), info.URL)
			return nil
		},
	})

	return root
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
