// Package main provides the tutor CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/richinex/tutor/cli"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	provider     string
	configPath   string
	cacheBackend string
	cachePath    string
	dbPath       string
	verbose      bool
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	rootCmd := &cobra.Command{
		Use:   "tutor",
		Short: "Chinese textbook tutor backed by a cached LLM gateway",
		Long: `A CLI and form-action server for studying Chinese from textbook pages.

Every distinct prompt is sent to the language model once; answers are kept
in a write-once response cache (JSON file, SQLite or memory).`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&provider, "provider", "p", "", "LLM provider (openai, anthropic, deepseek, gemini)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&cacheBackend, "cache-backend", "", "Response cache backend (file, sqlite, memory)")
	rootCmd.PersistentFlags().StringVar(&cachePath, "cache", "", "Response cache file for the file backend")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database for sessions and the sqlite backend")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show debug logs")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(questionsCmd())
	rootCmd.AddCommand(vocabCmd())
	rootCmd.AddCommand(evaluateCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(cacheCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func options() cli.Options {
	opts := cli.DefaultOptions()
	opts.Provider = provider
	opts.ConfigPath = configPath
	opts.CacheBackend = cacheBackend
	opts.CachePath = cachePath
	opts.DBPath = dbPath
	opts.Verbose = verbose
	return opts
}

func serveCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the form actions over HTTP",
		Long: `Serve the tutor's form actions:

  POST /action   type=checkAnswer (question, answer)
                 type=generateQuestions (image, topic, knownWords)
  POST /chat     message, session
  GET  /health
  GET  /metrics`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Serve(cmd.Context(), listen, options())
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Listen address (default from TUTOR_LISTEN or :8080)")
	return cmd
}

func askCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Send a free-text prompt through the cache",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Ask(cmd.Context(), strings.Join(args, " "), options())
		},
	}
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [question] [answer]",
		Short: "Check whether an answer is idiomatic Chinese",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Check(cmd.Context(), args[0], args[1], options())
		},
	}
}

func questionsCmd() *cobra.Command {
	var knownWords []string
	var subject string
	var fromText bool

	cmd := &cobra.Command{
		Use:   "questions [image|text file|-]",
		Short: "Generate questions from a textbook page",
		Long: `Generate questions that teach the same vocabulary and grammar as a
textbook page, themed on a subject you find more interesting.

The page is read with Google Cloud Vision (GOOGLE_CREDENTIALS or
VISION_API_KEY) unless --text is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Questions(cmd.Context(), args[0], fromText, knownWords, subject, options())
		},
	}

	cmd.Flags().StringSliceVarP(&knownWords, "known", "k", nil, "Words you already know (repeatable or comma separated)")
	cmd.Flags().StringVarP(&subject, "subject", "s", "", "Subject to theme the questions on")
	cmd.Flags().BoolVar(&fromText, "text", false, "Input is already-recognized text, not an image")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}

func vocabCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vocab [word...]",
		Short: "Generate Journey to the West questions that use new words",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Vocab(cmd.Context(), args, options())
		},
	}
}

func evaluateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate [criteria] [response]",
		Short: "Judge whether a response fulfils a criteria",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Evaluate(cmd.Context(), args[0], args[1], options())
		},
	}
}

func chatCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Chat(cmd.Context(), sessionID, os.Stdin, options())
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID for conversation persistence")
	return cmd
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and move the response cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show the number of cached responses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.CacheStats(cmd.Context(), options())
		},
	})

	var limit int
	list := &cobra.Command{
		Use:   "list [prompt prefix]",
		Short: "List cached responses whose prompt starts with a prefix",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			return cli.CacheList(cmd.Context(), prefix, limit, options())
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum entries to show (0 for all)")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "export [file]",
		Short: "Write the cache to a JSON cache file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.CacheExport(cmd.Context(), args[0], options())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "import [file]",
		Short: "Merge a JSON cache file into the cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.CacheImport(cmd.Context(), args[0], options())
		},
	})

	return cmd
}
