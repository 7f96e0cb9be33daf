// Command execution for CLI commands.
//
// Information Hiding:
// - App setup and teardown hidden per command
// - Output formatting hidden

package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/richinex/tutor/gateway"
	"github.com/richinex/tutor/prompt"
	"github.com/richinex/tutor/server"
	"github.com/richinex/tutor/storage"
)

// Serve runs the form-action HTTP server until ctx is cancelled.
func Serve(ctx context.Context, listen string, opts Options) error {
	opts.JSONLogs = true
	app, err := Open(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	sessions, err := app.Sessions()
	if err != nil {
		return err
	}
	if listen == "" {
		listen = app.Settings.Server.Listen
	}

	srv := server.New(server.Options{
		Tutor:    app.Tutor,
		Gateway:  app.Gateway,
		Sessions: sessions,
		Metrics:  app.Metrics,
		Logger:   app.Logger,
	})
	return srv.Start(ctx, listen)
}

// Ask sends a free-text prompt with no callable shapes.
func Ask(ctx context.Context, text string, opts Options) error {
	app, err := Open(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	result, err := app.Gateway.Resolve(ctx, gateway.Request{Prompt: text})
	if err != nil {
		return err
	}
	fmt.Fprintln(app.opts.Stdout, result.String())
	return nil
}

// Check asks whether answer is an idiomatic reply to question.
func Check(ctx context.Context, question, answer string, opts Options) error {
	app, err := Open(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	feedback, err := app.Tutor.CheckAnswer(ctx, question, answer)
	if err != nil {
		return err
	}
	fmt.Fprintln(app.opts.Stdout, feedback)
	return nil
}

// Questions generates questions from a textbook page. source is an image
// unless fromText is set, in which case it is already-recognized text.
func Questions(ctx context.Context, source string, fromText bool, knownWords []string, subject string, opts Options) error {
	app, err := Open(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	data, err := readInput(source)
	if err != nil {
		return err
	}

	var questions []string
	if fromText {
		questions, err = app.Tutor.GenerateQuestions(ctx, prompt.TextbookInput{
			OCRText:       strings.TrimSpace(string(data)),
			KnownWords:    knownWords,
			TargetSubject: subject,
		})
	} else {
		questions, err = app.Tutor.QuestionsFromImage(ctx, data, knownWords, subject)
	}
	if err != nil {
		return err
	}
	printQuestions(app.opts.Stdout, questions)
	return nil
}

// Vocab generates questions that use each new word.
func Vocab(ctx context.Context, words []string, opts Options) error {
	app, err := Open(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	questions, err := app.Tutor.QuestionsForVocab(ctx, words)
	if err != nil {
		return err
	}
	printQuestions(app.opts.Stdout, questions)
	return nil
}

// Evaluate judges whether response fulfils criteria.
func Evaluate(ctx context.Context, criteria, response string, opts Options) error {
	app, err := Open(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	eval, err := app.Tutor.Evaluate(ctx, criteria, response)
	if err != nil {
		return err
	}
	verdict := "incorrect"
	if eval.Correct {
		verdict = "correct"
	}
	fmt.Fprintf(app.opts.Stdout, "%s: %s\n", verdict, eval.Reason)
	return nil
}

// Chat starts an interactive chat session. History is kept in SQLite under
// sessionID, or a fresh session when it is empty.
func Chat(ctx context.Context, sessionID string, in io.Reader, opts Options) error {
	app, err := Open(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	store, err := app.Sessions()
	if err != nil {
		return err
	}

	session := sessionID
	if session == "" {
		session = uuid.NewString()
	}

	history, err := store.Load(ctx, session)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	out := app.opts.Stdout
	if len(history) > 0 {
		fmt.Fprintf(out, "Resuming session '%s' (%d messages)\n\n", session, len(history))
	} else {
		fmt.Fprintf(out, "Session '%s'. Type 'exit' to quit.\n\n", session)
	}

	conv := gateway.NewConversation(history...)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		before := conv.Len()
		reply, err := app.Tutor.Reply(ctx, input, conv)
		if err != nil {
			fmt.Fprintf(app.opts.Stderr, "\nError: %v\n\n", err)
			continue
		}
		fmt.Fprintf(out, "\n%s\n\n", reply)

		if conv.Len() != before {
			if err := store.Save(ctx, session, conv.Messages()); err != nil {
				fmt.Fprintf(app.opts.Stderr, "Warning: failed to save history: %v\n", err)
			}
		}
	}

	return scanner.Err()
}

// CacheStats prints the number of cached responses.
func CacheStats(ctx context.Context, opts Options) error {
	app, err := Open(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	n, err := app.Cache.Len(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(app.opts.Stdout, "backend: %s\nentries: %d\n", app.Settings.Cache.Backend, n)
	return nil
}

var errLimitReached = errors.New("limit reached")

// CacheList prints up to limit entries whose key starts with prefix. The
// key prefix shared by every entry is implied.
func CacheList(ctx context.Context, prefix string, limit int, opts Options) error {
	app, err := Open(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	out := app.opts.Stdout
	shown := 0
	err = app.Cache.Walk(ctx, gateway.KeyPrefix+prefix, func(key string, value json.RawMessage) error {
		if limit > 0 && shown >= limit {
			return errLimitReached
		}
		shown++
		fmt.Fprintf(out, "%s  %s\n    => %s\n",
			storage.Digest(key),
			truncateString(strings.TrimPrefix(key, gateway.KeyPrefix), maxKeyPreviewLen),
			truncateString(string(value), maxValuePreviewLen))
		return nil
	})
	if err != nil && !errors.Is(err, errLimitReached) {
		return err
	}
	fmt.Fprintf(out, "(%d shown)\n", shown)
	return nil
}

// CacheExport writes the configured cache to a JSON cache file.
func CacheExport(ctx context.Context, path string, opts Options) error {
	app, err := Open(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	dst := storage.NewFileCache(path, app.Logger)
	defer dst.Close()

	n, err := storage.Copy(ctx, dst, app.Cache)
	if err != nil {
		return fmt.Errorf("export failed after %d entries: %w", n, err)
	}
	fmt.Fprintf(app.opts.Stdout, "exported %d entries to %s\n", n, path)
	return nil
}

// CacheImport merges a JSON cache file into the configured cache. Keys
// already present keep their value.
func CacheImport(ctx context.Context, path string, opts Options) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("cannot import: %w", err)
	}

	app, err := Open(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	src := storage.NewFileCache(path, app.Logger)
	defer src.Close()

	before, err := app.Cache.Len(ctx)
	if err != nil {
		return err
	}
	if _, err := storage.Copy(ctx, app.Cache, src); err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	after, err := app.Cache.Len(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(app.opts.Stdout, "imported %d new entries from %s\n", after-before, path)
	return nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func printQuestions(w io.Writer, questions []string) {
	for i, q := range questions {
		fmt.Fprintf(w, "%d. %s\n", i+1, q)
	}
	if len(questions) == 0 {
		fmt.Fprintln(w, "(no questions)")
	}
}

const (
	maxKeyPreviewLen   = 80
	maxValuePreviewLen = 120
)

// truncateString shortens s to maxLen runes, marking the cut with "...".
func truncateString(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
