// Command ghostline-repl is an interactive playground for ghostline
// completions. Each line typed is part of a scratch document; the best
// suggestion appears as faint ghost text and Tab accepts it. Accepted and
// committed lines are logged as TOML to stdout.
//
// Usage:
//
//	./ghostline-repl             # interactive, TOML on screen
//	./ghostline-repl > log.toml  # prompt on screen, TOML to file
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	ghostline "github.com/Paranoid-AF/ghostline"
	"github.com/Paranoid-AF/ghostline/backend"
	"github.com/Paranoid-AF/ghostline/generate"
	"github.com/Paranoid-AF/ghostline/provider"
	"github.com/Paranoid-AF/ghostline/store"
)

const prompt = "> "

func main() {
	// Logs would scribble over the raw-mode line.
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))

	cfg, err := ghostline.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	editor, err := NewEditor()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer editor.Close()

	tty := editor.Tty()
	sess := newSession(cfg, "go")
	defer sess.Close()

	fmt.Fprintf(tty, "\033[2J\033[H") // clear screen
	fmt.Fprintf(tty, "ghostline repl\r\n")
	fmt.Fprintf(tty, "model: %s  session: %s\r\n", ghostline.ResolveModel(cfg), sess.id)
	fmt.Fprintf(tty, "\r\ncommands:\r\n")
	fmt.Fprintf(tty, "  :lang <id>   set the language id\r\n")
	fmt.Fprintf(tty, "  :status      show budget and store counters\r\n")
	fmt.Fprintf(tty, "  :clear       clear stored suggestions\r\n")
	fmt.Fprintf(tty, "  :quit        exit\r\n")
	fmt.Fprintf(tty, "\r\nTab accepts the ghost suggestion, Enter commits the line.\r\n\r\n")

	// stdout writer: converts \n → \r\n when stdout is a terminal (raw mode),
	// passes \n through unchanged when redirected to a file.
	out := termWriter(os.Stdout)

	hooks := Hooks{
		Changed: func(line string, pos int, edit provider.Edit, seq int) {
			doc, at := sess.document(line, pos)
			sess.host.Edited(doc, at, edit)
			sess.suggest(doc, at, func(items []ghostline.Item) { editor.SetGhost(seq, items) })
		},
		Accepted: func(item ghostline.Item) {
			sess.accept()
			writeAccepted(out, sess.languageID, item)
		},
	}

	for {
		text, err := editor.ReadLine(prompt, hooks)
		if err == io.EOF || err == ErrInterrupt {
			break
		}
		if err != nil {
			fmt.Fprintf(tty, "read error: %v\r\n", err)
			break
		}

		switch {
		case text == ":quit" || text == ":q":
			return

		case strings.HasPrefix(text, ":lang "):
			sess.languageID = strings.TrimSpace(strings.TrimPrefix(text, ":lang "))
			fmt.Fprintf(tty, "language: %s\r\n", sess.languageID)
			continue

		case text == ":status":
			st := sess.host.Status()
			fmt.Fprintf(tty, "budget %d/%d, %d suggestions\r\n", st.BudgetAvailable, st.BudgetMax, st.Suggestions)
			continue

		case text == ":clear":
			sess.accept()
			fmt.Fprintf(tty, "suggestions cleared\r\n")
			continue
		}

		sess.commit(text)
		writeCommitted(out, sess.languageID, text)
	}
}

// session is the scratch document and the engine behind it.
type session struct {
	id         string
	languageID string
	host       *provider.Host
	diffs      *generate.DiffCache

	committed strings.Builder
	pending   sync.WaitGroup
}

func newSession(cfg *ghostline.Config, languageID string) *session {
	client := backend.New(backend.Options{
		URL:              ghostline.ResolveURL(cfg),
		Model:            ghostline.ResolveModel(cfg),
		KeepAliveMinutes: cfg.Backend.KeepAliveMinutes,
		Concurrency:      ghostline.ResolveConcurrency(cfg),
		RequestsPerSec:   cfg.Backend.RequestsPerSec,
		Prompts:          backend.LoadPrompts(ghostline.PromptDir()),
	})
	diffs := generate.NewDiffCache(time.Duration(cfg.Completion.DiffTTLSeconds) * time.Second)
	gatherer := generate.NewGatherer(diffs, cfg.Completion.PrecedingLines)
	s := store.New(store.NewMemoryStorage(), store.Key("repl"))
	engine := generate.NewEngine(client, s)
	cursors := provider.NewCursorTracker()
	opts := provider.OptionsFromConfig(cfg)
	// The scratch buffer has no file name to match.
	opts.FilePattern = ""

	return &session{
		id:         uuid.NewString(),
		languageID: languageID,
		diffs:      diffs,
		host: &provider.Host{
			Store:      s,
			Budget:     client.Budget(),
			Provider:   provider.New(s, engine, gatherer, cursors, opts),
			Prefetcher: provider.NewPrefetcher(engine, gatherer, opts),
			Documents:  provider.NewDocuments(),
			Cursors:    cursors,
		},
	}
}

// document returns the scratch document with line as its last line, and the
// cursor position for pos within line.
func (s *session) document(line string, pos int) (generate.Document, ghostline.Position) {
	head := s.committed.String()
	doc := generate.Document{
		SourceID:   "repl://" + s.id,
		LanguageID: s.languageID,
		Text:       head + line,
	}
	s.host.Documents.Open(doc)
	return doc, ghostline.Position{Line: strings.Count(head, "\n"), Column: pos}
}

// suggest asks for suggestions in the background and hands them to show.
func (s *session) suggest(doc generate.Document, pos ghostline.Position, show func([]ghostline.Item)) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		show(s.host.Complete(context.Background(), doc, pos))
	}()
}

// accept runs the command attached to accepted suggestions.
func (s *session) accept() {
	if _, err := s.host.Execute(ghostline.ClearCacheCommand); err != nil {
		slog.Warn("clear cache failed", "error", err)
	}
}

// commit appends line to the scratch document and starts prefetching for
// the next one.
func (s *session) commit(line string) {
	before, _ := s.document(line, len(line))
	s.committed.WriteString(line)
	s.committed.WriteString("\n")
	after, pos := s.document("", 0)
	s.host.Edited(after, pos, provider.DiffEdit(before.Text, after.Text))
}

func (s *session) Close() {
	s.pending.Wait()
	s.host.Wait()
	s.diffs.Close()
}
