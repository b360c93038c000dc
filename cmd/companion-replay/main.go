package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/loqalabs/loqa-companion/internal/dictation"
	"github.com/loqalabs/loqa-companion/internal/speech"
)

var version = "0.1.0-dev"

func main() {
	var (
		scriptPath string
		interim    bool
	)
	replayCmd := flag.NewFlagSet("replay", flag.ExitOnError)
	replayCmd.StringVar(&scriptPath, "file", "events.jsonl", "Path to recognition script")
	replayCmd.BoolVar(&interim, "interim", true, "Show interim results")

	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	validateCmd.StringVar(&scriptPath, "file", "events.jsonl", "Path to recognition script")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'replay', 'validate' or 'version'")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "replay":
		replayCmd.Parse(os.Args[2:])
		if err := runReplay(os.Stdout, scriptPath, interim); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "validate":
		validateCmd.Parse(os.Args[2:])
		if _, err := speech.LoadScriptSource(scriptPath, 0, quietLogger()); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println("script valid")
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// printer renders a dictation session as plain text lines.
type printer struct {
	out  io.Writer
	done chan struct{}
}

func (p *printer) RenderStatus(status dictation.Status, message string) {
	fmt.Fprintf(p.out, "[%s] %s\n", status, message)
	if status == dictation.Stopped {
		close(p.done)
	}
}

func (p *printer) RenderPreview(preview dictation.Preview) {
	if preview.Empty() {
		return
	}
	if preview.Interim != "" {
		fmt.Fprintf(p.out, "  %s[%s]\n", preview.Committed, preview.Interim)
		return
	}
	fmt.Fprintf(p.out, "  %s\n", preview.Committed)
}

func (p *printer) RenderTranscript(text string) {
	fmt.Fprintf(p.out, "final: %s\n", text)
}

func (p *printer) NotifyError(message string) {
	fmt.Fprintf(p.out, "error: %s\n", message)
}

// runReplay plays a recognition script through a dictation session and
// prints every preview it produces.
func runReplay(out io.Writer, path string, interim bool) error {
	src, err := speech.LoadScriptSource(path, 0, quietLogger())
	if err != nil {
		return err
	}
	p := &printer{out: out, done: make(chan struct{})}
	session := dictation.NewSession(src, p, p, dictation.Options{InterimResults: interim}, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = session.Run(ctx)
	}()

	if err := session.Start(); err != nil {
		return err
	}
	select {
	case <-p.done:
		// let the session finish rendering the stop before returning
		cancel()
		<-runDone
		return nil
	case <-ctx.Done():
		return fmt.Errorf("replay did not finish: %w", ctx.Err())
	}
}
