package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/codeshare/internal/execution"
	"github.com/michaelbrown/codeshare/internal/protocol"
	"github.com/michaelbrown/codeshare/internal/term"
)

var runLangFlag string

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Run a file once in the sandbox",
	Long: `Run a JavaScript or Python file in the sandbox and print the outcome.

The language is taken from --lang or the file extension (.js, .py).

Examples:
  codeshare run hello.js
  codeshare run --lang py script.txt`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runLangFlag, "lang", "", "Language: js or py (default: from extension)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	code, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	lang, err := languageFor(args[0], runLangFlag)
	if err != nil {
		return err
	}

	factory, err := sandboxFactory(cfg, logger)
	if err != nil {
		return err
	}
	handle := execution.NewHandle(factory, logger)
	defer handle.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resp, err := handle.Run(ctx, lang, string(code))
	if err != nil {
		return err
	}
	note := protocol.Present(resp)
	term.NewNotifier(cmd.OutOrStdout()).Notify(note)
	if note.IsError {
		return fmt.Errorf("%s run failed", lang.Label())
	}
	return nil
}

// languageFor resolves the language from an explicit name or the file
// extension.
func languageFor(path, name string) (protocol.Language, error) {
	if name != "" {
		return protocol.ParseLanguage(name)
	}
	switch filepath.Ext(path) {
	case ".js", ".mjs":
		return protocol.JavaScript, nil
	case ".py":
		return protocol.Python, nil
	}
	return "", fmt.Errorf("cannot infer language of %s, use --lang", path)
}
