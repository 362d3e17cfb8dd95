package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelbrown/codeshare/internal/config"
	"github.com/michaelbrown/codeshare/internal/discovery"
	"github.com/michaelbrown/codeshare/internal/document"
	"github.com/michaelbrown/codeshare/internal/execution"
	"github.com/michaelbrown/codeshare/internal/protocol"
	"github.com/michaelbrown/codeshare/internal/roomclient"
	"github.com/michaelbrown/codeshare/internal/term"
)

var (
	relayFlag    string
	discoverFlag bool
	langFlag     string
	templateFlag string
	fileFlag     string
)

var joinCmd = &cobra.Command{
	Use:   "join [room-id]",
	Short: "Join a room and edit its shared document",
	Long: `Join a room on a relay and edit the shared document from the terminal.
Without a room id a new room is created.

Lines typed at the prompt are appended to the document; /help lists the
commands. With --file the document is mirrored into a file: saving it in any
editor shares the new text, and peers' edits are written back to it.

Examples:
  codeshare join
  codeshare join 3f2a9c1e --relay http://10.0.0.5:8000
  codeshare join --discover --file shared.js
  codeshare join --template fizzbuzz`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJoin,
}

func init() {
	joinCmd.Flags().StringVar(&relayFlag, "relay", "", "Relay base URL (overrides client.relay)")
	joinCmd.Flags().BoolVar(&discoverFlag, "discover", false, "Find a relay on the local network over mDNS")
	joinCmd.Flags().StringVar(&langFlag, "lang", "", "Initial language: js or py")
	joinCmd.Flags().StringVar(&templateFlag, "template", "", "Seed the document from a starter template")
	joinCmd.Flags().StringVar(&fileFlag, "file", "", "Mirror the document into this file")
	rootCmd.AddCommand(joinCmd)
}

func runJoin(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := term.NewNotifier(os.Stdout)

	base, err := resolveRelay(ctx, cfg, out, logger)
	if err != nil {
		return err
	}

	roomID := ""
	if len(args) > 0 {
		roomID = args[0]
	} else {
		roomID, err = roomclient.New(base, logger).CreateRoom(ctx)
		if err != nil {
			return fmt.Errorf("creating room: %w", err)
		}
	}

	opts, err := documentOptions(cfg)
	if err != nil {
		return err
	}

	var mirror *term.FileWidget
	if fileFlag != "" {
		mirror, err = term.NewFileWidget(fileFlag, logger)
		if err != nil {
			return err
		}
		if templateFlag == "" && mirror.Value() != "" {
			opts.Text = mirror.Value()
		} else {
			mirror.SetValue(opts.Text)
		}
	}

	factory, err := sandboxFactory(cfg, logger)
	if err != nil {
		return err
	}
	handle := execution.NewHandle(factory, logger)
	handle.OnUnmatched(func(resp protocol.Response) {
		logger.Warn("unmatched sandbox response", zap.String("id", resp.RequestID()))
	})

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[36mcode>\033[0m ",
		HistoryFile:     filepath.Join(os.TempDir(), "codeshare_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		handle.Close()
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	// Messages arriving while the prompt is shown go through readline so
	// the prompt is redrawn.
	async := term.NewNotifier(rl.Stdout())
	widgets := term.Tee{peerNotice{n: async}}
	if mirror != nil {
		widgets = append(widgets, mirror)
	}

	opts.Widget = widgets
	opts.Notifier = out
	opts.Sandbox = handle
	opts.Logger = logger
	opts.DialTimeout = cfg.Client.DialTimeout

	doc := document.New(opts)
	defer doc.Close()

	if err := doc.Join(ctx, base, roomID); err != nil {
		return err
	}

	out.Title("codeshare | room %s", roomID)
	out.Info("Relay: %s | Language: %s", base, doc.Language().EditorName())
	out.Info("Others can join with: codeshare join %s --relay %s", roomID, base)
	if mirror != nil {
		out.Info("Mirroring to %s", mirror.Path())
		go func() {
			err := mirror.Watch(ctx, func(text string) {
				doc.LocalEdit(text)
				async.Info("shared %s", mirror.Path())
			})
			if err != nil {
				logger.Warn("file watch stopped", zap.Error(err))
			}
		}()
	}
	out.Info("Type %s for commands, %s to exit", out.Command("/help"), out.Command("/quit"))
	fmt.Println()

	// Ctrl+C stops the active run, not the session. The sandbox running it is
	// replaced on the next run.
	var (
		runMu     sync.Mutex
		runCancel context.CancelFunc
	)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			runMu.Lock()
			if runCancel != nil {
				runCancel()
			}
			runMu.Unlock()
		}
	}()

	r := &repl{doc: doc, out: out, rl: rl, mirror: mirror}
	for {
		input, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return nil
			}
			return err
		}

		if !strings.HasPrefix(strings.TrimSpace(input), "/") {
			r.appendLine(input)
			continue
		}

		fields := strings.Fields(input)
		if strings.ToLower(fields[0]) != "/run" {
			if quit := r.command(fields, input); quit {
				fmt.Println("Goodbye!")
				return nil
			}
			continue
		}

		runCtx, cancelRun := context.WithCancel(ctx)
		runMu.Lock()
		runCancel = cancelRun
		runMu.Unlock()

		_, err = doc.Run(runCtx)
		interrupted := runCtx.Err() != nil

		runMu.Lock()
		runCancel = nil
		runMu.Unlock()
		cancelRun()

		if err != nil {
			if interrupted {
				out.Warn("(interrupted, the sandbox restarts on the next run)")
				continue
			}
			out.Warn("error: %s", err)
		}
		fmt.Println()
	}
}

// resolveRelay picks the relay base URL from --discover, --relay or config.
func resolveRelay(ctx context.Context, cfg *config.Config, out *term.Notifier, logger *zap.Logger) (string, error) {
	if !discoverFlag {
		if relayFlag != "" {
			return relayFlag, nil
		}
		return cfg.Client.Relay, nil
	}

	out.Info("Looking for relays on the local network...")
	relays, err := discovery.Browse(ctx, cfg.Discovery.BrowseTimeout, logger)
	if err != nil {
		return "", err
	}
	if len(relays) == 0 {
		return "", errors.New("no relays found on the local network")
	}
	for _, r := range relays {
		out.Info("  %s  %s", r.Instance, r.URL)
	}
	return relays[0].URL, nil
}

// documentOptions applies --template then --lang.
func documentOptions(cfg *config.Config) (document.Options, error) {
	var opts document.Options
	if templateFlag != "" {
		tpl, err := document.FindTemplate(cfg.Client.TemplatesDir, templateFlag)
		if err != nil {
			return opts, err
		}
		if err := tpl.Apply(&opts); err != nil {
			return opts, err
		}
	}
	if langFlag != "" {
		lang, err := protocol.ParseLanguage(langFlag)
		if err != nil {
			return opts, err
		}
		opts.Language = lang
	}
	return opts, nil
}

// peerNotice tells the user the document changed under them.
type peerNotice struct{ n *term.Notifier }

func (p peerNotice) SetValue(text string) {
	p.n.Info("document updated by a peer (%d lines, /show to view)", lineCount(text))
}

type repl struct {
	doc    *document.Controller
	out    *term.Notifier
	rl     *readline.Instance
	mirror *term.FileWidget
}

func (r *repl) appendLine(line string) {
	text := r.doc.Text()
	if text != "" && !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	r.share(text + line + "\n")
}

// share makes text the document and keeps the mirror file in step.
func (r *repl) share(text string) {
	r.doc.LocalEdit(text)
	if r.mirror != nil {
		r.mirror.SetValue(text)
	}
}

// command handles every slash command except /run. It reports whether the
// session should end.
func (r *repl) command(fields []string, input string) bool {
	switch strings.ToLower(fields[0]) {
	case "/quit", "/exit", "/q":
		return true
	case "/show":
		text := r.doc.Text()
		if text == "" {
			r.out.Info("(empty document)")
			return false
		}
		fmt.Print(text)
		if !strings.HasSuffix(text, "\n") {
			fmt.Println()
		}
	case "/lang":
		if len(fields) < 2 {
			r.out.Info("Language: %s", r.doc.Language().EditorName())
			return false
		}
		lang, err := protocol.ParseLanguage(fields[1])
		if err == nil {
			err = r.doc.SetLanguage(lang)
		}
		if err != nil {
			r.out.Warn("%s", err)
			return false
		}
		r.out.Info("Language: %s", lang.EditorName())
	case "/set":
		r.share(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(input), fields[0])))
	case "/clear":
		r.share("")
		r.out.Info("Document cleared.")
	case "/edit":
		r.editBlock()
	case "/load":
		if len(fields) < 2 {
			r.out.Warn("usage: /load <path>")
			return false
		}
		data, err := os.ReadFile(fields[1])
		if err != nil {
			r.out.Warn("%s", err)
			return false
		}
		r.share(string(data))
		r.out.Info("Loaded %s (%d lines).", fields[1], lineCount(string(data)))
	case "/file":
		if r.mirror == nil {
			r.out.Info("No mirror file (start with --file).")
			return false
		}
		r.out.Info("Mirroring to %s", r.mirror.Path())
	case "/room":
		r.out.Info("Room: %s | Identity: %s", r.doc.Room(), r.doc.Identity())
	case "/help":
		fmt.Println("Commands:")
		fmt.Println("  /run          - Run the document in the sandbox (Ctrl+C stops it)")
		fmt.Println("  /lang [js|py] - Show or set the language")
		fmt.Println("  /show         - Print the document")
		fmt.Println("  /set <text>   - Replace the document with one line")
		fmt.Println("  /edit         - Replace the document with lines typed until a single '.'")
		fmt.Println("  /load <path>  - Replace the document with a file's content")
		fmt.Println("  /clear        - Empty the document")
		fmt.Println("  /file         - Show the mirror file")
		fmt.Println("  /room         - Show the room and identity")
		fmt.Println("  /quit         - Leave the room")
		fmt.Println("Any other line is appended to the document.")
		fmt.Println()
	default:
		r.out.Warn("Unknown command: %s (try /help)", input)
	}
	return false
}

// editBlock reads lines until "." and shares them as the new document.
func (r *repl) editBlock() {
	prompt := r.rl.Config.Prompt
	r.rl.SetPrompt("\033[90m...\033[0m ")
	defer r.rl.SetPrompt(prompt)

	var lines []string
	for {
		line, err := r.rl.Readline()
		if err != nil {
			r.out.Info("Edit cancelled.")
			return
		}
		if strings.TrimSpace(line) == "." {
			break
		}
		lines = append(lines, line)
	}
	text := strings.Join(lines, "\n")
	if len(lines) > 0 {
		text += "\n"
	}
	r.share(text)
	r.out.Info("Shared %d lines.", len(lines))
}

func lineCount(text string) int {
	if text == "" {
		return 0
	}
	return strings.Count(strings.TrimSuffix(text, "\n"), "\n") + 1
}
