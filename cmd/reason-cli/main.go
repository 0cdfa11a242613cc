package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/cognicore/reason/internal/logging"
	"github.com/cognicore/reason/pkg/reason"
	"github.com/cognicore/reason/pkg/reason/answer"
	"github.com/cognicore/reason/pkg/reason/config"
	"github.com/cognicore/reason/pkg/reason/store/sqlite"
)

var (
	configPath string
	dbPath     string
	debug      bool

	rootCmd = &cobra.Command{
		Use:   "reason-cli",
		Short: "Interactive shell for a reason knowledge base",
		Long: `reason-cli opens a knowledge base and starts an interactive
tell/ask shell. With --db the base is backed by sqlite and survives
restarts; without it facts live in memory for the session.`,
		SilenceUsage: true,
		RunE:         runShell,
	}

	askCmd = &cobra.Command{
		Use:   "ask [query]",
		Short: "Answer a single query and exit",
		Args:  cobra.ExactArgs(1),
		RunE:  runAsk,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "sqlite database path (default in-memory)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "debug logging")
	rootCmd.AddCommand(askCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openKB builds the knowledge base from the shared flags. With --db it
// opens the sqlite store and restores whatever the base held when it was
// last snapshotted.
func openKB(ctx context.Context) (*reason.KB, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return nil, err
		}
	}
	if debug {
		cfg.Debug = true
	}

	logger, err := logging.New(cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	opts := reason.Options{Config: cfg, Logger: logger}
	if dbPath != "" {
		st, err := sqlite.Open(ctx, dbPath)
		if err != nil {
			return nil, err
		}
		opts.Store = st
	}

	k, err := reason.New(opts)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		if err := k.Restore(ctx); err != nil {
			k.Close()
			return nil, fmt.Errorf("restore %s: %w", dbPath, err)
		}
	}
	return k, nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	k, err := openKB(ctx)
	if err != nil {
		return err
	}
	defer k.Close()

	ans, err := k.Ask(ctx, args[0])
	if err != nil {
		return err
	}
	printAnswer(ans)
	return nil
}

func runShell(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	k, err := openKB(ctx)
	if err != nil {
		return err
	}
	defer k.Close()

	fmt.Println("reason shell")
	fmt.Println(`\h for help`)

	l, err := readline.NewEx(&readline.Config{
		Prompt:            "reason> ",
		HistoryFile:       historyFile(),
		InterruptPrompt:   "^C",
		EOFPrompt:         "bye",
		HistorySearchFold: true,
	})
	if err != nil {
		return err
	}
	defer l.Close()

	for {
		line, err := l.Readline()
		if err != nil { // io.EOF or readline.ErrInterrupt
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, `\`) {
			if quit := metaCommand(ctx, k, line); quit {
				break
			}
			continue
		}
		statement(ctx, k, line)
	}

	fmt.Println("bye")
	return nil
}

// statement dispatches a tell/ask line. A leading keyword picks the mode;
// bare sentences are told, which matches how sources are written in files.
func statement(ctx context.Context, k *reason.KB, line string) {
	switch {
	case strings.HasPrefix(line, "ask "):
		ans, err := k.Ask(ctx, strings.TrimPrefix(line, "ask "))
		if err != nil {
			if ans != nil {
				// The query itself was bad; the base is untouched.
				fmt.Println("rejected:", err)
				return
			}
			fmt.Println("error:", err)
			return
		}
		printAnswer(ans)
	case strings.HasPrefix(line, "tell "):
		tell(ctx, k, strings.TrimPrefix(line, "tell "))
	default:
		tell(ctx, k, line)
	}
}

func tell(ctx context.Context, k *reason.KB, source string) {
	if err := k.Tell(ctx, source); err != nil {
		fmt.Println("rejected:", err)
		return
	}
	fmt.Println("ok")
}

func metaCommand(ctx context.Context, k *reason.KB, line string) (quit bool) {
	fields := strings.Fields(line)
	switch fields[0] {
	case `\h`:
		fmt.Println(`\h            help`)
		fmt.Println(`\load FILE    tell the sentences in FILE`)
		fmt.Println(`\save         wait for rechecks and snapshot to the store`)
		fmt.Println(`\wait         wait for background rule rechecks`)
		fmt.Println(`\q            quit`)
		fmt.Println()
		fmt.Println(`tell (dog[$Rex,u=1])              assert a fact`)
		fmt.Println(`ask (dog[$Rex,u>0.5])             query it`)
		fmt.Println(`ask ((let x) (dog[x,u>0.5]))      enumerate subjects`)
	case `\load`:
		if len(fields) != 2 {
			fmt.Println(`usage: \load FILE`)
			return false
		}
		data, err := os.ReadFile(fields[1])
		if err != nil {
			fmt.Println("error:", err)
			return false
		}
		tell(ctx, k, string(data))
	case `\save`:
		k.WaitRechecks()
		if err := k.Snapshot(ctx); err != nil {
			fmt.Println("error:", err)
			return false
		}
		fmt.Println("saved")
	case `\wait`:
		k.WaitRechecks()
		fmt.Println("ok")
	case `\q`:
		return true
	default:
		fmt.Println("unknown command; \\h for help")
	}
	return false
}

func printAnswer(ans *answer.Answer) {
	switch tr := ans.Truth(); {
	case tr == nil:
		fmt.Println("undetermined")
	case *tr:
		fmt.Println("true")
	default:
		fmt.Println("false")
	}

	grounded := ans.Grounded()
	for _, pred := range sortedKeys(grounded) {
		cells := grounded[pred]
		for _, subj := range sortedKeys(cells) {
			if p := cells[subj]; p != nil {
				fmt.Printf("  %s[%s]: %v\n", pred, subj, p.Value)
			} else {
				fmt.Printf("  %s[%s]: undetermined\n", pred, subj)
			}
		}
	}

	if ms := ans.Memberships(); len(ms) > 0 {
		fmt.Println("memberships:")
		for _, subj := range sortedKeys(ms) {
			for _, m := range ms[subj] {
				fmt.Println("  " + m.String())
			}
		}
	}
	if rs := ans.Relations(); len(rs) > 0 {
		fmt.Println("relations:")
		for _, subj := range sortedKeys(rs) {
			for _, r := range rs[subj] {
				fmt.Println("  " + r.String())
			}
		}
	}
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		log.Println("no home dir, history disabled:", err)
		return ""
	}
	return home + "/.reason_history"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
