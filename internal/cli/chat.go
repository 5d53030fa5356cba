package cli

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/convmem/internal/assembler"
	"github.com/rcliao/convmem/internal/llm"
	"github.com/rcliao/convmem/internal/model"
)

// chatInstruction prefixes the assembled context in the system prompt.
const chatInstruction = "You are a helpful assistant. Use the context below when it is relevant.\n\n"

func init() {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with context assembled from memory",
		Long: "Read user turns from stdin, one per line. Each turn is stored, a context is assembled for it, " +
			"and the configured generator's reply is printed and stored.",
		Args: cobra.NoArgs,
		Run:  runChat,
	}

	cmd.Flags().StringP("session", "s", "", "Resume this session instead of starting a new one")

	RootCmd.AddCommand(cmd)
}

func runChat(cmd *cobra.Command, args []string) {
	sessionID, _ := cmd.Flags().GetString("session")
	ctx := cmd.Context()

	gen, err := llm.New(cfg.Generation())
	if err != nil {
		exitErr("open generator", err)
	}
	if gen == nil {
		exitErr("chat", fmt.Errorf("no generation provider configured (set generate.provider)"))
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	var m *assembler.Manager
	if sessionID != "" {
		m = resumeSession(ctx, s, sessionID)
	} else {
		if m, err = openManager(ctx, s); err != nil {
			exitErr("open manager", err)
		}
		if sessionID, err = m.StartSession(ctx); err != nil {
			exitErr("start session", err)
		}
	}
	fmt.Fprintf(os.Stderr, "session %s\n", sessionID)

	interactive := false
	if stat, err := os.Stdin.Stat(); err == nil {
		interactive = stat.Mode()&os.ModeCharDevice != 0
	}

	in := bufio.NewScanner(os.Stdin)
	in.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		if interactive {
			fmt.Fprint(os.Stderr, "> ")
		}
		if !in.Scan() {
			break
		}
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}

		reply, err := chatTurn(ctx, m, gen, cfg.Generate.Timeout, line)
		if err != nil {
			exitErr("chat", err)
		}
		fmt.Println(reply)
	}
	if err := in.Err(); err != nil {
		exitErr("read stdin", err)
	}
}

// chatTurn assembles the context for line before line is stored, so the
// query never recalls itself.
func chatTurn(ctx context.Context, m *assembler.Manager, gen llm.Generator, timeout time.Duration, line string) (string, error) {
	bundle, err := m.GetContext(ctx, line)
	if err != nil {
		return "", err
	}
	slog.Debug("context assembled", "tokens", bundle.Tokens, "budget", bundle.Budget,
		"recent", len(bundle.RecentMessages), "hits", len(bundle.RelevantPast), "summary", bundle.Summary != "")

	if _, err := m.AddMessage(ctx, model.RoleUser, line); err != nil {
		return "", err
	}

	genCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	reply, err := gen.GenerateText(genCtx, chatInstruction+bundle.Render(""), line)
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)

	if _, err := m.AddMessage(ctx, model.RoleAssistant, reply); err != nil {
		return "", err
	}
	return reply, nil
}
