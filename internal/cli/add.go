package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rcliao/convmem/internal/model"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "add [content]",
		Short: "Append a message to a session",
		Long:  "Append a message to a session and index it. Content can be a positional arg or piped via stdin.",
		Run:   runAdd,
	}

	cmd.Flags().StringP("session", "s", "", "Session id (required)")
	cmd.Flags().StringP("role", "r", "user", "Role: user, assistant, system")

	cmd.MarkFlagRequired("session")

	RootCmd.AddCommand(cmd)
}

func runAdd(cmd *cobra.Command, args []string) {
	sessionID, _ := cmd.Flags().GetString("session")
	roleStr, _ := cmd.Flags().GetString("role")

	role, err := model.ParseRole(roleStr)
	if err != nil {
		exitErr("add", err)
	}

	// Get content: positional arg first, then check stdin
	var content string
	if len(args) > 0 {
		content = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			content = string(b)
		}
	}

	if strings.TrimSpace(content) == "" {
		exitErr("add", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	m := resumeSession(cmd.Context(), s, sessionID)
	msg, err := m.AddMessage(cmd.Context(), role, strings.TrimSpace(content))
	if err != nil {
		exitErr("add", err)
	}

	printOut(msg)
}
