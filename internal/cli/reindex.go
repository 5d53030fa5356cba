package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Embed messages missing from the semantic index",
		Long:  "Embed every message of a session that has no index record yet, e.g. after the embedding provider was unavailable.",
		Args:  cobra.NoArgs,
		Run:   runReindex,
	}

	cmd.Flags().StringP("session", "s", "", "Session id (required)")

	cmd.MarkFlagRequired("session")

	RootCmd.AddCommand(cmd)
}

func runReindex(cmd *cobra.Command, args []string) {
	sessionID, _ := cmd.Flags().GetString("session")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	m := resumeSession(cmd.Context(), s, sessionID)
	n, err := m.Reindex(cmd.Context())
	if err != nil {
		exitErr("reindex", err)
	}

	printOut(map[string]any{"ok": true, "session_id": sessionID, "indexed": n})
}
