package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "context [query]",
		Short: "Assemble the context for a query",
		Long: "Gather recent turns, a rolling summary, semantically similar past turns and the user profile, " +
			"then evict the least valuable parts until the estimate fits within 80% of the budget.",
		Args: cobra.MinimumNArgs(1),
		Run:  runContext,
	}

	cmd.Flags().StringP("session", "s", "", "Session id (required)")
	cmd.Flags().Bool("text", false, "Print the rendered prompt block instead of structured output")

	cmd.MarkFlagRequired("session")

	RootCmd.AddCommand(cmd)
}

func runContext(cmd *cobra.Command, args []string) {
	sessionID, _ := cmd.Flags().GetString("session")
	asText, _ := cmd.Flags().GetBool("text")
	query := strings.Join(args, " ")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	m := resumeSession(cmd.Context(), s, sessionID)
	bundle, err := m.GetContext(cmd.Context(), query)
	if err != nil {
		exitErr("context", err)
	}

	if asText || formatFlag == "text" {
		fmt.Print(bundle.Render(query))
		return
	}
	printOut(bundle)
}
