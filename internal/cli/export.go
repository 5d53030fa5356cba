package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a session transcript",
		Long:  "Print a persisted session transcript. Use -f yaml for YAML; the JSON form is what import expects.",
		Args:  cobra.NoArgs,
		Run:   runExport,
	}

	cmd.Flags().StringP("session", "s", "", "Session id (required)")

	cmd.MarkFlagRequired("session")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	sessionID, _ := cmd.Flags().GetString("session")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	sess, err := s.LoadSession(cmd.Context(), sessionID)
	if err != nil {
		exitErr("export", err)
	}

	if formatFlag == "text" {
		fmt.Printf("# %s (%s)\n", sess.ID, sess.StartTime.Format("2006-01-02 15:04:05"))
		for _, m := range sess.Messages {
			fmt.Printf("%s: %s\n", m.Role, m.Content)
		}
		return
	}
	printOut(sess)
}
