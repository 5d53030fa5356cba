package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Manage conversation sessions",
	}

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start a new session",
		Long:  "Create and persist a new empty session. Prints its id.",
		Args:  cobra.NoArgs,
		Run:   runSessionStart,
	}

	sessionCmd.AddCommand(startCmd)
	RootCmd.AddCommand(sessionCmd)

	listCmd := &cobra.Command{
		Use:   "sessions",
		Short: "List stored sessions, newest first",
		Args:  cobra.NoArgs,
		Run:   runSessions,
	}
	listCmd.Flags().IntP("limit", "l", 20, "Max sessions to list")

	RootCmd.AddCommand(listCmd)
}

func runSessionStart(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	m, err := openManager(cmd.Context(), s)
	if err != nil {
		exitErr("open manager", err)
	}
	id, err := m.StartSession(cmd.Context())
	if err != nil {
		exitErr("start session", err)
	}

	if formatFlag == "text" {
		fmt.Println(id)
		return
	}
	printOut(map[string]string{"session_id": id})
}

func runSessions(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	sessions, err := s.ListSessions(cmd.Context(), limit)
	if err != nil {
		exitErr("list sessions", err)
	}

	if formatFlag == "text" {
		for _, info := range sessions {
			fmt.Printf("%s  %s  %d messages (%d indexed)\n",
				info.ID, info.StartTime.Format("2006-01-02 15:04:05"), info.MessageCount, info.Indexed)
		}
		return
	}
	printOut(sessions)
}
