package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/convmem/internal/profile"
)

func init() {
	profileCmd := &cobra.Command{
		Use:   "profile",
		Short: "Read and update durable user facts",
	}

	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a profile fact",
		Long:  "Set a profile fact. The value is parsed as JSON when possible, otherwise stored as a string. Last write wins.",
		Args:  cobra.MinimumNArgs(2),
		Run:   runProfileSet,
	}

	getCmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print one profile fact",
		Args:  cobra.ExactArgs(1),
		Run:   runProfileGet,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Print the whole profile",
		Args:  cobra.NoArgs,
		Run:   runProfileList,
	}

	profileCmd.AddCommand(setCmd, getCmd, listCmd)
	RootCmd.AddCommand(profileCmd)
}

func openProfile(cmd *cobra.Command) (*profile.Store, func()) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	p, err := profile.Open(cmd.Context(), s)
	if err != nil {
		s.Close()
		exitErr("open profile", err)
	}
	return p, func() { s.Close() }
}

func runProfileSet(cmd *cobra.Command, args []string) {
	key := args[0]
	value := profile.ParseValue(strings.Join(args[1:], " "))

	p, done := openProfile(cmd)
	defer done()

	if err := p.Update(cmd.Context(), key, value); err != nil {
		exitErr("profile set", err)
	}
	v, _ := p.Get(key)
	printOut(map[string]any{"ok": true, "key": key, "value": v})
}

func runProfileGet(cmd *cobra.Command, args []string) {
	p, done := openProfile(cmd)
	defer done()

	v, ok := p.Get(args[0])
	if !ok {
		exitErr("profile get", fmt.Errorf("key %q not set", args[0]))
	}
	if s, isStr := v.(string); isStr && formatFlag == "text" {
		fmt.Println(s)
		return
	}
	printOut(v)
}

func runProfileList(cmd *cobra.Command, args []string) {
	p, done := openProfile(cmd)
	defer done()

	printOut(p.GetAll())
}
