package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rcliao/convmem/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a session transcript",
		Long: "Import a session transcript from stdin in the format produced by export (JSON or YAML). " +
			"Messages are indexed afterwards when an embedding provider is configured.",
		Args: cobra.NoArgs,
		Run:  runImport,
	}

	cmd.Flags().Bool("no-index", false, "Skip indexing the imported messages")

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	noIndex, _ := cmd.Flags().GetBool("no-index")

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		exitErr("read stdin", err)
	}

	var sess model.Session
	if json.Valid(data) {
		err = json.Unmarshal(data, &sess)
	} else {
		err = yaml.Unmarshal(data, &sess)
	}
	if err != nil {
		exitErr("parse transcript", err)
	}
	if sess.ID == "" {
		exitErr("import", fmt.Errorf("transcript has no session_id"))
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	imported, err := s.ImportSession(cmd.Context(), &sess)
	if err != nil {
		exitErr("import", err)
	}

	indexed := 0
	if !noIndex {
		m := resumeSession(cmd.Context(), s, sess.ID)
		indexed, err = m.Reindex(cmd.Context())
		if err != nil {
			exitErr("index", err)
		}
	}

	printOut(map[string]any{"ok": true, "session_id": sess.ID, "imported": imported, "indexed": indexed})
}
