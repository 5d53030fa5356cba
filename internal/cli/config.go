package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func init() {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration as YAML",
		Long:  "Print the configuration after defaults, config file, environment and flags are applied. API keys are masked.",
		Args:  cobra.NoArgs,
		Run:   runConfigShow,
	}

	configCmd.AddCommand(showCmd)
	RootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) {
	b, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		exitErr("encode config", err)
	}
	fmt.Print(string(b))
}
