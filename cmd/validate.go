// Package cmd implements CLI commands using the cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nova-avionics/flightcore/internal/config"
	"github.com/nova-avionics/flightcore/internal/mapping"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file and mapping file without starting the daemon",
	Long: `Validate loads --config and --mappings the same way 'flightcore run' does,
applies all defaults and checks, and reports whether they are well-formed.
Nothing is started: no sockets are opened and no sequences run.

Examples:
  flightcore validate --config config.yml --mappings mappings.yml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate()
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "INVALID config: %v\n", err)
		os.Exit(1)
	}
	if rootCmd.PersistentFlags().Changed("mappings") {
		cfg.Mapping.File = mappingsFile
	}

	table, err := mapping.LoadFile(cfg.Mapping.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "INVALID mappings: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("VALID: flight_id=%q node_ip=%q, %d channel mapping(s) loaded from %s\n",
		cfg.Node.FlightId, cfg.Node.IP, len(table.All()), cfg.Mapping.File)
	return nil
}
