// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile   string
	mappingsFile string
	socketPath   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "flightcore",
	Short: "Flight Core - rocket vehicle avionics control loop",
	Long: `Flight Core is the real-time control loop of a liquid-propellant rocket
vehicle avionics stack: it discovers and maintains UDP sessions with
SAM/BMS/AHRS/RECO boards, fuses raw channel telemetry into vehicle state,
executes operator-authored sequences and abort stages, enforces safety
interlocks on loss of operator or umbilical power, and forwards vehicle
state to the ground operator console.`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen
// once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/flightcore/config.yml",
		"config file path")
	rootCmd.PersistentFlags().StringVar(&mappingsFile, "mappings", "/etc/flightcore/mappings.yml",
		"bootstrap channel mapping file, loaded before the operator ever connects")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "",
		"sequence command unix socket path (overrides config)")
}
