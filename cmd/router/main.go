// Command router runs the coordinator: node registry, load manager,
// warm-up admission, request proxy, and dashboard API, all behind one
// HTTP listener. The root command's --addr flag overrides
// ROUTER_HTTP_ADDR; every other setting is environment-driven (see
// internal/platform/config).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var addrFlag string

var rootCmd = &cobra.Command{
	Use:           "router",
	Short:         "Run the LLM fleet coordinator",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	rootCmd.Flags().StringVar(&addrFlag, "addr", "", "HTTP listen address (overrides ROUTER_HTTP_ADDR)")
	viper.SetEnvPrefix("ROUTER")
	viper.AutomaticEnv()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	return serve()
}
