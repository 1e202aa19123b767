package main

import (
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverAddr   string
	outputFormat string
	httpClient   = &http.Client{Timeout: 10 * time.Second}
)

var rootCmd = &cobra.Command{
	Use:   "cortexctl",
	Short: "Operator CLI for the CortexOS Orchestration Kernel",
	Long: `cortexctl talks to a running cortexosd daemon over its A2A Gateway
REST surface.

Examples:
  cortexctl status
  cortexctl tasks list
  cortexctl snapshot export ltm.db
  cortexctl snapshot import ltm.db`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "http://127.0.0.1:3200", "cortexosd Gateway base URL")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, json")
}
