package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "rtcprobe",
	Short: "Channel engine probe tool",
	Long:  "rtcprobe joins channels, prints engine events and can run a local dev channel server.",
}

func init() {
	rootCmd.AddCommand(joinCmd)
	rootCmd.AddCommand(serveCmd)
}
