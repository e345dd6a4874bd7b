package cmd

import (
	"courtcam/config"
	"github.com/spf13/cobra"
)

func Root(config *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "courtcam",
		Short: "badminton court camera service",
	}
	rootCmd.AddCommand(server(config))
	rootCmd.AddCommand(undistortCmd(config))
	return rootCmd
}
