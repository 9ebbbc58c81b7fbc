package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/shehryarbajwa/rostersync/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "rostersync",
	Short: "Log into the LMS on behalf of a user and collect their course rosters",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runRoot(); err != nil {
			log.Error(fmt.Sprintf("%+v", err))
			os.Exit(1)
		}
	},
}

var loader *config.Loader

//nolint:gochecknoinit
func init() {
	loader = config.NewLoader(rootCmd.Flags())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
