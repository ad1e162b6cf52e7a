package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/spigell/autoapply/internal/profile"
	"github.com/spigell/autoapply/internal/run"
)

var urlCmd = &cobra.Command{
	Use:   "url",
	Short: "Print the listing URLs a run would open",
	Run: func(_ *cobra.Command, _ []string) {
		config, err := getConfig()
		if err != nil {
			log.Fatalf("getting a config: %s", err)
		}

		applicant, err := profile.Load(config.ProfileFile)
		if err != nil {
			log.Fatalf("loading the applicant profile: %s", err)
		}

		command := run.Command{
			Profile:     applicant,
			Boards:      config.Boards,
			GlobalLimit: config.GlobalLimit,
			Filters:     config.Filters,
		}
		limits, err := run.Validate(command)
		if err != nil {
			log.Fatalf("the run configuration is rejected: %s", err)
		}

		for _, line := range planLines(limits, command) {
			fmt.Println(line)
		}
	},
}

func init() {
	rootCmd.AddCommand(urlCmd)
}
