package main

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

const redacted = "<redacted>"

func newConfigCmd(state *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			effective := *state.cfg
			if effective.Online.APIKey != "" {
				effective.Online.APIKey = redacted
			}

			data, err := toml.Marshal(effective)
			if err != nil {
				return fmt.Errorf("failed to encode configuration: %w", err)
			}

			_, err = cmd.OutOrStdout().Write(data)

			return err
		},
	}
}
