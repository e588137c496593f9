package main

import (
	"encoding/json"
	"fmt"

	"github.com/book-expert/paperread-tts/internal/audiocache"
	"github.com/spf13/cobra"
)

func newCacheCmd(state *app) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Evict cached audio files",
	}

	cacheCmd.AddCommand(
		&cobra.Command{
			Use:   "delete <filename>",
			Short: "Delete one cached audio file and its index entries",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cache, err := state.openCache(audiocache.NewIndexRegistry())
				if err != nil {
					return err
				}

				deleted, err := cache.DeleteFile(args[0])
				if err != nil {
					return err
				}

				return printJSON(cmd, map[string]any{"deleted": deleted})
			},
		},
		&cobra.Command{
			Use:   "purge-book <book_id>",
			Short: "Delete every cached audio file recorded for a book",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cache, err := state.openCache(audiocache.NewIndexRegistry())
				if err != nil {
					return err
				}

				removed, removeErr := cache.RemoveForBook(args[0])

				err = printJSON(cmd, map[string]any{"book_id": args[0], "removed": removed})
				if removeErr != nil {
					return removeErr
				}

				return err
			},
		},
	)

	return cacheCmd
}

func printJSON(cmd *cobra.Command, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))

	return err
}
