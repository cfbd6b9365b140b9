package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/haukened/storyhost/internal/admin"
	"github.com/haukened/storyhost/internal/config"
)

const defaultServerURL = "http://127.0.0.1:35540"

var errResetNotConfirmed = errors.New("reset without ids deletes every story; pass --yes to confirm")

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Sends administrative commands to a running server",
	}
	cmd.PersistentFlags().StringP("server", "s", defaultServerURL, "base URL of the storyhost server")
	cmd.PersistentFlags().String("auth-key", "", "shared admin secret (default $"+config.EnvPrefix+"AUTH_KEY)")

	addKey := &cobra.Command{
		Use:   "add-key KEY",
		Short: "Registers an access key, optionally retiring an old one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := adminClient(cmd)
			if err != nil {
				return err
			}
			old, _ := cmd.Flags().GetString("old")
			if err := c.AddKey(cmd.Context(), args[0], old); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "key added")
			return nil
		},
	}
	addKey.Flags().String("old", "", "key to retire in the same step")

	removeKey := &cobra.Command{
		Use:   "remove-key KEY",
		Short: "Deregisters an access key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := adminClient(cmd)
			if err != nil {
				return err
			}
			if err := c.RemoveKey(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "key removed")
			return nil
		},
	}

	deleteStory := &cobra.Command{
		Use:   "delete ID",
		Short: "Deletes one story",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := adminClient(cmd)
			if err != nil {
				return err
			}
			if err := c.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "story deleted")
			return nil
		},
	}

	reset := &cobra.Command{
		Use:   "reset [ID...]",
		Short: "Deletes every story except the listed ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			if yes, _ := cmd.Flags().GetBool("yes"); len(args) == 0 && !yes {
				return errResetNotConfirmed
			}
			c, err := adminClient(cmd)
			if err != nil {
				return err
			}
			if err := c.Reset(cmd.Context(), args); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset complete, %d kept\n", len(args))
			return nil
		},
	}
	reset.Flags().BoolP("yes", "y", false, "confirm a reset that keeps no stories")

	cmd.AddCommand(addKey, removeKey, deleteStory, reset)
	return cmd
}

func adminClient(cmd *cobra.Command) (*admin.Client, error) {
	server, _ := cmd.Flags().GetString("server")
	key, _ := cmd.Flags().GetString("auth-key")
	if key == "" {
		key = os.Getenv(config.EnvPrefix + "AUTH_KEY")
	}
	return admin.NewClient(server, key)
}
