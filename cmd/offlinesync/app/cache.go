package app

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func (c *cli) newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and edit the response cache",
	}

	set := &cobra.Command{
		Use:   "set <key> <value-json>",
		Short: "Store a value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !json.Valid([]byte(args[1])) {
				return fmt.Errorf("value is not valid JSON")
			}
			ttl, err := cmd.Flags().GetDuration("ttl")
			if err != nil {
				return err
			}

			e, err := c.open(nil)
			if err != nil {
				return err
			}
			defer e.Close()

			e.cache.Save(cmd.Context(), args[0], json.RawMessage(args[1]), ttl)
			return nil
		},
	}
	set.Flags().Duration("ttl", 0, "Expire the value after this long (0 never expires)")

	get := &cobra.Command{
		Use:   "get <key>",
		Short: "Print a value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := c.open(nil)
			if err != nil {
				return err
			}
			defer e.Close()

			var v json.RawMessage
			if !e.cache.Load(cmd.Context(), args[0], &v) {
				return fmt.Errorf("key %q not found", args[0])
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(v))
			return err
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear <key>...",
		Short: "Remove values",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := c.open(nil)
			if err != nil {
				return err
			}
			defer e.Close()

			e.cache.ClearAll(cmd.Context(), args...)
			return nil
		},
	}

	purge := &cobra.Command{
		Use:   "purge",
		Short: "Remove every key under the namespace, queue included",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := c.open(nil)
			if err != nil {
				return err
			}
			defer e.Close()

			e.cache.Purge(cmd.Context())
			return nil
		},
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print key count and size under the namespace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := c.open(nil)
			if err != nil {
				return err
			}
			defer e.Close()

			s := e.cache.Stats(cmd.Context())
			if asJSON, _ := cmd.Flags().GetBool(flagJSON); asJSON {
				return printJSON(cmd.OutOrStdout(), map[string]int64{
					"count":     int64(s.Count),
					"totalSize": s.TotalSize,
				})
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "count=%d total_size=%d\n", s.Count, s.TotalSize)
			return err
		},
	}
	stats.Flags().Bool(flagJSON, false, "Print JSON")

	cmd.AddCommand(set, get, clearCmd, purge, stats)
	return cmd
}
