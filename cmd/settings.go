package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/fedisync/internal/settings"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspects and changes stored runtime settings",
	}

	var showSecrets bool
	list := &cobra.Command{
		Use:   "list",
		Short: "Prints every stored setting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			all, err := appInstance.Settings().All(cmd.Context())
			if err != nil {
				return fmt.Errorf("list settings: %w", err)
			}
			if !showSecrets {
				all = settings.Masked(all)
			}
			names := make([]string, 0, len(all))
			for name := range all {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", name, all[name])
			}
			return nil
		},
	}
	list.Flags().BoolVar(&showSecrets, "show-secrets", false, "print credentials in clear text")

	get := &cobra.Command{
		Use:   "get NAME",
		Short: "Prints one setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			value, err := appInstance.Settings().Get(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get setting %q: %w", args[0], err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set NAME VALUE",
		Short: "Stores one setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Settings().Set(cmd.Context(), args[0], args[1]); err != nil {
				return fmt.Errorf("set setting %q: %w", args[0], err)
			}
			return nil
		},
	}

	cmd.AddCommand(list, get, set)
	return cmd
}
