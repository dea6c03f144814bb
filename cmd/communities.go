package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/fedisync/internal/feed"
)

func newCommunitiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "communities",
		Short: "Manages the communities that are synchronized",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Prints the configured communities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			communities, err := appInstance.Communities().ListCommunities(cmd.Context())
			if err != nil {
				return fmt.Errorf("list communities: %w", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tORIGIN\tREMOTE ID\tCOMMENTS")
			for _, c := range communities {
				remote := "-"
				if c.RemoteID != nil {
					remote = fmt.Sprint(*c.RemoteID)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", c.Name, c.OriginURL, remote, c.FetchComments)
			}
			return tw.Flush()
		},
	}

	var community feed.Community
	add := &cobra.Command{
		Use:   "add",
		Short: "Adds or updates a community",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if community.Name == "" || community.OriginURL == "" {
				return errors.New("--name and --origin are required")
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Communities().UpsertCommunity(cmd.Context(), community); err != nil {
				return fmt.Errorf("add community: %w", err)
			}
			return nil
		},
	}
	flags := add.Flags()
	flags.StringVar(&community.Name, "name", "", "community name on the origin instance")
	flags.StringVar(&community.OriginURL, "origin", "", "community URL on the origin instance")
	flags.StringVar(&community.OriginType, "origin-type", "lemmy", "origin software")
	flags.StringVar(&community.Title, "title", "", "display title")
	flags.BoolVar(&community.NSFW, "nsfw", false, "mark the community as NSFW")
	flags.IntVar(&community.PostFetchDays, "post-fetch-days", 0, "post window in days (0 uses DefaultPostFetchDays)")
	flags.BoolVar(&community.FetchComments, "fetch-comments", false, "also fetch comments")
	flags.IntVar(&community.RefreshCommentsDays, "refresh-comments-days", 0, "comment window in days")

	cmd.AddCommand(list, add)
	return cmd
}
