package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/ctt-hpc/ctt/pkg/client"
	"github.com/ctt-hpc/ctt/pkg/tracker"
	"github.com/ctt-hpc/ctt/pkg/types"
	"github.com/spf13/cobra"
)

// newClient builds an API client from --server/--operator, falling back to
// server.addr and the login name
func newClient(cmd *cobra.Command) (*client.Client, error) {
	server, _ := cmd.Flags().GetString("server")
	operator, _ := cmd.Flags().GetString("operator")
	if server == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		server = cfg.Server.Addr
	}
	if operator == "" {
		operator = os.Getenv("USER")
	}
	return client.NewClient(server, operator), nil
}

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Manage issues on a running ctt server",
}

var issueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List issues",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		target, _ := cmd.Flags().GetString("target")
		all, _ := cmd.Flags().GetBool("all")
		status := types.IssueStatusOpen
		if all {
			status = ""
		}

		issues, err := c.ListIssues(cmd.Context(), target, status)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tOFFLINE\tCREATED BY\tTITLE")
		for _, i := range issues {
			scope := string(i.ToOffline)
			if scope == "" {
				scope = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", i.ID, i.Status, scope, i.CreatedBy, i.Title)
		}
		return w.Flush()
	},
}

var issueOpenCmd = &cobra.Command{
	Use:   "open NODE TITLE",
	Short: "Open an issue against a node",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		description, _ := cmd.Flags().GetString("description")
		scope, _ := cmd.Flags().GetString("offline")
		assignee, _ := cmd.Flags().GetString("assign")
		enforceDown, _ := cmd.Flags().GetBool("enforce-down")

		toOffline, err := types.ParseToOffline(scope)
		if err != nil {
			return err
		}
		issue, err := c.OpenIssue(cmd.Context(), tracker.NewIssue{
			Target:      args[0],
			Title:       args[1],
			Description: description,
			AssignedTo:  assignee,
			ToOffline:   toOffline,
			EnforceDown: enforceDown,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), issue.ID)
		return nil
	},
}

var issueCloseCmd = &cobra.Command{
	Use:   "close ID",
	Short: "Close an issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		comment, _ := cmd.Flags().GetString("comment")
		resp, err := c.CloseIssue(cmd.Context(), args[0], comment)
		if err != nil {
			return err
		}
		if len(resp.Onlined) > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "closed, resumed %s\n", strings.Join(resp.Onlined, " "))
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "closed")
		}
		return nil
	},
}

var issueCommentCmd = &cobra.Command{
	Use:   "comment ID TEXT",
	Short: "Comment on an issue",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		_, err = c.AddComment(cmd.Context(), args[0], args[1])
		return err
	},
}

var targetCmd = &cobra.Command{
	Use:   "target",
	Short: "Inspect and control nodes on a running ctt server",
}

var targetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		targets, err := c.ListTargets(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSTATUS")
		for _, t := range targets {
			fmt.Fprintf(w, "%s\t%s\n", t.Name, t.Status)
		}
		return w.Flush()
	},
}

var targetOfflineCmd = &cobra.Command{
	Use:   "offline NODE COMMENT",
	Short: "Offline a node in the scheduler",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		return c.OfflineNode(cmd.Context(), args[0], args[1])
	},
}

var targetOnlineCmd = &cobra.Command{
	Use:   "online NODE",
	Short: "Resume a node in the scheduler",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		return c.OnlineNode(cmd.Context(), args[0])
	},
}

func init() {
	for _, cmd := range []*cobra.Command{issueCmd, targetCmd} {
		cmd.PersistentFlags().String("server", "", "ctt server address (default server.addr)")
		cmd.PersistentFlags().String("operator", "", "acting operator (default $USER)")
		rootCmd.AddCommand(cmd)
	}

	issueListCmd.Flags().String("target", "", "only issues on this node")
	issueListCmd.Flags().Bool("all", false, "include closed issues")

	issueOpenCmd.Flags().String("description", "", "longer description")
	issueOpenCmd.Flags().String("offline", "", "offline scope: Node, Siblings or Cousins")
	issueOpenCmd.Flags().String("assign", "", "assignee")
	issueOpenCmd.Flags().Bool("enforce-down", false, "mark the issue as enforcing down")

	issueCloseCmd.Flags().String("comment", "", "closing comment")

	issueCmd.AddCommand(issueListCmd, issueOpenCmd, issueCloseCmd, issueCommentCmd)
	targetCmd.AddCommand(targetListCmd, targetOfflineCmd, targetOnlineCmd)
}
