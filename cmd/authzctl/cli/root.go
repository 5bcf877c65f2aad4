// Package cli implements the authzctl commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
)

// Deps opens the resources a command needs. Each opener returns a release
// func the command calls when done.
type Deps struct {
	Authz func(ctx context.Context) (*rbac.Service, func(), error)
	Jobs  func() (*JobsCLI, error)
	// Migrate applies the schema.
	Migrate func(ctx context.Context) error
}

// NewRootCommand assembles the command tree.
func NewRootCommand(deps Deps, version string) *cobra.Command {
	root := &cobra.Command{
		Use:           "authzctl",
		Short:         "Operate the RBAC authorization service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newCheckCommand(deps),
		newEffectiveCommand(deps),
		newSeedCommand(deps),
		newMigrateCommand(deps),
		newJobsCommand(deps),
	)
	return root
}

func newCheckCommand(deps Deps) *cobra.Command {
	var (
		userID     int64
		department int64
		owner      int64
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "check <resource:action>",
		Short: "Evaluate a permission check for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resource, action, err := rbac.ParseCode(args[0])
			if err != nil {
				return err
			}
			req := rbac.CheckRequest{UserID: userID, Resource: resource, Action: action}
			if cmd.Flags().Changed("department") {
				req.TargetDepartmentID = &department
			}
			if cmd.Flags().Changed("owner") {
				req.TargetOwnerID = &owner
			}
			svc, release, err := deps.Authz(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			decision, err := svc.CheckPermission(cmd.Context(), req)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), decision)
			}
			return writeDecision(cmd.OutOrStdout(), req, decision)
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user ID to evaluate (required)")
	cmd.Flags().Int64Var(&department, "department", 0, "target department ID")
	cmd.Flags().Int64Var(&owner, "owner", 0, "owner of the target resource")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the decision as JSON")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func writeDecision(w io.Writer, req rbac.CheckRequest, d rbac.Decision) error {
	verdict := "DENY"
	if d.Allowed {
		verdict = "ALLOW"
	}
	line := fmt.Sprintf("%s user=%d %s", verdict, req.UserID, req.Code())
	if d.MatchedPermission != nil {
		line += fmt.Sprintf(" via=%s scope=%s", d.MatchedPermission.Code, d.EffectiveScope)
	}
	if d.Reason != "" {
		line += fmt.Sprintf(" reason=%q", d.Reason)
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

func newEffectiveCommand(deps Deps) *cobra.Command {
	var (
		userID int64
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "effective",
		Short: "List the permissions and roles a user holds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, release, err := deps.Authz(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			snapshot, err := svc.Effective.Compute(cmd.Context(), userID)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), snapshot)
			}
			out := cmd.OutOrStdout()
			roles := make([]string, 0, len(snapshot.Roles))
			for _, r := range snapshot.Roles {
				roles = append(roles, r.Code)
			}
			fmt.Fprintf(out, "user %d roles: %s\n", userID, strings.Join(roles, ", "))
			for _, code := range snapshot.Codes() {
				fmt.Fprintln(out, code)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user ID (required)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the snapshot as JSON")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newSeedCommand(deps Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Install the default permission catalog and roles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, release, err := deps.Authz(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			report, err := svc.Seed(cmd.Context(), rbac.DefaultCatalog())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "permissions created: %d\nroles created: %d\ngrants applied: %d\n",
				report.PermissionsCreated, report.RolesCreated, report.GrantsApplied)
			return err
		},
	}
}

func newMigrateCommand(deps Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if deps.Migrate == nil {
				return fmt.Errorf("migrate: not configured")
			}
			if err := deps.Migrate(cmd.Context()); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return err
		},
	}
}

func newJobsCommand(deps Deps) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and trigger background jobs",
	}
	withJobs := func(fn func(cmd *cobra.Command, c *JobsCLI, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			c, err := deps.Jobs()
			if err != nil {
				return err
			}
			defer c.Close()
			return fn(cmd, c, args)
		}
	}
	jobsCmd.AddCommand(&cobra.Command{
		Use:   "trigger <task>",
		Short: "Enqueue a maintenance task now",
		Args:  cobra.ExactArgs(1),
		RunE: withJobs(func(cmd *cobra.Command, c *JobsCLI, args []string) error {
			info, err := c.Trigger(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
			return err
		}),
	})
	jobsCmd.AddCommand(&cobra.Command{
		Use:   "inspect",
		Short: "Show queue depth",
		Args:  cobra.NoArgs,
		RunE: withJobs(func(cmd *cobra.Command, c *JobsCLI, _ []string) error {
			stats, err := c.InspectQueues(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), stats)
		}),
	})
	var size int
	scheduled := &cobra.Command{
		Use:   "scheduled",
		Short: "List scheduled tasks",
		Args:  cobra.NoArgs,
		RunE: withJobs(func(cmd *cobra.Command, c *JobsCLI, _ []string) error {
			tasks, err := c.ListScheduled(cmd.Context(), size)
			if err != nil {
				return err
			}
			for _, t := range tasks {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s next=%s\n", t.ID, t.Type, t.NextProcessAt.Format("2006-01-02T15:04:05Z07:00"))
			}
			return nil
		}),
	}
	scheduled.Flags().IntVar(&size, "size", 10, "page size")
	jobsCmd.AddCommand(scheduled)
	return jobsCmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
