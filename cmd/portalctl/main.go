package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"semaphore/portal/internal/access"
	"semaphore/portal/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var routesFile string

	root := &cobra.Command{
		Use:           "portalctl",
		Short:         "Inspect the portal route policy",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&routesFile, "file", "", "route policy file (defaults to the built-in policy)")

	root.AddCommand(newRoutesCmd(&routesFile))
	root.AddCommand(newCheckCmd(&routesFile))
	root.AddCommand(newLandingCmd(&routesFile))
	root.AddCommand(newValidateCmd(&routesFile))
	return root
}

func loadPolicy(routesFile string) (*access.Policy, error) {
	if routesFile == "" {
		return access.DefaultPolicy()
	}
	return access.LoadPolicyFile(routesFile)
}

func parseRole(value string) (store.Role, error) {
	role, ok := store.ParseRole(value)
	if !ok {
		return "", fmt.Errorf("unknown role %q (want one of %s)", value, joinRoles())
	}
	return role, nil
}

func joinRoles() string {
	roles := store.Roles()
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return strings.Join(names, ", ")
}

func newRoutesCmd(routesFile *string) *cobra.Command {
	var role string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "routes",
		Short: "List the sidebar routes a role can reach",
		RunE: func(cmd *cobra.Command, _ []string) error {
			policy, err := loadPolicy(*routesFile)
			if err != nil {
				return err
			}
			r, err := parseRole(role)
			if err != nil {
				return err
			}
			routes := policy.AccessibleRoutes(r)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(routes)
			}
			if len(routes) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no routes")
				return nil
			}
			printRoutes(cmd.OutOrStdout(), routes, "", 0)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role: "+joinRoles())
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func printRoutes(w io.Writer, routes []access.Route, parent string, depth int) {
	for _, route := range routes {
		path := route.Path
		if !strings.HasPrefix(path, "/") {
			path = strings.TrimSuffix(parent, "/") + "/" + path
		}
		_, _ = fmt.Fprintf(w, "%s%s\t%s\n", strings.Repeat("  ", depth), path, route.Name)
		printRoutes(w, route.Children, path, depth+1)
	}
}

func newCheckCmd(routesFile *string) *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "check <path>",
		Short: "Show the guard decision for a path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			policy, err := loadPolicy(*routesFile)
			if err != nil {
				return err
			}
			path := args[0]
			out := cmd.OutOrStdout()
			if policy.IsPublic(path) {
				_, _ = fmt.Fprintf(out, "public %s\n", path)
				return nil
			}
			rule, ok := policy.Lookup(path)
			if !ok {
				return fmt.Errorf("%s: %w", path, access.ErrRouteNotFound)
			}

			var sess access.Session
			if role != "" {
				r, err := parseRole(role)
				if err != nil {
					return err
				}
				sess = access.Session{Token: "portalctl", User: &store.User{ID: "portalctl", Role: r}}
			}
			decision := access.Evaluate(sess, rule.Roles, false)
			_, _ = fmt.Fprintf(out, "%s %s (%s)\n", decision, rule.Path, rule.Name)
			if decision == access.Unauthenticated {
				_, _ = fmt.Fprintf(out, "redirect %s\n", policy.LoginURL(path))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role to check as (empty for a signed-out visitor)")
	return cmd
}

func newLandingCmd(routesFile *string) *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "landing",
		Short: "Show where a role lands after login",
		RunE: func(cmd *cobra.Command, _ []string) error {
			policy, err := loadPolicy(*routesFile)
			if err != nil {
				return err
			}
			r, err := parseRole(role)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), policy.LandingPath(r))
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role: "+joinRoles())
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func newValidateCmd(routesFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the policy and report its rules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			policy, err := loadPolicy(*routesFile)
			if err != nil {
				return err
			}
			rules := policy.Rules()
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "ok: %d rules\n", len(rules))
			return nil
		},
	}
}
