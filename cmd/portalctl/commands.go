package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/upb/jobportal/apiclient"
	"github.com/upb/jobportal/models"
	"github.com/upb/jobportal/routeguard"
	"golang.org/x/crypto/bcrypt"
)

// maxRedirects bounds how far guard --follow chases redirects
const maxRedirects = 5

func hashPasswordCmd() *cobra.Command {
	var cost int

	cmd := &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for seeding an account",
		Long:  "Hashes the password given as argument, or the first line of stdin when no argument is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if len(args) == 1 {
				password = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if password == "" {
				return errors.New("password is empty")
			}

			hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(hash))
			return nil
		},
	}

	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	return cmd
}

type credentials struct {
	email    string
	password string
	timeout  time.Duration
}

func (c *credentials) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&c.email, "email", "e", "", "Account email")
	cmd.Flags().StringVarP(&c.password, "password", "p", "", "Account password")
	cmd.Flags().DurationVar(&c.timeout, "timeout", 15*time.Second, "Request timeout")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
}

// signIn creates a client and logs it in
func signIn(ctx context.Context, opts *rootOptions, creds *credentials) (*apiclient.Client, *models.Principal, error) {
	logger, err := opts.logger()
	if err != nil {
		return nil, nil, err
	}
	client, err := apiclient.New(apiclient.Options{BaseURL: opts.server, Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	principal, err := client.Login(ctx, creds.email, creds.password)
	if err != nil {
		return nil, nil, fmt.Errorf("login failed: %w", err)
	}
	return client, principal, nil
}

func loginCmd(opts *rootOptions) *cobra.Command {
	creds := &credentials{}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and print the principal and access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), creds.timeout)
			defer cancel()

			client, principal, err := signIn(ctx, opts, creds)
			if err != nil {
				return err
			}

			token := client.Session().Snapshot().AccessToken
			if opts.asJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
					"principal":   principal,
					"accessToken": token,
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "logged in as %s (%s)\n", principal.Email, principal.Role)
			fmt.Fprintf(out, "id:           %s\n", principal.ID)
			fmt.Fprintf(out, "access token: %s\n", token)
			return nil
		},
	}

	creds.bind(cmd)
	return cmd
}

func whoamiCmd(opts *rootOptions) *cobra.Command {
	creds := &credentials{}

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Log in and show the account behind the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), creds.timeout)
			defer cancel()

			client, _, err := signIn(ctx, opts, creds)
			if err != nil {
				return err
			}
			defer func() { _ = client.Logout(context.WithoutCancel(ctx)) }()

			resp, err := client.Get(ctx, "/api/v1/me")
			if err != nil {
				return err
			}
			var account models.Account
			if err := resp.Decode(&account); err != nil {
				return err
			}

			if opts.asJSON {
				return writeJSON(cmd.OutOrStdout(), account)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "name:    %s\n", account.Name)
			fmt.Fprintf(out, "email:   %s\n", account.Email)
			fmt.Fprintf(out, "role:    %s\n", account.Role)
			fmt.Fprintf(out, "id:      %s\n", account.ID)
			fmt.Fprintf(out, "created: %s\n", account.CreatedAt.Format(time.RFC3339))
			return nil
		},
	}

	creds.bind(cmd)
	return cmd
}

func classifyCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "classify <path>...",
		Short: "Print the access class of client routes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.asJSON {
				classes := make(map[string]routeguard.Class, len(args))
				for _, p := range args {
					classes[p] = routeguard.Classify(p)
				}
				return writeJSON(cmd.OutOrStdout(), classes)
			}
			for _, p := range args {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", p, routeguard.Classify(p))
			}
			return nil
		},
	}
}

func guardCmd(opts *rootOptions) *cobra.Command {
	var (
		as     string
		follow bool
	)

	cmd := &cobra.Command{
		Use:   "guard <path>",
		Short: "Show what the route guard does with a path for a given session",
		Long: `Evaluates a path against a simulated session.

--as selects the session: loading, anonymous, admin or user.
With --follow, redirects are followed the way a browser would.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := simulatedSession(as)
			if err != nil {
				return err
			}

			var pending []string
			g := routeguard.NewGuard(func(target string) {
				pending = append(pending, target)
			}, nil)
			g.Observe(session)

			trail := []routeguard.Decision{g.Navigate(args[0])}
			for follow && len(pending) > 0 && len(trail) <= maxRedirects {
				next := pending[0]
				pending = pending[1:]
				trail = append(trail, g.Navigate(next))
			}

			if opts.asJSON {
				return writeJSON(cmd.OutOrStdout(), trail)
			}
			for _, d := range trail {
				line := fmt.Sprintf("%s\t%s\t%s", d.Path, d.Class, d.State)
				if d.Target != "" {
					line += "\t-> " + d.Target
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&as, "as", "anonymous", "Session to simulate (loading, anonymous, admin, user)")
	cmd.Flags().BoolVar(&follow, "follow", false, "Follow redirects")
	return cmd
}

func simulatedSession(as string) (apiclient.SessionState, error) {
	as = strings.ToLower(as)
	switch as {
	case "loading":
		return apiclient.SessionState{Status: apiclient.StatusLoading}, nil
	case "anonymous", "":
		return apiclient.SessionState{Status: apiclient.StatusUnauthenticated, Version: 1}, nil
	case string(models.RoleAdmin), string(models.RoleUser):
		return apiclient.SessionState{
			Status: apiclient.StatusAuthenticated,
			Principal: &models.Principal{
				ID:    uuid.New(),
				Email: as + "@portal.local",
				Role:  models.Role(as),
			},
			Version: 1,
		}, nil
	default:
		return apiclient.SessionState{}, fmt.Errorf("unknown session %q", as)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
