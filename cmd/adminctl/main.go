package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/honeynil/adminauth/internal/client"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

type globalFlags struct {
	server      string
	sessionFile string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:           "adminctl",
		Short:         "Command-line client for the admin session API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	home, _ := os.UserHomeDir()
	cmd.PersistentFlags().StringVar(&flags.server, "server", "http://localhost:8080", "Base URL of the admin API")
	cmd.PersistentFlags().StringVar(&flags.sessionFile, "session-file", filepath.Join(home, ".adminctl", "session.json"), "File holding the access token")

	cmd.AddCommand(newLoginCommand(flags))
	cmd.AddCommand(newCheckCommand(flags))
	cmd.AddCommand(newLogoutCommand(flags))
	cmd.AddCommand(newGetCommand(flags, "whoami", "Show the authenticated principal", "/api/admin/me"))
	cmd.AddCommand(newGetCommand(flags, "audit", "Show recent login/logout events (admin only)", "/api/admin/audit"))
	cmd.AddCommand(newHashPasswordCommand())
	return cmd
}

func newAgent(flags *globalFlags) (*client.Agent, error) {
	return client.NewAgent(flags.server, client.NewFileStorage(flags.sessionFile))
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newLoginCommand(flags *globalFlags) *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("ADMINCTL_PASSWORD")
			}
			agent, err := newAgent(flags)
			if err != nil {
				return err
			}
			defer agent.Close()

			res := agent.Login(commandContext(cmd), username, password)
			if !res.Success {
				return errors.New(res.Message)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Message)
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "Admin username")
	cmd.Flags().StringVar(&password, "password", "", "Password (defaults to $ADMINCTL_PASSWORD)")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func newCheckCommand(flags *globalFlags) *cobra.Command {
	var relogin bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report whether the stored session is still valid",
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := newAgent(flags)
			if err != nil {
				return err
			}
			defer agent.Close()

			st := agent.CheckAuth(commandContext(cmd), relogin)
			if !st.IsAuthenticated {
				return client.ErrUnauthenticated
			}
			fmt.Fprintf(cmd.OutOrStdout(), "authenticated as %s (%s, role %s)\n", st.User.Username, st.User.DisplayName, st.User.Role)
			return nil
		},
	}

	cmd.Flags().BoolVar(&relogin, "relogin", false, "Drop the stored session without asking the server")
	return cmd
}

func newLogoutCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and forget the access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := newAgent(flags)
			if err != nil {
				return err
			}
			res := agent.Logout(commandContext(cmd))
			fmt.Fprintln(cmd.OutOrStdout(), res.Message)
			return nil
		},
	}
}

func newGetCommand(flags *globalFlags, use, short, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := newAgent(flags)
			if err != nil {
				return err
			}
			defer agent.Close()

			ctx := commandContext(cmd)
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, agent.URL(path), nil)
			if err != nil {
				return err
			}
			resp, err := agent.Do(ctx, req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("%s: %s", path, resp.Status)
			}
			var body any
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(body)
		},
	}
}

func newHashPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Print a bcrypt hash for seeding the users table",
		Long:  "Reads the password from $ADMINCTL_PASSWORD, or from the first line of stdin.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(hash))
			return nil
		},
	}
}

func readPassword(in io.Reader) (string, error) {
	if password := os.Getenv("ADMINCTL_PASSWORD"); password != "" {
		return password, nil
	}
	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return "", errors.New("no password given on stdin or in $ADMINCTL_PASSWORD")
	}
	password := strings.TrimRight(scanner.Text(), "\r")
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	return password, nil
}
