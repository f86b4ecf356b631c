/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/smarthatch/authserver/internal/client"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const defaultServerURL = "http://localhost:8080/api/auth"

var (
	sessionServerURL string
	sessionTokenFile string
	sessionEmail     string
	sessionName      string
)

// readPassword is swapped in tests to avoid touching the terminal.
var readPassword = term.ReadPassword

// sessionCmd represents the session command
var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Log in to a SmartHatch auth server from the terminal",
	Long: `Manages a client session against a SmartHatch auth server. Tokens are
kept in a file readable only by the current user. Usage:

	smarthatch session register --email alice@example.com
	smarthatch session login --email alice@example.com
	smarthatch session whoami
	smarthatch session refresh
	smarthatch session logout
`,
}

var sessionLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and store both tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := openSession(cmd)
		if err != nil {
			return err
		}
		email, err := promptEmail(cmd)
		if err != nil {
			return err
		}
		password, err := promptPassword(cmd)
		if err != nil {
			return err
		}

		user, err := session.Login(cmd.Context(), email, password)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", user.Email)
		return nil
	},
}

var sessionRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account; only the access token is stored",
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := openSession(cmd)
		if err != nil {
			return err
		}
		email, err := promptEmail(cmd)
		if err != nil {
			return err
		}
		password, err := promptPassword(cmd)
		if err != nil {
			return err
		}

		user, err := session.Register(cmd.Context(), email, password, sessionName)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Registered %s\n", user.Email)
		return nil
	},
}

var sessionRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Rotate the stored refresh token",
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := openSession(cmd)
		if err != nil {
			return err
		}
		if err := session.Refresh(cmd.Context()); err != nil {
			if errors.Is(err, client.ErrNotAuthenticated) {
				return errors.New("no refresh token stored; run \"smarthatch session login\"")
			}
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Tokens refreshed")
		return nil
	},
}

var sessionLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log out and forget stored tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := openSession(cmd)
		if err != nil {
			return err
		}
		if err := session.Logout(cmd.Context()); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "server logout failed: %v\n", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
		return nil
	},
}

var sessionWhoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Print the user of the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := openSession(cmd)
		if err != nil {
			return err
		}
		if !session.IsAuthenticated() {
			return errors.New("not logged in")
		}
		user, err := session.Me(cmd.Context())
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(user)
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionLoginCmd, sessionRegisterCmd, sessionRefreshCmd, sessionLogoutCmd, sessionWhoamiCmd)

	serverURL := os.Getenv("SMARTHATCH_URL")
	if serverURL == "" {
		serverURL = defaultServerURL
	}
	sessionCmd.PersistentFlags().StringVar(&sessionServerURL, "server", serverURL, "auth server base URL")
	sessionCmd.PersistentFlags().StringVar(&sessionTokenFile, "token-file", "", "token file (default: user config dir)")

	for _, c := range []*cobra.Command{sessionLoginCmd, sessionRegisterCmd} {
		c.Flags().StringVar(&sessionEmail, "email", "", "account email")
	}
	sessionRegisterCmd.Flags().StringVar(&sessionName, "name", "", "display name")
}

func openSession(cmd *cobra.Command) (*client.Session, error) {
	path := sessionTokenFile
	if path == "" {
		var err error
		path, err = client.DefaultTokenPath()
		if err != nil {
			return nil, fmt.Errorf("locate token file: %w", err)
		}
	}

	session := client.NewSession(client.New(sessionServerURL), client.NewFileTokenStore(path))
	if err := session.Init(cmd.Context()); err != nil {
		return nil, err
	}
	return session, nil
}

func promptEmail(cmd *cobra.Command) (string, error) {
	if email := strings.TrimSpace(sessionEmail); email != "" {
		return email, nil
	}
	fmt.Fprint(cmd.OutOrStdout(), "Email: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func promptPassword(cmd *cobra.Command) (string, error) {
	fmt.Fprint(cmd.OutOrStdout(), "Password: ")
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(cmd.OutOrStdout())
	if err != nil {
		return "", err
	}
	return string(pw), nil
}
