package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/matheus3301/albumchat/internal/backend"
	"github.com/matheus3301/albumchat/internal/config"
	"github.com/matheus3301/albumchat/internal/profile"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func init() {
	loginCmd.Flags().String("email", "", "account email")
	rootCmd.AddCommand(loginCmd, logoutCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store credentials for the profile",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		in := bufio.NewReader(os.Stdin)
		email, _ := cmd.Flags().GetString("email")
		if email == "" {
			fmt.Print("Email: ")
			line, err := in.ReadString('\n')
			if err != nil {
				return fmt.Errorf("read email: %w", err)
			}
			email = strings.TrimSpace(line)
		}
		password, err := readPassword(in)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
		defer cancel()
		res, err := backend.New(cfg.APIBaseURL, cfg.RequestTimeout).Login(ctx, email, password)
		if err != nil {
			if errors.Is(err, backend.ErrLoginRejected) || isUnauthorized(err) {
				return errors.New("login rejected: check email and password")
			}
			return err
		}

		name := profileName()
		if err := profile.EnsureDir(name); err != nil {
			return err
		}
		creds := &config.Credentials{Token: res.Token, Username: res.Username, UserID: res.ID, Role: res.Role}
		if err := config.SaveCredentials(profile.CredentialsPath(name), creds); err != nil {
			return fmt.Errorf("save credentials: %w", err)
		}
		fmt.Printf("Logged in as %s (profile %s)\n", res.Username, name)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove stored credentials for the profile",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.ClearCredentials(profile.CredentialsPath(profileName())); err != nil {
			return err
		}
		fmt.Println("Logged out.")
		return nil
	},
}

func readPassword(in *bufio.Reader) (string, error) {
	fmt.Print("Password: ")
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		pw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(pw), nil
	}
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func isUnauthorized(err error) bool {
	return errors.Is(err, backend.ErrUnauthorized)
}
