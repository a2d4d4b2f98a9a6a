package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/matheus3301/albumchat/internal/backend"
	"github.com/matheus3301/albumchat/internal/config"
	"github.com/matheus3301/albumchat/internal/profile"
	"github.com/spf13/cobra"
)

var (
	profileFlag string
	jsonFlag    bool
)

var rootCmd = &cobra.Command{
	Use:           "chatctl",
	Short:         "Control the album chat client",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return profile.ValidateName(profileName())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&profileFlag, "profile", "", "profile name (overrides config default)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "output in JSON format")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func profileName() string {
	return profile.Resolve(profileFlag)
}

func loadConfig() (*config.Config, error) {
	return config.Load(profile.ConfigPath())
}

// authedClient returns a backend client carrying the profile's token.
func authedClient() (*backend.Client, *config.Credentials, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	creds, err := config.LoadCredentials(profile.CredentialsPath(profileName()))
	if err != nil {
		return nil, nil, fmt.Errorf("%w (run chatctl login)", err)
	}
	c := backend.New(cfg.APIBaseURL, cfg.RequestTimeout)
	c.SetToken(creds.Token)
	return c, creds, nil
}

// handleUnauthorized clears the stored token when the backend rejects it.
func handleUnauthorized(err error) error {
	if err == nil || !isUnauthorized(err) {
		return err
	}
	_ = config.ClearCredentials(profile.CredentialsPath(profileName()))
	return fmt.Errorf("%w: session expired, run chatctl login", err)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
