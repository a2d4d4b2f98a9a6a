package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/albumchat/internal/config"
	"github.com/matheus3301/albumchat/internal/daemon"
	"github.com/matheus3301/albumchat/internal/lock"
	"github.com/matheus3301/albumchat/internal/profile"
	"github.com/matheus3301/albumchat/internal/store"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

type statusReport struct {
	Profile   string     `json:"profile"`
	User      string     `json:"user,omitempty"`
	LoggedIn  bool       `json:"logged_in"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Daemon    string     `json:"daemon"`
	DaemonPID int        `json:"daemon_pid,omitempty"`
	Chat      string     `json:"chat"`
	Queued    int        `json:"queued"`
	Failed    int        `json:"failed"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show profile, daemon and chat connection status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name := profileName()
		r := statusReport{Profile: name, Daemon: "stopped", Chat: "unknown"}

		if creds, err := config.LoadCredentials(profile.CredentialsPath(name)); err == nil {
			r.LoggedIn = true
			r.User = creds.Username
			if exp, ok := creds.ExpiresAt(); ok {
				r.ExpiresAt = &exp
			}
		} else if !errors.Is(err, config.ErrNotLoggedIn) {
			return err
		}

		if chat, err := checkChat(profile.SocketPath(name)); err == nil {
			r.Daemon = "running"
			r.Chat = chat
			if pid, err := lock.Holder(profile.LockPath(name)); err == nil {
				r.DaemonPID = pid
			}
		}

		if _, err := os.Stat(profile.DBPath(name)); err == nil {
			if db, err := store.Open(profile.DBPath(name)); err == nil {
				r.Queued, _ = db.CountOutbox(store.StatusQueued)
				r.Failed, _ = db.CountOutbox(store.StatusFailed)
				_ = db.Close()
			}
		}

		if jsonFlag {
			outputJSON(r)
			return nil
		}
		fmt.Printf("Profile: %s\n", r.Profile)
		if r.LoggedIn {
			fmt.Printf("User:    %s\n", r.User)
			if r.ExpiresAt != nil {
				fmt.Printf("Token:   expires %s\n", r.ExpiresAt.Local().Format(time.RFC1123))
			}
		} else {
			fmt.Println("User:    not logged in")
		}
		if r.DaemonPID > 0 {
			fmt.Printf("Daemon:  %s (PID %d)\n", r.Daemon, r.DaemonPID)
		} else {
			fmt.Printf("Daemon:  %s\n", r.Daemon)
		}
		fmt.Printf("Chat:    %s\n", r.Chat)
		fmt.Printf("Outbox:  %d queued, %d failed\n", r.Queued, r.Failed)
		return nil
	},
}

// checkChat asks the daemon's health service whether the chat socket is open.
func checkChat(socketPath string) (string, error) {
	cc, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return "", err
	}
	defer func() { _ = cc.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(cc).Check(ctx, &healthpb.HealthCheckRequest{Service: daemon.ChatService})
	if err != nil {
		return "", err
	}
	if resp.Status == healthpb.HealthCheckResponse_SERVING {
		return "open", nil
	}
	return "not connected", nil
}
