package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"hibot-harvest/internal/config"
	"hibot-harvest/internal/hibot"
)

func newTokenCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Show issuer, audience and expiry of the configured bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, dir, err := load()
			if err != nil {
				return err
			}
			now := time.Now()
			conn, err := cfg.ResolveConnection(dir, now)
			if err != nil && !errors.Is(err, config.ErrTokenExpired) {
				return err
			}
			info, err := hibot.InspectToken(conn.Token)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "issuer:   %s\n", info.Issuer)
			fmt.Fprintf(w, "audience: %s\n", strings.Join(info.Audience, ","))
			fmt.Fprintf(w, "issued:   %s\n", formatTime(info.IssuedAt))
			fmt.Fprintf(w, "expires:  %s\n", formatTime(info.ExpiresAt))
			if info.Expired(now) {
				fmt.Fprintln(w, "status:   expired")
				return config.ErrTokenExpired
			}
			if !info.ExpiresAt.IsZero() {
				fmt.Fprintf(w, "status:   valid for %s\n", info.ExpiresAt.Sub(now).Round(time.Minute))
			} else {
				fmt.Fprintln(w, "status:   no expiry")
			}
			return nil
		},
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
