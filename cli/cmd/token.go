package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"ferry/api/auth"
)

var (
	tokenSecret  string
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an API token signed with the server's JWT secret",
	RunE:  runToken,
}

func init() {
	f := tokenCmd.Flags()
	f.StringVar(&tokenSecret, "secret", os.Getenv("FERRY_JWT_SECRET"), "JWT signing secret")
	f.StringVar(&tokenSubject, "subject", os.Getenv("USER"), "who the token is for")
	f.DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	if tokenSecret == "" {
		return errors.New("--secret or FERRY_JWT_SECRET is required")
	}
	if tokenSubject == "" {
		tokenSubject = "cli"
	}
	tok, err := auth.New("", tokenSecret).Issue(tokenSubject, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}
