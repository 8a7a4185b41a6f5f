package app

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mcpbundler/gateway/internal/config"
	"github.com/mcpbundler/gateway/internal/crypto"
	"github.com/mcpbundler/gateway/internal/db"
	"github.com/mcpbundler/gateway/internal/domain"
	"github.com/mcpbundler/gateway/internal/repository/sqlite"
)

// tokenCommand groups bundle-token lifecycle operations that bootstrap a
// deployment without going through the management HTTP API, grounded on
// the teacher's cmd/docker-mcp/commands/secret.go admin-style CLI verbs.
func tokenCommand(flags *Flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue, list, and revoke bundle tokens",
	}
	cmd.AddCommand(tokenIssueCommand(flags))
	cmd.AddCommand(tokenListCommand(flags))
	cmd.AddCommand(tokenRevokeCommand(flags))
	return cmd
}

func openRepos(flags *Flags) (*sqlite.Store, error) {
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return nil, err
	}
	if flags.DBFile != "" {
		cfg.Database.Path = flags.DBFile
	}
	sqlDB, err := db.Open(db.Options{DBFile: cfg.Database.Path})
	if err != nil {
		return nil, err
	}
	creds, err := crypto.NewStore(cfg.Security.EncryptionKey)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return sqlite.New(sqlDB, creds), nil
}

func tokenIssueCommand(flags *Flags) *cobra.Command {
	return &cobra.Command{
		Use:   "issue <bundle-id>",
		Short: "Mint a new bundle token, printing it exactly once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openRepos(flags)
			if err != nil {
				return err
			}
			repos := store.Repositories()

			raw, err := crypto.MintToken(crypto.TokenPrefix)
			if err != nil {
				return err
			}
			t := domain.Token{ID: uuid.NewString(), Hash: crypto.HashToken(raw), BundleID: args[0]}
			if err := repos.Tokens.Create(cmd.Context(), t); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "token id: %s\ntoken:    %s\n", t.ID, raw)
			return nil
		},
	}
}

func tokenListCommand(flags *Flags) *cobra.Command {
	return &cobra.Command{
		Use:   "list <bundle-id>",
		Short: "List tokens issued for a bundle (hashes only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openRepos(flags)
			if err != nil {
				return err
			}
			repos := store.Repositories()

			tokens, err := repos.Tokens.List(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, t := range tokens {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\trevoked=%v\thash=%s\n", t.ID, t.Revoked, t.Hash)
			}
			return nil
		},
	}
}

func tokenRevokeCommand(flags *Flags) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <token-id>",
		Short: "Revoke a bundle token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openRepos(flags)
			if err != nil {
				return err
			}
			repos := store.Repositories()

			t, err := repos.Tokens.FindByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if t == nil {
				return fmt.Errorf("no such token: %s", args[0])
			}
			t.Revoked = true
			return repos.Tokens.Update(cmd.Context(), *t)
		},
	}
}
