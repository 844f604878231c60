package main

import (
	"errors"
	"fmt"
	"time"

	"taskboard-sync-backend/pkg/database"
	"taskboard-sync-backend/pkg/models"
	"taskboard-sync-backend/pkg/utils"

	"github.com/spf13/cobra"
)

func newTokenCmd(a *app) *cobra.Command {
	var (
		userID   string
		username string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Register a development user and print an access token",
		Long: `Register a user (or reuse an existing one with --user-id) and print a
signed access token for it. Identity is owned by an external provider in
production; this command exists for local development and testing.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.IsProduction() {
				return errors.New("token issuance is disabled in production")
			}
			ctx := cmd.Context()
			db, err := database.NewDatabase(ctx, database.DatabaseConfig{
				UseMemoryDB: a.cfg.UseMemoryDB,
				PostgresDSN: a.cfg.PostgresDSN,
			})
			if err != nil {
				return err
			}
			defer db.Close()

			var user *models.User
			if userID != "" {
				user, err = db.GetUserByID(ctx, userID)
				if err != nil && !errors.Is(err, database.ErrNotFound) {
					return fmt.Errorf("look up user: %w", err)
				}
			}
			if user == nil {
				if username == "" {
					return errors.New("--username is required to register a user")
				}
				user = &models.User{ID: userID, Username: username}
				if err := db.CreateUser(ctx, user); err != nil {
					if errors.Is(err, database.ErrDuplicate) {
						return fmt.Errorf("username %q is taken; pass its --user-id", username)
					}
					return err
				}
				a.logger.Info().Str("user_id", user.ID).Str("username", user.Username).Msg("user registered")
			}

			token, exp, err := utils.NewJWTService(a.cfg.JWTSecret).GenerateAccessToken(user.ID, user.Username, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user_id=%s\nexpires=%s\n%s\n", user.ID, time.Unix(exp, 0).UTC().Format(time.RFC3339), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "existing user id (a new id is generated when empty)")
	cmd.Flags().StringVar(&username, "username", "", "username for a new user")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
