package main

import (
	"Roomchat/internal/auth"
	"Roomchat/internal/configuration"
	"Roomchat/internal/model"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token <userId>",
	Short: "Issues a chat token for a user",
	Long: `Signs a token with the configured auth.jwt secret. The server only
accepts it when auth.mode is jwt.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if config.Auth.JWT.Secret == "" {
			return errors.New("auth.jwt.secret is not configured")
		}

		provider := auth.NewJWTProvider(auth.JWTConfig{
			Secret:        config.Auth.JWT.Secret,
			Issuer:        config.Auth.JWT.Issuer,
			TokenDuration: config.Auth.JWT.TokenDuration,
		})
		token, err := provider.IssueToken(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var (
	userName  string
	userEmail string
	userFirst string
	userLast  string
	inactive  bool
)

var userCmd = &cobra.Command{
	Use:   "user <userId>",
	Short: "Creates or updates a user record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStorage(cmd, func(ctx context.Context, c *configuration.Container) error {
			err := c.Users.SaveUser(ctx, model.User{
				UserID:    args[0],
				Username:  userName,
				Email:     userEmail,
				FirstName: userFirst,
				LastName:  userLast,
				IsActive:  !inactive,
				CreatedAt: time.Now().UTC(),
			})
			if err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "saved user %s\n", args[0])
			}
			return err
		})
	},
}

var memberRole string

var grantCmd = &cobra.Command{
	Use:   "grant <projectId> <userId>...",
	Short: "Grants users access to a project room",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStorage(cmd, func(ctx context.Context, c *configuration.Container) error {
			projectID := args[0]
			for _, userID := range args[1:] {
				err := c.Directory.AddMember(ctx, model.ProjectMember{
					ProjectID: projectID,
					UserID:    userID,
					Role:      memberRole,
					IsActive:  true,
					JoinedAt:  time.Now().UTC(),
				})
				if err != nil {
					return fmt.Errorf("grant %s: %w", userID, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "granted %s access to project %s\n", userID, projectID)
			}
			return nil
		})
	},
}

func init() {
	userCmd.Flags().StringVar(&userName, "username", "", "display name")
	userCmd.Flags().StringVar(&userEmail, "email", "", "email address")
	userCmd.Flags().StringVar(&userFirst, "first-name", "", "first name")
	userCmd.Flags().StringVar(&userLast, "last-name", "", "last name")
	userCmd.Flags().BoolVar(&inactive, "inactive", false, "store the user as inactive")

	grantCmd.Flags().StringVar(&memberRole, "role", "member", "member role")
}

func withStorage(cmd *cobra.Command, run func(ctx context.Context, c *configuration.Container) error) error {
	config, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if config.Store.Driver == "memory" {
		return errors.New("store.driver memory keeps nothing between runs")
	}

	c, _, err := configuration.BuildStorage(config, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	return run(ctx, c)
}
