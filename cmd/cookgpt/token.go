package main

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/cookgpt/cookgpt/server/auth"
	"github.com/cookgpt/cookgpt/store"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an access token for an owner",
	RunE: func(cmd *cobra.Command, _ []string) error {
		instanceProfile, err := loadProfile()
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		ownerID, _ := flags.GetString("owner")
		name, _ := flags.GetString("name")
		maxChatCost, _ := flags.GetInt("budget")
		ttl, _ := flags.GetDuration("ttl")
		if ownerID == "" {
			return errors.New("--owner is required")
		}

		token, err := auth.GenerateAccessToken(&store.Owner{
			ID:          ownerID,
			DisplayName: name,
			MaxChatCost: maxChatCost,
		}, time.Now().Add(ttl), []byte(instanceProfile.JWTSecret))
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("owner", "", "owner id (token subject)")
	tokenCmd.Flags().String("name", "", "display name used in the assistant's preamble")
	tokenCmd.Flags().Int("budget", 0, "per-thread token budget, server default when 0")
	tokenCmd.Flags().Duration("ttl", auth.AccessTokenDuration, "token lifetime")
}
