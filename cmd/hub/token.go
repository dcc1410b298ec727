package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dkeye/fleetcall/internal/auth"
	"github.com/dkeye/fleetcall/internal/domain"
)

// tokenCmd mints a bearer token with the hub's secret, for hosts and
// headless peers that have no login flow.
func tokenCmd(v *viper.Viper) *cobra.Command {
	var user, name string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a participant token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			issuer, err := auth.NewIssuer(cfg.Secret, cfg.TokenTTL)
			if err != nil {
				return err
			}
			id, err := domain.NewIdentity(domain.UserID(user), name)
			if err != nil {
				return err
			}
			tok, err := issuer.Issue(id)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
