package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	router "github.com/dkeye/fleetcall/internal/adapters/http"
	"github.com/dkeye/fleetcall/internal/app"
	"github.com/dkeye/fleetcall/internal/app/orch"
	"github.com/dkeye/fleetcall/internal/auth"
	"github.com/dkeye/fleetcall/internal/config"
)

func main() {
	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	v := config.New()
	root := &cobra.Command{
		Use:           "fleetcall-hub",
		Short:         "Signaling hub for work-order video calls",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().String("secret", "", "token signing secret")
	_ = v.BindPFlag("secret", root.PersistentFlags().Lookup("secret"))

	root.AddCommand(serveCmd(v), tokenCmd(v))
	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("fleetcall-hub")
		os.Exit(1)
	}
}

func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg, err := config.LoadFrom(v)
	if err != nil {
		return nil, err
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	return cfg, nil
}

func serveCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the hub",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
	cmd.Flags().Int("port", 8080, "listen port")
	_ = v.BindPFlag("port", cmd.Flags().Lookup("port"))
	return cmd
}

func serve(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	issuer, err := auth.NewIssuer(cfg.Secret, cfg.TokenTTL)
	if err != nil {
		return err
	}
	policy, err := app.PolicyByName(cfg.Backpressure, cfg.BackpressureStrikes)
	if err != nil {
		return err
	}
	o := orch.New(app.NewRegistry(), app.NewRoomManager(), policy)

	r := router.SetupRouter(ctx, cfg, o, issuer)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("fleetcall hub started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}
