package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/fleetcall/internal/config"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	v := config.New()
	root := &cobra.Command{
		Use:           "fleetcall-peer",
		Short:         "Headless participant for work-order video calls",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.AddCommand(joinCmd(v))
	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("fleetcall-peer")
		os.Exit(1)
	}
}
