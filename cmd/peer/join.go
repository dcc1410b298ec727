package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	devices "github.com/dkeye/fleetcall/internal/adapters/capture"
	"github.com/dkeye/fleetcall/internal/adapters/rtc"
	"github.com/dkeye/fleetcall/internal/adapters/ws"
	"github.com/dkeye/fleetcall/internal/app/call"
	"github.com/dkeye/fleetcall/internal/app/capture"
	"github.com/dkeye/fleetcall/internal/app/media"
	"github.com/dkeye/fleetcall/internal/auth"
	"github.com/dkeye/fleetcall/internal/config"
	"github.com/dkeye/fleetcall/internal/core"
	"github.com/dkeye/fleetcall/internal/domain"
)

func joinCmd(v *viper.Viper) *cobra.Command {
	var every time.Duration
	cmd := &cobra.Command{
		Use:   "join <room>",
		Short: "Join a work-order room with camera and microphone",
		Long: `Join a work-order room and stay in the call until interrupted.

Examples:
  fleetcall-peer join WO-1042 --token $TOKEN
  fleetcall-peer join WO-1042 --display --capture-dir ./frames --capture-every 10s`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				v.Set("client.room", args[0])
			}
			cfg, err := config.LoadFrom(v)
			if err != nil {
				return err
			}
			if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
				zerolog.SetGlobalLevel(lvl)
			}
			return join(cfg, every)
		},
	}
	f := cmd.Flags()
	f.String("hub", "", "hub WebSocket URL")
	f.String("token", "", "bearer token")
	f.String("user", "", "user id, with --secret mints a token locally")
	f.String("name", "", "display name")
	f.String("secret", "", "hub secret for local token minting")
	f.Bool("display", false, "share the screen instead of the camera")
	f.String("capture-dir", "", "save captured frames here")
	f.DurationVar(&every, "capture-every", 30*time.Second, "capture interval")
	for key, flag := range map[string]string{
		"client.hub_url":      "hub",
		"client.token":        "token",
		"client.user_id":      "user",
		"client.display_name": "name",
		"client.display":      "display",
		"client.capture_dir":  "capture-dir",
		"secret":              "secret",
	} {
		_ = v.BindPFlag(key, f.Lookup(flag))
	}
	return cmd
}

func token(cfg *config.Config) (string, error) {
	if cfg.Client.Token != "" {
		return cfg.Client.Token, nil
	}
	if cfg.Secret == "" || cfg.Client.UserID == "" {
		return "", errors.New("no token: pass --token, or --user with --secret")
	}
	issuer, err := auth.NewIssuer(cfg.Secret, cfg.TokenTTL)
	if err != nil {
		return "", err
	}
	id, err := domain.NewIdentity(domain.UserID(cfg.Client.UserID), cfg.Client.DisplayName)
	if err != nil {
		return "", err
	}
	return issuer.Issue(id)
}

func newCall(cfg *config.Config) (*call.Call, error) {
	devs, err := devices.NewDevices()
	if err != nil {
		return nil, err
	}
	opts := rtc.Options{ICEServers: cfg.Client.ICEServers, PLIInterval: cfg.Capture.PLIInterval}
	if sel := devs.Codecs(); sel != nil {
		opts.Codecs = sel
	}
	factory, err := rtc.NewFactory(opts)
	if err != nil {
		return nil, err
	}
	return call.New(call.Deps{
		Devices:      devs,
		NewTransport: func() core.Transport { return ws.New(cfg.Client.HubURL) },
		NewConn:      factory.New,
		Feeds:        rtc.NewRemoteFeed,
	}, call.Options{
		Constraints: media.Constraints{
			Video:   cfg.Media.Video,
			Audio:   cfg.Media.Audio,
			Display: cfg.Media.Display,
		},
		Capture: capture.Options{MaxWidth: cfg.Capture.MaxWidth, Quality: cfg.Capture.JPEGQuality},
	})
}

func join(cfg *config.Config, every time.Duration) error {
	room := domain.RoomKey(cfg.Client.Room)
	if err := room.Validate(); err != nil {
		return err
	}
	tok, err := token(cfg)
	if err != nil {
		return err
	}
	c, err := newCall(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	joinCtx, joinCancel := context.WithTimeout(ctx, 30*time.Second)
	defer joinCancel()
	if cfg.Client.Display {
		err = c.JoinDisplay(joinCtx, room, tok)
	} else {
		err = c.Join(joinCtx, room, tok)
		if errors.Is(err, media.ErrNoCaptureDevice) {
			log.Warn().Err(err).Str("module", "peer").Msg("no camera or microphone, sharing the screen instead")
			err = c.JoinDisplay(joinCtx, room, tok)
		}
	}
	if err != nil {
		return err
	}
	defer func() { _ = c.Leave() }()

	if dir := cfg.Client.CaptureDir; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		c.Context().OnCapture(func(img *capture.CapturedImage) { save(dir, room, img) })
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "peer").Msg("leaving")
			return nil
		case <-ticker.C:
			if !c.Joined() {
				log.Info().Str("module", "peer").Msg("call ended")
				return nil
			}
			room := c.Room()
			log.Info().Str("module", "peer").Str("room", string(room.Key)).Int("count", room.Count).Int("peers", len(c.Participants())).Msg("status")
			if cfg.Client.CaptureDir == "" {
				continue
			}
			if _, err := c.Capture(); err != nil {
				log.Warn().Err(err).Str("module", "peer").Msg("capture")
			}
		}
	}
}

func save(dir string, room domain.RoomKey, img *capture.CapturedImage) {
	name := fmt.Sprintf("%s-%s.jpg", room, time.Now().UTC().Format("20060102T150405Z"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, img.Data, 0o644); err != nil {
		log.Error().Err(err).Str("module", "peer").Str("path", path).Msg("save capture")
		return
	}
	log.Info().Str("module", "peer").Str("path", path).Int("width", img.Width).Int("height", img.Height).Msg("frame captured")
}
