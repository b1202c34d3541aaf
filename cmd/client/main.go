package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/pterm/pterm"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/VoiceQueue/internal/adapters/api"
	"github.com/dkeye/VoiceQueue/internal/adapters/rtc"
	"github.com/dkeye/VoiceQueue/internal/app/loop"
	"github.com/dkeye/VoiceQueue/internal/app/orch"
	"github.com/dkeye/VoiceQueue/internal/app/turn"
	"github.com/dkeye/VoiceQueue/internal/config"
	"github.com/dkeye/VoiceQueue/internal/domain"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:          "voicequeue",
		Short:        "Join a sub-group queue and talk to it when it is your turn",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, configFile)
		},
	}
	f := cmd.Flags()
	f.StringVar(&configFile, "config", "", "config file (default config/config.$CONFIG_ENV.yaml)")
	f.String("server", "", "queue service base URL including /api")
	f.String("name", "", "display name (random when empty)")
	f.String("sub-group", "", "sub-group to join")
	f.String("session", "", "resume an existing session id instead of joining")
	f.String("audio", "", `audio source: "silence", an .ogg file, or "none"`)
	f.String("record-dir", "", "record every remote peer to <dir>/<peer>.ogg")
	f.String("log-level", "", "zerolog level")
	return cmd
}

var flagKeys = map[string]string{
	"server":     "client.server_url",
	"name":       "client.name",
	"sub-group":  "client.sub_group",
	"session":    "client.session_id",
	"audio":      "client.audio_source",
	"record-dir": "client.record_dir",
	"log-level":  "log_level",
}

func run(cmd *cobra.Command, configFile string) error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	v := config.NewViper(configFile)
	for flag, key := range flagKeys {
		// Only explicitly set flags override the file.
		if fl := cmd.Flags().Lookup(flag); fl != nil && fl.Changed {
			v.Set(key, fl.Value.String())
		}
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && cfg.LogLevel != "" {
		zerolog.SetGlobalLevel(lvl)
	}
	cc := cfg.Client

	name := cc.Name
	if name == "" {
		name = petname.Generate(2, "-")
	}
	source := cc.AudioSource
	if source == "none" {
		source = ""
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	l := loop.New()
	factory, err := rtc.NewFactory(cc.ICEServers, l)
	if err != nil {
		return fmt.Errorf("webrtc setup: %w", err)
	}
	client := api.NewClient(cc.ServerURL, cc.RequestTimeout)

	sess := orch.New(orch.Config{
		Name:            name,
		SubGroup:        domain.SubGroupName(cc.SubGroup),
		SessionID:       domain.SessionID(cc.SessionID),
		SignalInterval:  cc.SignalInterval,
		StatusInterval:  cc.StatusInterval,
		MaxPollFailures: cc.MaxPollFailures,
		Constraints: domain.AudioConstraints{
			EchoCancellation: cc.EchoCancel,
			NoiseSuppression: cc.NoiseSuppress,
			AutoGainControl:  cc.AutoGain,
		},
		Turn: turn.Config{AutoSkip: cc.AutoSkip, GetReady: cc.GetReady},
	}, orch.Deps{
		Loop:     l,
		Queue:    client,
		Mailbox:  client,
		Factory:  factory,
		Capture:  &rtc.Capture{Source: source},
		Playback: rtc.NewPlayback(cc.RecordDir),
		Notifier: terminalNotifier{},
	})
	sess.OnInvalidated(func(error) { cancel() })

	pterm.Info.Println(fmt.Sprintf("VoiceQueue: joining %q as %s", cc.SubGroup, name))
	if err := sess.Start(ctx); err != nil {
		sess.Stop()
		return err
	}
	defer sess.Stop()

	snap, err := sess.Snapshot(ctx)
	if err == nil {
		if !snap.AudioEnabled {
			pterm.Warning.Println("Audio unavailable, continuing in queue-only mode")
		}
		pterm.Success.Println(fmt.Sprintf("Session %s", snap.Local.SessionID))
	}
	printHelp()

	go runConsole(ctx, cancel, sess, os.Stdin)

	<-ctx.Done()
	pterm.Println()
	pterm.Info.Println("Bye")
	return nil
}
