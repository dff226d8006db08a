package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pview/rtcengine/internal/config"
	"github.com/pview/rtcengine/internal/domain"
	"github.com/pview/rtcengine/internal/engine"
	"github.com/pview/rtcengine/internal/event"
)

var joinFlags struct {
	server  string
	port    int
	channel string
	uid     int64
	token   string
	role    int
	profile int
	video   bool
}

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a channel and print events",
	RunE:  runJoin,
}

func init() {
	f := joinCmd.Flags()
	f.StringVar(&joinFlags.server, "server", "127.0.0.1", "channel server ip")
	f.IntVar(&joinFlags.port, "port", 8080, "channel server port")
	f.StringVar(&joinFlags.channel, "channel", "", "channel name (numeric string)")
	f.Int64Var(&joinFlags.uid, "uid", 0, "local uid, 0 for auto")
	f.StringVar(&joinFlags.token, "token", "dev", "channel key")
	f.IntVar(&joinFlags.role, "role", int(domain.RoleBroadcaster), "client role: 1 anchor, 2 broadcaster, 3 audience")
	f.IntVar(&joinFlags.profile, "profile", int(domain.ProfileCommunication), "channel profile: 0 communication, 1 live, 2 game")
	f.BoolVar(&joinFlags.video, "video", false, "enable local video")
	_ = joinCmd.MarkFlagRequired("channel")
}

func runJoin(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.SetupLogger(); err != nil {
		return err
	}
	cfg.ServerIP = joinFlags.server
	cfg.ServerPort = joinFlags.port

	eng := engine.New(cfg)
	defer eng.Close()

	printEvents(eng)

	if code := eng.SetChannelProfile(domain.ChannelProfile(joinFlags.profile)); code != engine.CodeOK {
		return fmt.Errorf("set channel profile: code %d", code)
	}
	if code := eng.SetClientRole(domain.ClientRole(joinFlags.role)); code != engine.CodeOK {
		return fmt.Errorf("set client role: code %d", code)
	}
	if joinFlags.video {
		eng.EnableLocalVideo(true)
	}

	code := eng.Join(joinFlags.token, joinFlags.channel, joinFlags.uid,
		func(channel string, uid int64, elapsed time.Duration) {
			log.Info().Str("channel", channel).Int64("uid", uid).Dur("elapsed", elapsed).Msg("join success")
		})
	if code != engine.CodeOK {
		return fmt.Errorf("join rejected: code %d", code)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	eng.Leave(func(stats domain.ChannelStats) {
		log.Info().
			Dur("duration", stats.Duration).
			Uint64("tx", stats.TxBytes).
			Uint64("rx", stats.RxBytes).
			Int("users", stats.Users).
			Msg("left channel")
	})
	return nil
}

func printEvents(eng *engine.Engine) {
	eng.On(event.KindError, func(ev event.Event) {
		e := ev.(event.Error)
		log.Error().Int("code", int(e.Code)).Str("desc", e.Code.String()).Msg("engine error")
	})
	eng.On(event.KindConnectionStateChanged, func(ev event.Event) {
		log.Info().Str("state", ev.(event.ConnectionStateChanged).State.String()).Msg("connection state")
	})
	eng.On(event.KindParticipantJoined, func(ev event.Event) {
		e := ev.(event.ParticipantJoined)
		log.Info().Int64("uid", e.UID).Str("role", e.Role.String()).Bool("video", e.VideoEnabled).Msg("participant joined")
	})
	eng.On(event.KindParticipantOffline, func(ev event.Event) {
		e := ev.(event.ParticipantOffline)
		log.Info().Int64("uid", e.UID).Str("reason", e.Reason.String()).Msg("participant offline")
	})
	eng.On(event.KindKicked, func(ev event.Event) {
		e := ev.(event.Kicked)
		log.Warn().Str("reason", e.Reason.String()).Msg("kicked from channel")
	})
	eng.On(event.KindRoleChanged, func(ev event.Event) {
		e := ev.(event.RoleChanged)
		log.Info().Int64("uid", e.UID).Str("role", e.Role.String()).Msg("role changed")
	})
	eng.On(event.KindTokenExpiring, func(ev event.Event) {
		log.Warn().Msg("channel key expiring, renew it")
	})
	eng.On(event.KindChat, func(ev event.Event) {
		e := ev.(event.Chat)
		log.Info().Int64("uid", e.UID).Str("data", e.Info.Data).Msg("chat")
	})
	eng.On(event.KindConnectionLost, func(ev event.Event) {
		log.Warn().Msg("connection lost, reconnecting")
	})
	eng.On(event.KindReconnectSucceeded, func(ev event.Event) {
		log.Info().Msg("reconnected")
	})
	eng.On(event.KindReconnectTimeout, func(ev event.Event) {
		log.Error().Msg("reconnect window expired")
	})
	eng.On(event.KindChannelStats, func(ev event.Event) {
		s := ev.(event.ChannelStats).Stats
		log.Debug().Uint64("tx", s.TxBytes).Uint64("rx", s.RxBytes).Int("users", s.Users).Msg("channel stats")
	})
	eng.On(event.KindNetworkQuality, func(ev event.Event) {
		log.Info().Str("quality", ev.(event.NetworkQuality).Quality.String()).Msg("network quality")
	})
}
