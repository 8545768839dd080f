// Command peer joins a meeting headless, sending media files or local
// devices and draining whatever the other participants send.
package main

import (
	"context"
	"errors"
	"net/http/cookiejar"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/vocalize/internal/adapters/device"
	"github.com/dkeye/vocalize/internal/adapters/relay"
	"github.com/dkeye/vocalize/internal/adapters/rtc"
	"github.com/dkeye/vocalize/internal/app/media"
	"github.com/dkeye/vocalize/internal/app/orch"
	"github.com/dkeye/vocalize/internal/config"
	"github.com/dkeye/vocalize/internal/domain"
	apiclient "github.com/dkeye/vocalize/internal/transport/http"
)

const statsInterval = 5 * time.Second

func main() {
	fs := pflag.NewFlagSet("peer", pflag.ExitOnError)
	config.PeerFlags(fs)
	_ = fs.Parse(os.Args[1:])

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.LoadPeer(fs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Str("level", cfg.LogLevel).Msg("bad log level")
	}
	zerolog.SetGlobalLevel(lvl)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("peer stopped")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Peer) error {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return err
	}
	api := apiclient.NewClient(cfg.Server, jar)

	if cfg.Name != "" {
		if _, err := api.SetName(ctx, cfg.Name); err != nil {
			return err
		}
	}

	meetingID := domain.MeetingID(cfg.Meeting)
	if meetingID == "" {
		m, err := api.CreateMeeting(ctx, cfg.Name)
		if err != nil {
			return err
		}
		if err := api.SetStatus(ctx, m.ID, domain.MeetingLive); err != nil {
			return err
		}
		meetingID = m.ID
		log.Info().Str("meeting", string(meetingID)).Msg("created meeting, share this id")
	}

	factory, err := rtc.NewFactory(cfg.ICE)
	if err != nil {
		return err
	}

	var capturer media.Capturer
	switch {
	case cfg.Device:
		capturer = device.NewCapturer()
	case cfg.Video != "" || cfg.Audio != "":
		capturer = media.FileCapturer{VideoPath: cfg.Video, AudioPath: cfg.Audio, Loop: cfg.Loop}
	}
	var local *media.Controller
	if capturer != nil {
		local = media.NewController(capturer, "vocalize-peer")
	} else {
		log.Info().Msg("no media configured, receive only")
	}

	o := orch.New(orch.Config{
		Meetings:        api,
		Relay:           relay.NewClient(cfg.Server, jar),
		Factory:         factory,
		Media:           local,
		PresenceTimeout: cfg.PresenceTimeout,
	})

	g, gctx := errgroup.WithContext(ctx)
	r := &receivers{stats: make(map[string]*media.ReceiveStats)}
	g.Go(func() error {
		r.watch(gctx, o, cfg.AutoApprove)
		return nil
	})
	g.Go(func() error {
		defer o.Leave()
		if err := o.Join(gctx, meetingID); err != nil {
			return err
		}
		log.Info().Str("meeting", string(meetingID)).Str("self", string(o.Self())).Str("role", string(o.Role())).Msg("in call")
		<-gctx.Done()
		return gctx.Err()
	})
	err = g.Wait()
	r.drains.Wait()
	return err
}

// receivers drains remote tracks and reports what arrived.
type receivers struct {
	drains conc.WaitGroup

	mu    sync.Mutex
	stats map[string]*media.ReceiveStats
}

func (r *receivers) watch(ctx context.Context, o *orch.Orchestrator, autoApprove bool) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.report(o)
		case ev := <-o.Events():
			r.handle(ctx, o, ev, autoApprove)
		}
	}
}

func (r *receivers) handle(ctx context.Context, o *orch.Orchestrator, ev orch.Event, autoApprove bool) {
	switch ev.Kind {
	case orch.EventStateChanged:
		log.Info().Str("state", string(ev.State)).Msg("call state")
	case orch.EventJoinRequested:
		log.Info().Str("guest", string(ev.Peer)).Msg("guest waiting")
		if autoApprove {
			if err := o.Approve(ctx, ev.Peer); err != nil {
				log.Warn().Err(err).Str("guest", string(ev.Peer)).Msg("approve")
			}
		}
	case orch.EventRemoteTrack:
		key := string(ev.Peer) + "/" + ev.Track.Kind().String()
		stats := &media.ReceiveStats{}
		r.mu.Lock()
		r.stats[key] = stats
		r.mu.Unlock()
		track, remote := ev.Track, ev.Peer
		r.drains.Go(func() { media.Drain(ctx, remote, track, stats) })
	case orch.EventRosterChanged:
		log.Info().Int("size", len(ev.Roster)).Msg("roster")
	case orch.EventPeerLeft, orch.EventPeerRemoved:
		log.Info().Str("peer", string(ev.Peer)).AnErr("reason", ev.Err).Str("event", string(ev.Kind)).Msg("peer gone")
	case orch.EventAdmissionDenied, orch.EventMediaUnavailable, orch.EventRelayDisconnected:
		log.Warn().Err(ev.Err).Str("event", string(ev.Kind)).Msg("call problem")
	}
}

func (r *receivers) report(o *orch.Orchestrator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, s := range r.stats {
		snap := s.Snapshot()
		log.Info().Str("track", key).Uint64("packets", snap.Packets).Uint64("bytes", snap.Bytes).Uint64("lost", snap.Lost).Msg("receiving")
	}
	log.Debug().Int("peers", o.PeerCount()).Int("pending", len(o.Pending())).Msg("tick")
}
