// Package orch runs one participant's side of a meeting: access, admission,
// local media and the mesh of peer sessions, all driven from a single
// event loop.
package orch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/vocalize/internal/app/admission"
	"github.com/dkeye/vocalize/internal/app/media"
	"github.com/dkeye/vocalize/internal/app/peers"
	"github.com/dkeye/vocalize/internal/core"
	"github.com/dkeye/vocalize/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type State string

const (
	StateIdle            State = "idle"
	StateResolvingAccess State = "resolving-access"
	StateGranted         State = "granted"
	StateDenied          State = "denied"
	StateAcquiringMedia  State = "acquiring-media"
	StateComputingRoster State = "computing-roster"
	StateConnecting      State = "connecting"
	StateActive          State = "active"
)

const (
	defaultPresenceTimeout = 10 * time.Second
	eventQueue             = 256
	parkedPerPeer          = 64
)

type Config struct {
	Meetings core.MeetingLookup
	Relay    core.RelayClient
	Factory  core.PeerConnectionFactory
	// Media may be nil for a receive-only participant.
	Media *media.Controller
	// PresenceTimeout bounds the wait for our own presence after subscribing.
	PresenceTimeout time.Duration
	// Clock stamps the presence announcement. Defaults to domain.NowMillis.
	Clock func() int64
}

type Orchestrator struct {
	cfg    Config
	events chan Event
	logger zerolog.Logger

	mu      sync.Mutex
	state   State
	joining bool
	call    *call
}

func New(cfg Config) *Orchestrator {
	if cfg.PresenceTimeout <= 0 {
		cfg.PresenceTimeout = defaultPresenceTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = domain.NowMillis
	}
	return &Orchestrator{
		cfg:    cfg,
		events: make(chan Event, eventQueue),
		logger: log.With().Str("module", "orch").Logger(),
		state:  StateIdle,
	}
}

// call is everything scoped to one Join. Fields below the loop marker are
// touched only by the event loop.
type call struct {
	meeting   domain.MeetingID
	self      domain.ParticipantID
	joinedAt  int64
	sub       core.RelaySubscription
	admission *admission.Controller
	peers     *peers.Manager
	logger    zerolog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	cmds     chan command
	removals chan removal
	done     chan struct{}

	resultOnce sync.Once
	result     chan error

	// loop
	presence domain.Presence
	seenSelf bool
	roster   map[domain.ParticipantID]struct{}
	parked   map[domain.ParticipantID][]domain.SignalMessage
}

type command struct {
	fn    func() error
	reply chan error
}

type removal struct {
	remote domain.ParticipantID
	reason error
}

func (c *call) resolve(err error) {
	c.resultOnce.Do(func() { c.result <- err })
}

func (o *Orchestrator) Events() <-chan Event { return o.events }

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Self is the participant id of the current join, empty while idle.
func (o *Orchestrator) Self() domain.ParticipantID {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.call == nil {
		return ""
	}
	return o.call.self
}

func (o *Orchestrator) current() (*call, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.call == nil {
		return nil, domain.ErrNotJoined
	}
	return o.call, nil
}

// Join enters a meeting and blocks until access is resolved. It returns nil
// once the participant is active, domain.ErrAdmissionDenied when the host
// rejects, domain.ErrMediaUnavailable when capture fails. A denied
// participant stays subscribed and may RequestAgain.
func (o *Orchestrator) Join(ctx context.Context, meetingID domain.MeetingID) error {
	if meetingID == "" {
		return domain.ErrEmptyMeetingID
	}
	o.mu.Lock()
	if o.call != nil || o.joining {
		o.mu.Unlock()
		return domain.ErrAlreadyJoined
	}
	o.joining = true
	o.mu.Unlock()

	self := domain.NewParticipantID()
	loopCtx, cancel := context.WithCancel(context.Background())
	c := &call{
		meeting:  meetingID,
		self:     self,
		logger:   o.logger.With().Str("meeting", string(meetingID)).Str("self", string(self)).Logger(),
		ctx:      loopCtx,
		cancel:   cancel,
		cmds:     make(chan command),
		removals: make(chan removal),
		done:     make(chan struct{}),
		result:   make(chan error, 1),
		presence: domain.Presence{},
		roster:   make(map[domain.ParticipantID]struct{}),
		parked:   make(map[domain.ParticipantID][]domain.SignalMessage),
	}
	o.setState(StateResolvingAccess)

	err := o.open(ctx, c)
	o.mu.Lock()
	o.joining = false
	if err == nil {
		o.call = c
	}
	o.mu.Unlock()
	if err != nil {
		cancel()
		o.setState(StateIdle)
		return err
	}

	go o.run(c)

	select {
	case err := <-c.result:
		// Every failure except a rejection ends the call; wait for cleanup.
		if err != nil && !errors.Is(err, domain.ErrAdmissionDenied) {
			<-c.done
		}
		return err
	case <-ctx.Done():
		o.Leave()
		return ctx.Err()
	}
}

// open performs the access check and relay subscription that precede the loop.
func (o *Orchestrator) open(ctx context.Context, c *call) error {
	m, err := o.cfg.Meetings.Meeting(ctx, c.meeting)
	if err != nil {
		return fmt.Errorf("lookup meeting %s: %w", c.meeting, err)
	}
	if err := m.Joinable(); err != nil {
		return err
	}

	sub, err := o.cfg.Relay.Subscribe(ctx, c.meeting, c.self)
	if err != nil {
		return err
	}
	c.sub = sub
	c.admission = admission.New(c.self, sub.Publish)

	var localMedia peers.LocalMedia
	if o.cfg.Media != nil {
		localMedia = o.cfg.Media
	}
	c.peers = peers.New(c.ctx, peers.Config{
		Self:    c.self,
		Meeting: c.meeting,
		Factory: o.cfg.Factory,
		Media:   localMedia,
		Publish: func(ctx context.Context, msg domain.SignalMessage) error {
			env, err := domain.NewEnvelope(domain.EventSignal, msg)
			if err != nil {
				return err
			}
			return sub.Publish(ctx, env)
		},
		OnTrack: func(remote domain.ParticipantID, track *webrtc.TrackRemote) {
			o.emit(Event{Kind: EventRemoteTrack, Peer: remote, Track: track})
		},
		OnRemoved: func(remote domain.ParticipantID, reason error) {
			// Removal may fire inside the loop itself, so hand it over async.
			go func() {
				select {
				case c.removals <- removal{remote: remote, reason: reason}:
				case <-c.ctx.Done():
				}
			}()
		},
	})

	c.joinedAt = o.cfg.Clock()
	if err := sub.AnnouncePresence(ctx, c.joinedAt); err != nil {
		sub.Unsubscribe()
		return fmt.Errorf("announce presence: %w", err)
	}
	c.logger.Info().Str("host_user", string(m.HostID)).Int64("joined_at", c.joinedAt).Msg("subscribed, waiting for presence")
	return nil
}

// Leave abandons every negotiation, releases local media and unsubscribes.
// It is a no-op while idle.
func (o *Orchestrator) Leave() {
	o.mu.Lock()
	c := o.call
	o.mu.Unlock()
	if c == nil {
		return
	}
	c.cancel()
	<-c.done
}

func (o *Orchestrator) run(c *call) {
	defer o.finish(c)

	presence := c.sub.Presence()
	messages := c.sub.Messages()
	lost := c.sub.Disconnected()
	timer := time.NewTimer(o.cfg.PresenceTimeout)
	defer timer.Stop()
	timeout := timer.C

	for {
		select {
		case <-c.ctx.Done():
			return
		case p := <-presence:
			o.onPresence(c, p)
			if c.seenSelf {
				timeout = nil
			}
		case env := <-messages:
			o.onMessage(c, env)
		case r := <-c.removals:
			o.onRemoved(c, r)
		case cmd := <-c.cmds:
			cmd.reply <- cmd.fn()
		case <-lost:
			presence, messages, lost = nil, nil, nil
			o.onRelayLost(c)
		case <-timeout:
			c.logger.Error().Dur("timeout", o.cfg.PresenceTimeout).Msg("own presence never arrived")
			c.resolve(fmt.Errorf("%w: own presence not seen within %s", domain.ErrRelayDisconnected, o.cfg.PresenceTimeout))
			return
		}
	}
}

func (o *Orchestrator) finish(c *call) {
	c.cancel()
	c.peers.CloseAll()
	if o.cfg.Media != nil {
		o.cfg.Media.Release()
	}
	c.sub.Unsubscribe()

	o.mu.Lock()
	if o.call == c {
		o.call = nil
	}
	o.mu.Unlock()
	o.setState(StateIdle)
	c.resolve(domain.ErrNotJoined)
	close(c.done)
	c.logger.Info().Msg("left meeting")
}

// do runs fn on the event loop and waits for its result.
func (o *Orchestrator) do(ctx context.Context, fn func(c *call) error) error {
	c, err := o.current()
	if err != nil {
		return err
	}
	cmd := command{fn: func() error { return fn(c) }, reply: make(chan error, 1)}
	select {
	case c.cmds <- cmd:
	case <-c.done:
		return domain.ErrNotJoined
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-c.done:
		return domain.ErrNotJoined
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	prev := o.state
	o.state = s
	o.mu.Unlock()
	if prev == s {
		return
	}
	o.logger.Info().Str("from", string(prev)).Str("to", string(s)).Msg("state")
	o.emit(Event{Kind: EventStateChanged, State: s})
}

func (o *Orchestrator) emit(ev Event) {
	select {
	case o.events <- ev:
	default:
		o.logger.Warn().Str("event", string(ev.Kind)).Msg("event queue full, dropping")
	}
}

// grant runs the granted path: media, roster, then the first offers.
func (o *Orchestrator) grant(c *call) {
	o.setState(StateGranted)
	o.setState(StateAcquiringMedia)
	if o.cfg.Media != nil {
		if _, err := o.cfg.Media.Acquire(c.ctx); err != nil {
			c.logger.Error().Err(err).Msg("media acquisition failed")
			o.emit(Event{Kind: EventMediaUnavailable, Err: err})
			c.resolve(err)
			c.cancel()
			return
		}
	}

	o.setState(StateComputingRoster)
	o.computeRoster(c)

	o.setState(StateConnecting)
	for _, id := range o.rosterIDs(c) {
		o.connect(c, id)
	}
	o.replayAllParked(c)
	o.setState(StateActive)
	c.resolve(nil)
}

func (o *Orchestrator) onRelayLost(c *call) {
	err := domain.ErrRelayDisconnected
	c.logger.Warn().Msg("relay subscription lost, peer sessions kept")
	o.emit(Event{Kind: EventRelayDisconnected, Err: err})
	if !o.inCall() {
		c.resolve(err)
		c.cancel()
	}
}

// inCall reports whether the participant got past admission.
func (o *Orchestrator) inCall() bool {
	switch o.State() {
	case StateGranted, StateAcquiringMedia, StateComputingRoster, StateConnecting, StateActive:
		return true
	}
	return false
}

func isStale(err error) bool {
	return errors.Is(err, domain.ErrStaleSignal)
}
