package orch

import (
	"context"
	"encoding/json"
	"errors"
	"slices"

	"github.com/dkeye/vocalize/internal/app/peers"
	"github.com/dkeye/vocalize/internal/domain"
	"github.com/pion/webrtc/v4"
)

// RosterEntry is one participant the caller should render.
type RosterEntry struct {
	ID        domain.ParticipantID `json:"id"`
	Role      domain.Role          `json:"role"`
	Self      bool                 `json:"self"`
	Present   bool                 `json:"present"`
	Connected bool                 `json:"connected"`
}

// shouldInitiate decides which side of a pair sends the offer. The host
// always offers to guests; between guests the lower id offers.
func shouldInitiate(self, other, host domain.ParticipantID) bool {
	switch {
	case self == host:
		return true
	case other == host:
		return false
	default:
		return domain.Less(self, other)
	}
}

func (o *Orchestrator) onPresence(c *call, p domain.Presence) {
	prev := c.presence
	c.presence = p.Clone()
	c.admission.UpdatePresence(c.presence)

	for id := range prev {
		if !c.presence.Has(id) {
			o.dropParticipant(c, id)
		}
	}
	// Sessions toward participants we never saw in presence are dropped too.
	for _, id := range c.peers.Remotes() {
		if !c.presence.Has(id) {
			o.dropParticipant(c, id)
		}
	}

	if !c.seenSelf {
		if !c.presence.Has(c.self) {
			return
		}
		c.seenSelf = true
		o.resolveAccess(c)
		return
	}

	switch o.State() {
	case StateResolvingAccess, StateDenied:
		// The host left while we waited; we may have inherited the role.
		if c.admission.GrantSelf() {
			c.logger.Info().Msg("became host while waiting")
			o.grant(c)
		}
	case StateActive:
		for _, id := range o.rosterIDs(c) {
			o.connect(c, id)
		}
	}
}

func (o *Orchestrator) resolveAccess(c *call) {
	role := c.admission.Role()
	c.logger.Info().Str("role", string(role)).Msg("presence resolved")
	if c.admission.GrantSelf() {
		o.grant(c)
		return
	}
	if err := c.admission.RequestAdmission(c.ctx); err != nil {
		c.logger.Error().Err(err).Msg("join request failed")
		c.resolve(err)
		c.cancel()
	}
}

func (o *Orchestrator) dropParticipant(c *call, id domain.ParticipantID) {
	if id == c.self {
		return
	}
	c.admission.Forget(id)
	delete(c.parked, id)
	if _, ok := c.roster[id]; ok {
		delete(c.roster, id)
		o.emit(Event{Kind: EventPeerLeft, Peer: id})
		o.emitRoster(c)
	}
	c.peers.Remove(id, nil)
}

func (o *Orchestrator) onRemoved(c *call, r removal) {
	if r.reason == nil {
		return
	}
	c.logger.Warn().Err(r.reason).Str("remote", string(r.remote)).Msg("peer session lost")
	o.emit(Event{Kind: EventPeerRemoved, Peer: r.remote, Err: r.reason})
	if _, ok := c.roster[r.remote]; ok {
		delete(c.roster, r.remote)
		o.emitRoster(c)
	}
}

func (o *Orchestrator) onMessage(c *call, env domain.Envelope) {
	if env.From == c.self {
		c.logger.Debug().Str("event", env.Event).Msg("self echo dropped")
		return
	}
	switch env.Event {
	case domain.EventSignal:
		o.onSignal(c, env)
	case domain.EventJoinRequest, domain.EventApproveGuest, domain.EventRejectGuest:
		var ev domain.AdmissionEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil || ev.GuestID == "" {
			c.logger.Warn().Err(err).Str("event", env.Event).Msg("bad admission event")
			return
		}
		o.onAdmission(c, env.Event, env.From, ev)
	default:
		c.logger.Warn().Str("event", env.Event).Msg("unknown event")
	}
}

func (o *Orchestrator) onAdmission(c *call, event string, from domain.ParticipantID, ev domain.AdmissionEvent) {
	switch event {
	case domain.EventJoinRequest:
		if c.admission.HandleJoinRequest(from, ev) {
			c.logger.Info().Str("guest", string(from)).Msg("join requested")
			o.emit(Event{Kind: EventJoinRequested, Peer: from})
		}

	case domain.EventApproveGuest:
		if host, ok := c.presence.Host(); !ok || host != from {
			c.logger.Warn().Str("from", string(from)).Msg("approval from non-host ignored")
			return
		}
		if c.admission.HandleApproval(from, ev) {
			if o.State() == StateResolvingAccess || o.State() == StateDenied {
				c.logger.Info().Msg("admitted")
				o.grant(c)
			}
			return
		}
		if o.State() != StateActive {
			return
		}
		for _, id := range append(slices.Clone(ev.Admitted), ev.GuestID) {
			o.admit(c, id)
		}

	case domain.EventRejectGuest:
		if c.admission.HandleRejection(from, ev) {
			c.logger.Warn().Msg("admission rejected")
			if o.inCall() {
				o.withdraw(c)
			}
			o.setState(StateDenied)
			o.emit(Event{Kind: EventAdmissionDenied, Err: domain.ErrAdmissionDenied})
			c.resolve(domain.ErrAdmissionDenied)
			return
		}
		if host, ok := c.presence.Host(); !ok || host != from {
			return
		}
		o.revoke(c, ev.GuestID)
	}
}

// revoke drops everything tied to a guest that lost its admission.
func (o *Orchestrator) revoke(c *call, id domain.ParticipantID) {
	if id == c.self {
		return
	}
	delete(c.parked, id)
	if _, ok := c.roster[id]; ok {
		delete(c.roster, id)
		o.emitRoster(c)
	}
	c.peers.Remove(id, nil)
}

// withdraw leaves the call after our own admission was revoked. The relay
// subscription stays so the guest can ask again.
func (o *Orchestrator) withdraw(c *call) {
	c.peers.CloseAll()
	if o.cfg.Media != nil {
		o.cfg.Media.Release()
	}
	c.parked = make(map[domain.ParticipantID][]domain.SignalMessage)
	c.roster = map[domain.ParticipantID]struct{}{c.self: {}}
	o.emitRoster(c)
}

// admit adds a late joiner to the roster and connects if the pair policy
// makes us the offerer.
func (o *Orchestrator) admit(c *call, id domain.ParticipantID) {
	if id == c.self || !c.admission.IsAdmitted(id) {
		return
	}
	if _, ok := c.roster[id]; !ok {
		c.roster[id] = struct{}{}
		o.emitRoster(c)
	}
	o.connect(c, id)
	o.replayParked(c, id)
}

func (o *Orchestrator) computeRoster(c *call) {
	c.roster = map[domain.ParticipantID]struct{}{c.self: {}}
	if host, ok := c.presence.Host(); ok {
		c.roster[host] = struct{}{}
	}
	for _, id := range c.admission.Admitted() {
		c.roster[id] = struct{}{}
	}
	o.emitRoster(c)
}

func (o *Orchestrator) rosterIDs(c *call) []domain.ParticipantID {
	out := make([]domain.ParticipantID, 0, len(c.roster))
	for id := range c.roster {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (o *Orchestrator) rosterEntries(c *call) []RosterEntry {
	host, _ := c.presence.Host()
	ids := o.rosterIDs(c)
	out := make([]RosterEntry, 0, len(ids))
	for _, id := range ids {
		e := RosterEntry{ID: id, Role: domain.RoleGuest, Self: id == c.self, Present: c.presence.Has(id)}
		if id == host {
			e.Role = domain.RoleHost
		}
		if s, ok := c.peers.Get(id); ok {
			e.Connected = s.State() == peers.StateStable
		}
		out = append(out, e)
	}
	return out
}

func (o *Orchestrator) emitRoster(c *call) {
	o.emit(Event{Kind: EventRosterChanged, Roster: o.rosterIDs(c)})
}

// connect opens the session toward id when we are the offering side. The
// other side just waits for our offer.
func (o *Orchestrator) connect(c *call, id domain.ParticipantID) {
	if id == c.self || !c.presence.Has(id) {
		return
	}
	if _, ok := c.peers.Get(id); ok {
		return
	}
	host, _ := c.presence.Host()
	if !shouldInitiate(c.self, id, host) {
		c.logger.Debug().Str("remote", string(id)).Msg("waiting for remote offer")
		return
	}
	if err := c.peers.InitiateOffer(c.ctx, id); err != nil {
		c.logger.Warn().Err(err).Str("remote", string(id)).Msg("initiate offer")
	}
}

// allowed reports whether signals from id may touch a peer session.
func (o *Orchestrator) allowed(c *call, id domain.ParticipantID) bool {
	if o.State() != StateActive && o.State() != StateConnecting {
		return false
	}
	if host, ok := c.presence.Host(); ok && host == id {
		return true
	}
	// Everyone but the host must be admitted first.
	return c.admission.IsAdmitted(id)
}

func (o *Orchestrator) onSignal(c *call, env domain.Envelope) {
	var msg domain.SignalMessage
	if err := json.Unmarshal(env.Payload, &msg); err != nil || !msg.Kind.Valid() {
		c.logger.Warn().Err(err).Msg("bad signal")
		return
	}
	if !msg.AcceptedBy(c.self) {
		c.logger.Debug().Str("from", string(msg.FromPeer)).Msg("signal not for us, dropped")
		return
	}
	if env.From != "" && env.From != msg.FromPeer {
		c.logger.Warn().Str("from", string(env.From)).Str("claimed", string(msg.FromPeer)).Msg("spoofed signal dropped")
		return
	}
	if msg.MeetingID != c.meeting || !c.presence.Has(msg.FromPeer) {
		c.logger.Debug().Str("from", string(msg.FromPeer)).Str("type", string(msg.Kind)).Msg("stale signal dropped")
		return
	}
	if o.State() == StateDenied || c.admission.IsRejected(msg.FromPeer) {
		c.logger.Debug().Str("from", string(msg.FromPeer)).Str("type", string(msg.Kind)).Msg("signal after rejection dropped")
		return
	}
	if !o.allowed(c, msg.FromPeer) {
		o.park(c, msg)
		return
	}
	o.applySignal(c, msg)
}

// park holds signals from a participant whose admission we have not seen
// yet. Relay order is only per sender, so an offer can overtake the
// approval that made it legal.
func (o *Orchestrator) park(c *call, msg domain.SignalMessage) {
	q := c.parked[msg.FromPeer]
	if len(q) >= parkedPerPeer {
		c.logger.Warn().Str("from", string(msg.FromPeer)).Msg("parked signal queue full, dropping")
		return
	}
	c.parked[msg.FromPeer] = append(q, msg)
	c.logger.Debug().Str("from", string(msg.FromPeer)).Str("type", string(msg.Kind)).Msg("signal parked")
}

func (o *Orchestrator) replayParked(c *call, id domain.ParticipantID) {
	q := c.parked[id]
	if len(q) == 0 || !o.allowed(c, id) {
		return
	}
	delete(c.parked, id)
	for _, msg := range q {
		o.applySignal(c, msg)
	}
}

func (o *Orchestrator) replayAllParked(c *call) {
	for id := range c.parked {
		o.replayParked(c, id)
	}
}

func (o *Orchestrator) applySignal(c *call, msg domain.SignalMessage) {
	from := msg.FromPeer
	var err error
	switch msg.Kind {
	case domain.SignalOffer, domain.SignalAnswer:
		var sdp webrtc.SessionDescription
		if err = json.Unmarshal(msg.Payload, &sdp); err != nil || sdp.SDP == "" || sdp.Type.String() != string(msg.Kind) {
			c.logger.Warn().Err(err).Str("from", string(from)).Msg("bad session description")
			return
		}
		if msg.Kind == domain.SignalOffer {
			if err = c.peers.AcceptOffer(c.ctx, from, sdp); err == nil {
				if _, ok := c.roster[from]; !ok {
					c.roster[from] = struct{}{}
					o.emitRoster(c)
				}
			}
		} else {
			err = c.peers.AcceptAnswer(c.ctx, from, sdp)
		}
	case domain.SignalCandidate:
		var cand webrtc.ICECandidateInit
		if err = json.Unmarshal(msg.Payload, &cand); err != nil {
			c.logger.Warn().Err(err).Str("from", string(from)).Msg("bad candidate")
			return
		}
		err = c.peers.AddCandidate(c.ctx, from, cand)
	}
	switch {
	case err == nil:
	case isStale(err):
		c.logger.Debug().Err(err).Str("from", string(from)).Msg("stale signal dropped")
	default:
		c.logger.Warn().Err(err).Str("from", string(from)).Str("type", string(msg.Kind)).Msg("signal failed")
	}
}

// Approve admits a waiting guest. Host only.
func (o *Orchestrator) Approve(ctx context.Context, guest domain.ParticipantID) error {
	return o.do(ctx, func(c *call) error {
		if err := c.admission.Approve(ctx, guest); err != nil {
			return err
		}
		if o.State() == StateActive {
			o.admit(c, guest)
		}
		return nil
	})
}

// Reject refuses a guest, waiting or already in the call. Host only.
func (o *Orchestrator) Reject(ctx context.Context, guest domain.ParticipantID) error {
	return o.do(ctx, func(c *call) error {
		err := c.admission.Reject(ctx, guest)
		if errors.Is(err, domain.ErrNotHost) {
			return err
		}
		// The decision is recorded even when the broadcast failed.
		o.revoke(c, guest)
		return err
	})
}

// RequestAgain asks for admission after a rejection. Admission arrives
// asynchronously as a state change to active.
func (o *Orchestrator) RequestAgain(ctx context.Context) error {
	return o.do(ctx, func(c *call) error {
		if o.State() != StateDenied {
			return nil
		}
		if err := c.admission.RequestAdmission(ctx); err != nil {
			return err
		}
		o.setState(StateResolvingAccess)
		return nil
	})
}

func (o *Orchestrator) Roster(ctx context.Context) ([]RosterEntry, error) {
	var out []RosterEntry
	err := o.do(ctx, func(c *call) error {
		out = o.rosterEntries(c)
		return nil
	})
	return out, err
}

func (o *Orchestrator) Role() domain.Role {
	c, err := o.current()
	if err != nil || c.admission == nil {
		return domain.RoleGuest
	}
	return c.admission.Role()
}

// Pending lists guests waiting for the host, in arrival order.
func (o *Orchestrator) Pending() []domain.ParticipantID {
	c, err := o.current()
	if err != nil || c.admission == nil {
		return nil
	}
	return c.admission.Pending()
}

func (o *Orchestrator) AdmissionStatus() domain.AdmissionStatus {
	c, err := o.current()
	if err != nil || c.admission == nil {
		return domain.AdmissionNone
	}
	return c.admission.Status()
}

func (o *Orchestrator) PeerCount() int {
	c, err := o.current()
	if err != nil || c.peers == nil {
		return 0
	}
	return c.peers.Len()
}
