// Package admission decides who may enter a meeting. The host role is never
// stored: it is recomputed from the latest presence snapshot on every call.
package admission

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/dkeye/vocalize/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Publisher broadcasts an envelope on the meeting channel.
type Publisher func(ctx context.Context, env domain.Envelope) error

type Controller struct {
	self    domain.ParticipantID
	publish Publisher
	logger  zerolog.Logger

	mu       sync.Mutex
	presence domain.Presence
	status   domain.AdmissionStatus
	pending  []domain.ParticipantID
	admitted map[domain.ParticipantID]struct{}
	rejected map[domain.ParticipantID]struct{}
}

func New(self domain.ParticipantID, publish Publisher) *Controller {
	return &Controller{
		self:     self,
		publish:  publish,
		logger:   log.With().Str("module", "admission").Str("self", string(self)).Logger(),
		presence: domain.Presence{},
		status:   domain.AdmissionNone,
		admitted: make(map[domain.ParticipantID]struct{}),
		rejected: make(map[domain.ParticipantID]struct{}),
	}
}

func (c *Controller) UpdatePresence(p domain.Presence) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presence = p.Clone()
}

func (c *Controller) Role() domain.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roleLocked()
}

func (c *Controller) roleLocked() domain.Role {
	if !c.presence.Has(c.self) {
		return domain.RoleGuest
	}
	return c.presence.RoleOf(c.self)
}

func (c *Controller) Host() (domain.ParticipantID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.presence.Host()
}

func (c *Controller) Status() domain.AdmissionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// GrantSelf marks self approved when presence makes it the host. Reports
// whether it did; guests are left untouched.
func (c *Controller) GrantSelf() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.roleLocked() != domain.RoleHost {
		return false
	}
	c.status = domain.AdmissionApproved
	return true
}

// RequestAdmission broadcasts a join-request once per logical request.
// It is a no-op while pending or approved; after a rejection it asks again.
func (c *Controller) RequestAdmission(ctx context.Context) error {
	c.mu.Lock()
	if c.roleLocked() == domain.RoleHost {
		c.status = domain.AdmissionApproved
		c.mu.Unlock()
		return nil
	}
	if c.status == domain.AdmissionPending || c.status == domain.AdmissionApproved {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.broadcast(ctx, domain.EventJoinRequest, domain.AdmissionEvent{GuestID: c.self}); err != nil {
		return err
	}

	c.mu.Lock()
	c.status = domain.AdmissionPending
	c.mu.Unlock()
	c.logger.Info().Msg("join requested")
	return nil
}

// Approve admits guest. Only the current host may call it, and only for a
// guest still present.
func (c *Controller) Approve(ctx context.Context, guest domain.ParticipantID) error {
	c.mu.Lock()
	if c.roleLocked() != domain.RoleHost {
		c.mu.Unlock()
		return domain.ErrNotHost
	}
	if !c.presence.Has(guest) {
		c.dropPendingLocked(guest)
		c.mu.Unlock()
		return fmt.Errorf("%w: %s is not present", domain.ErrStaleSignal, guest)
	}
	c.admitted[guest] = struct{}{}
	delete(c.rejected, guest)
	c.dropPendingLocked(guest)
	admitted := c.admittedLocked()
	c.mu.Unlock()

	c.logger.Info().Str("guest", string(guest)).Msg("guest approved")
	return c.broadcast(ctx, domain.EventApproveGuest, domain.AdmissionEvent{GuestID: guest, Admitted: admitted})
}

// Reject refuses guest. Only the current host may call it.
func (c *Controller) Reject(ctx context.Context, guest domain.ParticipantID) error {
	c.mu.Lock()
	if c.roleLocked() != domain.RoleHost {
		c.mu.Unlock()
		return domain.ErrNotHost
	}
	c.rejected[guest] = struct{}{}
	delete(c.admitted, guest)
	c.dropPendingLocked(guest)
	c.mu.Unlock()

	c.logger.Info().Str("guest", string(guest)).Msg("guest rejected")
	return c.broadcast(ctx, domain.EventRejectGuest, domain.AdmissionEvent{GuestID: guest})
}

// HandleJoinRequest records a request from another participant. Every
// client keeps the queue so a new host inherits it. Reports whether the
// request is new.
func (c *Controller) HandleJoinRequest(from domain.ParticipantID, ev domain.AdmissionEvent) bool {
	if ev.GuestID != from || from == c.self {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.admitted[from]; ok {
		return false
	}
	if slices.Contains(c.pending, from) {
		return false
	}
	delete(c.rejected, from)
	c.pending = append(c.pending, from)
	return true
}

// HandleApproval applies an approve-guest event. Events not sent by the
// current host are ignored. Reports whether it admitted self.
func (c *Controller) HandleApproval(from domain.ParticipantID, ev domain.AdmissionEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.fromHostLocked(from) {
		c.logger.Warn().Str("from", string(from)).Msg("approval from non-host ignored")
		return false
	}
	c.admitted[ev.GuestID] = struct{}{}
	for _, id := range ev.Admitted {
		c.admitted[id] = struct{}{}
	}
	delete(c.rejected, ev.GuestID)
	c.dropPendingLocked(ev.GuestID)
	if ev.GuestID != c.self {
		return false
	}
	c.status = domain.AdmissionApproved
	return true
}

// HandleRejection applies a reject-guest event. Reports whether it
// rejected self.
func (c *Controller) HandleRejection(from domain.ParticipantID, ev domain.AdmissionEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.fromHostLocked(from) {
		c.logger.Warn().Str("from", string(from)).Msg("rejection from non-host ignored")
		return false
	}
	c.rejected[ev.GuestID] = struct{}{}
	delete(c.admitted, ev.GuestID)
	c.dropPendingLocked(ev.GuestID)
	if ev.GuestID != c.self {
		return false
	}
	c.status = domain.AdmissionRejected
	return true
}

// Pending returns outstanding requests in arrival order.
func (c *Controller) Pending() []domain.ParticipantID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.pending)
}

func (c *Controller) Admitted() []domain.ParticipantID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.admittedLocked()
}

func (c *Controller) IsAdmitted(id domain.ParticipantID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.admitted[id]
	return ok
}

func (c *Controller) IsRejected(id domain.ParticipantID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rejected[id]
	return ok
}

// Forget drops everything known about a participant that left presence.
func (c *Controller) Forget(id domain.ParticipantID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.admitted, id)
	delete(c.rejected, id)
	c.dropPendingLocked(id)
}

func (c *Controller) fromHostLocked(from domain.ParticipantID) bool {
	host, ok := c.presence.Host()
	return ok && host == from
}

func (c *Controller) dropPendingLocked(id domain.ParticipantID) {
	c.pending = slices.DeleteFunc(c.pending, func(p domain.ParticipantID) bool { return p == id })
}

func (c *Controller) admittedLocked() []domain.ParticipantID {
	out := make([]domain.ParticipantID, 0, len(c.admitted))
	for id := range c.admitted {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (c *Controller) broadcast(ctx context.Context, event string, ev domain.AdmissionEvent) error {
	env, err := domain.NewEnvelope(event, ev)
	if err != nil {
		return err
	}
	if err := c.publish(ctx, env); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrRelayDisconnected, event, err)
	}
	return nil
}
