package app

import "github.com/dkeye/vocalize/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

// Policy decides what happens to a member whose send queue is full.
type Policy interface {
	OnBackPressure(ch core.ChannelService, member core.MemberSession) BackpressureAction
}

// SimplePolicy disconnects slow members. Their clients see the relay drop
// and the rest of the channel sees them leave presence.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.ChannelService, core.MemberSession) BackpressureAction {
	return KickMember
}
