package app

import (
	"slices"
	"strings"
	"sync"

	"github.com/dkeye/vocalize/internal/core"
	"github.com/dkeye/vocalize/internal/domain"
)

type ChannelManagerImpl struct {
	mu       sync.RWMutex
	channels map[domain.MeetingID]core.ChannelService
}

func NewChannelManager() core.ChannelManager {
	return &ChannelManagerImpl{channels: make(map[domain.MeetingID]core.ChannelService)}
}

func (f *ChannelManagerImpl) GetOrCreate(id domain.MeetingID) core.ChannelService {
	f.mu.RLock()
	ch, ok := f.channels[id]
	f.mu.RUnlock()
	if ok {
		return ch
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok = f.channels[id]; ok {
		return ch
	}
	ch = core.NewChannelService(id)
	f.channels[id] = ch
	return ch
}

func (f *ChannelManagerImpl) Get(id domain.MeetingID) (core.ChannelService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ch, ok := f.channels[id]
	return ch, ok
}

func (f *ChannelManagerImpl) List() []core.ChannelInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]core.ChannelInfo, 0, len(f.channels))
	for id, ch := range f.channels {
		out = append(out, core.ChannelInfo{Meeting: id, MemberCount: ch.MemberCount()})
	}
	slices.SortFunc(out, func(a, b core.ChannelInfo) int {
		return strings.Compare(string(a.Meeting), string(b.Meeting))
	})
	return out
}

func (f *ChannelManagerImpl) StopChannel(id domain.MeetingID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.channels, id)
}
