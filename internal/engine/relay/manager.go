// Package relay manages outbound CDN publish targets, their composited
// layouts and cross-channel anchor subscriptions. Targets are independent of
// the session: a failing target never tears the session down.
package relay

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/pview/rtcengine/internal/domain"
	"github.com/pview/rtcengine/internal/event"
)

var (
	ErrEmptyURL          = errors.New("publish url empty")
	ErrDuplicateURL      = errors.New("publish url already added")
	ErrUnknownURL        = errors.New("publish url unknown")
	ErrNoTarget          = errors.New("no publish target")
	ErrAmbiguousTarget   = errors.New("layout needs rtmp url when multiple targets exist")
	ErrBadMixerParams    = errors.New("bad mixer parameters")
	ErrAlreadySubscribed = errors.New("channel already subscribed")
	ErrNotSubscribed     = errors.New("channel not subscribed")
)

// Manager owns all publish targets of one engine. Relay setup/teardown is
// asynchronous: Add schedules the link and health arrives as RtmpStatus
// events.
type Manager struct {
	bus  *event.Dispatcher
	dial SinkDialer

	mu       sync.RWMutex
	targets  map[string]*target
	video    domain.MixerVideoParams
	audio    domain.MixerAudioParams
	bgImages map[string]string
	subs     map[int64]bool
}

func NewManager(bus *event.Dispatcher, dial SinkDialer) *Manager {
	if dial == nil {
		dial = DialRTMP
	}
	return &Manager{
		bus:      bus,
		dial:     dial,
		targets:  make(map[string]*target),
		video:    domain.DefaultMixerVideoParams(),
		audio:    domain.DefaultMixerAudioParams(),
		bgImages: make(map[string]string),
		subs:     make(map[int64]bool),
	}
}

// Add registers a new publish target and starts its relay loop.
func (m *Manager) Add(ctx context.Context, url string) error {
	if url == "" {
		return ErrEmptyURL
	}
	m.mu.Lock()
	if _, ok := m.targets[url]; ok {
		m.mu.Unlock()
		return ErrDuplicateURL
	}
	t := newTarget(url)
	// Started before publication so a concurrent Remove always sees a target
	// whose cancel is set.
	t.start(ctx, m.dial, m.bus)
	m.targets[url] = t
	m.mu.Unlock()

	log.Info().Str("module", "relay").Str("url", url).Msg("publish target added")
	return nil
}

// Remove tears a target down. Idempotent for unknown urls.
func (m *Manager) Remove(url string) {
	m.mu.Lock()
	t, ok := m.targets[url]
	if ok {
		delete(m.targets, url)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	t.stop()
	log.Info().Str("module", "relay").Str("url", url).Msg("publish target removed")
}

// Update swaps the URL of a failed target, keeping its layout; with a single
// healthy target it replaces that one. This is the recovery path after an
// InitError/OpenError/LinkFailed status.
func (m *Manager) Update(ctx context.Context, url string) error {
	if url == "" {
		return ErrEmptyURL
	}
	m.mu.Lock()
	var old *target
	for _, t := range m.targets {
		if t.isFailed() {
			old = t
			break
		}
	}
	if old == nil && len(m.targets) == 1 {
		for _, t := range m.targets {
			old = t
		}
	}
	if old == nil {
		m.mu.Unlock()
		return ErrUnknownURL
	}
	delete(m.targets, old.url)
	layout := old.layoutCopy()
	t := newTarget(url)
	t.setLayout(layout)
	t.start(ctx, m.dial, m.bus)
	m.targets[url] = t
	m.mu.Unlock()

	old.stop()
	log.Info().Str("module", "relay").Str("old", old.url).Str("url", url).Msg("publish target updated")
	return nil
}

// SetLayout validates and applies a composited layout. An empty RtmpURL is
// only accepted while exactly one target exists. An invalid layout never
// mutates the previously accepted one.
func (m *Manager) SetLayout(l domain.Layout) error {
	if err := l.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	var t *target
	if l.RtmpURL == "" {
		switch len(m.targets) {
		case 0:
			m.mu.Unlock()
			return ErrNoTarget
		case 1:
			for _, only := range m.targets {
				t = only
			}
		default:
			m.mu.Unlock()
			return ErrAmbiguousTarget
		}
	} else {
		var ok bool
		t, ok = m.targets[l.RtmpURL]
		if !ok {
			m.mu.Unlock()
			return ErrUnknownURL
		}
	}
	t.setLayout(&l)
	m.mu.Unlock()

	m.bus.Publish(event.LayoutApplied{Layout: l})
	return nil
}

// Layout returns the accepted layout of one target.
func (m *Manager) Layout(url string) (domain.Layout, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var t *target
	if url == "" && len(m.targets) == 1 {
		for _, only := range m.targets {
			t = only
		}
	} else {
		t = m.targets[url]
	}
	if t == nil {
		return domain.Layout{}, false
	}
	l := t.layoutCopy()
	if l == nil {
		return domain.Layout{}, false
	}
	return *l, true
}

func (m *Manager) Has(url string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.targets[url]
	return ok
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.targets)
}

func (m *Manager) SetMixerVideoParams(p domain.MixerVideoParams) error {
	if p.Width <= 0 || p.Height <= 0 || p.FrameRate <= 0 || p.BitrateKbps <= 0 {
		return ErrBadMixerParams
	}
	m.mu.Lock()
	m.video = p
	m.mu.Unlock()
	return nil
}

func (m *Manager) SetMixerAudioParams(p domain.MixerAudioParams) error {
	if !p.Valid() {
		return ErrBadMixerParams
	}
	m.mu.Lock()
	m.audio = p
	m.mu.Unlock()
	return nil
}

func (m *Manager) MixerParams() (domain.MixerVideoParams, domain.MixerAudioParams) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.video, m.audio
}

// SetBackgroundImage associates a background image with one target; the
// empty rtmpURL form is the pre-join single-target case.
func (m *Manager) SetBackgroundImage(imageURL, rtmpURL string) {
	m.mu.Lock()
	m.bgImages[rtmpURL] = imageURL
	m.mu.Unlock()
}

// PushVideo fans an injected frame out to every target. A full per-target
// buffer surfaces as a transient VideoBufferFull status, not an error.
func (m *Manager) PushVideo(f *domain.VideoFrame) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.targets {
		if !t.pushVideo(f) {
			m.bus.Publish(event.RtmpStatus{URL: t.url, Status: domain.RtmpVideoBufferFull})
		}
	}
}

// PushAudio fans injected PCM out to every target.
func (m *Manager) PushAudio(f domain.AudioFrame) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.targets {
		if !t.pushAudio(f) {
			m.bus.Publish(event.RtmpStatus{URL: t.url, Status: domain.RtmpAudioBufferFull})
		}
	}
}

// HandleServerStatus folds a server-reported relay status into local target
// health.
func (m *Manager) HandleServerStatus(url string, status domain.RtmpStatus) {
	m.mu.RLock()
	t, ok := m.targets[url]
	m.mu.RUnlock()
	if ok && status.Fatal() {
		t.markFailed()
	}
	m.bus.Publish(event.RtmpStatus{URL: url, Status: status})
	m.bus.Publish(event.RtmpReport{URL: url, OK: !status.Fatal()})
}

// Subscribe records a cross-channel subscription. The subscribed channel's
// anchor surfaces as a synthetic participant via the signaling path.
func (m *Manager) Subscribe(channelID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs[channelID] {
		return ErrAlreadySubscribed
	}
	m.subs[channelID] = true
	return nil
}

func (m *Manager) Unsubscribe(channelID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.subs[channelID] {
		return ErrNotSubscribed
	}
	delete(m.subs, channelID)
	return nil
}

func (m *Manager) Subscribed(channelID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.subs[channelID]
}

func (m *Manager) Subscriptions() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]int64, 0, len(m.subs))
	for id := range m.subs {
		out = append(out, id)
	}
	return out
}

// Reset drops all targets and subscriptions. Called on leave so nothing
// dangles across sessions.
func (m *Manager) Reset() {
	m.mu.Lock()
	targets := m.targets
	m.targets = make(map[string]*target)
	m.subs = make(map[int64]bool)
	m.mu.Unlock()
	for _, t := range targets {
		t.stop()
	}
}
