package relay

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pview/rtcengine/internal/domain"
	"github.com/pview/rtcengine/internal/event"
)

const frameQueueSize = 64

type targetState int32

const (
	targetStarting targetState = iota
	targetLinked
	targetFailed
	targetStopped
)

// target is one CDN endpoint with its own relay loop, mirroring one relay
// per source with buffered fan-in.
type target struct {
	url string

	mu     sync.RWMutex
	layout *domain.Layout

	videoCh chan *domain.VideoFrame
	audioCh chan domain.AudioFrame

	state  atomic.Int32
	cancel context.CancelFunc
}

func newTarget(url string) *target {
	return &target{
		url:     url,
		videoCh: make(chan *domain.VideoFrame, frameQueueSize),
		audioCh: make(chan domain.AudioFrame, frameQueueSize),
	}
}

func (t *target) start(ctx context.Context, dial SinkDialer, bus *event.Dispatcher) {
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	logger := log.With().Str("module", "relay").Str("url", t.url).Logger()
	go t.loop(ctx, dial, bus, &logger)
}

func (t *target) loop(ctx context.Context, dial SinkDialer, bus *event.Dispatcher, logger *zerolog.Logger) {
	sink, err := dial(ctx, t.url)
	if err != nil {
		logger.Error().Err(err).Msg("relay open failed")
		t.state.Store(int32(targetFailed))
		bus.Publish(event.RtmpStatus{URL: t.url, Status: domain.RtmpOpenError})
		bus.Publish(event.RtmpReport{URL: t.url, OK: false})
		return
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Error().Err(err).Msg("relay sink close")
		}
	}()

	t.state.Store(int32(targetLinked))
	logger.Info().Msg("relay link established")
	bus.Publish(event.RtmpStatus{URL: t.url, Status: domain.RtmpLinkSucceeded})
	bus.Publish(event.RtmpReport{URL: t.url, OK: true})

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay loop done")
			return
		case f := <-t.videoCh:
			if err := sink.WriteVideo(f.TimestampMs, f.Data); err != nil {
				logger.Error().Err(err).Msg("relay write video failed")
				t.fail(bus)
				return
			}
		case f := <-t.audioCh:
			if err := sink.WriteAudio(0, f.Data); err != nil {
				logger.Error().Err(err).Msg("relay write audio failed")
				t.fail(bus)
				return
			}
		}
	}
}

func (t *target) fail(bus *event.Dispatcher) {
	t.state.Store(int32(targetFailed))
	bus.Publish(event.RtmpStatus{URL: t.url, Status: domain.RtmpLinkFailed})
	bus.Publish(event.RtmpReport{URL: t.url, OK: false})
}

func (t *target) stop() {
	t.state.Store(int32(targetStopped))
	if t.cancel != nil {
		t.cancel()
	}
}

func (t *target) isFailed() bool {
	return targetState(t.state.Load()) == targetFailed
}

func (t *target) markFailed() {
	t.state.Store(int32(targetFailed))
}

func (t *target) setLayout(l *domain.Layout) {
	t.mu.Lock()
	t.layout = l
	t.mu.Unlock()
}

func (t *target) layoutCopy() *domain.Layout {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.layout == nil {
		return nil
	}
	l := *t.layout
	l.Regions = append([]domain.Region(nil), t.layout.Regions...)
	return &l
}

func (t *target) pushVideo(f *domain.VideoFrame) bool {
	if targetState(t.state.Load()) != targetLinked {
		return true
	}
	select {
	case t.videoCh <- f:
		return true
	default:
		return false
	}
}

func (t *target) pushAudio(f domain.AudioFrame) bool {
	if targetState(t.state.Load()) != targetLinked {
		return true
	}
	select {
	case t.audioCh <- f:
		return true
	default:
		return false
	}
}
