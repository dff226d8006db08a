package media

import (
	"sync"
	"sync/atomic"

	"github.com/pview/rtcengine/internal/domain"
)

const sourceQueueSize = 32

// ExternalSource buffers application-injected frames between the push call
// and the consumer. Push never blocks: when the queue is full the oldest
// frame is dropped so injected media stays near-live.
type ExternalSource struct {
	mu     sync.Mutex
	video  []*domain.VideoFrame
	audio  []domain.AudioFrame
	closed bool

	videoSink func(*domain.VideoFrame)
	audioSink func(domain.AudioFrame)

	pushedVideo  atomic.Uint64
	droppedVideo atomic.Uint64
	pushedAudio  atomic.Uint64
	droppedAudio atomic.Uint64
	videoBytes   atomic.Uint64
	audioBytes   atomic.Uint64
}

func NewExternalSource() *ExternalSource {
	return &ExternalSource{}
}

// SetSinks installs consumers. A nil sink leaves frames in the queue for
// DrainVideo/DrainAudio.
func (s *ExternalSource) SetSinks(video func(*domain.VideoFrame), audio func(domain.AudioFrame)) {
	s.mu.Lock()
	s.videoSink = video
	s.audioSink = audio
	s.mu.Unlock()
}

func (s *ExternalSource) PushVideo(f *domain.VideoFrame) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if sink := s.videoSink; sink != nil {
		s.mu.Unlock()
		s.pushedVideo.Add(1)
		s.videoBytes.Add(uint64(len(f.Data)))
		sink(f)
		return true
	}
	if len(s.video) >= sourceQueueSize {
		s.video = s.video[1:]
		s.droppedVideo.Add(1)
	}
	s.video = append(s.video, f)
	s.mu.Unlock()
	s.pushedVideo.Add(1)
	s.videoBytes.Add(uint64(len(f.Data)))
	return true
}

func (s *ExternalSource) PushAudio(f domain.AudioFrame) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if sink := s.audioSink; sink != nil {
		s.mu.Unlock()
		s.pushedAudio.Add(1)
		s.audioBytes.Add(uint64(len(f.Data)))
		sink(f)
		return true
	}
	if len(s.audio) >= sourceQueueSize {
		s.audio = s.audio[1:]
		s.droppedAudio.Add(1)
	}
	s.audio = append(s.audio, f)
	s.mu.Unlock()
	s.pushedAudio.Add(1)
	s.audioBytes.Add(uint64(len(f.Data)))
	return true
}

// DrainVideo hands over all queued frames.
func (s *ExternalSource) DrainVideo() []*domain.VideoFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.video
	s.video = nil
	return out
}

func (s *ExternalSource) DrainAudio() []domain.AudioFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.audio
	s.audio = nil
	return out
}

// Counters reports pushed and dropped frame counts.
func (s *ExternalSource) Counters() (pushedVideo, droppedVideo, pushedAudio, droppedAudio uint64) {
	return s.pushedVideo.Load(), s.droppedVideo.Load(), s.pushedAudio.Load(), s.droppedAudio.Load()
}

// Bytes reports total pushed payload sizes.
func (s *ExternalSource) Bytes() (videoBytes, audioBytes uint64) {
	return s.videoBytes.Load(), s.audioBytes.Load()
}

func (s *ExternalSource) Close() {
	s.mu.Lock()
	s.closed = true
	s.video = nil
	s.audio = nil
	s.mu.Unlock()
}
