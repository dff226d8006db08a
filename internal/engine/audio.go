package engine

import (
	"github.com/pview/rtcengine/internal/domain"
	"github.com/pview/rtcengine/internal/event"
)

// Audio mixing and sound effects are played back by the application's own
// pipeline; the engine keeps the lifecycle bookkeeping and the events. Both
// end implicitly when the session ends.

// StartAudioMixing begins a mixing session. cycle is the repeat count, -1
// for infinite. Restarting while a mix is playing finishes the old one
// first.
func (e *Engine) StartAudioMixing(filePath string, loopback bool, cycle int) Code {
	if filePath == "" || cycle < -1 {
		return CodeInvalidArgument
	}
	e.mu.Lock()
	if e.sess == nil {
		e.mu.Unlock()
		return CodeNotInChannel
	}
	wasMixing := e.mixing
	e.mixing = true
	e.mu.Unlock()

	if wasMixing {
		e.bus.Publish(event.AudioMixingFinished{})
	}
	e.bus.Publish(event.AudioMixingStarted{})
	return CodeOK
}

func (e *Engine) StopAudioMixing() Code {
	e.mu.Lock()
	if !e.mixing {
		e.mu.Unlock()
		return CodeInvalidArgument
	}
	e.mixing = false
	e.mu.Unlock()
	e.bus.Publish(event.AudioMixingFinished{})
	return CodeOK
}

// PlayEffect registers a sound effect under soundID. Reusing a live id is
// rejected; stop it first.
func (e *Engine) PlayEffect(soundID int, filePath string) Code {
	if filePath == "" {
		return CodeInvalidArgument
	}
	e.mu.Lock()
	if e.sess == nil {
		e.mu.Unlock()
		return CodeNotInChannel
	}
	if e.effects == nil {
		e.effects = make(map[int]struct{})
	}
	if _, live := e.effects[soundID]; live {
		e.mu.Unlock()
		return CodeInvalidArgument
	}
	e.effects[soundID] = struct{}{}
	e.mu.Unlock()
	return CodeOK
}

func (e *Engine) StopEffect(soundID int) Code {
	e.mu.Lock()
	if _, live := e.effects[soundID]; !live {
		e.mu.Unlock()
		return CodeInvalidArgument
	}
	delete(e.effects, soundID)
	e.mu.Unlock()
	e.bus.Publish(event.AudioEffectFinished{SoundID: soundID})
	return CodeOK
}

func (e *Engine) StopAllEffects() Code {
	e.mu.Lock()
	ids := make([]int, 0, len(e.effects))
	for id := range e.effects {
		ids = append(ids, id)
	}
	e.effects = nil
	e.mu.Unlock()
	for _, id := range ids {
		e.bus.Publish(event.AudioEffectFinished{SoundID: id})
	}
	return CodeOK
}

// SetEnableSpeakerphone switches the audio output route and reports the
// change.
func (e *Engine) SetEnableSpeakerphone(enabled bool) Code {
	e.mu.Lock()
	if e.speakerOn == enabled {
		e.mu.Unlock()
		return CodeOK
	}
	e.speakerOn = enabled
	e.mu.Unlock()

	route := domain.RouteEarpiece
	if enabled {
		route = domain.RouteSpeakerphone
	}
	e.bus.Publish(event.AudioRouteChanged{Route: route})
	return CodeOK
}

func (e *Engine) IsSpeakerphoneEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speakerOn
}

// stopPlayback ends mixing and effects when the session goes away.
func (e *Engine) stopPlayback() {
	e.mu.Lock()
	wasMixing := e.mixing
	e.mixing = false
	ids := make([]int, 0, len(e.effects))
	for id := range e.effects {
		ids = append(ids, id)
	}
	e.effects = nil
	e.mu.Unlock()

	if wasMixing {
		e.bus.Publish(event.AudioMixingFinished{})
	}
	for _, id := range ids {
		e.bus.Publish(event.AudioEffectFinished{SoundID: id})
	}
}
