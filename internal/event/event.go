// Package event carries engine notifications to the application. The original
// multi-method delegate is reframed as typed variants delivered over a single
// ordered bus; consumers register per-kind handlers and unregistered kinds are
// dropped.
package event

import (
	"time"

	"github.com/pview/rtcengine/internal/domain"
)

// Kind discriminates event variants.
type Kind int

const (
	KindError Kind = iota
	KindConnectionLost
	KindConnectionStateChanged
	KindReconnectSucceeded
	KindReconnectTimeout
	KindJoinSuccess
	KindLeaveChannel
	KindParticipantJoined
	KindParticipantOffline
	KindKicked
	KindRoleChanged
	KindSpeakingMuted
	KindAudioMuted
	KindVideoEnabled
	KindVideoDeviceEnabled
	KindDualStreamChanged
	KindChannelStats
	KindLocalVideoStats
	KindLocalAudioStats
	KindRemoteVideoStats
	KindRemoteAudioStats
	KindAudioLevel
	KindFirstAudioFrameDecoded
	KindFirstLocalVideoFrame
	KindFirstRemoteVideoFrameDecoded
	KindFirstRemoteVideoFrame
	KindLocalAudioData
	KindAudioMixingStarted
	KindAudioMixingFinished
	KindAudioEffectFinished
	KindCameraReady
	KindVideoStopped
	KindLocalVideoFrame
	KindSEI
	KindLayoutApplied
	KindRtmpStatus
	KindRtmpReport
	KindRtmpCreated
	KindTokenExpiring
	KindTokenRenewed
	KindAudioRouteChanged
	KindFrameRateRequest
	KindLyric
	KindChat
	KindSignal
	KindMediaSending
	KindNetworkQuality

	kindCount
)

// Event is one notification variant.
type Event interface {
	Kind() Kind
}

type Error struct{ Code domain.ErrorCode }

func (Error) Kind() Kind { return KindError }

type ConnectionLost struct{}

func (ConnectionLost) Kind() Kind { return KindConnectionLost }

type ConnectionStateChanged struct{ State domain.ConnectionState }

func (ConnectionStateChanged) Kind() Kind { return KindConnectionStateChanged }

type ReconnectSucceeded struct{}

func (ReconnectSucceeded) Kind() Kind { return KindReconnectSucceeded }

type ReconnectTimeout struct{}

func (ReconnectTimeout) Kind() Kind { return KindReconnectTimeout }

// JoinSuccess carries the joined channel, local uid and the delay from the
// join request to this event.
type JoinSuccess struct {
	Channel string
	UID     int64
	Elapsed time.Duration
}

func (JoinSuccess) Kind() Kind { return KindJoinSuccess }

type LeaveChannel struct{ Stats domain.ChannelStats }

func (LeaveChannel) Kind() Kind { return KindLeaveChannel }

type ParticipantJoined struct {
	UID          int64
	Role         domain.ClientRole
	VideoEnabled bool
	Elapsed      time.Duration
}

func (ParticipantJoined) Kind() Kind { return KindParticipantJoined }

type ParticipantOffline struct {
	UID    int64
	Reason domain.OfflineReason
}

func (ParticipantOffline) Kind() Kind { return KindParticipantOffline }

type Kicked struct {
	UID    int64
	Reason domain.KickReason
}

func (Kicked) Kind() Kind { return KindKicked }

type RoleChanged struct {
	UID  int64
	Role domain.ClientRole
}

func (RoleChanged) Kind() Kind { return KindRoleChanged }

type SpeakingMuted struct {
	UID   int64
	Muted bool
}

func (SpeakingMuted) Kind() Kind { return KindSpeakingMuted }

type AudioMuted struct {
	UID   int64
	Muted bool
}

func (AudioMuted) Kind() Kind { return KindAudioMuted }

type VideoEnabled struct {
	UID     int64
	Enabled bool
}

func (VideoEnabled) Kind() Kind { return KindVideoEnabled }

// VideoDeviceEnabled scopes an enablement change to one device stream.
type VideoDeviceEnabled struct {
	UID       int64
	DeviceID  string
	VideoType domain.VideoType
	Enabled   bool
}

func (VideoDeviceEnabled) Kind() Kind { return KindVideoDeviceEnabled }

type DualStreamChanged struct {
	UID     int64
	Enabled bool
}

func (DualStreamChanged) Kind() Kind { return KindDualStreamChanged }

type ChannelStats struct{ Stats domain.ChannelStats }

func (ChannelStats) Kind() Kind { return KindChannelStats }

type LocalVideoStats struct{ Stats domain.LocalVideoStats }

func (LocalVideoStats) Kind() Kind { return KindLocalVideoStats }

type LocalAudioStats struct{ Stats domain.LocalAudioStats }

func (LocalAudioStats) Kind() Kind { return KindLocalAudioStats }

type RemoteVideoStats struct{ Stats domain.RemoteVideoStats }

func (RemoteVideoStats) Kind() Kind { return KindRemoteVideoStats }

type RemoteAudioStats struct{ Stats domain.RemoteAudioStats }

func (RemoteAudioStats) Kind() Kind { return KindRemoteAudioStats }

// AudioLevel reports who is speaking. Level is the nonlinear [0,9] scale,
// FullRange the linear [0,32768] one.
type AudioLevel struct {
	UID       int64
	Level     int
	FullRange int
}

func (AudioLevel) Kind() Kind { return KindAudioLevel }

type FirstAudioFrameDecoded struct{ UID int64 }

func (FirstAudioFrameDecoded) Kind() Kind { return KindFirstAudioFrameDecoded }

type FirstLocalVideoFrame struct {
	Width   int
	Height  int
	Elapsed time.Duration
}

func (FirstLocalVideoFrame) Kind() Kind { return KindFirstLocalVideoFrame }

type FirstRemoteVideoFrameDecoded struct {
	UID      int64
	DeviceID string
	Width    int
	Height   int
	Elapsed  time.Duration
}

func (FirstRemoteVideoFrameDecoded) Kind() Kind { return KindFirstRemoteVideoFrameDecoded }

type FirstRemoteVideoFrame struct {
	UID      int64
	DeviceID string
	Width    int
	Height   int
	Elapsed  time.Duration
}

func (FirstRemoteVideoFrame) Kind() Kind { return KindFirstRemoteVideoFrame }

type LocalAudioData struct{ Frame domain.AudioFrame }

func (LocalAudioData) Kind() Kind { return KindLocalAudioData }

type AudioMixingStarted struct{}

func (AudioMixingStarted) Kind() Kind { return KindAudioMixingStarted }

type AudioMixingFinished struct{}

func (AudioMixingFinished) Kind() Kind { return KindAudioMixingFinished }

type AudioEffectFinished struct{ SoundID int }

func (AudioEffectFinished) Kind() Kind { return KindAudioEffectFinished }

type CameraReady struct{}

func (CameraReady) Kind() Kind { return KindCameraReady }

type VideoStopped struct{}

func (VideoStopped) Kind() Kind { return KindVideoStopped }

type LocalVideoFrame struct{ Frame *domain.VideoFrame }

func (LocalVideoFrame) Kind() Kind { return KindLocalVideoFrame }

type SEI struct {
	UID     int64
	Content string
}

func (SEI) Kind() Kind { return KindSEI }

type LayoutApplied struct{ Layout domain.Layout }

func (LayoutApplied) Kind() Kind { return KindLayoutApplied }

type RtmpStatus struct {
	URL    string
	Status domain.RtmpStatus
}

func (RtmpStatus) Kind() Kind { return KindRtmpStatus }

// RtmpReport is the coarse per-URL success/failure report.
type RtmpReport struct {
	URL string
	OK  bool
}

func (RtmpReport) Kind() Kind { return KindRtmpReport }

type RtmpCreated struct {
	URL      string
	DeviceID string
}

func (RtmpCreated) Kind() Kind { return KindRtmpCreated }

// TokenExpiring warns that the channel key is close to expiry; the caller
// should renew it.
type TokenExpiring struct{ Token string }

func (TokenExpiring) Kind() Kind { return KindTokenExpiring }

type TokenRenewed struct{}

func (TokenRenewed) Kind() Kind { return KindTokenRenewed }

type AudioRouteChanged struct{ Route domain.AudioRoute }

func (AudioRouteChanged) Kind() Kind { return KindAudioRouteChanged }

// FrameRateRequest asks an external video source to change its capture rate.
type FrameRateRequest struct{ FrameRate int }

func (FrameRateRequest) Kind() Kind { return KindFrameRateRequest }

type Lyric struct {
	UID   int64
	Lyric string
}

func (Lyric) Kind() Kind { return KindLyric }

type Chat struct {
	UID  int64
	Info domain.ChatInfo
}

func (Chat) Kind() Kind { return KindChat }

type Signal struct {
	UID     int64
	SeqID   string
	Message string
}

func (Signal) Kind() Kind { return KindSignal }

type MediaSending struct{}

func (MediaSending) Kind() Kind { return KindMediaSending }

type NetworkQuality struct{ Quality domain.NetworkQuality }

func (NetworkQuality) Kind() Kind { return KindNetworkQuality }
