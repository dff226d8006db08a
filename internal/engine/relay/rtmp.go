package relay

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/yutopp/go-rtmp"
	rtmpmsg "github.com/yutopp/go-rtmp/message"
)

// Sink is where a target's media goes. Timestamps are milliseconds relative
// to link establishment.
type Sink interface {
	WriteVideo(timestampMs int64, data []byte) error
	WriteAudio(timestampMs int64, data []byte) error
	Close() error
}

// SinkDialer opens a sink for a publish URL.
type SinkDialer func(ctx context.Context, rawURL string) (Sink, error)

const (
	rtmpChunkSize        = 128
	rtmpVideoChunkStream = 6
	rtmpAudioChunkStream = 5
)

// DialRTMP connects and publishes to an rtmp://host[:port]/app/streamKey
// endpoint.
func DialRTMP(ctx context.Context, rawURL string) (Sink, error) {
	host, app, key, err := splitRTMPURL(rawURL)
	if err != nil {
		return nil, err
	}

	client, err := rtmp.Dial("rtmp", host, &rtmp.ConnConfig{})
	if err != nil {
		return nil, fmt.Errorf("rtmp dial %s: %w", host, err)
	}
	if err := client.Connect(&rtmpmsg.NetConnectionConnect{
		Command: rtmpmsg.NetConnectionConnectCommand{
			App:   app,
			Type:  "nonprivate",
			TCURL: fmt.Sprintf("rtmp://%s/%s", host, app),
		},
	}); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("rtmp connect app %q: %w", app, err)
	}
	stream, err := client.CreateStream(nil, rtmpChunkSize)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("rtmp create stream: %w", err)
	}
	if err := stream.Publish(&rtmpmsg.NetStreamPublish{
		PublishingName: key,
		PublishingType: "live",
	}); err != nil {
		_ = stream.Close()
		_ = client.Close()
		return nil, fmt.Errorf("rtmp publish %q: %w", key, err)
	}
	return &rtmpSink{client: client, stream: stream}, nil
}

type rtmpSink struct {
	client *rtmp.ClientConn
	stream *rtmp.Stream
}

func (s *rtmpSink) WriteVideo(timestampMs int64, data []byte) error {
	return s.stream.Write(rtmpVideoChunkStream, uint32(timestampMs), &rtmpmsg.VideoMessage{
		Payload: bytes.NewReader(data),
	})
}

func (s *rtmpSink) WriteAudio(timestampMs int64, data []byte) error {
	return s.stream.Write(rtmpAudioChunkStream, uint32(timestampMs), &rtmpmsg.AudioMessage{
		Payload: bytes.NewReader(data),
	})
}

func (s *rtmpSink) Close() error {
	serr := s.stream.Close()
	if err := s.client.Close(); err != nil {
		return err
	}
	return serr
}

// splitRTMPURL separates host:port, application and stream key. The stream
// key is the last path segment; everything between is the application.
func splitRTMPURL(rawURL string) (host, app, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", "", fmt.Errorf("bad rtmp url %q: %w", rawURL, err)
	}
	if u.Scheme != "rtmp" {
		return "", "", "", fmt.Errorf("bad rtmp url %q: scheme %q", rawURL, u.Scheme)
	}
	host = u.Host
	if !strings.Contains(host, ":") {
		host += ":1935"
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segs) < 2 || segs[0] == "" || segs[len(segs)-1] == "" {
		return "", "", "", fmt.Errorf("bad rtmp url %q: need /app/streamKey", rawURL)
	}
	key = segs[len(segs)-1]
	app = strings.Join(segs[:len(segs)-1], "/")
	return host, app, key, nil
}
