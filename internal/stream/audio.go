package stream

import (
	"context"
	"fmt"

	"github.com/yok-tottii/camstream/internal/audio"
)

// Peer is the receiving end of an audio stream
type Peer interface {
	SendBinary(data []byte) error
}

// AudioProducer forwards PCM chunks from its own capture stream to one peer.
// The stream is independent of the recording session's.
type AudioProducer struct {
	source   audio.Source
	observer Observer
}

// NewAudioProducer creates a producer reading from source
func NewAudioProducer(source audio.Source, observer Observer) *AudioProducer {
	return &AudioProducer{
		source:   source,
		observer: observerOrNoop(observer),
	}
}

// Run opens a capture stream and sends every chunk to peer until ctx is
// done, a send fails or the device fails. The capture stream is closed on
// every path. The returned error is always an *EndError.
func (p *AudioProducer) Run(ctx context.Context, peer Peer) error {
	if ctx.Err() != nil {
		return ended(ctx)
	}

	stream, err := p.source.Open()
	if err != nil {
		return &EndError{Reason: DeviceFailure, Err: err}
	}
	defer stream.Close()

	// Unblock a pending Read as soon as the connection goes away
	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer stop()

	for {
		if ctx.Err() != nil {
			return ended(ctx)
		}

		chunk, err := stream.Read()
		if err != nil {
			if ctx.Err() != nil {
				return ended(ctx)
			}
			return &EndError{Reason: DeviceFailure, Err: err}
		}

		if err := peer.SendBinary(chunk); err != nil {
			return &EndError{Reason: PeerDisconnected, Err: fmt.Errorf("%w: %v", ErrPeerDisconnected, err)}
		}
		p.observer.PayloadSent(string(KindAudio), len(chunk))
	}
}
