package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
)

// Player plays one synthesized clip, returning early when ctx is done.
type Player interface {
	Play(ctx context.Context, clip []byte) error
}

// SpeakerPlayer decodes MP3 clips and plays them on the default output.
type SpeakerPlayer struct {
	mu     sync.Mutex
	rate   beep.SampleRate
	ready  bool
	logger *log.Logger
}

func NewSpeakerPlayer(logger *log.Logger) *SpeakerPlayer {
	return &SpeakerPlayer{logger: logger}
}

func (p *SpeakerPlayer) Play(ctx context.Context, clip []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	streamer, format, err := mp3.Decode(io.NopCloser(bytes.NewReader(clip)))
	if err != nil {
		return fmt.Errorf("decode mp3: %w", err)
	}
	defer streamer.Close()

	if !p.ready {
		err := speaker.Init(
			format.SampleRate,
			format.SampleRate.N(time.Second/10),
		)
		if err != nil {
			return fmt.Errorf("init speaker: %w", err)
		}
		p.rate = format.SampleRate
		p.ready = true
	}

	var s beep.Streamer = streamer
	if format.SampleRate != p.rate {
		s = beep.Resample(4, format.SampleRate, p.rate, streamer)
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(s, beep.Callback(func() { close(done) })))
	p.logger.Debug("play", "bytes", len(clip), "rate", format.SampleRate)

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		speaker.Clear()
		return ctx.Err()
	}
}
