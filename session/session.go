package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"node.town/parley/audio"
	"node.town/parley/etc"
	"node.town/parley/llm"
	"node.town/parley/metrics"
	"node.town/parley/queue"
	"node.town/parley/stt"
	"node.town/parley/transcript"
	"node.town/parley/tts"
)

type State int32

const (
	Idle State = iota
	Listening
)

func (s State) String() string {
	if s == Listening {
		return "listening"
	}
	return "idle"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

const (
	DefaultKeepAliveInterval = 10 * time.Second
	DefaultRelayCapacity     = 8

	// Consecutive keepalive no-ops before liveness is reported lost.
	missedKeepAliveLimit = 2
)

type Config struct {
	Transcription     stt.Options
	Constraints       audio.Constraints
	RelayCapacity     int
	KeepAliveInterval time.Duration
	Policy            transcript.Policy
}

// Deps are the collaborators of a session. Speech and Player are
// optional; without them responses are only observed.
type Deps struct {
	Transcriber stt.Transcriber
	Device      audio.Device
	Model       llm.LanguageModel
	Speech      tts.SpeechGenerator
	Player      audio.Player
	Observer    Observer
	Metrics     *metrics.Metrics
	Logger      *log.Logger
}

// Session owns one listening pipeline at a time.
type Session struct {
	cfg     Config
	deps    Deps
	logger  *log.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	res   *resources
	state atomic.Int32
	id    atomic.Pointer[string]
}

type resources struct {
	id     string
	stream stt.Stream
	source audio.Source
	relay  *audio.Relay

	// lost is set by whichever of the error reader and the keepalive
	// loop first reports the connection gone.
	lost atomic.Bool

	cancel           context.CancelFunc
	cancelDownstream context.CancelFunc
	stopKeepAlive    context.CancelFunc
	group            *errgroup.Group
}

type utterance struct {
	id   string
	text string
	at   time.Time
}

func New(cfg Config, deps Deps) *Session {
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if cfg.RelayCapacity <= 0 {
		cfg.RelayCapacity = DefaultRelayCapacity
	}

	logger := deps.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New(prometheus.NewRegistry())
	}

	return &Session{cfg: cfg, deps: deps, logger: logger, metrics: m}
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// ID is the current session id, empty while idle.
func (s *Session) ID() string {
	if id := s.id.Load(); id != nil {
		return *id
	}
	return ""
}

func (s *Session) validate() error {
	switch {
	case s.deps.Transcriber == nil:
		return errors.New("no transcription service")
	case s.deps.Device == nil:
		return errors.New("no capture device")
	case s.deps.Model == nil:
		return errors.New("no language model")
	case s.deps.Speech != nil && s.deps.Player == nil:
		return errors.New("speech synthesis needs a player")
	}
	return s.cfg.Transcription.Validate()
}

// Start acquires the stream, the microphone and the processing graph, in
// that order. A failed step releases everything acquired before it.
// Start on a listening session does nothing.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.res != nil {
		return nil
	}

	if err := s.validate(); err != nil {
		return s.startFailed(newError(ConfigError, "validate", err))
	}

	stream, err := s.deps.Transcriber.Open(ctx, s.cfg.Transcription)
	if err != nil {
		return s.startFailed(newError(ConnectionError, "open stream", err))
	}

	source, err := s.deps.Device.Acquire(ctx, s.cfg.Constraints)
	if err != nil {
		s.rollback(stream.Close)
		return s.startFailed(newError(DeviceError, "acquire microphone", err))
	}

	relay := audio.NewRelay(s.cfg.RelayCapacity)
	err = source.Connect(func(samples []float32) {
		s.metrics.FramesCaptured.Inc()
		if relay.Push(audio.Float32ToPCM16(samples)) {
			s.metrics.FramesDropped.Inc()
		}
	})
	if err != nil {
		relay.Close()
		s.rollback(source.Close, stream.Close)
		return s.startFailed(newError(DeviceError, "connect audio graph", err))
	}

	s.res = s.run(stream, source, relay)
	s.id.Store(&s.res.id)
	s.setState(Listening)
	s.logger.Info("listening", "session", s.res.id)

	return nil
}

func (s *Session) startFailed(err *Error) error {
	s.metrics.StartFailures.WithLabelValues(err.Kind.String()).Inc()
	s.logger.Error("start", "error", err)
	return err
}

func (s *Session) rollback(release ...func() error) {
	var err error
	for _, fn := range release {
		err = multierr.Append(err, fn())
	}
	for _, e := range multierr.Errors(err) {
		s.logger.Warn("rollback", "error", e)
	}
}

func (s *Session) run(
	stream stt.Stream,
	source audio.Source,
	relay *audio.Relay,
) *resources {
	res := &resources{
		id:     uuid.NewString(),
		stream: stream,
		source: source,
		relay:  relay,
	}

	ctx, cancel := context.WithCancel(context.Background())
	downstream, cancelDownstream := context.WithCancel(ctx)
	keepAlive, stopKeepAlive := context.WithCancel(ctx)
	res.cancel = cancel
	res.cancelDownstream = cancelDownstream
	res.stopKeepAlive = stopKeepAlive

	g, ctx := errgroup.WithContext(ctx)
	res.group = g

	completed := make(chan utterance)

	g.Go(func() error {
		return relay.Run(ctx, func(f audio.Frame) {
			if stream.Send(f.Bytes()) {
				s.metrics.FramesSent.Inc()
			}
		})
	})
	g.Go(func() error {
		return s.readEvents(ctx, res.id, stream, completed)
	})
	g.Go(func() error {
		return s.readErrors(ctx, res, stream)
	})
	g.Go(func() error {
		return s.keepAlive(keepAlive, res, stream)
	})
	g.Go(func() error {
		return s.dispatch(ctx, downstream, g, res.id, completed)
	})

	return res
}

// Stop cancels downstream work and releases the stream, the audio graph
// and the device. Every step runs even when an earlier one fails. Stop on
// an idle session does nothing.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.res
	if res == nil {
		return nil
	}
	s.logger.Info("stopping", "session", res.id)

	res.cancelDownstream()

	var err error
	if e := res.stream.Close(); e != nil {
		err = multierr.Append(err, fmt.Errorf("close stream: %w", e))
	}
	if e := res.source.Disconnect(); e != nil {
		err = multierr.Append(err, fmt.Errorf("disconnect audio graph: %w", e))
	}
	if e := res.source.Close(); e != nil {
		err = multierr.Append(err, fmt.Errorf("release microphone: %w", e))
	}
	res.stopKeepAlive()
	res.relay.Close()
	res.cancel()

	if e := res.group.Wait(); e != nil {
		err = multierr.Append(err, e)
	}

	for _, e := range multierr.Errors(err) {
		s.logger.Error("release", "session", res.id, "error", e)
	}

	s.res = nil
	s.id.Store(nil)
	s.setState(Idle)
	s.logger.Info("idle", "session", res.id, "dropped_frames", res.relay.Dropped())

	return err
}

func (s *Session) setState(state State) {
	s.state.Store(int32(state))
	if state == Listening {
		s.metrics.Listening.Set(1)
	} else {
		s.metrics.Listening.Set(0)
	}

	o := Observation{Kind: StateObserved, State: state}
	if s.res != nil {
		o.SessionID = s.res.id
	}
	s.observe(o)
}

func (s *Session) observe(o Observation) {
	if s.deps.Observer == nil {
		return
	}
	if o.At.IsZero() {
		o.At = time.Now()
	}
	s.deps.Observer.Observe(o)
}

func (s *Session) report(id string, kind ErrorKind, op string, err error) {
	e := newError(kind, op, err)
	s.logger.Error("report", "session", id, "error", e)
	s.observe(Observation{Kind: ErrorObserved, SessionID: id, Err: e})
}

// readEvents owns the assembler for the lifetime of one session.
func (s *Session) readEvents(
	ctx context.Context,
	id string,
	stream stt.Stream,
	completed chan<- utterance,
) error {
	defer close(completed)
	assembler := transcript.NewAssembler(s.cfg.Policy)

	for {
		var ev stt.Event
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case ev, ok = <-stream.Events():
			if !ok {
				return nil
			}
		}

		u := assembler.Apply(ev)
		switch u.Kind {
		case transcript.Interim:
			s.observe(Observation{Kind: InterimObserved, SessionID: id, Text: u.Text})
		case transcript.Buffered:
			s.observe(Observation{
				Kind:      InterimObserved,
				SessionID: id,
				Text:      assembler.Pending(),
			})
		case transcript.Completed:
			next := utterance{id: etc.NewFreshID(), text: u.Text, at: time.Now()}
			s.metrics.UtterancesCompleted.Inc()
			s.logger.Info("utterance", "id", next.id, "text", next.text)
			s.observe(Observation{
				Kind:        TranscriptObserved,
				SessionID:   id,
				UtteranceID: next.id,
				Text:        next.text,
			})

			select {
			case completed <- next:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (s *Session) readErrors(
	ctx context.Context,
	res *resources,
	stream stt.Stream,
) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-stream.Errors():
			if !ok {
				return nil
			}
			s.metrics.TransportErrors.Inc()
			if errors.Is(err, stt.ErrDisconnected) && !res.lost.CompareAndSwap(false, true) {
				s.logger.Debug("already lost", "session", res.id, "error", err)
				continue
			}
			s.report(res.id, TransportError, "stream", err)
		}
	}
}

func (s *Session) keepAlive(
	ctx context.Context,
	res *resources,
	stream stt.Stream,
) error {
	ticker := time.NewTicker(s.cfg.KeepAliveInterval)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if stream.KeepAlive() {
			s.metrics.KeepalivesSent.Inc()
			missed = 0
			continue
		}

		s.metrics.KeepalivesMissed.Inc()
		missed++
		if missed < missedKeepAliveLimit {
			continue
		}
		if res.lost.CompareAndSwap(false, true) {
			s.report(res.id, TransportError, "keepalive", ErrLivenessLost)
		}
		return nil
	}
}

// dispatch queues completed utterances and runs at most one downstream
// job at a time, in arrival order.
func (s *Session) dispatch(
	ctx context.Context,
	downstream context.Context,
	g *errgroup.Group,
	id string,
	completed <-chan utterance,
) error {
	pending := queue.New[utterance]()
	done := make(chan struct{}, 1)
	busy := false

	for {
		if !busy {
			if next, ok := pending.Pop(); ok {
				if downstream.Err() != nil {
					s.logger.Debug("discard", "utterance", next.id)
					continue
				}
				busy = true
				g.Go(func() error {
					s.respond(downstream, id, next)
					done <- struct{}{}
					return nil
				})
			} else if completed == nil {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-done:
			busy = false
		case next, ok := <-completed:
			if !ok {
				completed = nil
				continue
			}
			pending.Push(next)
		}
	}
}

func (s *Session) respond(ctx context.Context, id string, u utterance) {
	s.observe(Observation{Kind: LoadingObserved, SessionID: id, UtteranceID: u.id, Loading: true})
	defer s.observe(Observation{Kind: LoadingObserved, SessionID: id, UtteranceID: u.id})

	reply, err := s.deps.Model.Complete(ctx, u.text)
	if s.discarded(ctx, u) {
		return
	}
	if err != nil {
		s.downstreamFailed(id, "completion", err)
		return
	}
	s.logger.Info("response", "utterance", u.id, "text", reply)
	s.observe(Observation{
		Kind:        ResponseObserved,
		SessionID:   id,
		UtteranceID: u.id,
		Text:        reply,
	})

	if s.deps.Speech == nil {
		return
	}

	clip, err := s.deps.Speech.Synthesize(ctx, reply)
	if s.discarded(ctx, u) {
		return
	}
	if err != nil {
		s.downstreamFailed(id, "synthesis", err)
		return
	}

	err = s.deps.Player.Play(ctx, clip)
	if s.discarded(ctx, u) {
		return
	}
	if err != nil {
		s.downstreamFailed(id, "playback", err)
		return
	}

	s.metrics.DownstreamLatency.Observe(time.Since(u.at).Seconds())
}

func (s *Session) discarded(ctx context.Context, u utterance) bool {
	if ctx.Err() == nil {
		return false
	}
	s.logger.Debug("discard", "utterance", u.id, "reason", ctx.Err())
	return true
}

func (s *Session) downstreamFailed(id, stage string, err error) {
	s.metrics.DownstreamFailures.WithLabelValues(stage).Inc()
	s.report(id, DownstreamError, stage, err)
}
