package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

const (
	DefaultURL              = "wss://api.deepgram.com/v1/listen"
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultCloseTimeout     = 3 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	utteranceEndMs          = "1000"
)

type DeepgramTranscriber struct {
	logger *log.Logger
}

func NewDeepgramTranscriber(logger *log.Logger) *DeepgramTranscriber {
	return &DeepgramTranscriber{logger: logger}
}

func (t *DeepgramTranscriber) Open(
	ctx context.Context,
	opts Options,
) (Stream, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	endpoint, err := listenURL(opts)
	if err != nil {
		return nil, err
	}

	handshakeTimeout := opts.HandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = DefaultHandshakeTimeout
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}

	header := http.Header{}
	header.Set("Authorization", fmt.Sprintf("Token %s", opts.APIKey))

	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, fmt.Errorf(
				"%w: status %d: %w",
				ErrHandshake,
				resp.StatusCode,
				err,
			)
		}
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}

	closeTimeout := opts.CloseTimeout
	if closeTimeout <= 0 {
		closeTimeout = DefaultCloseTimeout
	}

	s := &deepgramStream{
		conn:         conn,
		logger:       t.logger,
		events:       make(chan Event, 64),
		errs:         make(chan error, 8),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		closeTimeout: closeTimeout,
		writeTimeout: DefaultWriteTimeout,
	}
	s.open.Store(true)

	t.logger.Info("open", "kind", "deepgram", "model", opts.Model)
	go s.readLoop()

	return s, nil
}

func listenURL(opts Options) (string, error) {
	raw := opts.URL
	if raw == "" {
		raw = DefaultURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse transcription url: %w", err)
	}

	q := u.Query()
	q.Set("model", opts.Model)
	q.Set("language", opts.Language)
	q.Set("encoding", opts.Encoding)
	q.Set("sample_rate", strconv.Itoa(opts.SampleRate))
	q.Set("channels", strconv.Itoa(opts.Channels))
	q.Set("punctuate", strconv.FormatBool(opts.Punctuate))
	q.Set("endpointing", strconv.FormatBool(opts.Endpointing))
	q.Set("interim_results", strconv.FormatBool(opts.InterimResults))
	if opts.Endpointing && opts.InterimResults {
		q.Set("utterance_end_ms", utteranceEndMs)
		q.Set("vad_events", "true")
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

type deepgramStream struct {
	conn   *websocket.Conn
	logger *log.Logger

	writeMu  sync.Mutex
	open     atomic.Bool
	closing  atomic.Bool
	reported atomic.Bool

	events chan Event

	errMu      sync.Mutex
	errs       chan error
	errsClosed bool

	quit chan struct{}
	done chan struct{}

	closeOnce    sync.Once
	closeErr     error
	closeTimeout time.Duration
	writeTimeout time.Duration
}

type controlMessage struct {
	Type string `json:"type"`
}

type deepgramMessage struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	RequestID   string  `json:"request_id"`
	Timestamp   float64 `json:"timestamp"`
	LastWordEnd float64 `json:"last_word_end"`
	Description string  `json:"description"`
	Message     string  `json:"message"`
}

func (s *deepgramStream) Events() <-chan Event {
	return s.events
}

func (s *deepgramStream) Errors() <-chan error {
	return s.errs
}

func (s *deepgramStream) Send(frame []byte) bool {
	if !s.open.Load() {
		return false
	}

	s.writeMu.Lock()
	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	err := s.conn.WriteMessage(websocket.BinaryMessage, frame)
	s.writeMu.Unlock()

	if err != nil {
		s.fail(fmt.Errorf("%w: write audio: %w", ErrDisconnected, err))
		return false
	}
	return true
}

func (s *deepgramStream) KeepAlive() bool {
	if !s.open.Load() {
		return false
	}
	if err := s.writeControl("KeepAlive"); err != nil {
		s.fail(fmt.Errorf("%w: keepalive: %w", ErrDisconnected, err))
		return false
	}
	s.logger.Debug("keepalive")
	return true
}

// Close asks the service to flush pending results, waits at most
// closeTimeout for it to hang up, then tears the socket down. Closing the
// socket fails any write still blocked on a peer that stopped reading.
func (s *deepgramStream) Close() error {
	s.closeOnce.Do(func() {
		s.closing.Store(true)

		if s.open.Swap(false) {
			go func() {
				if err := s.writeControl("CloseStream"); err != nil {
					s.logger.Warn("close stream", "error", err)
				}
			}()
		}

		select {
		case <-s.done:
		case <-time.After(s.closeTimeout):
			s.logger.Warn("close timeout", "after", s.closeTimeout)
		}

		close(s.quit)
		if err := s.conn.Close(); err != nil && s.closeErr == nil {
			select {
			case <-s.done:
			default:
				s.closeErr = fmt.Errorf("close connection: %w", err)
			}
		}
		<-s.done
		s.logger.Info("closed", "kind", "deepgram")
	})
	return s.closeErr
}

func (s *deepgramStream) writeControl(kind string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return s.conn.WriteJSON(controlMessage{Type: kind})
}

func (s *deepgramStream) fail(err error) {
	s.open.Store(false)
	s.disconnected(err)
}

// disconnected reports the loss of the connection once, however many
// writers and readers notice it.
func (s *deepgramStream) disconnected(err error) {
	if s.closing.Load() || !s.reported.CompareAndSwap(false, true) {
		return
	}
	s.report(err)
}

func (s *deepgramStream) report(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()

	if s.errsClosed {
		return
	}
	select {
	case s.errs <- err:
	default:
		s.logger.Warn("error dropped", "error", err)
	}
}

func (s *deepgramStream) readLoop() {
	defer close(s.done)
	defer func() {
		close(s.events)
		s.errMu.Lock()
		s.errsClosed = true
		close(s.errs)
		s.errMu.Unlock()
	}()

	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			wasOpen := s.open.Swap(false)
			if !s.closing.Load() {
				s.logger.Error("read", "error", err, "open", wasOpen)
			}
			s.disconnected(fmt.Errorf("%w: %w", ErrDisconnected, err))
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		s.handle(data)
	}
}

func (s *deepgramStream) handle(data []byte) {
	var msg deepgramMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.report(fmt.Errorf("%w: %w", ErrMalformed, err))
		return
	}

	switch msg.Type {
	case "Results":
		ev := Event{IsFinal: msg.IsFinal, SpeechFinal: msg.SpeechFinal}
		if len(msg.Channel.Alternatives) > 0 {
			ev.Text = msg.Channel.Alternatives[0].Transcript
		}
		s.emit(ev)
	case "UtteranceEnd":
		s.logger.Debug("utterance end", "last_word_end", msg.LastWordEnd)
		s.emit(Event{IsFinal: true, SpeechFinal: true})
	case "SpeechStarted":
		s.logger.Debug("speech start", "timestamp", msg.Timestamp)
	case "Metadata":
		s.logger.Debug("metadata", "request_id", msg.RequestID)
	case "Error":
		description := msg.Description
		if description == "" {
			description = msg.Message
		}
		s.report(fmt.Errorf("%w: %s", ErrService, description))
	default:
		s.logger.Warn("unhandled event", "data", string(data))
	}
}

func (s *deepgramStream) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.quit:
	}
}
