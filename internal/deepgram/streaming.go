package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/MikeSquared-Agency/callingjournal/internal/speech"
)

const defaultBaseURL = "https://api.deepgram.com/v1"

type Config struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool
	// Endpointing is the silence in milliseconds that ends an utterance.
	Endpointing int
}

// Provider implements speech.Transcriber over Deepgram's live websocket API.
type Provider struct {
	cfg Config
}

func NewProvider(cfg Config) *Provider {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2-phonecall"
	}
	return &Provider{cfg: cfg}
}

func (p *Provider) StartStreaming(ctx context.Context, cfg speech.StreamConfig) (speech.Session, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return nil, errors.New("DEEPGRAM_API_KEY is not configured")
	}

	wsURL, err := buildListenURL(p.cfg, cfg)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return nil, fmt.Errorf("connect to deepgram: %w", err)
	}

	s := newSession(conn)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

type session struct {
	conn *websocket.Conn

	events chan speech.Event
	audio  chan []byte
	stop   chan struct{}
	done   chan struct{}

	wg sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeSendOnce sync.Once
	closeOnce     sync.Once
	sendMu        sync.RWMutex
	sendClosed    bool
}

func newSession(conn *websocket.Conn) *session {
	s := &session{
		conn:   conn,
		events: make(chan speech.Event, 64),
		audio:  make(chan []byte, 32),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()
	go func() {
		s.wg.Wait()
		close(s.events)
		close(s.done)
		_ = conn.Close()
	}()
	return s
}

func (s *session) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.sendClosed {
		return errors.New("audio stream is already closed")
	}

	copied := append([]byte(nil), chunk...)
	select {
	case s.audio <- copied:
		return nil
	case <-s.stop:
		return errors.New("session closed")
	case <-s.done:
		if err := s.waitErr(); err != nil {
			return err
		}
		return errors.New("session closed")
	}
}

// CloseSend stops accepting audio and asks Deepgram to flush pending results.
func (s *session) CloseSend() error {
	s.closeSendOnce.Do(func() {
		s.sendMu.Lock()
		s.sendClosed = true
		close(s.audio)
		s.sendMu.Unlock()
	})
	return nil
}

func (s *session) Events() <-chan speech.Event {
	return s.events
}

func (s *session) Wait() error {
	<-s.done
	return s.waitErr()
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		_ = s.conn.Close()
		_ = s.CloseSend()
	})
	<-s.done
	return s.waitErr()
}

func (s *session) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *session) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *session) writeLoop() {
	defer s.wg.Done()

	for chunk := range s.audio {
		if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			s.setErr(fmt.Errorf("send audio: %w", err))
			_ = s.conn.Close()
			return
		}
	}

	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
		s.setErr(fmt.Errorf("close stream: %w", err))
	}
}

func (s *session) readLoop() {
	defer s.wg.Done()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(fmt.Errorf("read deepgram event: %w", err))
			return
		}

		var resp response
		if err := json.Unmarshal(payload, &resp); err != nil {
			continue
		}

		if strings.EqualFold(resp.Type, "Error") {
			msg := strings.TrimSpace(resp.Message)
			if msg == "" {
				msg = "deepgram returned an unknown error"
			}
			s.setErr(errors.New(msg))
			return
		}

		text := extractTranscript(resp)
		if text == "" && !resp.SpeechFinal {
			continue
		}

		ev := speech.Event{Text: text, SpeechFinal: resp.SpeechFinal, Kind: speech.KindPartial}
		if resp.IsFinal || resp.SpeechFinal {
			ev.Kind = speech.KindFinal
		}
		select {
		case s.events <- ev:
		case <-s.stop:
			return
		}
	}
}

type response struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func extractTranscript(r response) string {
	if len(r.Channel.Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(r.Channel.Alternatives[0].Transcript)
}

func buildListenURL(providerCfg Config, streamCfg speech.StreamConfig) (string, error) {
	base := strings.TrimSpace(providerCfg.APIBaseURL)
	if base == "" {
		base = defaultBaseURL
	}

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	listenURL, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid deepgram base url: %w", err)
	}

	// Phone media streams are 8 kHz mono mu-law.
	if streamCfg.Encoding == "" {
		streamCfg.Encoding = "mulaw"
	}
	if streamCfg.SampleRate <= 0 {
		streamCfg.SampleRate = 8000
	}
	if streamCfg.Channels <= 0 {
		streamCfg.Channels = 1
	}

	q := listenURL.Query()
	q.Set("model", providerCfg.Model)
	q.Set("encoding", streamCfg.Encoding)
	q.Set("sample_rate", fmt.Sprintf("%d", streamCfg.SampleRate))
	q.Set("channels", fmt.Sprintf("%d", streamCfg.Channels))
	q.Set("interim_results", fmt.Sprintf("%t", streamCfg.InterimResults))
	q.Set("smart_format", fmt.Sprintf("%t", providerCfg.SmartFormat))
	q.Set("punctuate", "true")
	if providerCfg.Endpointing > 0 {
		q.Set("endpointing", fmt.Sprintf("%d", providerCfg.Endpointing))
	}
	if providerCfg.Language != "" {
		q.Set("language", providerCfg.Language)
	}
	listenURL.RawQuery = q.Encode()
	return listenURL.String(), nil
}
