// Package telephony bridges a phone provider's media-stream websocket to the
// conversation controller: caller speech is transcribed and fed in as user
// turns, and the call ending finishes the session.
package telephony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MikeSquared-Agency/callingjournal/internal/conversation"
	"github.com/MikeSquared-Agency/callingjournal/internal/domain"
	"github.com/MikeSquared-Agency/callingjournal/internal/speech"
)

var ErrNoOwner = errors.New("call carries no resolvable owner")

// Conversation is the part of the controller a call drives.
type Conversation interface {
	Start(ctx context.Context, ownerID int64, callRef string) (string, error)
	Advance(ctx context.Context, ownerID int64, text string) (string, error)
	Finish(ctx context.Context, ownerID int64) (*conversation.FinishResult, error)
}

// OwnerDirectory resolves a caller's phone number.
type OwnerDirectory interface {
	GetOwnerByPhone(ctx context.Context, phone string) (*domain.Owner, error)
}

// message is one inbound media-stream event.
type message struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
	Start     *struct {
		CallSid          string            `json:"callSid"`
		CustomParameters map[string]string `json:"customParameters"`
	} `json:"start,omitempty"`
	Media *struct {
		Payload string `json:"payload"`
	} `json:"media,omitempty"`
	Mark *struct {
		Name string `json:"name"`
	} `json:"mark,omitempty"`
}

type Bridge struct {
	conv        Conversation
	owners      OwnerDirectory
	transcriber speech.Transcriber
	logger      *slog.Logger
	upgrader    websocket.Upgrader

	// FinishTimeout bounds journal synthesis after the caller hangs up.
	FinishTimeout time.Duration
	// DrainTimeout bounds the wait for the last transcripts after hang-up.
	DrainTimeout time.Duration
}

func NewBridge(conv Conversation, owners OwnerDirectory, transcriber speech.Transcriber, logger *slog.Logger) *Bridge {
	return &Bridge{
		conv:          conv,
		owners:        owners,
		transcriber:   transcriber,
		logger:        logger,
		FinishTimeout: 2 * time.Minute,
		DrainTimeout:  4 * time.Second,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and runs the call until the provider sends
// stop or the socket drops.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("telephony upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	c := &call{bridge: b, conn: conn, logger: b.logger}
	c.run(r.Context())
}

// call is the state of one media stream.
type call struct {
	bridge *Bridge
	conn   *websocket.Conn
	logger *slog.Logger

	ownerID   int64
	callSid   string
	streamSid string
	started   bool

	stt      speech.Session
	turnsOut chan struct{}

	writeMu sync.Mutex
}

func (c *call) run(ctx context.Context) {
	defer c.hangUp()

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("telephony stream dropped", "call_sid", c.callSid, "error", err)
			}
			return
		}

		var msg message
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.logger.Warn("unparseable telephony event", "error", err)
			continue
		}

		switch msg.Event {
		case "connected":
			c.logger.Debug("telephony stream connected")
		case "start":
			if err := c.start(ctx, msg); err != nil {
				c.logger.Error("telephony start failed", "call_sid", c.callSid, "error", err)
				return
			}
		case "media":
			c.media(msg)
		case "mark":
			if msg.Mark != nil {
				c.logger.Debug("playback mark reached", "call_sid", c.callSid, "mark", msg.Mark.Name)
			}
		case "stop":
			c.logger.Info("telephony stream stopped", "call_sid", c.callSid)
			return
		default:
			c.logger.Debug("ignoring telephony event", "event", msg.Event)
		}
	}
}

func (c *call) start(ctx context.Context, msg message) error {
	if c.started {
		return nil
	}
	if msg.Start == nil {
		return errors.New("start event without payload")
	}
	c.callSid = msg.Start.CallSid
	c.streamSid = msg.StreamSid

	ownerID, err := c.resolveOwner(ctx, msg.Start.CustomParameters)
	if err != nil {
		return err
	}
	c.ownerID = ownerID

	opening, err := c.bridge.conv.Start(ctx, ownerID, c.callSid)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	c.started = true
	c.mark("opening")
	c.logger.Info("call session started", "owner_id", ownerID, "call_sid", c.callSid, "opening_len", len(opening))

	if c.bridge.transcriber == nil {
		return nil
	}
	// The transcription stream outlives the request context so the last
	// utterance can still be flushed after the socket closes.
	stt, err := c.bridge.transcriber.StartStreaming(context.WithoutCancel(ctx), speech.StreamConfig{})
	if err != nil {
		c.logger.Error("transcriber unavailable, call will not record turns", "owner_id", ownerID, "error", err)
		return nil
	}
	c.stt = stt
	c.turnsOut = make(chan struct{})
	go c.consume(context.WithoutCancel(ctx))
	return nil
}

func (c *call) resolveOwner(ctx context.Context, params map[string]string) (int64, error) {
	if raw := strings.TrimSpace(params["owner_id"]); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("owner_id %q: %w", raw, ErrNoOwner)
		}
		return id, nil
	}
	if phone := strings.TrimSpace(params["caller"]); phone != "" && c.bridge.owners != nil {
		owner, err := c.bridge.owners.GetOwnerByPhone(ctx, phone)
		if err != nil {
			return 0, fmt.Errorf("lookup caller: %w: %w", ErrNoOwner, err)
		}
		return owner.ID, nil
	}
	return 0, ErrNoOwner
}

func (c *call) media(msg message) {
	if c.stt == nil || msg.Media == nil {
		return
	}
	audio, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
	if err != nil {
		c.logger.Warn("bad media payload", "call_sid", c.callSid, "error", err)
		return
	}
	if err := c.stt.SendAudio(audio); err != nil {
		c.logger.Warn("forward audio failed", "call_sid", c.callSid, "error", err)
	}
}

// consume turns finished utterances into user turns, one at a time.
func (c *call) consume(ctx context.Context) {
	defer close(c.turnsOut)

	var pending []string
	flush := func() {
		text := strings.TrimSpace(strings.Join(pending, " "))
		pending = pending[:0]
		if text == "" {
			return
		}
		if _, err := c.bridge.conv.Advance(ctx, c.ownerID, text); err != nil {
			c.logger.Error("advance from speech failed", "owner_id", c.ownerID, "error", err)
			return
		}
		c.mark("reply")
	}

	for ev := range c.stt.Events() {
		if ev.Kind == speech.KindFinal && ev.Text != "" {
			pending = append(pending, ev.Text)
		}
		if ev.SpeechFinal {
			flush()
		}
	}
	flush()
}

// hangUp drains transcription and finishes the session.
func (c *call) hangUp() {
	if !c.started {
		return
	}
	if c.stt != nil {
		_ = c.stt.CloseSend()
		select {
		case <-c.turnsOut:
		case <-time.After(c.bridge.DrainTimeout):
			c.logger.Warn("transcriber did not drain, closing", "call_sid", c.callSid, "timeout", c.bridge.DrainTimeout)
		}
		if err := c.stt.Close(); err != nil {
			c.logger.Warn("transcriber closed with error", "call_sid", c.callSid, "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.bridge.FinishTimeout)
	defer cancel()
	res, err := c.bridge.conv.Finish(ctx, c.ownerID)
	if err != nil {
		c.logger.Error("finish call session failed", "owner_id", c.ownerID, "call_sid", c.callSid, "error", err)
		return
	}
	c.logger.Info("call session finished",
		"owner_id", c.ownerID,
		"session_id", res.SessionID,
		"turns", res.TurnCount,
		"journaled", res.JournalID != nil,
	)
}

// mark asks the provider to echo a mark once queued playback passes it.
func (c *call) mark(name string) {
	if c.streamSid == "" {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	err := c.conn.WriteJSON(map[string]any{
		"event":     "mark",
		"streamSid": c.streamSid,
		"mark":      map[string]string{"name": name},
	})
	if err != nil {
		c.logger.Debug("send mark failed", "call_sid", c.callSid, "error", err)
	}
}
