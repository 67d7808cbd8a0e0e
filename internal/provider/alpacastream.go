package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tidemark/internal/domain"
)

var _ StreamProvider = (*AlpacaStream)(nil)

const handshakeTimeout = 10 * time.Second

// AlpacaStream speaks the Alpaca v2 market-data stream protocol over a raw
// WebSocket: connect, auth, subscribe, then data frames carrying JSON arrays
// of trade/quote/bar messages.
type AlpacaStream struct {
	url       string
	apiKey    string
	apiSecret string
	dialer    *websocket.Dialer
	log       *slog.Logger
}

// NewAlpacaStream creates an AlpacaStream for the given stream URL and
// credentials.
func NewAlpacaStream(streamURL, apiKey, apiSecret string) *AlpacaStream {
	return &AlpacaStream{
		url:       streamURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		dialer:    websocket.DefaultDialer,
		log:       slog.Default().With("provider", "alpaca-stream"),
	}
}

// Name returns the provider identifier.
func (p *AlpacaStream) Name() string { return "alpaca-stream" }

// controlMsg is the envelope of non-data stream messages.
type controlMsg struct {
	Type string `json:"T"`
	Msg  string `json:"msg"`
	Code int    `json:"code"`
}

// OpenStream dials the stream endpoint and completes the full handshake
// before returning: greeting, auth, subscribe confirmation. Data frames that
// arrive between subscribe and confirmation are buffered, not lost.
func (p *AlpacaStream) OpenStream(ctx context.Context, symbols []string) (Stream, error) {
	conn, _, err := p.dialer.DialContext(ctx, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", domain.ErrProviderUnavailable, p.url, err)
	}

	s := &wsStream{
		conn:   conn,
		frames: make(chan []byte, 64),
		done:   make(chan struct{}),
	}

	if err := p.handshake(conn, symbols, s); err != nil {
		conn.Close()
		return nil, err
	}

	go s.readLoop()
	return s, nil
}

func (p *AlpacaStream) handshake(conn *websocket.Conn, symbols []string, s *wsStream) error {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	// Greeting: [{"T":"success","msg":"connected"}].
	if err := expectControl(conn, "connected"); err != nil {
		return err
	}

	auth := map[string]string{
		"action": "auth",
		"key":    p.apiKey,
		"secret": p.apiSecret,
	}
	if err := conn.WriteJSON(auth); err != nil {
		return fmt.Errorf("%w: send auth: %v", domain.ErrProviderUnavailable, err)
	}
	if err := expectControl(conn, "authenticated"); err != nil {
		if errors.Is(err, errControlRejected) {
			return fmt.Errorf("%w: %v", domain.ErrAuthFailed, err)
		}
		return err
	}

	sub := map[string]any{
		"action": "subscribe",
		"trades": symbols,
		"quotes": symbols,
		"bars":   symbols,
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("%w: send subscribe: %v", domain.ErrProviderUnavailable, err)
	}

	// Wait for the subscription echo. Data can interleave here; stash it.
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: await subscription: %v", domain.ErrProviderUnavailable, err)
		}
		var msgs []controlMsg
		if err := json.Unmarshal(raw, &msgs); err != nil || len(msgs) == 0 {
			continue
		}
		switch msgs[0].Type {
		case "subscription":
			p.log.Debug("subscribed", "symbols", len(symbols))
			return nil
		case "error":
			return fmt.Errorf("%w: subscribe rejected: %s (code %d)",
				domain.ErrProviderUnavailable, msgs[0].Msg, msgs[0].Code)
		default:
			s.buffered = append(s.buffered, raw)
		}
	}
}

var errControlRejected = errors.New("stream control message rejected")

func expectControl(conn *websocket.Conn, want string) error {
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("%w: read control: %v", domain.ErrProviderUnavailable, err)
	}
	var msgs []controlMsg
	if err := json.Unmarshal(raw, &msgs); err != nil || len(msgs) == 0 {
		return fmt.Errorf("%w: bad control frame %q", domain.ErrProviderUnavailable, raw)
	}
	m := msgs[0]
	if m.Type == "error" {
		return fmt.Errorf("%w: %s (code %d)", errControlRejected, m.Msg, m.Code)
	}
	if m.Type != "success" || m.Msg != want {
		return fmt.Errorf("%w: unexpected control %q, want %q", domain.ErrProviderUnavailable, raw, want)
	}
	return nil
}

// wsStream is one live WebSocket session.
type wsStream struct {
	conn     *websocket.Conn
	frames   chan []byte
	done     chan struct{}
	buffered [][]byte

	mu        sync.Mutex
	err       error
	closed    bool
	closeOnce sync.Once
}

func (s *wsStream) readLoop() {
	defer close(s.frames)

	for _, raw := range s.buffered {
		if !s.deliver(raw) {
			return
		}
	}
	s.buffered = nil

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			if !s.closed && s.err == nil {
				s.err = fmt.Errorf("%w: read: %v", domain.ErrProviderUnavailable, err)
			}
			s.mu.Unlock()
			return
		}
		if !s.deliver(raw) {
			return
		}
	}
}

// deliver hands one frame to the consumer. A Close while the channel is full
// must release the reader even if nobody drains the remaining frames.
func (s *wsStream) deliver(raw []byte) bool {
	select {
	case s.frames <- raw:
		return true
	case <-s.done:
		return false
	}
}

// Frames returns the raw frame channel. It closes when the session ends.
func (s *wsStream) Frames() <-chan []byte { return s.frames }

// Err reports the terminal session error, nil for a clean Close.
func (s *wsStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close tears down the connection. Safe to call multiple times.
func (s *wsStream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.conn.Close()
	})
	return nil
}

// Wire message shapes for the v2 data stream. The single-letter "c" field
// means trade conditions on trades but close price on bars, so each kind
// gets its own struct.

type tradeMsg struct {
	Symbol     string    `json:"S"`
	Timestamp  time.Time `json:"t"`
	Exchange   string    `json:"x"`
	Price      float64   `json:"p"`
	Size       int64     `json:"s"`
	Conditions []string  `json:"c"`
	Tape       string    `json:"z"`
}

type quoteMsg struct {
	Symbol    string    `json:"S"`
	Timestamp time.Time `json:"t"`
	BidPrice  float64   `json:"bp"`
	BidSize   int64     `json:"bs"`
	AskPrice  float64   `json:"ap"`
	AskSize   int64     `json:"as"`
}

type barMsg struct {
	Symbol    string    `json:"S"`
	Timestamp time.Time `json:"t"`
	Open      float64   `json:"o"`
	High      float64   `json:"h"`
	Low       float64   `json:"l"`
	Close     float64   `json:"c"`
	Volume    int64     `json:"v"`
}

// Decode normalizes one frame, a JSON array of messages. Unknown and control
// message types are skipped silently; malformed messages are skipped and
// summarized in the returned error while good messages still come back.
func (p *AlpacaStream) Decode(frame []byte) (domain.RecordBatch, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(frame, &raws); err != nil {
		return domain.RecordBatch{}, fmt.Errorf("frame is not a message array: %w", err)
	}

	var batch domain.RecordBatch
	malformed := 0
	for _, raw := range raws {
		var kind struct {
			Type string `json:"T"`
		}
		if err := json.Unmarshal(raw, &kind); err != nil {
			malformed++
			continue
		}
		switch kind.Type {
		case "t":
			var m tradeMsg
			if err := json.Unmarshal(raw, &m); err != nil || m.Symbol == "" || m.Timestamp.IsZero() {
				malformed++
				continue
			}
			batch.Trades = append(batch.Trades, domain.Trade{
				Symbol:     m.Symbol,
				Timestamp:  m.Timestamp.UTC(),
				Price:      m.Price,
				Size:       m.Size,
				Exchange:   m.Exchange,
				Conditions: m.Conditions,
				Tape:       m.Tape,
				Source:     domain.SourceAlpacaStream,
			})
		case "q":
			var m quoteMsg
			if err := json.Unmarshal(raw, &m); err != nil || m.Symbol == "" || m.Timestamp.IsZero() {
				malformed++
				continue
			}
			batch.Quotes = append(batch.Quotes, domain.Quote{
				Symbol:    m.Symbol,
				Timestamp: m.Timestamp.UTC(),
				BidPrice:  m.BidPrice,
				BidSize:   m.BidSize,
				AskPrice:  m.AskPrice,
				AskSize:   m.AskSize,
				Source:    domain.SourceAlpacaStream,
			})
		case "b":
			var m barMsg
			if err := json.Unmarshal(raw, &m); err != nil || m.Symbol == "" || m.Timestamp.IsZero() {
				malformed++
				continue
			}
			batch.Bars = append(batch.Bars, domain.Bar{
				Symbol:    m.Symbol,
				Timestamp: m.Timestamp.UTC(),
				Open:      m.Open,
				High:      m.High,
				Low:       m.Low,
				Close:     m.Close,
				Volume:    m.Volume,
				Source:    domain.SourceAlpacaStream,
			})
		case "success", "subscription", "error":
			// Control messages carry no records.
		default:
			// Unknown kinds are forward-compatible noise.
		}
	}

	if malformed > 0 {
		return batch, fmt.Errorf("skipped %d malformed messages in frame", malformed)
	}
	return batch, nil
}
