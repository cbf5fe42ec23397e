package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mglns/feedview/internal/entity"
	"github.com/mglns/feedview/internal/logging"
	"github.com/mglns/feedview/internal/realtime"
)

const (
	defaultDialTimeout       = 5 * time.Second
	defaultReconnectInterval = 2 * time.Second
	defaultFetchTimeout      = 10 * time.Second
)

var errMalformedEvent = errors.New("malformed event")

// WSConfig configures the websocket-backed provider.
type WSConfig struct {
	// BaseURL is the server root, e.g. "https://chat.example.com".
	BaseURL string
	// ViewerID is the authenticated user; sends are attributed to it.
	ViewerID string
	// Token is passed as a bearer token on REST calls and the dial.
	Token string

	DialTimeout       time.Duration
	ReconnectInterval time.Duration
	HTTPClient        *http.Client
}

// WSProvider fetches pages over the server's REST endpoint and streams
// push events over a websocket, reconnecting with a fixed backoff.
type WSProvider struct {
	cfg    WSConfig
	wsURL  string
	client *http.Client

	mu          sync.Mutex
	subscribers map[int]subscriber
	nextSubID   int
	closed      bool
	stop        chan struct{}
}

func NewWSProvider(cfg WSConfig) (*WSProvider, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("server base URL required")
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/api/ws"

	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}

	p := &WSProvider{
		cfg:         cfg,
		wsURL:       parsed.String(),
		client:      client,
		subscribers: make(map[int]subscriber),
		stop:        make(chan struct{}),
	}
	go p.readLoop()
	return p, nil
}

// Close stops the read loop and closes all subscriber channels.
func (p *WSProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.stop)
	for id, sub := range p.subscribers {
		delete(p.subscribers, id)
		close(sub.ch)
	}
}

type pagePayload struct {
	Messages []entity.Message `json:"messages"`
	AtOldest *bool            `json:"at_oldest,omitempty"`
	AtNewest *bool            `json:"at_newest,omitempty"`
}

func (p *WSProvider) FetchPage(ctx context.Context, channelID string, dir entity.Direction, pivotID string, limit int) (entity.PageResult, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	endpoint := fmt.Sprintf("%s/api/channels/%s/messages?dir=%s&limit=%d",
		strings.TrimRight(p.cfg.BaseURL, "/"), url.PathEscape(channelID), dir, limit)
	if pivotID != "" {
		endpoint += "&pivot=" + url.QueryEscape(pivotID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return entity.PageResult{}, err
	}
	p.authorize(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return entity.PageResult{}, fmt.Errorf("fetch %s page: %w", dir, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return entity.PageResult{}, fmt.Errorf("fetch %s page: status %d", dir, resp.StatusCode)
	}

	var payload pagePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return entity.PageResult{}, fmt.Errorf("decode page: %w", err)
	}
	return entity.PageResult{
		Messages: payload.Messages,
		AtOldest: payload.AtOldest,
		AtNewest: payload.AtNewest,
	}, nil
}

func (p *WSProvider) Subscribe(channelID string) (<-chan realtime.Event, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextSubID
	p.nextSubID++
	sub := subscriber{channelID: channelID, ch: make(chan realtime.Event, defaultSubscribeBuffer)}
	p.subscribers[id] = sub

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if existing, ok := p.subscribers[id]; ok {
			delete(p.subscribers, id)
			close(existing.ch)
		}
	}
	return sub.ch, cancel
}

func (p *WSProvider) Send(ctx context.Context, channelID, body string) (entity.Message, error) {
	msg := entity.Message{
		ID:        uuid.NewString(),
		UserID:    p.cfg.ViewerID,
		ChannelID: channelID,
		Body:      body,
		CreateAt:  time.Now().UTC(),
		Pending:   true,
	}

	payload, err := json.Marshal(map[string]string{
		"local_id":   msg.ID,
		"channel_id": channelID,
		"body":       body,
	})
	if err != nil {
		return msg, err
	}
	endpoint := fmt.Sprintf("%s/api/channels/%s/messages",
		strings.TrimRight(p.cfg.BaseURL, "/"), url.PathEscape(channelID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return msg, err
	}
	req.Header.Set("Content-Type", "application/json")
	p.authorize(req)

	resp, err := p.client.Do(req)
	if err != nil {
		msg.Failed = true
		return msg, fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg.Failed = true
		return msg, fmt.Errorf("send message: status %d", resp.StatusCode)
	}
	return msg, nil
}

func (p *WSProvider) authorize(req *http.Request) {
	if p.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.Token)
	}
}

// readLoop dials, pumps events into subscriber channels and redials on any
// failure until Close.
func (p *WSProvider) readLoop() {
	log := logging.Component("transport")
	for {
		select {
		case <-p.stop:
			return
		default:
		}

		conn, err := p.dial()
		if err != nil {
			log.Warn().Err(err).Msg("websocket dial failed")
			if !p.sleep(p.cfg.ReconnectInterval) {
				return
			}
			continue
		}
		log.Debug().Str("url", p.wsURL).Msg("websocket connected")

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				log.Warn().Err(err).Msg("websocket read failed")
				_ = conn.Close()
				break
			}
			ev, err := DecodeEvent(data)
			if err != nil {
				// Malformed pushes are dropped; a subsequent fetch
				// reconciles state.
				log.Debug().Err(err).Msg("dropping event")
				continue
			}
			p.fanOut(ev)
		}

		if !p.sleep(p.cfg.ReconnectInterval) {
			return
		}
	}
}

func (p *WSProvider) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: p.cfg.DialTimeout}
	header := http.Header{}
	if p.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+p.cfg.Token)
	}
	conn, resp, err := dialer.Dial(p.wsURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

func (p *WSProvider) sleep(d time.Duration) bool {
	select {
	case <-p.stop:
		return false
	case <-time.After(d):
		return true
	}
}

func (p *WSProvider) fanOut(ev realtime.Event) {
	channelID := eventChannelID(ev)

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sub := range p.subscribers {
		if sub.channelID != "" && channelID != "" && sub.channelID != channelID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// DecodeEvent parses a wire frame and validates the fields each kind
// requires. Events failing validation are rejected, never partially
// applied.
func DecodeEvent(data []byte) (realtime.Event, error) {
	var ev realtime.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return realtime.Event{}, fmt.Errorf("%w: %v", errMalformedEvent, err)
	}
	switch ev.Kind {
	case realtime.KindMessageCreated, realtime.KindMessageUpdated, realtime.KindMessageDeleted:
		if ev.Message == nil || ev.Message.ID == "" || ev.Message.ChannelID == "" {
			return realtime.Event{}, fmt.Errorf("%w: %s without message identity", errMalformedEvent, ev.Kind)
		}
	case realtime.KindTyping:
		if ev.Typing == nil || ev.Typing.UserID == "" || ev.Typing.ChannelID == "" {
			return realtime.Event{}, fmt.Errorf("%w: typing without actor or channel", errMalformedEvent)
		}
	default:
		return realtime.Event{}, fmt.Errorf("%w: unknown kind %q", errMalformedEvent, ev.Kind)
	}
	return ev, nil
}
