package broker

import (
	"encoding/json"
	"sync"

	"hkwarrant/internal/core"
	"hkwarrant/pkg/websocket"
)

// pushEnvelope is the wire shape of one push message: a discriminated
// union keyed by Type, carrying exactly one of the three payloads
// (spec §4.13's quote/candlestick/order-changed push feeds).
type pushEnvelope struct {
	Type         string                  `json:"type"`
	Quote        *core.Quote             `json:"quote,omitempty"`
	Candle       *core.Candle            `json:"candle,omitempty"`
	OrderChanged *core.OrderChangedEvent `json:"order_changed,omitempty"`
}

const (
	pushTypeQuote        = "quote"
	pushTypeCandlestick  = "candlestick"
	pushTypeOrderChanged = "order_changed"
)

// PushFeed is a gorilla/websocket-backed receiver for broker push
// traffic. It owns no REST surface of its own; a live broker client
// embeds *PushFeed to pick up OnQuotePush/OnCandlestickPush/
// OnOrderChanged for free, satisfying the push half of
// core.IBrokerQuoteClient/IBrokerTradeClient while the embedding type
// supplies the request/response half over its own transport.
type PushFeed struct {
	ws *websocket.Client

	mu              sync.Mutex
	quoteCallbacks  []func(*core.Quote)
	candleCallbacks []func(core.Candle)
	orderCallbacks  []func(core.OrderChangedEvent)

	logger core.ILogger
}

// NewPushFeed dials url lazily (on Start) and dispatches every decoded
// push message to whichever callbacks are registered for its type.
func NewPushFeed(url string, logger core.ILogger) *PushFeed {
	f := &PushFeed{logger: logger}
	f.ws = websocket.NewClient(url, f.handleMessage, logger)
	return f
}

// Start connects and begins dispatching push messages in the background.
func (f *PushFeed) Start() { f.ws.Start() }

// Stop closes the connection and waits for the read loop to exit.
func (f *PushFeed) Stop() { f.ws.Stop() }

// OnQuotePush registers cb to run for every decoded quote push, mirroring
// core.IBrokerQuoteClient's push registration method.
func (f *PushFeed) OnQuotePush(cb func(*core.Quote)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quoteCallbacks = append(f.quoteCallbacks, cb)
}

// OnCandlestickPush registers cb to run for every decoded candlestick
// push, mirroring core.IBrokerQuoteClient's push registration method.
func (f *PushFeed) OnCandlestickPush(cb func(core.Candle)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candleCallbacks = append(f.candleCallbacks, cb)
}

// OnOrderChanged registers cb to run for every decoded order-changed
// push, mirroring core.IBrokerTradeClient's push registration method.
func (f *PushFeed) OnOrderChanged(cb func(core.OrderChangedEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orderCallbacks = append(f.orderCallbacks, cb)
}

// handleMessage is the websocket.MessageHandler: decode the envelope and
// fan it out to every callback registered for its type. Malformed or
// unrecognized messages are logged and dropped rather than crashing the
// read loop.
func (f *PushFeed) handleMessage(raw []byte) {
	var env pushEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if f.logger != nil {
			f.logger.Error("push feed: malformed message", "error", err)
		}
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch env.Type {
	case pushTypeQuote:
		if env.Quote == nil {
			return
		}
		for _, cb := range f.quoteCallbacks {
			cb(env.Quote)
		}
	case pushTypeCandlestick:
		if env.Candle == nil {
			return
		}
		for _, cb := range f.candleCallbacks {
			cb(*env.Candle)
		}
	case pushTypeOrderChanged:
		if env.OrderChanged == nil {
			return
		}
		for _, cb := range f.orderCallbacks {
			cb(*env.OrderChanged)
		}
	default:
		if f.logger != nil {
			f.logger.Warn("push feed: unrecognized message type", "type", env.Type)
		}
	}
}
