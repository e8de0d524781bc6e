package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"polyarb-go/internal/signal"
)

const (
	rtdsDefaultURL   = "wss://ws-live-data.polymarket.com"
	rtdsChainlinkTop = "crypto_prices_chainlink"
)

type rtdsSubscription struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Filters string `json:"filters,omitempty"`
}

type rtdsSubscribe struct {
	Action        string             `json:"action"`
	Subscriptions []rtdsSubscription `json:"subscriptions"`
}

type rtdsMessage struct {
	Topic     string          `json:"topic"`
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

type rtdsPrice struct {
	Symbol    string          `json:"symbol"`
	Timestamp int64           `json:"timestamp"`
	Value     decimal.Decimal `json:"value"`
}

func (f *Feed) runRTDS(ctx context.Context, out chan<- signal.PriceObservation) error {
	if f.symbol == "" {
		return fmt.Errorf("rtds feed requires a symbol")
	}
	url := f.url
	if url == "" {
		url = rtdsDefaultURL
	}
	return f.reconnect(ctx, func(ctx context.Context) error {
		return f.consumeRTDS(ctx, url, out)
	})
}

func (f *Feed) rtdsSubscribeRequest() ([]byte, error) {
	filter, err := json.Marshal(map[string]string{"symbol": strings.ToLower(f.symbol)})
	if err != nil {
		return nil, err
	}
	return json.Marshal(rtdsSubscribe{
		Action: "subscribe",
		Subscriptions: []rtdsSubscription{{
			Topic:   rtdsChainlinkTop,
			Type:    "*",
			Filters: string(filter),
		}},
	})
}

func (f *Feed) consumeRTDS(ctx context.Context, url string, out chan<- signal.PriceObservation) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("rtds dial: %w", err)
	}
	defer conn.Close()

	req, err := f.rtdsSubscribeRequest()
	if err != nil {
		return fmt.Errorf("rtds subscribe marshal: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		return fmt.Errorf("rtds subscribe write: %w", err)
	}
	f.log.Info().Str("provider", ProviderRTDS).Str("symbol", f.symbol).Msg("connected market data feed")

	var writeMu sync.Mutex
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		ticker := time.NewTicker(f.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sessionCtx.Done():
				_ = conn.Close()
				return
			case <-ticker.C:
				writeMu.Lock()
				_ = conn.SetWriteDeadline(time.Now().Add(3 * time.Second))
				werr := conn.WriteMessage(websocket.TextMessage, []byte("ping"))
				writeMu.Unlock()
				if werr != nil {
					f.log.Warn().Err(werr).Msg("rtds ping failed")
					_ = conn.Close()
					return
				}
			}
		}
	}()

	for {
		typ, msg, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrCloseSent) || ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("rtds read: %w", err)
		}
		if typ != websocket.TextMessage && typ != websocket.BinaryMessage {
			continue
		}
		obs, ok, err := f.decodeRTDS(msg)
		if err != nil {
			f.log.Warn().Err(err).Msg("failed to decode rtds message")
			continue
		}
		if !ok {
			continue
		}
		if err := f.emit(ctx, out, obs); err != nil {
			return err
		}
	}
}

// decodeRTDS returns ok=false for heartbeats and messages for other topics or symbols.
func (f *Feed) decodeRTDS(msg []byte) (signal.PriceObservation, bool, error) {
	text := strings.TrimSpace(string(msg))
	if text == "" || text == "ping" || text == "pong" {
		return signal.PriceObservation{}, false, nil
	}
	var m rtdsMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return signal.PriceObservation{}, false, err
	}
	if m.Topic != rtdsChainlinkTop || len(m.Payload) == 0 {
		return signal.PriceObservation{}, false, nil
	}
	var px rtdsPrice
	if err := json.Unmarshal(m.Payload, &px); err != nil {
		return signal.PriceObservation{}, false, err
	}
	if !strings.EqualFold(px.Symbol, f.symbol) {
		return signal.PriceObservation{}, false, nil
	}
	if !px.Value.IsPositive() {
		return signal.PriceObservation{}, false, fmt.Errorf("non-positive price %s", px.Value)
	}
	ts := px.Timestamp
	if ts == 0 {
		ts = m.Timestamp
	}
	observed := time.Now()
	if ts > 0 {
		observed = time.UnixMilli(ts)
	}
	return signal.PriceObservation{Price: px.Value, Source: f.source, ObservedAt: observed}, true, nil
}
