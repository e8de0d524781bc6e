package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"polyarb-go/internal/signal"
)

const binanceStreamBase = "wss://stream.binance.com:9443/stream?streams="

type binanceEnvelope struct {
	Stream string       `json:"stream"`
	Data   binanceTrade `json:"data"`
}

type binanceTrade struct {
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
}

func (f *Feed) runBinance(ctx context.Context, out chan<- signal.PriceObservation) error {
	if f.symbol == "" {
		return fmt.Errorf("binance feed requires a symbol")
	}
	url := f.url
	if url == "" {
		url = binanceStreamBase + strings.ToLower(f.symbol) + "@trade"
	}
	return f.reconnect(ctx, func(ctx context.Context) error {
		return f.consumeBinanceStream(ctx, url, out)
	})
}

func (f *Feed) consumeBinanceStream(ctx context.Context, url string, out chan<- signal.PriceObservation) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	f.log.Info().Str("provider", ProviderBinance).Str("symbol", f.symbol).Msg("connected market data feed")

	readWindow := 2 * f.pingInterval
	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(readWindow))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readWindow))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(f.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					f.log.Warn().Err(err).Msg("binance ping failed")
					return
				}
			case <-pingCtx.Done():
				_ = conn.Close()
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		conn.SetReadDeadline(time.Now().Add(readWindow))

		obs, err := f.decodeBinance(message)
		if err != nil {
			f.log.Warn().Err(err).Msg("failed to decode binance message")
			continue
		}
		if err := f.emit(ctx, out, obs); err != nil {
			return err
		}
	}
}

func (f *Feed) decodeBinance(message []byte) (signal.PriceObservation, error) {
	var env binanceEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		return signal.PriceObservation{}, err
	}
	if env.Stream != "" && parseBinanceSymbol(env.Stream) != strings.ToUpper(f.symbol) {
		return signal.PriceObservation{}, fmt.Errorf("unexpected stream %q", env.Stream)
	}
	px, err := decimal.NewFromString(env.Data.Price)
	if err != nil {
		return signal.PriceObservation{}, fmt.Errorf("invalid price %q: %w", env.Data.Price, err)
	}
	if !px.IsPositive() {
		return signal.PriceObservation{}, fmt.Errorf("non-positive price %s", px)
	}
	ts := time.Now()
	if env.Data.TradeTime > 0 {
		ts = time.UnixMilli(env.Data.TradeTime)
	}
	return signal.PriceObservation{Price: px, Source: f.source, ObservedAt: ts}, nil
}

func parseBinanceSymbol(stream string) string {
	parts := strings.Split(stream, "@")
	if len(parts) == 0 || parts[0] == "" {
		return strings.ToUpper(stream)
	}
	return strings.ToUpper(parts[0])
}
