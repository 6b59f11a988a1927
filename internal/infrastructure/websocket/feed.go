package websocket

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/pairbot/internal/domain"
	"github.com/betbot/pairbot/internal/metrics"
	"github.com/betbot/pairbot/internal/ports"
)

var log = logrus.WithField("component", "ws-market")

const (
	pingInterval  = 10 * time.Second
	readTimeout   = 30 * time.Second
	writeTimeout  = 5 * time.Second
	reconnectMin  = 2 * time.Second
	reconnectMax  = time.Minute
	ticksCapacity = 1024
)

// MarketFeed CLOB market 频道的价格流，实现 ports.PriceFeed。
// 断线后自动重连并重新订阅当前全部资产。
type MarketFeed struct {
	url      string
	proxyURL string
	now      func() time.Time

	mu     sync.Mutex
	assets map[string]struct{}
	conn   *websocket.Conn

	writeMu sync.Mutex
	ticks   chan domain.PriceTick
}

var _ ports.PriceFeed = (*MarketFeed)(nil)

// NewMarketFeed wsHost 例如 wss://ws-subscriptions-clob.polymarket.com
func NewMarketFeed(wsHost string) *MarketFeed {
	return &MarketFeed{
		url:      strings.TrimSuffix(wsHost, "/") + "/ws/market",
		proxyURL: getProxyFromEnv(),
		now:      time.Now,
		assets:   make(map[string]struct{}),
		ticks:    make(chan domain.PriceTick, ticksCapacity),
	}
}

func (f *MarketFeed) Ticks() <-chan domain.PriceTick { return f.ticks }

func (f *MarketFeed) assetList() []string {
	out := make([]string, 0, len(f.assets))
	for id := range f.assets {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Subscribe 记录资产并在已连接时立即追加订阅
func (f *MarketFeed) Subscribe(_ context.Context, tokenIDs ...string) error {
	f.mu.Lock()
	for _, id := range tokenIDs {
		f.assets[id] = struct{}{}
	}
	conn := f.conn
	f.mu.Unlock()
	if conn == nil || len(tokenIDs) == 0 {
		return nil
	}
	return f.write(conn, map[string]any{"assets_ids": tokenIDs, "operation": "subscribe"})
}

func (f *MarketFeed) Unsubscribe(tokenIDs ...string) error {
	f.mu.Lock()
	for _, id := range tokenIDs {
		delete(f.assets, id)
	}
	conn := f.conn
	f.mu.Unlock()
	if conn == nil || len(tokenIDs) == 0 {
		return nil
	}
	return f.write(conn, map[string]any{"assets_ids": tokenIDs, "operation": "unsubscribe"})
}

func (f *MarketFeed) write(conn *websocket.Conn, v any) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

func (f *MarketFeed) writeText(conn *websocket.Conn, s string) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, []byte(s))
}

func (f *MarketFeed) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 30 * time.Second}
	if f.proxyURL != "" {
		if u, err := url.Parse(f.proxyURL); err == nil {
			dialer.Proxy = http.ProxyURL(u)
		} else {
			log.Warnf("解析代理 URL 失败: %v，直接连接", err)
		}
	}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", f.url)
	}
	return conn, nil
}

// Run 连接并维持行情流直到 ctx 取消
func (f *MarketFeed) Run(ctx context.Context) error {
	backoff := reconnectMin
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := f.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			backoff = reconnectMin
		}
		metrics.FeedReconnect.Add(1)
		log.WithError(err).Warnf("行情连接断开，%s 后重连", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if err != nil {
			backoff = min(backoff*2, reconnectMax)
		}
	}
}

// session 一次连接的完整生命周期。建立连接并读到过数据后返回 nil，连不上返回错误。
func (f *MarketFeed) session(ctx context.Context) error {
	conn, err := f.dial(ctx)
	if err != nil {
		return err
	}
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	defer func() {
		f.mu.Lock()
		f.conn = nil
		f.mu.Unlock()
		_ = conn.Close()
	}()

	// 持锁发送首次订阅，之后的 Subscribe 才会走追加订阅
	f.mu.Lock()
	assets := f.assetList()
	if len(assets) > 0 {
		if err := f.write(conn, map[string]any{"assets_ids": assets, "type": "market"}); err != nil {
			f.mu.Unlock()
			return errors.Wrap(err, "subscribe")
		}
	}
	f.conn = conn
	f.mu.Unlock()
	log.WithField("assets", len(assets)).Info("行情 WebSocket 已连接")

	go func() {
		<-connCtx.Done()
		_ = conn.Close()
	}()
	go f.ping(connCtx, conn, cancel)

	received := false
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if received {
				log.WithError(err).Debug("读取结束")
				return nil
			}
			return errors.Wrap(err, "read")
		}
		received = true
		switch string(msg) {
		case "PONG":
			continue
		case "PING":
			_ = f.writeText(conn, "PONG")
			continue
		}
		f.dispatch(msg)
	}
}

func (f *MarketFeed) ping(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeText(conn, "PING"); err != nil {
				log.Warnf("发送 PING 失败: %v", err)
				cancel()
				return
			}
		}
	}
}

func (f *MarketFeed) dispatch(msg []byte) {
	ticks, err := parseMessage(msg, f.now())
	if err != nil {
		log.Debugf("无法解析的消息: %.200s", msg)
		return
	}
	for _, t := range ticks {
		select {
		case f.ticks <- t:
		default:
			metrics.TicksDropped.Add(1)
		}
	}
}
