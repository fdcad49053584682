package stream

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("module", "stream")

const defaultWSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

// PriceHandler 收到最新成交价时的回调
type PriceHandler func(marketID, tokenID string, price float64)

// MarketStream 市场价格 WebSocket 客户端。信号驱动重连：
// 读失败或 PING 失败向 reconnectC 发信号，由重连器统一处理。
type MarketStream struct {
	url      string
	tokenIDs []string

	mu     sync.RWMutex
	conn   *websocket.Conn
	closed bool

	reconnectC     chan struct{}
	reconnectDelay time.Duration
	handlers       []PriceHandler
}

func NewMarketStream(url string, tokenIDs []string) *MarketStream {
	if url == "" {
		url = defaultWSURL
	}
	return &MarketStream{
		url:            url,
		tokenIDs:       tokenIDs,
		reconnectC:     make(chan struct{}, 1),
		reconnectDelay: 5 * time.Second,
	}
}

// OnPrice 注册价格回调。Connect 之前调用。
func (m *MarketStream) OnPrice(h PriceHandler) {
	m.handlers = append(m.handlers, h)
}

// SetTokens 替换订阅的 token 列表，下次重连生效
func (m *MarketStream) SetTokens(tokenIDs []string) {
	m.mu.Lock()
	m.tokenIDs = tokenIDs
	m.mu.Unlock()
	m.requestReconnect()
}

// Connect 建立连接并启动读循环、PING 循环与重连器
func (m *MarketStream) Connect(ctx context.Context) error {
	if err := m.dial(); err != nil {
		return err
	}
	go m.reconnector(ctx)
	go m.readLoop(ctx)
	go m.pingLoop(ctx)
	return nil
}

func (m *MarketStream) dial() error {
	dialer := websocket.Dialer{HandshakeTimeout: 30 * time.Second}
	conn, _, err := dialer.Dial(m.url, nil)
	if err != nil {
		return errors.Wrap(err, "连接 WebSocket 失败")
	}

	m.mu.Lock()
	if m.conn != nil {
		m.conn.Close()
	}
	m.conn = conn
	m.closed = false
	tokens := m.tokenIDs
	m.mu.Unlock()

	sub := map[string]any{"type": "market", "assets_ids": tokens}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return errors.Wrap(err, "订阅失败")
	}
	log.Infof("市场价格流已连接，订阅 %d 个 token", len(tokens))
	return nil
}

func (m *MarketStream) requestReconnect() {
	select {
	case m.reconnectC <- struct{}{}:
	default:
		// 已有待处理的重连信号
	}
}

func (m *MarketStream) reconnector(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.reconnectC:
			log.Warnf("收到重连信号，冷却 %v...", m.reconnectDelay)
			time.Sleep(m.reconnectDelay)
			if err := m.dial(); err != nil {
				log.Warnf("重连失败: %v，将再次尝试", err)
				m.requestReconnect()
				continue
			}
			go m.readLoop(ctx)
		}
	}
}

// wsEvent 市场频道推送的事件（只取需要的字段）
type wsEvent struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Price     string `json:"price"`
}

func (m *MarketStream) readLoop(ctx context.Context) {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil {
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warnf("读取消息失败: %v，触发重连", err)
			m.requestReconnect()
			return
		}
		m.dispatch(data)
	}
}

func (m *MarketStream) dispatch(data []byte) {
	// PONG 等非 JSON 消息直接忽略
	if len(data) == 0 || (data[0] != '{' && data[0] != '[') {
		return
	}

	var evts []wsEvent
	if data[0] == '[' {
		if err := json.Unmarshal(data, &evts); err != nil {
			return
		}
	} else {
		var evt wsEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return
		}
		evts = append(evts, evt)
	}

	for _, evt := range evts {
		if evt.EventType != "last_trade_price" {
			continue
		}
		price, err := strconv.ParseFloat(evt.Price, 64)
		if err != nil || price <= 0 {
			continue
		}
		for _, h := range m.handlers {
			h(evt.Market, evt.AssetID, price)
		}
	}
}

func (m *MarketStream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.RLock()
			conn := m.conn
			closed := m.closed
			m.mu.RUnlock()
			if closed || conn == nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte("PING")); err != nil {
				log.Warnf("发送 PING 失败: %v，触发重连", err)
				m.requestReconnect()
			}
		}
	}
}

// Close 关闭连接，停止重连
func (m *MarketStream) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
}
