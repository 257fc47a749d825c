package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/llmflow/api"
	"github.com/BaSui01/llmflow/envelope"
)

// =============================================================================
// 📡 EventHub — 终态化调用事件的 WebSocket 广播枢纽
// =============================================================================

// subscriberBuffer 是每个订阅者的待发队列长度。慢订阅者队列满后
// 丢弃事件而不阻塞调用路径。
const subscriberBuffer = 16

// eventWriteTimeout 是单条事件写入连接的上限。
const eventWriteTimeout = 5 * time.Second

// EventHub 把每条终态化的调用记录广播给所有 WebSocket 订阅者。
// 它实现 envelope.Sink, 挂在调用信封的记录落盘路径上; 事件流是
// 尽力而为的, 任何订阅者的堆积或断开都不影响调用本身。
type EventHub struct {
	logger     *zap.Logger
	acceptOpts *websocket.AcceptOptions

	mu     sync.Mutex
	subs   map[chan []byte]struct{}
	closed bool
}

// NewEventHub 创建事件枢纽。allowedOrigin 为空时仅接受同源握手。
func NewEventHub(logger *zap.Logger, allowedOrigin string) *EventHub {
	opts := &websocket.AcceptOptions{}
	if allowedOrigin != "" {
		// AcceptOptions 按 host 匹配, 配置里是完整 origin, 剥掉 scheme
		pattern := allowedOrigin
		if u, err := url.Parse(allowedOrigin); err == nil && u.Host != "" {
			pattern = u.Host
		}
		opts.OriginPatterns = []string{pattern}
	}
	return &EventHub{
		logger:     logger,
		acceptOpts: opts,
		subs:       make(map[chan []byte]struct{}),
	}
}

// Append 实现 envelope.Sink。把终态化记录编码为调用事件并广播;
// 永远返回 nil, 事件流的失败不回流到调用方。
func (h *EventHub) Append(ctx context.Context, rec *envelope.CallRecord) error {
	h.mu.Lock()
	if h.closed || len(h.subs) == 0 {
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	event := api.CallEvent{
		Type:      "call_record",
		Record:    toEventView(rec),
		Timestamp: time.Now(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn("failed to encode call event", zap.Error(err))
		return nil
	}

	dropped := 0
	h.mu.Lock()
	for sub := range h.subs {
		select {
		case sub <- data:
		default:
			dropped++
		}
	}
	h.mu.Unlock()

	if dropped > 0 {
		h.logger.Debug("dropped call events for slow subscribers",
			zap.Int("dropped", dropped),
			zap.String("call_id", rec.ID),
		)
	}
	return nil
}

// Subscribers 返回当前订阅者数量。
func (h *EventHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close 断开所有订阅者并拒绝新的握手。
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		close(sub)
	}
	h.subs = make(map[chan []byte]struct{})
}

func (h *EventHub) subscribe() (chan []byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	ch := make(chan []byte, subscriberBuffer)
	h.subs[ch] = struct{}{}
	return ch, true
}

func (h *EventHub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

// =============================================================================
// 🌐 WebSocket 处理器
// =============================================================================

// HandleEvents 升级连接并持续推送终态化调用事件
// @Summary 订阅调用事件流
// @Description 升级为 WebSocket 连接, 每当一次调用终态化, 推送一条 call_record 事件
// @Tags events
// @Success 101 {object} api.CallEvent "切换协议后按事件推送"
// @Router /ws/events [get]
func (h *EventHub) HandleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, h.acceptOpts)
	if err != nil {
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	sub, ok := h.subscribe()
	if !ok {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.unsubscribe(sub)

	h.logger.Debug("event subscriber connected", zap.String("remote_addr", r.RemoteAddr))

	// 不期望客户端发消息; CloseRead 在对端关闭或协议错误时取消 ctx
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case data, ok := <-sub:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if err := h.writeEvent(ctx, conn, data); err != nil {
				h.logger.Debug("event write failed, dropping subscriber", zap.Error(err))
				return
			}
		}
	}
}

func (h *EventHub) writeEvent(ctx context.Context, conn *websocket.Conn, data []byte) error {
	wctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}

// toEventView 把信封记录投影成对外的事件视图。
func toEventView(rec *envelope.CallRecord) api.CallRecordView {
	return api.CallRecordView{
		CallID:           rec.ID,
		Endpoint:         rec.Endpoint,
		Model:            rec.Model,
		Outcome:          string(rec.Outcome),
		Attempts:         len(rec.Attempts),
		PromptTokens:     rec.PromptTokens,
		CompletionTokens: rec.CompletionTokens,
		TotalTokens:      rec.TotalTokens,
		Cost:             rec.Cost,
		ScopeChain:       rec.ScopeChain,
		StartedAt:        rec.StartedAt,
		FinishedAt:       rec.FinishedAt,
		DurationMS:       rec.Duration().Milliseconds(),
	}
}
