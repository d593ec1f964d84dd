package internal

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// 系統設計問題：
//   如何把 WebSocket 連接的生命週期與會話狀態機綁在一起？
//
// 核心挑戰：
//   1. 斷線偵測：客戶端異常斷線（網絡故障、瀏覽器崩潰）必須可靠觸發
//      與顯式離開相同的清理
//   2. 心跳機制：Ping/Pong 檢測死連接（54s/60s，錯開常見的 60s 代理超時）
//   3. 並發寫入：gorilla/websocket 一條連接只允許一個寫入者，
//      所有出站事件都經由會話的緩衝通道交給唯一的 writePump
//
// 設計方案：
//   ✅ 每條連接一讀一寫兩個 goroutine（readPump / writePump）
//   ✅ readPump 結束即呼叫 Session.Disconnect - 斷線即清理
//   ✅ writePump 批量送出 + 定時 Ping

const (
	// 寫入單個訊息的期限
	writeWait = 10 * time.Second

	// 讀取超時：超過這個時間沒有任何訊息（包括 Pong）就關閉連接
	pongWait = 60 * time.Second

	// Ping 間隔，必須小於 pongWait
	pingPeriod = 54 * time.Second

	// 入站訊息大小上限
	maxMessageSize = 4 * 1024
)

// Hub WebSocket 連接中心
//
// 負責升級 HTTP 連接、為每條連接創建會話、追蹤存活連接以便關機時收尾。
// 房間與成員狀態完全由 Registry / Room / Session 管理，
// Hub 只擁有傳輸層
type Hub struct {
	registry *Registry
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*Session]*websocket.Conn
}

// NewHub 創建 WebSocket Hub
func NewHub(registry *Registry, logger *slog.Logger) *Hub {
	return &Hub{
		registry: registry,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// 生產環境應該檢查來源
				return true
			},
		},
		conns: make(map[*Session]*websocket.Conn),
	}
}

// ServeWS 處理 WebSocket 連接
//
// 連接建立時會話是 Unjoined 的，加入房間由之後的 joinRoom 事件驅動
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	session := NewSession(h.registry, h.logger)

	h.mu.Lock()
	h.conns[session] = conn
	h.mu.Unlock()

	go h.writePump(session, conn)
	go h.readPump(session, conn)

	h.logger.Info("WebSocket 連接建立", "session_id", session.ID())
}

// readPump 讀取客戶端訊息並交給會話分發
//
// 迴圈結束（正常關閉或異常斷線）時執行斷線清理，
// 這是斷線觸發會話清理的唯一入口
func (h *Hub) readPump(session *Session, conn *websocket.Conn) {
	defer func() {
		session.Disconnect()
		h.forget(session)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		h.logger.Error("設置讀取期限失敗", "error", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket 讀取錯誤",
					"error", err,
					"session_id", session.ID())
			}
			break
		}

		if messageType == websocket.TextMessage {
			session.HandleMessage(message)
		}
	}
}

// writePump 把會話的出站事件寫入連接
//
// 唯一的寫入者：序列化事件、批量送出佇列中的積壓、定時發送 Ping
func (h *Hub) writePump(session *Session, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case event, ok := <-session.Out():
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				h.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				// 會話已終止並關閉通道，優雅關閉連接
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := h.writeEvent(conn, event); err != nil {
				return
			}

			// 批量送出佇列中的事件
			n := len(session.Out())
			for i := 0; i < n; i++ {
				queued, ok := <-session.Out()
				if !ok {
					return
				}
				if err := h.writeEvent(conn, queued); err != nil {
					return
				}
			}

		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				h.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeEvent 序列化並寫入單個事件
func (h *Hub) writeEvent(conn *websocket.Conn, event ServerEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("序列化事件失敗", "error", err, "event", event.Event)
		return nil
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// forget 移除連接追蹤
func (h *Hub) forget(session *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, session)
}

// ConnectionCount 當前存活連接數
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Stop 停止 Hub，關閉所有存活連接
//
// 關閉底層連接會讓各自的 readPump 結束並觸發會話清理
func (h *Hub) Stop() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}

	h.logger.Info("WebSocket Hub 已停止")
}
