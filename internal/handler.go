package internal

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// Handler HTTP 請求處理器
//
// 房間創建走請求/回應式的 HTTP；即時事件走 WebSocket（見 Hub）。
// 靜態資源目錄可選，對應前端頁面的託管
type Handler struct {
	registry  *Registry
	logger    *slog.Logger
	staticDir string
}

// NewHandler 創建 HTTP 處理器
//
// staticDir 為空字串時不提供靜態資源
func NewHandler(registry *Registry, logger *slog.Logger, staticDir string) *Handler {
	return &Handler{
		registry:  registry,
		logger:    logger,
		staticDir: staticDir,
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	mux.HandleFunc("GET /create-room", wrap(h.createRoom))

	// 健康檢查
	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))

	// 靜態資源
	if h.staticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(h.staticDir)))
	}

	return mux
}

// createRoom 創建競標房間
//
// GET /create-room?roomSize=8&expiration=1min&hostName=主持人
//   - roomSize：可選，正整數，未提供時預設 8
//   - expiration：可選，forever / 1min / 5min，未知值視同 forever
//   - hostName：必填，房主名稱
func (h *Handler) createRoom(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	hostName := query.Get("hostName")
	if hostName == "" {
		h.errorResponse(w, "房主名稱不能為空", http.StatusBadRequest)
		return
	}

	capacity := DefaultCapacity
	if size := query.Get("roomSize"); size != "" {
		val, err := strconv.Atoi(size)
		if err != nil || val <= 0 {
			h.errorResponse(w, "房間容量必須是正整數", http.StatusBadRequest)
			return
		}
		capacity = val
	}

	ttl := ParseExpiration(query.Get("expiration"))

	room := h.registry.CreateRoom(capacity, hostName, ttl)

	h.jsonResponse(w, map[string]any{
		"roomId": room.ID,
	}, http.StatusOK)
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
	}, http.StatusOK)
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, h.registry.Stats(), http.StatusOK)
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("編碼 JSON 失敗", "error", err)
	}
}

// errorResponse 返回錯誤響應
func (h *Handler) errorResponse(w http.ResponseWriter, message string, status int) {
	h.jsonResponse(w, map[string]any{
		"error": message,
	}, status)
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// 包裝 ResponseWriter 以獲取狀態碼
		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(ww, r)

		h.logger.Info("HTTP 請求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("處理請求時發生 panic",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)

				h.errorResponse(w, "內部伺服器錯誤", http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
