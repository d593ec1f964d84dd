package internal

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// 系統設計問題：
//   客戶端與服務端之間如何定義即時事件的訊息格式？
//
// 核心挑戰：
//   1. 動態負載：事件負載是動態 JSON，缺少欄位時行為未定義
//   2. 雙向事件：同一條連接上同時承載客戶端請求與服務端通知
//   3. 防禦性解析：惡意或損壞的訊息不能影響其他會話
//
// 設計方案：
//   ✅ 帶標籤的訊息結構 - 每個事件有明確的 schema
//   ✅ validator 必填欄位檢查 - 拒絕缺少欄位的負載
//   ✅ 無效訊息直接丟棄 - 記錄日誌，不回應、不中斷連接

// 客戶端事件名稱
const (
	EventJoinRoom       = "joinRoom"
	EventPlaceBid       = "placeBid"
	EventKickUser       = "kickUser"
	EventGetUsersInRoom = "getUsersInRoom"
)

// 服務端事件名稱
const (
	EventRoomNotFound  = "roomNotFound"
	EventRoomFull      = "roomFull"
	EventUserJoined    = "userJoined"
	EventNewBid        = "newBid"
	EventUserKicked    = "userKicked"
	EventNotAuthorized = "notAuthorized"
	EventCurrentUsers  = "currentUsers"
	EventUserLeft      = "userLeft"
	EventRoomExpired   = "roomExpired"
)

// ClientMessage 客戶端入站訊息的外層封包
//
// 格式：{"event": "joinRoom", "data": {...}}
// data 延遲解析（json.RawMessage），由各事件的負載結構解碼
type ClientMessage struct {
	Event string          `json:"event" validate:"required"`
	Data  json.RawMessage `json:"data"`
}

// ServerEvent 服務端出站事件
type ServerEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// JoinRoomPayload joinRoom 事件負載
type JoinRoomPayload struct {
	RoomID   string `json:"roomId" validate:"required"`
	UserName string `json:"userName" validate:"required"`
}

// PlaceBidPayload placeBid 事件負載
//
// bid 的值不做任何業務驗證（金額、單調性都不在範圍內），
// 保留原始 JSON 原樣轉發
type PlaceBidPayload struct {
	Bid    json.RawMessage `json:"bid" validate:"required"`
	Player string          `json:"player" validate:"required"`
}

// KickUserPayload kickUser 事件負載
type KickUserPayload struct {
	UserToKick string `json:"userToKick" validate:"required"`
}

// UserNamePayload userJoined / userLeft 事件負載
type UserNamePayload struct {
	UserName string `json:"userName"`
}

// NewBidPayload newBid 廣播負載：原始出價加上會話綁定的使用者名稱
type NewBidPayload struct {
	Bid      json.RawMessage `json:"bid"`
	Player   string          `json:"player"`
	UserName string          `json:"userName"`
}

// UserKickedPayload userKicked 廣播負載
type UserKickedPayload struct {
	UserToKick string `json:"userToKick"`
}

// RoomMember currentUsers 回應中的單個成員
type RoomMember struct {
	UserName string `json:"userName"`
}

// validate 共用的驗證器實例（validator 自身是併發安全的）
var validate = validator.New()

// decodePayload 解碼並驗證事件負載
//
// 缺少 data、JSON 格式錯誤、必填欄位缺失都視為無效訊息，
// 由呼叫方決定丟棄策略
func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("缺少事件負載")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("解析事件負載失敗: %w", err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("事件負載驗證失敗: %w", err)
	}
	return nil
}
