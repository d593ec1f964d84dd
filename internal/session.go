package internal

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// 系統設計問題：
//   如何把一條即時連接上鬆散的事件回呼，收斂成可窮舉測試的狀態機？
//
// 核心挑戰：
//   1. 綁定唯一性：一個會話最多綁定一個 (roomId, userName)，且只綁定一次
//   2. 跨執行緒終止：踢出與過期由別的連接觸發，斷線則由自己的讀取端偵測
//   3. 通知責任：每條移除路徑（離開、踢出、過期）都必須保證
//      「取消訂閱 + 移除成員 + 發出對應通知」三件事齊備
//
// 設計方案：
//   ✅ 顯式狀態機 Unjoined → Joined → Terminated（Terminated 為吸收態）
//   ✅ 單一入站分發點 HandleMessage - 取代各事件各自註冊回呼
//   ✅ 房間鎖內完成訂閱與成員變更 - 會話鎖只保護自身綁定

// SessionState 會話狀態
type SessionState string

const (
	StateUnjoined   SessionState = "unjoined"   // 初始：尚未加入任何房間
	StateJoined     SessionState = "joined"     // 已綁定 (roomId, userName)
	StateTerminated SessionState = "terminated" // 吸收態：不再處理任何事件
)

// sessionBufferSize 出站事件緩衝（應對突發廣播）
const sessionBufferSize = 256

// Session 連接會話
//
// 每條傳輸連接恰好一個會話，由該連接獨佔。
// 鎖的順序固定為 Room.Mu → Session.mu，反向取鎖不允許
type Session struct {
	id       string
	registry *Registry
	guard    Guard
	logger   *slog.Logger

	out       chan ServerEvent
	closeOnce sync.Once

	mu       sync.Mutex
	state    SessionState
	roomID   string
	userName string
}

// NewSession 創建會話（初始狀態 Unjoined）
func NewSession(registry *Registry, logger *slog.Logger) *Session {
	return &Session{
		id:       uuid.NewString(),
		registry: registry,
		logger:   logger,
		out:      make(chan ServerEvent, sessionBufferSize),
		state:    StateUnjoined,
	}
}

// ID 會話識別碼（僅用於日誌）
func (s *Session) ID() string {
	return s.id
}

// State 當前狀態
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UserName 綁定的使用者名稱（未加入時為空字串）
func (s *Session) UserName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userName
}

// Out 出站事件通道，由寫入端（writePump 或測試）消費
func (s *Session) Out() <-chan ServerEvent {
	return s.out
}

// HandleMessage 入站訊息分發
//
// 無法解析或驗證失敗的訊息記錄後丟棄，不回應、不中斷連接
func (s *Session) HandleMessage(raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.logger.Warn("解析客戶端訊息失敗", "session_id", s.id, "error", err)
		return
	}
	if err := validate.Struct(&msg); err != nil {
		s.logger.Warn("客戶端訊息缺少事件名稱", "session_id", s.id)
		return
	}

	switch msg.Event {
	case EventJoinRoom:
		var p JoinRoomPayload
		if err := decodePayload(msg.Data, &p); err != nil {
			s.logger.Warn("joinRoom 負載無效", "session_id", s.id, "error", err)
			return
		}
		s.Join(p.RoomID, p.UserName)

	case EventPlaceBid:
		var p PlaceBidPayload
		if err := decodePayload(msg.Data, &p); err != nil {
			s.logger.Warn("placeBid 負載無效", "session_id", s.id, "error", err)
			return
		}
		s.PlaceBid(p)

	case EventKickUser:
		var p KickUserPayload
		if err := decodePayload(msg.Data, &p); err != nil {
			s.logger.Warn("kickUser 負載無效", "session_id", s.id, "error", err)
			return
		}
		s.KickUser(p.UserToKick)

	case EventGetUsersInRoom:
		// 無負載事件
		s.ListUsers()

	default:
		s.logger.Debug("收到未知事件", "session_id", s.id, "event", msg.Event)
	}
}

// Join 加入房間（Unjoined → Joined）
//
// 流程：先清掃過期房間，再查找與容量檢查。
// 失敗結果（roomNotFound / roomFull）只投遞給請求者；
// 成功時廣播 userJoined 給包含自己在內的所有訂閱者，
// 加入者以此確認自己已入場
func (s *Session) Join(roomID, userName string) {
	s.mu.Lock()
	if s.state != StateUnjoined {
		state := s.state
		s.mu.Unlock()
		s.logger.Warn("忽略重複的 joinRoom",
			"session_id", s.id,
			"state", state)
		return
	}
	s.mu.Unlock()

	// 加入前必須清掃，確保過期房間回覆 roomNotFound 而非被加入
	s.registry.Sweep()

	room, err := s.registry.GetRoom(roomID)
	if err != nil {
		s.deliver(ServerEvent{Event: EventRoomNotFound})
		return
	}

	room.Mu.Lock()
	if !room.addMemberLocked(userName) {
		closed := room.closed
		room.Mu.Unlock()
		if closed {
			// 與清掃競態：房間剛被關閉，等同不存在
			s.deliver(ServerEvent{Event: EventRoomNotFound})
		} else {
			s.deliver(ServerEvent{Event: EventRoomFull})
		}
		return
	}

	s.mu.Lock()
	s.state = StateJoined
	s.roomID = roomID
	s.userName = userName
	s.mu.Unlock()

	room.channel.Subscribe(s)
	room.channel.Publish(ServerEvent{
		Event: EventUserJoined,
		Data:  UserNamePayload{UserName: userName},
	})
	room.Mu.Unlock()

	s.logger.Info("會話加入房間",
		"session_id", s.id,
		"room_id", roomID,
		"user_name", userName)
}

// PlaceBid 轉發出價（僅 Joined 狀態）
//
// 出價內容原樣轉發，只附加會話綁定的使用者名稱；
// 廣播給包含出價者在內的所有訂閱者
func (s *Session) PlaceBid(p PlaceBidPayload) {
	s.mu.Lock()
	if s.state != StateJoined {
		s.mu.Unlock()
		return
	}
	roomID, userName := s.roomID, s.userName
	s.mu.Unlock()

	room, err := s.registry.GetRoom(roomID)
	if err != nil {
		// 房間已被清掃，事件丟棄
		return
	}

	room.Mu.RLock()
	room.channel.Publish(ServerEvent{
		Event: EventNewBid,
		Data: NewBidPayload{
			Bid:      p.Bid,
			Player:   p.Player,
			UserName: userName,
		},
	})
	room.Mu.RUnlock()
}

// KickUser 請求踢出成員（僅 Joined 狀態）
//
// 授權失敗：只向請求者投遞 notAuthorized，無任何狀態變更。
// 授權成功：尋找同房間內綁定該名稱的 Joined 會話，
// 走踢出路徑終止它；找不到時是靜默無操作。
// userKicked 廣播給剩餘訂閱者，不包含被踢出的會話
func (s *Session) KickUser(userToKick string) {
	s.mu.Lock()
	if s.state != StateJoined {
		s.mu.Unlock()
		return
	}
	roomID, requester := s.roomID, s.userName
	s.mu.Unlock()

	room, err := s.registry.GetRoom(roomID)
	if err != nil {
		return
	}

	room.Mu.Lock()
	if !s.guard.CanKick(room, requester) {
		room.Mu.Unlock()
		s.deliver(ServerEvent{Event: EventNotAuthorized})
		return
	}

	target := room.channel.findJoined(userToKick)
	if target == nil {
		room.Mu.Unlock()
		return
	}

	room.channel.Unsubscribe(target)
	target.terminate()
	room.removeMemberLocked(userToKick)
	room.channel.Publish(ServerEvent{
		Event: EventUserKicked,
		Data:  UserKickedPayload{UserToKick: userToKick},
	})
	room.Mu.Unlock()

	s.logger.Info("成員被踢出",
		"room_id", roomID,
		"requester", requester,
		"user_to_kick", userToKick)
}

// ListUsers 回應成員名單（僅 Joined 狀態）
//
// currentUsers 是點對點回應，只投遞給請求者，保留插入順序
func (s *Session) ListUsers() {
	s.mu.Lock()
	if s.state != StateJoined {
		s.mu.Unlock()
		return
	}
	roomID := s.roomID
	s.mu.Unlock()

	room, err := s.registry.GetRoom(roomID)
	if err != nil {
		return
	}

	members := lo.Map(room.MemberNames(), func(name string, _ int) RoomMember {
		return RoomMember{UserName: name}
	})
	s.deliver(ServerEvent{Event: EventCurrentUsers, Data: members})
}

// Disconnect 連接終止時的清理（任何狀態 → Terminated）
//
// 斷線由讀取端異步偵測，但必須觸發與顯式離開完全相同的清理：
// 取消訂閱、移除成員、向剩餘訂閱者廣播 userLeft（不含離開者）。
// 若會話已被踢出或房間已過期（訂閱早已取消），這裡是無操作，
// 不會產生第二次移除或多餘的通知
func (s *Session) Disconnect() {
	s.mu.Lock()
	state, roomID, userName := s.state, s.roomID, s.userName
	if state != StateJoined {
		s.state = StateTerminated
		s.mu.Unlock()
		s.closeOut()
		return
	}
	s.mu.Unlock()

	if room, err := s.registry.GetRoom(roomID); err == nil {
		room.Mu.Lock()
		if room.channel.Unsubscribe(s) {
			s.terminate()
			room.removeMemberLocked(userName)
			room.channel.Publish(ServerEvent{
				Event: EventUserLeft,
				Data:  UserNamePayload{UserName: userName},
			})
		} else {
			// 已被踢出：成員移除與通知當時已完成
			s.terminate()
		}
		room.Mu.Unlock()
	} else {
		s.terminate()
	}
	s.closeOut()

	s.logger.Info("會話已斷開",
		"session_id", s.id,
		"room_id", roomID,
		"user_name", userName)
}

// deliver 投遞出站事件（非阻塞）
//
// 緩衝區滿時丟棄並記錄，避免慢消費者阻塞房間臨界區
func (s *Session) deliver(event ServerEvent) {
	select {
	case s.out <- event:
	default:
		s.logger.Warn("會話出站緩衝區已滿，丟棄事件",
			"session_id", s.id,
			"event", event.Event)
	}
}

// terminate 標記為吸收態（可能由踢出或過期路徑跨執行緒呼叫）
func (s *Session) terminate() {
	s.mu.Lock()
	s.state = StateTerminated
	s.mu.Unlock()
}

// isJoinedAs 是否為綁定到指定名稱的 Joined 會話
func (s *Session) isJoinedAs(userName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateJoined && s.userName == userName
}

// closeOut 關閉出站通道（只會發生一次，通知寫入端收尾）
func (s *Session) closeOut() {
	s.closeOnce.Do(func() {
		close(s.out)
	})
}
