package internal

import (
	"sync"
	"time"
)

// 系統設計問題：
//   如何管理競標房間的生命週期，處理並發操作，並即時同步成員變動？
//
// 核心挑戰：
//   1. 容量控制：成員數任何時刻都不得超過房間容量
//   2. 並發控制：加入、踢人、過期清理可能同時發生
//   3. 即時通知：成員變動與出價需要立即廣播給所有訂閱者
//   4. 資源回收：帶存活時間的房間到期後必須通知並清除
//
// 設計方案：
//   ✅ 房間級 RWMutex - 成員變更、訂閱變更、過期關閉共用同一臨界區
//   ✅ 房間擁有廣播通道 - 訂閱集合與成員名單同步變動
//   ✅ closed 旗標 - 關閉冪等，見 Close

// DefaultCapacity 未指定容量時的預設值
const DefaultCapacity = 8

// Room 競標房間
//
// 不變量（都在 Mu 保護下維持）：
//   - len(Members) <= Capacity
//   - 成員名單只透過加入 / 移除路徑變更，保留插入順序
//   - HostName 在創建後不再改變
//
// 成員名稱不要求唯一：重名允許，
// 移除與踢人都採「第一個匹配」語義（見 removeMemberLocked）
type Room struct {
	ID        string // 全域唯一識別碼（uuid v4）
	Capacity  int    // 正整數容量上限
	HostName  string // 房主名稱，唯一擁有踢人權限
	Members   []string
	CreatedAt time.Time
	ExpiresAt *time.Time // nil 表示無限存活

	Mu      sync.RWMutex // 讀寫鎖（並發控制）
	channel *Channel     // 房間擁有的廣播通道
	closed  bool         // 已關閉的房間不再接受任何操作
}

// NewRoom 創建新房間
//
// ttl <= 0 表示無限存活；容量非正數時退回預設值 8
func NewRoom(id, hostName string, capacity int, ttl time.Duration) *Room {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	now := time.Now()
	room := &Room{
		ID:        id,
		Capacity:  capacity,
		HostName:  hostName,
		CreatedAt: now,
		channel:   newChannel(),
	}
	if ttl > 0 {
		expiresAt := now.Add(ttl)
		room.ExpiresAt = &expiresAt
	}
	return room
}

// Channel 取得房間的廣播通道
//
// 呼叫方必須持有房間鎖才能操作回傳的通道
func (r *Room) Channel() *Channel {
	return r.channel
}

// addMemberLocked 追加成員（需要持有寫鎖）
//
// 回傳 false 表示房間已滿或已關閉，名單不變
func (r *Room) addMemberLocked(userName string) bool {
	if r.closed || len(r.Members) >= r.Capacity {
		return false
	}
	r.Members = append(r.Members, userName)
	return true
}

// removeMemberLocked 移除第一個匹配的成員（需要持有寫鎖）
//
// 找不到時是無操作；重名時只移除最先加入的那一個
func (r *Room) removeMemberLocked(userName string) bool {
	for i, name := range r.Members {
		if name == userName {
			r.Members = append(r.Members[:i], r.Members[i+1:]...)
			return true
		}
	}
	return false
}

// MemberNames 取得成員名稱快照（保留插入順序）
func (r *Room) MemberNames() []string {
	r.Mu.RLock()
	defer r.Mu.RUnlock()

	names := make([]string, len(r.Members))
	copy(names, r.Members)
	return names
}

// MemberCount 取得成員數量
func (r *Room) MemberCount() int {
	r.Mu.RLock()
	defer r.Mu.RUnlock()
	return len(r.Members)
}

// HasTTL 房間是否帶存活時間
func (r *Room) HasTTL() bool {
	r.Mu.RLock()
	defer r.Mu.RUnlock()
	return r.ExpiresAt != nil
}

// IsExpired 檢查房間是否過期
//
// 無限存活的房間永不過期；已關閉的房間視為過期
func (r *Room) IsExpired(now time.Time) bool {
	r.Mu.RLock()
	defer r.Mu.RUnlock()

	if r.closed {
		return true
	}
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

// Close 關閉房間並終止所有訂閱會話（冪等）
//
// notify 為 true 時（過期路徑）先向每個訂閱者投遞一次 roomExpired，
// 再強制取消全部訂閱；false 時（服務關機）靜默清理。
// 回傳 false 表示房間已經被其他呼叫關閉，本次無操作；
// 併發的清掃彼此安全，每個訂閱者最多收到一次 roomExpired
func (r *Room) Close(notify bool) bool {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	if r.closed {
		return false
	}
	r.closed = true

	if notify {
		r.channel.Publish(ServerEvent{Event: EventRoomExpired})
	}
	r.channel.drain()
	return true
}
