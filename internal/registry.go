package internal

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// 房間存活時間選項（對應 create-room 的 expiration 參數）
const (
	ExpirationForever = "forever"
	ExpirationOneMin  = "1min"
	ExpirationFiveMin = "5min"
)

// ParseExpiration 將存活時間選項轉為 TTL
//
// 未知的選項視同 forever（回傳 0）
func ParseExpiration(option string) time.Duration {
	switch option {
	case ExpirationOneMin:
		return 1 * time.Minute
	case ExpirationFiveMin:
		return 5 * time.Minute
	default:
		return 0
	}
}

// Registry 房間註冊表
//
// 系統設計考量：
//
//  1. 生命週期範圍：註冊表由 main 顯式構建並注入所有元件，
//     不存在進程級的全域房間表
//
//  2. 鎖的層次：註冊表鎖只保護 rooms map 本身；
//     房間內部狀態由各房間自己的鎖保護。
//     清掃時先在註冊表讀鎖下取快照，再逐房間關閉，
//     避免持有註冊表鎖時等待房間鎖
//
//  3. 清掃時機：每次加入請求前內聯執行一次（確保過期房間不可被加入），
//     另有定時器在背景補掃，避免無人加入時過期房間長期滯留
type Registry struct {
	rooms  map[string]*Room
	mu     sync.RWMutex
	logger *slog.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRegistry 創建房間註冊表並啟動背景清掃
func NewRegistry(logger *slog.Logger, sweepInterval time.Duration) *Registry {
	r := &Registry{
		rooms:  make(map[string]*Room),
		logger: logger,
		stopCh: make(chan struct{}),
	}

	r.wg.Add(1)
	go r.sweepLoop(sweepInterval)

	return r
}

// CreateRoom 創建房間
//
// 正常輸入下不會失敗：容量非正數退回預設值 8，
// ttl <= 0 表示無限存活
func (reg *Registry) CreateRoom(capacity int, hostName string, ttl time.Duration) *Room {
	room := NewRoom(uuid.NewString(), hostName, capacity, ttl)

	reg.mu.Lock()
	reg.rooms[room.ID] = room
	reg.mu.Unlock()

	reg.logger.Info("房間已創建",
		"room_id", room.ID,
		"capacity", room.Capacity,
		"host_name", hostName,
		"expires_at", room.ExpiresAt)

	return room
}

// GetRoom 獲取房間
func (reg *Registry) GetRoom(roomID string) (*Room, error) {
	reg.mu.RLock()
	room, exists := reg.rooms[roomID]
	reg.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("房間不存在: %s", roomID)
	}
	return room, nil
}

// DeleteRoom 移除房間（冪等）
func (reg *Registry) DeleteRoom(roomID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.rooms, roomID)
}

// Sweep 清掃過期房間
//
// 對每個到期的房間：向所有訂閱中的會話投遞一次 roomExpired、
// 強制取消全部訂閱，然後從註冊表移除。
// 冪等且可與加入操作併發：Room.Close 的 closed 旗標保證
// 同一個房間只被實際關閉一次，之後的加入會看到房間已不存在
func (reg *Registry) Sweep() {
	now := time.Now()

	reg.mu.RLock()
	expired := make([]*Room, 0)
	for _, room := range reg.rooms {
		if room.IsExpired(now) {
			expired = append(expired, room)
		}
	}
	reg.mu.RUnlock()

	for _, room := range expired {
		if room.Close(true) {
			reg.DeleteRoom(room.ID)
			reg.logger.Info("房間已過期清理", "room_id", room.ID)
		} else {
			// 其他清掃已經關閉過，保證 map 也清乾淨即可
			reg.DeleteRoom(room.ID)
		}
	}
}

// sweepLoop 背景定時清掃
func (reg *Registry) sweepLoop(interval time.Duration) {
	defer reg.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			reg.Sweep()
		case <-reg.stopCh:
			return
		}
	}
}

// Stop 停止註冊表
//
// 關閉背景清掃並靜默關閉所有房間（關機不是過期，不發 roomExpired）
func (reg *Registry) Stop() {
	close(reg.stopCh)
	reg.wg.Wait()

	reg.mu.Lock()
	rooms := lo.Values(reg.rooms)
	reg.rooms = make(map[string]*Room)
	reg.mu.Unlock()

	for _, room := range rooms {
		room.Close(false)
	}

	reg.logger.Info("房間註冊表已停止")
}

// Stats 獲取統計資訊
func (reg *Registry) Stats() map[string]any {
	reg.mu.RLock()
	rooms := lo.Values(reg.rooms)
	reg.mu.RUnlock()

	totalMembers := lo.SumBy(rooms, func(r *Room) int {
		return r.MemberCount()
	})
	expiring := lo.CountBy(rooms, func(r *Room) bool {
		return r.HasTTL()
	})

	return map[string]any{
		"total_rooms":    len(rooms),
		"total_members":  totalMembers,
		"expiring_rooms": expiring,
	}
}
