package internal

// Channel 房間廣播通道
//
// 系統設計考量：
//
//  1. 所有權：每個房間擁有一個 Channel，只透過
//     Subscribe / Unsubscribe / Publish 存取，不存在全域共享的廣播物件
//
//  2. 併發控制：Channel 本身不加鎖，所有操作都必須在
//     持有所屬房間鎖的情況下執行（與成員名單的變更共用同一個臨界區，
//     避免加入、踢人、過期清理交錯出不一致的訂閱狀態）
//
//  3. 投遞語義：Publish 對發佈當下的每個訂閱者投遞恰好一份，
//     順序不保證；零訂閱者時是無操作而非錯誤
type Channel struct {
	subscribers map[*Session]struct{}
}

// newChannel 創建廣播通道
func newChannel() *Channel {
	return &Channel{
		subscribers: make(map[*Session]struct{}),
	}
}

// Subscribe 訂閱會話（冪等）
func (c *Channel) Subscribe(s *Session) {
	c.subscribers[s] = struct{}{}
}

// Unsubscribe 取消訂閱（冪等），回傳會話原本是否已訂閱
//
// 回傳值讓移除路徑（離開、踢出、斷線）判斷自己是否為
// 實際執行清理的那一方，保證每次移除恰好發出一次通知
func (c *Channel) Unsubscribe(s *Session) bool {
	if _, ok := c.subscribers[s]; !ok {
		return false
	}
	delete(c.subscribers, s)
	return true
}

// Publish 向所有當前訂閱者投遞事件
//
// 投遞是非阻塞的：慢消費者的緩衝區滿時丟棄事件，
// 不讓單一連接拖住整個房間的臨界區
func (c *Channel) Publish(event ServerEvent) {
	for s := range c.subscribers {
		s.deliver(event)
	}
}

// Len 當前訂閱者數量
func (c *Channel) Len() int {
	return len(c.subscribers)
}

// findJoined 尋找綁定到指定使用者名稱且仍為 Joined 狀態的會話
//
// 重名時取其中任意一個（訂閱集合無序，不做更強的保證）
func (c *Channel) findJoined(userName string) *Session {
	for s := range c.subscribers {
		if s.isJoinedAs(userName) {
			return s
		}
	}
	return nil
}

// drain 終止並清空所有訂閱者，回傳清空前的數量
//
// 只用於房間關閉（過期 / 服務關機）路徑
func (c *Channel) drain() int {
	n := len(c.subscribers)
	for s := range c.subscribers {
		s.terminate()
		delete(c.subscribers, s)
	}
	return n
}
