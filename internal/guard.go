package internal

// Guard 踢人授權檢查
//
// 整個系統唯一的授權規則：請求者名稱等於房主名稱。
// 獨立成元件是為了讓授權決策有單一明確的落點，
// 而不是散落在各個事件處理路徑裡
type Guard struct{}

// CanKick 判斷請求者是否可以踢出房間成員
//
// HostName 在房間創建後不可變，讀取不需要持有房間鎖
func (Guard) CanKick(room *Room, requesterName string) bool {
	return requesterName == room.HostName
}
