// Package auctionrooms 提供了一個輕量的即時競標房間協調服務。
//
// 實現了容量受限、可設定存活時間的臨時房間，固定一組連接中的參與者
// 在房間內交換即時出價事件，由房主（創建者）獨享踢人權限：
//
// # 房間生命週期
//
// 提供完整的房間生命週期管理：
//   - HTTP 創建房間（容量預設 8，存活時間 forever / 1min / 5min）
//   - 加入前清掃 + 背景定時清掃，到期房間廣播 roomExpired 後移除
//   - 所有狀態駐留記憶體，進程重啟即消失（刻意不做持久化）
//
// # 成員與廣播
//
// 每個房間擁有一個廣播通道：
//   - 加入成功廣播 userJoined（包含加入者本人）
//   - 出價原樣轉發為 newBid，附加會話綁定的使用者名稱
//   - 離開 / 斷線 / 被踢分別廣播 userLeft / userKicked 給剩餘訂閱者
//   - currentUsers 點對點回應成員名單，保留加入順序
//
// # 會話狀態機
//
// 每條 WebSocket 連接對應一個會話，狀態是
// Unjoined → Joined → Terminated，Terminated 為吸收態。
// 所有入站事件經由單一分發點處理，綁定 (roomId, userName)
// 在成功加入時建立且只建立一次。
//
// # 併發模型
//
// 以房間級讀寫鎖提供與單執行緒事件迴圈等價的序列化保證：
// 成員變更、訂閱變更、過期關閉共用同一個臨界區，
// 加入、踢人與清掃不可能交錯出不一致的名單或重複 / 遺漏的通知。
//
// 啟動服務器：
//
//	registry := internal.NewRegistry(logger, 30*time.Second)
//	handler := internal.NewHandler(registry, logger, "public")
//	hub := internal.NewHub(registry, logger)
//
//	mux := http.NewServeMux()
//	mux.Handle("/", handler.Routes())
//	mux.HandleFunc("GET /ws", hub.ServeWS)
//	log.Fatal(http.ListenAndServe(":8080", mux))
package auctionrooms
