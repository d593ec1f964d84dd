package internal_test

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/koopa0/auction-rooms/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger 測試用日誌（只輸出 error）
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// drainEvents 非阻塞取出會話已累積的出站事件
func drainEvents(s *internal.Session) []internal.ServerEvent {
	var events []internal.ServerEvent
	for {
		select {
		case ev, ok := <-s.Out():
			if !ok {
				return events
			}
			events = append(events, ev)
		default:
			return events
		}
	}
}

// eventNames 取出事件名稱序列，方便斷言
func eventNames(events []internal.ServerEvent) []string {
	names := make([]string, 0, len(events))
	for _, ev := range events {
		names = append(names, ev.Event)
	}
	return names
}

// countEvent 統計指定事件出現次數
func countEvent(events []internal.ServerEvent, name string) int {
	count := 0
	for _, ev := range events {
		if ev.Event == name {
			count++
		}
	}
	return count
}

// TestSession_Join 測試加入房間
func TestSession_Join(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(registry *internal.Registry) string // 回傳 roomID
		userName string
		validate func(t *testing.T, registry *internal.Registry, roomID string, s *internal.Session)
	}{
		{
			name: "join broadcasts userJoined including self",
			setup: func(registry *internal.Registry) string {
				return registry.CreateRoom(4, "主持人", 0).ID
			},
			userName: "主持人",
			validate: func(t *testing.T, registry *internal.Registry, roomID string, s *internal.Session) {
				assert.Equal(t, internal.StateJoined, s.State())
				assert.Equal(t, "主持人", s.UserName())

				events := drainEvents(s)
				require.Len(t, events, 1)
				assert.Equal(t, internal.EventUserJoined, events[0].Event)
				assert.Equal(t, internal.UserNamePayload{UserName: "主持人"}, events[0].Data)

				room, err := registry.GetRoom(roomID)
				require.NoError(t, err)
				assert.Equal(t, []string{"主持人"}, room.MemberNames())
			},
		},
		{
			name: "room not found",
			setup: func(registry *internal.Registry) string {
				return "room_missing"
			},
			userName: "競標者一",
			validate: func(t *testing.T, registry *internal.Registry, roomID string, s *internal.Session) {
				assert.Equal(t, internal.StateUnjoined, s.State())
				assert.Equal(t, []string{internal.EventRoomNotFound}, eventNames(drainEvents(s)))
			},
		},
		{
			name: "room full keeps membership unchanged",
			setup: func(registry *internal.Registry) string {
				room := registry.CreateRoom(2, "主持人", 0)

				logger := testLogger()
				internal.NewSession(registry, logger).Join(room.ID, "主持人")
				internal.NewSession(registry, logger).Join(room.ID, "競標者一")
				return room.ID
			},
			userName: "競標者二",
			validate: func(t *testing.T, registry *internal.Registry, roomID string, s *internal.Session) {
				assert.Equal(t, internal.StateUnjoined, s.State())
				assert.Equal(t, []string{internal.EventRoomFull}, eventNames(drainEvents(s)))

				room, err := registry.GetRoom(roomID)
				require.NoError(t, err)
				assert.Equal(t, 2, room.MemberCount())
			},
		},
		{
			name: "expired room returns roomNotFound",
			setup: func(registry *internal.Registry) string {
				room := registry.CreateRoom(4, "主持人", time.Minute)

				past := time.Now().Add(-time.Second)
				room.Mu.Lock()
				room.ExpiresAt = &past
				room.Mu.Unlock()
				return room.ID
			},
			userName: "競標者一",
			validate: func(t *testing.T, registry *internal.Registry, roomID string, s *internal.Session) {
				assert.Equal(t, []string{internal.EventRoomNotFound}, eventNames(drainEvents(s)))

				// 加入前的清掃已把房間移除
				_, err := registry.GetRoom(roomID)
				assert.Error(t, err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := testLogger()
			registry := internal.NewRegistry(logger, time.Minute)
			defer registry.Stop()

			roomID := tt.setup(registry)
			s := internal.NewSession(registry, logger)
			s.Join(roomID, tt.userName)

			tt.validate(t, registry, roomID, s)
		})
	}
}

// TestSession_JoinOnlyOnce 測試綁定只建立一次
func TestSession_JoinOnlyOnce(t *testing.T) {
	logger := testLogger()
	registry := internal.NewRegistry(logger, time.Minute)
	defer registry.Stop()

	first := registry.CreateRoom(4, "主持人", 0)
	second := registry.CreateRoom(4, "主持人", 0)

	s := internal.NewSession(registry, logger)
	s.Join(first.ID, "競標者一")
	drainEvents(s)

	// 已 Joined 的會話忽略再次加入
	s.Join(second.ID, "競標者一")

	assert.Equal(t, "競標者一", s.UserName())
	assert.Empty(t, drainEvents(s))
	assert.Equal(t, 1, first.MemberCount())
	assert.Equal(t, 0, second.MemberCount())
}

// TestSession_PlaceBid 測試出價轉發
func TestSession_PlaceBid(t *testing.T) {
	logger := testLogger()
	registry := internal.NewRegistry(logger, time.Minute)
	defer registry.Stop()

	room := registry.CreateRoom(4, "主持人", 0)
	other := registry.CreateRoom(4, "別家主持人", 0)

	host := internal.NewSession(registry, logger)
	host.Join(room.ID, "主持人")
	bidder := internal.NewSession(registry, logger)
	bidder.Join(room.ID, "競標者一")
	outsider := internal.NewSession(registry, logger)
	outsider.Join(other.ID, "路人")

	drainEvents(host)
	drainEvents(bidder)
	drainEvents(outsider)

	bidder.PlaceBid(internal.PlaceBidPayload{
		Bid:    json.RawMessage(`150`),
		Player: "三號拍品",
	})

	// 廣播給包含出價者在內的同房間訂閱者
	for _, s := range []*internal.Session{host, bidder} {
		events := drainEvents(s)
		require.Len(t, events, 1)
		assert.Equal(t, internal.EventNewBid, events[0].Event)

		payload, ok := events[0].Data.(internal.NewBidPayload)
		require.True(t, ok)
		assert.Equal(t, json.RawMessage(`150`), payload.Bid)
		assert.Equal(t, "三號拍品", payload.Player)
		assert.Equal(t, "競標者一", payload.UserName)
	}

	// 其他房間的訂閱者收不到
	assert.Empty(t, drainEvents(outsider))
}

// TestSession_PlaceBidRequiresJoined 測試未加入 / 已終止的出價被忽略
func TestSession_PlaceBidRequiresJoined(t *testing.T) {
	logger := testLogger()
	registry := internal.NewRegistry(logger, time.Minute)
	defer registry.Stop()

	room := registry.CreateRoom(4, "主持人", 0)
	host := internal.NewSession(registry, logger)
	host.Join(room.ID, "主持人")
	drainEvents(host)

	unjoined := internal.NewSession(registry, logger)
	unjoined.PlaceBid(internal.PlaceBidPayload{Bid: json.RawMessage(`10`), Player: "拍品"})

	assert.Empty(t, drainEvents(host))
	assert.Empty(t, drainEvents(unjoined))
}

// TestSession_KickUser 測試踢人
func TestSession_KickUser(t *testing.T) {
	t.Run("host kicks member", func(t *testing.T) {
		logger := testLogger()
		registry := internal.NewRegistry(logger, time.Minute)
		defer registry.Stop()

		room := registry.CreateRoom(4, "主持人", 0)
		host := internal.NewSession(registry, logger)
		host.Join(room.ID, "主持人")
		target := internal.NewSession(registry, logger)
		target.Join(room.ID, "競標者一")
		drainEvents(host)
		drainEvents(target)

		host.KickUser("競標者一")

		// userKicked 只廣播給剩餘訂閱者，不含被踢者
		events := drainEvents(host)
		require.Len(t, events, 1)
		assert.Equal(t, internal.EventUserKicked, events[0].Event)
		assert.Equal(t, internal.UserKickedPayload{UserToKick: "競標者一"}, events[0].Data)

		assert.Empty(t, drainEvents(target))
		assert.Equal(t, internal.StateTerminated, target.State())
		assert.Equal(t, []string{"主持人"}, room.MemberNames())

		// 被踢者之後斷線是無操作：不再移除成員、不發 userLeft
		target.Disconnect()
		assert.Empty(t, drainEvents(host))
		assert.Equal(t, []string{"主持人"}, room.MemberNames())
	})

	t.Run("non host gets notAuthorized", func(t *testing.T) {
		logger := testLogger()
		registry := internal.NewRegistry(logger, time.Minute)
		defer registry.Stop()

		room := registry.CreateRoom(4, "主持人", 0)
		host := internal.NewSession(registry, logger)
		host.Join(room.ID, "主持人")
		other := internal.NewSession(registry, logger)
		other.Join(room.ID, "競標者一")
		drainEvents(host)
		drainEvents(other)

		other.KickUser("主持人")

		// 只有請求者收到 notAuthorized，沒有任何狀態變更
		assert.Equal(t, []string{internal.EventNotAuthorized}, eventNames(drainEvents(other)))
		assert.Empty(t, drainEvents(host))
		assert.Equal(t, internal.StateJoined, host.State())
		assert.Equal(t, []string{"主持人", "競標者一"}, room.MemberNames())
	})

	t.Run("kick unknown target is silent no-op", func(t *testing.T) {
		logger := testLogger()
		registry := internal.NewRegistry(logger, time.Minute)
		defer registry.Stop()

		room := registry.CreateRoom(4, "主持人", 0)
		host := internal.NewSession(registry, logger)
		host.Join(room.ID, "主持人")
		drainEvents(host)

		host.KickUser("不存在的人")

		assert.Empty(t, drainEvents(host))
		assert.Equal(t, []string{"主持人"}, room.MemberNames())
	})
}

// TestSession_ListUsers 測試成員名單查詢
func TestSession_ListUsers(t *testing.T) {
	logger := testLogger()
	registry := internal.NewRegistry(logger, time.Minute)
	defer registry.Stop()

	room := registry.CreateRoom(4, "主持人", 0)
	host := internal.NewSession(registry, logger)
	host.Join(room.ID, "主持人")
	bidder := internal.NewSession(registry, logger)
	bidder.Join(room.ID, "競標者一")
	drainEvents(host)
	drainEvents(bidder)

	bidder.ListUsers()

	// currentUsers 是點對點回應，只給請求者，保留加入順序
	events := drainEvents(bidder)
	require.Len(t, events, 1)
	assert.Equal(t, internal.EventCurrentUsers, events[0].Event)
	assert.Equal(t, []internal.RoomMember{
		{UserName: "主持人"},
		{UserName: "競標者一"},
	}, events[0].Data)

	assert.Empty(t, drainEvents(host))
}

// TestSession_Disconnect 測試斷線清理
func TestSession_Disconnect(t *testing.T) {
	t.Run("disconnect broadcasts userLeft to remaining only", func(t *testing.T) {
		logger := testLogger()
		registry := internal.NewRegistry(logger, time.Minute)
		defer registry.Stop()

		room := registry.CreateRoom(4, "主持人", 0)
		host := internal.NewSession(registry, logger)
		host.Join(room.ID, "主持人")
		leaver := internal.NewSession(registry, logger)
		leaver.Join(room.ID, "競標者一")
		drainEvents(host)
		drainEvents(leaver)

		leaver.Disconnect()

		events := drainEvents(host)
		require.Len(t, events, 1)
		assert.Equal(t, internal.EventUserLeft, events[0].Event)
		assert.Equal(t, internal.UserNamePayload{UserName: "競標者一"}, events[0].Data)

		// 離開者自己收不到 userLeft
		assert.Empty(t, drainEvents(leaver))
		assert.Equal(t, internal.StateTerminated, leaver.State())
		assert.Equal(t, []string{"主持人"}, room.MemberNames())
	})

	t.Run("duplicate names remove exactly one entry", func(t *testing.T) {
		logger := testLogger()
		registry := internal.NewRegistry(logger, time.Minute)
		defer registry.Stop()

		room := registry.CreateRoom(4, "主持人", 0)
		first := internal.NewSession(registry, logger)
		first.Join(room.ID, "重名者")
		second := internal.NewSession(registry, logger)
		second.Join(room.ID, "重名者")
		drainEvents(first)
		drainEvents(second)

		first.Disconnect()

		assert.Equal(t, []string{"重名者"}, room.MemberNames())
		assert.Equal(t, 1, countEvent(drainEvents(second), internal.EventUserLeft))
	})

	t.Run("unjoined disconnect terminates silently", func(t *testing.T) {
		logger := testLogger()
		registry := internal.NewRegistry(logger, time.Minute)
		defer registry.Stop()

		s := internal.NewSession(registry, logger)
		s.Disconnect()

		assert.Equal(t, internal.StateTerminated, s.State())
		assert.Empty(t, drainEvents(s))
	})
}

// TestSession_HandleMessage 測試入站分發與負載驗證
func TestSession_HandleMessage(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		validate func(t *testing.T, registry *internal.Registry, roomID string, s *internal.Session)
	}{
		{
			name: "valid joinRoom frame",
			raw:  `{"event":"joinRoom","data":{"roomId":"%s","userName":"競標者一"}}`,
			validate: func(t *testing.T, registry *internal.Registry, roomID string, s *internal.Session) {
				assert.Equal(t, internal.StateJoined, s.State())
				assert.Equal(t, []string{internal.EventUserJoined}, eventNames(drainEvents(s)))
			},
		},
		{
			name: "malformed json is dropped",
			raw:  `{"event":`,
			validate: func(t *testing.T, registry *internal.Registry, roomID string, s *internal.Session) {
				assert.Equal(t, internal.StateUnjoined, s.State())
				assert.Empty(t, drainEvents(s))
			},
		},
		{
			name: "missing required field is dropped",
			raw:  `{"event":"joinRoom","data":{"roomId":"%s"}}`,
			validate: func(t *testing.T, registry *internal.Registry, roomID string, s *internal.Session) {
				assert.Equal(t, internal.StateUnjoined, s.State())
				assert.Empty(t, drainEvents(s))
			},
		},
		{
			name: "missing event name is dropped",
			raw:  `{"data":{"roomId":"%s","userName":"競標者一"}}`,
			validate: func(t *testing.T, registry *internal.Registry, roomID string, s *internal.Session) {
				assert.Equal(t, internal.StateUnjoined, s.State())
				assert.Empty(t, drainEvents(s))
			},
		},
		{
			name: "unknown event is ignored",
			raw:  `{"event":"danceParty","data":{}}`,
			validate: func(t *testing.T, registry *internal.Registry, roomID string, s *internal.Session) {
				assert.Empty(t, drainEvents(s))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := testLogger()
			registry := internal.NewRegistry(logger, time.Minute)
			defer registry.Stop()

			room := registry.CreateRoom(4, "主持人", 0)
			s := internal.NewSession(registry, logger)

			raw := tt.raw
			if strings.Contains(raw, "%s") {
				raw = fmt.Sprintf(raw, room.ID)
			}
			s.HandleMessage([]byte(raw))

			tt.validate(t, registry, room.ID, s)
		})
	}
}

// TestSession_TerminatedIgnoresFrames 測試吸收態不再處理事件
func TestSession_TerminatedIgnoresFrames(t *testing.T) {
	logger := testLogger()
	registry := internal.NewRegistry(logger, time.Minute)
	defer registry.Stop()

	room := registry.CreateRoom(4, "主持人", 0)
	host := internal.NewSession(registry, logger)
	host.Join(room.ID, "主持人")
	target := internal.NewSession(registry, logger)
	target.Join(room.ID, "競標者一")
	drainEvents(host)
	drainEvents(target)

	host.KickUser("競標者一")
	drainEvents(host)

	// 被踢者的後續出價與查詢都被忽略
	target.HandleMessage([]byte(`{"event":"placeBid","data":{"bid":999,"player":"拍品"}}`))
	target.HandleMessage([]byte(`{"event":"getUsersInRoom"}`))

	assert.Empty(t, drainEvents(host))
	assert.Empty(t, drainEvents(target))
}

// TestSession_FullScenario 測試完整流程：
// 創建(容量2, forever, 房主A) → A 加入 → B 加入 → C 被拒 → A 踢 B → B 斷線無操作
func TestSession_FullScenario(t *testing.T) {
	logger := testLogger()
	registry := internal.NewRegistry(logger, time.Minute)
	defer registry.Stop()

	room := registry.CreateRoom(2, "A", 0)

	a := internal.NewSession(registry, logger)
	a.Join(room.ID, "A")
	assert.Equal(t, []string{internal.EventUserJoined}, eventNames(drainEvents(a)))

	b := internal.NewSession(registry, logger)
	b.Join(room.ID, "B")
	assert.Equal(t, []string{internal.EventUserJoined}, eventNames(drainEvents(a)))
	assert.Equal(t, []string{internal.EventUserJoined}, eventNames(drainEvents(b)))

	c := internal.NewSession(registry, logger)
	c.Join(room.ID, "C")
	assert.Equal(t, []string{internal.EventRoomFull}, eventNames(drainEvents(c)))
	assert.Empty(t, drainEvents(a))
	assert.Empty(t, drainEvents(b))

	a.KickUser("B")
	assert.Equal(t, []string{internal.EventUserKicked}, eventNames(drainEvents(a)))
	assert.Empty(t, drainEvents(b))
	assert.Equal(t, []string{"A"}, room.MemberNames())

	b.Disconnect()
	assert.Empty(t, drainEvents(a))
	assert.Equal(t, []string{"A"}, room.MemberNames())
}
