package websocket

import (
	"context"
	"time"

	"github.com/abdullahwebtech/air-exchange/core"
	"github.com/abdullahwebtech/air-exchange/rooms"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/engine.io/v2/utils"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

// serverBroadcaster adapts the Socket.IO server to core.Broadcaster so the
// HTTP handlers and the sweeper can emit room events without holding a
// reference to the transport.
type serverBroadcaster struct {
	srv *socketio.Server
}

func (b *serverBroadcaster) ToRoom(roomID string, event string, args ...any) {
	_ = b.srv.To(socketio.Room(roomID)).Emit(event, args...)
}

// session tracks which room and client identity one connection is bound to.
// Presence is keyed by a client-supplied stable id so a reconnect does not
// double-count the user; the generated uuid is only a fallback for clients
// that never send one.
type session struct {
	registry *rooms.Registry
	onLeave  func(roomID string, count int, announce bool)
	roomID   string
	clientID string
}

// join binds the session to roomID under cid and adds it to the presence
// set. Any previous identity is released first — including the old client
// id on a re-join of the same room — so a stale id never lingers in
// Room.Users and keeps the room from being pruned.
func (s *session) join(roomID, cid string) (core.RoomSnapshot, int) {
	if s.roomID != "" && (s.roomID != roomID || s.clientID != cid) {
		s.leave()
	}
	s.roomID, s.clientID = roomID, cid
	return s.registry.Join(roomID, cid)
}

// leave releases the session's identity from its room, if any. onLeave is
// invoked with announce=false when the room was deleted by the departure.
func (s *session) leave() {
	if s.roomID == "" {
		return
	}
	count, deleted := s.registry.Leave(s.roomID, s.clientID)
	if s.onLeave != nil {
		s.onLeave(s.roomID, count, !deleted)
	}
	s.roomID = ""
}

// SetupRelay wires the realtime event surface: joinRoom, textUpdate,
// cursorUpdate, clearText, deleteFile, deleteAllFiles, setExpiry, saveText
// and deleteSavedText inbound; the init/userCountUpdate/... catalogue
// outbound. It returns the Socket.IO server and a Broadcaster bound to it.
func SetupRelay(registry *rooms.Registry, blobs core.BlobStore) (*socketio.Server, core.Broadcaster) {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(5000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	opts.SetCors(&types.Cors{
		Origin:      "*",
		Credentials: true,
	})
	srv := socketio.NewServer(nil, opts)
	broadcast := &serverBroadcaster{srv: srv}

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}

		me := socket.Id()

		sess := &session{
			registry: registry,
			onLeave: func(roomID string, count int, announce bool) {
				if announce {
					_ = srv.In(socketio.Room(roomID)).Emit("userCountUpdate", count)
				}
				socket.Leave(socketio.Room(roomID))
			},
		}

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("joinRoom", func(datas ...any) {
			roomID, cid := parseJoinArgs(datas)
			if roomID == "" {
				utils.Log().Printf("socket %v sent joinRoom without a room id\n", me)
				return
			}
			if cid == "" {
				cid = uuid.NewString()
			}

			room := socketio.Room(roomID)
			snapshot, count := sess.join(roomID, cid)
			socket.Join(room)
			utils.Log().Printf("client %v (socket %v) has joined %v\n", cid, me, room)

			_ = srv.In(room).Emit("userCountUpdate", count)
			_ = socket.Emit("init", snapshot)
		})

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("textUpdate", func(datas ...any) {
			if sess.roomID == "" || len(datas) == 0 {
				return
			}
			text, ok := datas[0].(string)
			if !ok {
				return
			}
			registry.SetText(sess.roomID, text)
			_ = socket.Broadcast().To(socketio.Room(sess.roomID)).Emit("textUpdate", text)
		})

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("clearText", func(datas ...any) {
			if sess.roomID == "" {
				return
			}
			if err := registry.ClearText(sess.roomID); err != nil {
				return
			}
			_ = srv.In(socketio.Room(sess.roomID)).Emit("clearText")
		})

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("cursorUpdate", func(datas ...any) {
			if sess.roomID == "" || len(datas) == 0 {
				return
			}
			_ = socket.Broadcast().To(socketio.Room(sess.roomID)).Emit("cursorUpdate", map[string]any{
				"clientId": sess.clientID,
				"position": datas[0],
			})
		})

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("deleteFile", func(datas ...any) {
			if sess.roomID == "" || len(datas) == 0 {
				return
			}
			filename, ok := datas[0].(string)
			if !ok || filename == "" {
				return
			}

			rec, err := registry.RemoveFile(sess.roomID, filename)
			if err != nil {
				utils.Log().Printf("deleteFile %v in room %v: %v\n", filename, sess.roomID, err)
				return
			}
			if err := blobs.Delete(context.Background(), rec.Filename); err != nil {
				logrus.WithError(err).WithField("filename", rec.Filename).Warn("failed to delete blob for removed file record")
			}
			_ = srv.In(socketio.Room(sess.roomID)).Emit("fileDeleted", rec.Filename)
		})

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("deleteAllFiles", func(datas ...any) {
			if sess.roomID == "" {
				return
			}
			removed, err := registry.RemoveAllFiles(sess.roomID)
			if err != nil {
				return
			}
			for _, rec := range removed {
				if err := blobs.Delete(context.Background(), rec.Filename); err != nil {
					logrus.WithError(err).WithField("filename", rec.Filename).Warn("failed to delete blob for removed file record")
				}
			}
			_ = srv.In(socketio.Room(sess.roomID)).Emit("allFilesDeleted")
		})

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("setExpiry", func(datas ...any) {
			if sess.roomID == "" || len(datas) == 0 {
				return
			}
			millis, ok := toInt64(datas[0])
			if !ok || millis <= 0 {
				return
			}
			if err := registry.SetExpiry(sess.roomID, time.Duration(millis)*time.Millisecond); err != nil {
				return
			}
			_ = srv.In(socketio.Room(sess.roomID)).Emit("expiryUpdate", millis)
		})

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("saveText", func(datas ...any) {
			if sess.roomID == "" || len(datas) == 0 {
				return
			}
			text, ok := datas[0].(string)
			if !ok || text == "" {
				return
			}
			var expiry int64
			if len(datas) > 1 {
				expiry, _ = toInt64(datas[1])
			}

			record := core.SavedText{
				Text:      text,
				Timestamp: time.Now().UnixMilli(),
				Expiry:    expiry,
			}
			registry.AddSavedText(sess.roomID, record)
			_ = srv.In(socketio.Room(sess.roomID)).Emit("savedText", record)
		})

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("deleteSavedText", func(datas ...any) {
			if sess.roomID == "" || len(datas) == 0 {
				return
			}
			index, ok := toInt64(datas[0])
			if !ok {
				return
			}
			if err := registry.RemoveSavedText(sess.roomID, int(index)); err != nil {
				return
			}
			_ = srv.In(socketio.Room(sess.roomID)).Emit("deleteSavedText", index)
		})

		socket.On("disconnecting", func(datas ...any) {
			utils.Log().Printf("disconnecting %v from room %v\n", me, sess.roomID)
			sess.leave()
		})

		socket.On("disconnect", func(datas ...any) {
			socket.RemoveAllListeners("")
			socket.Disconnect(true)
		})
	})

	return srv, broadcast
}

// parseJoinArgs accepts both join payload shapes: a bare room id string, or
// an object carrying roomId plus an optional stable clientId.
func parseJoinArgs(datas []any) (roomID, clientID string) {
	if len(datas) == 0 {
		return "", ""
	}

	switch arg := datas[0].(type) {
	case string:
		roomID = arg
	case map[string]any:
		roomID, _ = arg["roomId"].(string)
		clientID, _ = arg["clientId"].(string)
	}

	if clientID == "" && len(datas) > 1 {
		clientID, _ = datas[1].(string)
	}
	return roomID, clientID
}

// toInt64 coerces the numeric types the Socket.IO parser may hand us.
func toInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case float64:
		return int64(v), true
	case float32:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case uint64:
		return int64(v), true
	}
	return 0, false
}
