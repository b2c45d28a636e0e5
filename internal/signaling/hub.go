package signaling

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/1ureka/duocall/internal/util"
)

const (
	peerOutboxSize = 256
	roomCapacity   = 2
)

var (
	ErrRoomFull  = errors.New("room is full")
	ErrHubClosed = errors.New("hub closed")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  maxMessageSize,
	WriteBufferSize: maxMessageSize,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// frame is one WebSocket message as it travelled on the wire.
type frame struct {
	typ  int
	data []byte
}

// Hub relays negotiation messages between the two peers of each room. It
// never interprets descriptions or candidates; frames are forwarded with
// their original frame type so JSON and msgpack peers can share a room.
type Hub struct {
	mu     sync.Mutex
	rooms  map[string]*room
	closed bool
}

type room struct {
	id    string
	peers []*hubPeer
}

type hubPeer struct {
	id     string
	roomID string
	conn   *websocket.Conn
	send   chan frame
	gone   bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*room)}
}

// ServeWS upgrades the request and admits the peer into the room named by
// the {roomID} path value.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomID")
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.LogWarning("[%s] websocket upgrade failed: %v", roomID, err)
		return
	}

	p := &hubPeer{
		id:     uuid.NewString()[:8],
		roomID: roomID,
		conn:   conn,
		send:   make(chan frame, peerOutboxSize),
	}

	if err := h.join(p); err != nil {
		reason := "hub closed"
		if errors.Is(err, ErrRoomFull) {
			reason = "room full"
			p.writeControl(MsgTypeRoomFull)
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason))
		conn.Close()
		util.LogWarning("[%s] rejected peer %s: %v", roomID, p.id, err)
		return
	}

	go p.writePump()
	go h.readPump(p)
}

// RoomCount returns the number of rooms with at least one peer.
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// Close disconnects every peer and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, rm := range h.rooms {
		for _, p := range rm.peers {
			p.release()
		}
		delete(h.rooms, id)
	}
}

func (h *Hub) join(p *hubPeer) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	rm, ok := h.rooms[p.roomID]
	if !ok {
		rm = &room{id: p.roomID}
		h.rooms[p.roomID] = rm
	}
	if len(rm.peers) >= roomCapacity {
		return ErrRoomFull
	}
	rm.peers = append(rm.peers, p)
	util.LogInfo("[%s] peer %s joined (%d/%d)", rm.id, p.id, len(rm.peers), roomCapacity)

	if len(rm.peers) == roomCapacity {
		rm.peers[0].enqueue(controlFrame(MsgTypePeerJoined))
	}
	return nil
}

// leave removes p from its room and tells the remaining peer. Safe to call
// more than once.
func (h *Hub) leave(p *hubPeer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rm, ok := h.rooms[p.roomID]
	if !ok || p.gone {
		return
	}
	for i, q := range rm.peers {
		if q == p {
			rm.peers = append(rm.peers[:i], rm.peers[i+1:]...)
			break
		}
	}
	p.release()
	util.LogInfo("[%s] peer %s left", rm.id, p.id)

	if len(rm.peers) == 0 {
		delete(h.rooms, rm.id)
		util.LogDebug("[%s] room deleted", rm.id)
		return
	}
	for _, q := range rm.peers {
		q.enqueue(controlFrame(MsgTypePeerLeft))
	}
}

// forward relays f from p to the other peer of its room, if any.
func (h *Hub) forward(p *hubPeer, msgType MessageType, f frame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rm, ok := h.rooms[p.roomID]
	if !ok || p.gone {
		return
	}
	for _, q := range rm.peers {
		if q != p {
			util.LogDebug("[%s] relay %s %s -> %s", rm.id, msgType, p.id, q.id)
			q.enqueue(f)
			return
		}
	}
	util.LogDebug("[%s] %s from %s dropped, no other peer", rm.id, msgType, p.id)
}

func (h *Hub) readPump(p *hubPeer) {
	defer func() {
		h.leave(p)
		p.conn.Close()
	}()

	p.conn.SetReadLimit(maxMessageSize)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		typ, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				util.LogWarning("[%s] peer %s read error: %v", p.roomID, p.id, err)
			}
			return
		}

		msg, err := decodeFrame(typ, data)
		if err != nil {
			util.LogWarning("[%s] peer %s sent bad frame: %v", p.roomID, p.id, err)
			continue
		}

		switch {
		case msg.IsNegotiation():
			h.forward(p, msg.Type, frame{typ: typ, data: data})
		case msg.Type == MsgTypeLeave:
			return
		default:
			util.LogDebug("[%s] peer %s sent relay-only type %s, ignored", p.roomID, p.id, msg.Type)
		}
	}
}

// enqueue must be called with the hub lock held.
func (p *hubPeer) enqueue(f frame) {
	if p.gone {
		return
	}
	select {
	case p.send <- f:
	default:
		util.LogWarning("[%s] peer %s outbox full, frame dropped", p.roomID, p.id)
	}
}

// release closes the outbox so the write pump says goodbye. Must be called
// with the hub lock held.
func (p *hubPeer) release() {
	if p.gone {
		return
	}
	p.gone = true
	close(p.send)
}

func (p *hubPeer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case f, ok := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				p.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := p.conn.WriteMessage(f.typ, f.data); err != nil {
				util.LogWarning("[%s] peer %s write error: %v", p.roomID, p.id, err)
				return
			}

		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeControl writes a control message directly, before any pump runs.
func (p *hubPeer) writeControl(t MessageType) {
	f := controlFrame(t)
	p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	p.conn.WriteMessage(f.typ, f.data)
}

// controlFrame encodes a relay control message. Control frames are always
// JSON; channels decode by frame type so msgpack peers read them too.
func controlFrame(t MessageType) frame {
	data, _ := JSONCodec{}.Marshal(Message{Type: t})
	return frame{typ: websocket.TextMessage, data: data}
}
