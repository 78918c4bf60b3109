package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 4096
	sendBufSize       = 256
	maxMessagesPerSec = 50
	maxNameLen        = 16
	defaultName       = "Player"
	leaveRetryWait    = 5 * time.Millisecond
	leaveWarnEvery    = 200
)

// Client represents a WebSocket connection. Its game and playerID are only
// touched by the read pump, and by the hub after the read pump has exited.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	remoteAddr string
	limiter    *rate.Limiter

	game     *Game
	playerID string
}

// NewClient creates a new Client
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufSize),
		remoteAddr: remoteAddr,
		limiter:    rate.NewLimiter(rate.Limit(maxMessagesPerSec), maxMessagesPerSec),
	}
}

// ReadPump reads messages from the WebSocket connection
func (c *Client) ReadPump() {
	defer func() {
		c.hub.TrackDisconnect(c.remoteAddr)
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws error: %v", err)
			}
			break
		}

		if !c.limiter.Allow() {
			log.Printf("rate limit exceeded for %s, disconnecting", c.remoteAddr)
			break
		}

		// Binary move: 2 bytes [0x01, direction index]
		if msgType == websocket.BinaryMessage && len(message) == 2 && message[0] == 0x01 {
			c.handleBinaryMove(message[1])
		} else {
			c.handleMessage(message)
		}
	}
}

// WritePump writes messages to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// Check for binary marker (0xFF prefix from SendBinary)
			var err error
			if len(message) > 0 && message[0] == 0xFF {
				err = c.conn.WriteMessage(websocket.BinaryMessage, message[1:])
			} else {
				err = c.conn.WriteMessage(websocket.TextMessage, message)
			}
			if err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendJSON sends a JSON message to the client
func (c *Client) SendJSON(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("marshal error: %v", err)
		return
	}
	c.SendRaw(data)
}

// SendRaw sends pre-marshaled bytes as a text message to the client
func (c *Client) SendRaw(data []byte) {
	defer func() { recover() }() // send may already be closed
	select {
	case c.send <- data:
	default:
		// Client too slow, drop message
	}
}

// SendBinary sends pre-marshaled bytes as a binary WebSocket message.
// Prefixes with 0xFF marker byte so WritePump can distinguish from text
func (c *Client) SendBinary(data []byte) {
	defer func() { recover() }()
	msg := make([]byte, len(data)+1)
	msg[0] = 0xFF
	copy(msg[1:], data)
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Client) sendError(text string) {
	c.SendJSON(Envelope{T: MsgError, Data: MessageMsg{Message: text}})
}

// handleMessage routes incoming messages (single-pass decode via InEnvelope)
func (c *Client) handleMessage(raw []byte) {
	var env InEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		debugf("unmarshal error from %s: %v", c.remoteAddr, err)
		c.sendError("Malformed message")
		return
	}

	switch env.T {
	case MsgJoinGame:
		c.handleJoin(env.D)
	case MsgPlayerMove:
		c.handleMove(env.D)
	case MsgStartGame:
		c.submit(StartIntent{PlayerID: c.playerID})
	case MsgRestartGame:
		c.submit(RestartIntent{PlayerID: c.playerID})
	case MsgEndRound:
		c.submit(EndRoundIntent{PlayerID: c.playerID})
	case MsgGetLobbyState:
		c.submit(LobbyQuery{PlayerID: c.playerID})
	case MsgLeaveGame:
		c.leave()
	default:
		c.sendError("Unknown message type: " + env.T)
	}
}

func (c *Client) handleJoin(data json.RawMessage) {
	if c.game != nil {
		c.sendError("Already in the game")
		return
	}
	var msg JoinMsg
	if len(data) > 0 {
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("Malformed join request")
			return
		}
	}

	reply := make(chan JoinResult, 1)
	g, err := c.hub.sessions.Join(JoinIntent{
		Name:   sanitizeName(msg.Name),
		Conn:   c,
		Binary: msg.Binary,
		Reply:  reply,
	})
	if err != nil {
		log.Printf("[join] %s: %v", c.remoteAddr, err)
		c.sendError("Could not join the game, try again")
		return
	}

	select {
	case res := <-reply:
		switch {
		case errors.Is(res.Err, ErrSessionFull):
			c.SendJSON(Envelope{T: MsgGameFull, Data: MessageMsg{
				Message: fmt.Sprintf("Game is full. Maximum %d players allowed.", c.hub.cfg.MaxPlayers),
			}})
		case res.Err != nil:
			c.sendError(res.Err.Error())
		default:
			c.game = g
			c.playerID = res.PlayerID
		}
	case <-g.Done():
		c.sendError("Game session ended, try again")
	}
}

func (c *Client) handleMove(data json.RawMessage) {
	var msg MoveMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("Invalid direction")
		return
	}
	c.submit(MoveIntent{PlayerID: c.playerID, Direction: msg.Direction})
}

func (c *Client) handleBinaryMove(code byte) {
	if int(code) >= len(Directions) {
		c.sendError("Invalid direction")
		return
	}
	c.submit(MoveIntent{PlayerID: c.playerID, Direction: Directions[code]})
}

// submit queues an intent on the joined session
func (c *Client) submit(intent any) {
	if c.game == nil {
		c.sendError("Join the game first")
		return
	}
	err := c.game.Submit(intent)
	switch {
	case err == nil:
	case errors.Is(err, ErrSessionClosed):
		c.game = nil
		c.playerID = ""
		c.sendError("Game session ended")
	default:
		log.Printf("[client] %s: %v", c.playerID, err)
		c.sendError("Server busy, try again")
	}
}

// leave removes the player from its session, if any. A full inbox is
// retried until the session takes the leave or closes, so a player never
// lingers after its connection is gone.
func (c *Client) leave() {
	g, id := c.game, c.playerID
	if g == nil {
		return
	}
	c.game = nil
	c.playerID = ""
	for i := 1; ; i++ {
		err := g.Submit(LeaveIntent{PlayerID: id})
		if !errors.Is(err, ErrInboxFull) {
			return
		}
		if i%leaveWarnEvery == 0 {
			log.Printf("[leave] inbox still full for %s after %d tries", id, i)
		}
		time.Sleep(leaveRetryWait)
	}
}

// sanitizeName trims, defaults and truncates a display name
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return defaultName
	}
	if r := []rune(name); len(r) > maxNameLen {
		name = string(r[:maxNameLen])
	}
	return name
}
