package demo

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vango-dev/vsock/pkg/protocol"
	"github.com/vango-dev/vsock/pkg/server"
	"github.com/vango-dev/vsock/pkg/socket"
)

const (
	paramRoom = "room"
	paramName = "name"

	sendTimeout = 5 * time.Second
)

// Service answers demo packets on server connections.
type Service struct {
	packets *Packets
	conns   *server.ConnManager
	logger  *slog.Logger
}

// NewService creates a Service. Bind must be called before the first
// connection is accepted.
func NewService(p *Packets, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		packets: p,
		logger:  logger.With("component", "demo"),
	}
}

// Bind attaches the connection registry used for rooms.
func (s *Service) Bind(conns *server.ConnManager) {
	s.conns = conns
}

// Handle is a server.Handler.
func (s *Service) Handle(c *socket.Conn, params socket.Params) {
	p := s.packets
	room := params.Get(paramRoom)
	if room == "" {
		room = DefaultRoom
	}
	name := params.Get(paramName)
	if name == "" {
		name = "anon-" + c.ID()[:8]
	}

	socket.Receive(c, p.Ping).Subscribe(func(protocol.None) {
		s.send(c, func(ctx context.Context) error {
			return socket.Notify(ctx, c, p.Pong)
		})
	})

	socket.Receive(c, p.Echo).Subscribe(func(text string) {
		s.send(c, func(ctx context.Context) error {
			return socket.Send(ctx, c, p.Echo, text)
		})
	})

	socket.Receive(c, p.Chat).Subscribe(func(msg ChatMessage) {
		msg.Room = room
		msg.From = name
		broadcast(s, room, p.Chat, msg)
	})

	c.Closed().Subscribe(func(error) {
		broadcast(s, room, p.Left, Presence{
			Room:    room,
			Name:    name,
			Members: s.members(room, c.ID()),
		})
	})

	broadcast(s, room, p.Joined, Presence{
		Room:    room,
		Name:    name,
		Members: s.members(room, ""),
	})
}

func (s *Service) send(c *socket.Conn, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := fn(ctx); err != nil && !errors.Is(err, socket.ErrClosed) {
		c.Logger().Warn("reply failed", "error", err)
	}
}

// broadcast sends v to every connection in room. Connections closing
// concurrently are skipped silently.
func broadcast[T any](s *Service, room string, p protocol.Packet[T], v T) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	err := server.Broadcast(ctx, s.conns, p, v, func(c *socket.Conn) bool {
		return roomOf(c) == room
	})
	if err != nil && !errors.Is(err, socket.ErrClosed) {
		s.logger.Warn("broadcast failed", "room", room, "packet", p.String(), "error", err)
	}
}

// members counts live connections in room, ignoring exclude.
func (s *Service) members(room, exclude string) int {
	n := 0
	s.conns.ForEach(func(c *socket.Conn) bool {
		if c.ID() != exclude && roomOf(c) == room {
			n++
		}
		return true
	})
	return n
}

func roomOf(c *socket.Conn) string {
	if room := c.Params().Get(paramRoom); room != "" {
		return room
	}
	return DefaultRoom
}
