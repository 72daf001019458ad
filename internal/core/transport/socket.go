package transport

import "context"

// Socket is an open, message-oriented connection.
type Socket interface {
	Write(data []byte) error
	Close() error
}

// SocketHandler receives the lifecycle of one dial attempt. OnClose is
// called exactly once per attempt, either instead of OnOpen when the dial
// fails or after the open socket goes away.
type SocketHandler interface {
	OnOpen(sock Socket)
	OnMessage(data []byte)
	OnClose(err error)
}

// Dialer opens sockets. Dial must not block on the network; the outcome is
// reported through the handler.
type Dialer interface {
	Dial(ctx context.Context, url string, h SocketHandler)
}
