package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// WSPeer adapts a server-side WebSocket connection to Peer
type WSPeer struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu        sync.Mutex
	closeOnce sync.Once
}

// NewWSPeer wraps conn. Each send must complete within writeTimeout.
func NewWSPeer(conn *websocket.Conn, writeTimeout time.Duration) *WSPeer {
	return &WSPeer{conn: conn, writeTimeout: writeTimeout}
}

// SendBinary sends data as one binary message
func (p *WSPeer) SendBinary(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
	if err := p.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("%w: %v", ErrPeerDisconnected, err)
	}
	return nil
}

// readPump discards client messages. Reading is what lets gorilla process
// close and ping frames, so it returns as soon as the peer goes away.
func (p *WSPeer) readPump() error {
	for {
		if _, _, err := p.conn.ReadMessage(); err != nil {
			return fmt.Errorf("%w: %v", ErrPeerDisconnected, err)
		}
	}
}

// Close sends a close frame matching reason and closes the connection
func (p *WSPeer) Close(reason Reason) {
	p.closeOnce.Do(func() {
		code := websocket.CloseNormalClosure
		switch reason {
		case DeviceFailure:
			code = websocket.CloseInternalServerErr
		case Shutdown:
			code = websocket.CloseGoingAway
		}

		p.mu.Lock()
		p.conn.SetWriteDeadline(time.Now().Add(50 * time.Millisecond))
		p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason.String()))
		p.mu.Unlock()

		p.conn.Close()
	})
}

// Serve runs producer against the peer alongside the read pump. Whichever
// side ends first tears the other down. The producer's error is returned.
func (p *WSPeer) Serve(ctx context.Context, run func(ctx context.Context, peer Peer) error) error {
	g, gctx := errgroup.WithContext(ctx)

	var result error
	g.Go(p.readPump)
	g.Go(func() error {
		result = run(gctx, p)
		p.Close(ReasonOf(result))
		return result
	})

	g.Wait()
	return result
}
