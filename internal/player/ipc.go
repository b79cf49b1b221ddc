package player

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// ErrClosed is returned for commands sent after the IPC connection closed.
var ErrClosed = errors.New("player: ipc connection closed")

type ipcRequest struct {
	Command   []any `json:"command"`
	RequestID int64 `json:"request_id"`
}

type ipcMessage struct {
	RequestID int64           `json:"request_id"`
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data"`
	Event     string          `json:"event"`
	Name      string          `json:"name"`
	Reason    string          `json:"reason"`
}

// ipcClient speaks mpv's JSON IPC protocol: one JSON object per line, with
// replies matched to requests by request_id.
type ipcClient struct {
	conn net.Conn

	writeMu sync.Mutex
	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan ipcMessage
	closed  bool

	events chan ipcMessage
	done   chan struct{}
}

// dialIPC connects to the socket at path, retrying until mpv has created it
// or ctx expires.
func dialIPC(ctx context.Context, path string) (*ipcClient, error) {
	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "unix", path)
		if err == nil {
			return newIPCClient(conn), nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connecting to mpv ipc socket: %w", errors.Join(ctx.Err(), err))
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func newIPCClient(conn net.Conn) *ipcClient {
	c := &ipcClient{
		conn:    conn,
		pending: make(map[int64]chan ipcMessage),
		events:  make(chan ipcMessage, 16),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *ipcClient) readLoop() {
	defer c.shutdown()
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var msg ipcMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		if msg.Event != "" {
			select {
			case c.events <- msg:
			default:
			}
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[msg.RequestID]
		delete(c.pending, msg.RequestID)
		c.mu.Unlock()
		if ok {
			ch <- msg
		}
	}
}

func (c *ipcClient) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	close(c.done)
}

// command sends args and waits for mpv's reply.
func (c *ipcClient) command(ctx context.Context, args ...any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.nextID++
	id := c.nextID
	reply := make(chan ipcMessage, 1)
	c.pending[id] = reply
	c.mu.Unlock()

	line, err := json.Marshal(ipcRequest{Command: args, RequestID: id})
	if err != nil {
		c.forget(id)
		return nil, err
	}
	c.writeMu.Lock()
	_, err = c.conn.Write(append(line, '\n'))
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("writing mpv command: %w", err)
	}

	select {
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	case msg, ok := <-reply:
		if !ok {
			return nil, ErrClosed
		}
		if msg.Error != "" && msg.Error != "success" {
			return nil, fmt.Errorf("mpv %v: %s", args[0], msg.Error)
		}
		return msg.Data, nil
	}
}

func (c *ipcClient) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *ipcClient) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}
