package ws

import (
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection represents a single WebSocket client connection with its
// associated metadata and a write mutex for serializing outbound frames.
type Connection struct {
	UserID     int64      // authenticated user ID
	Conn       net.Conn   // underlying TCP connection
	Fd         int        // file descriptor for epoll lookups
	RemoteIP   string     // client IP for per-IP rate limiting
	CreatedAt  time.Time  // when the connection was established
	LastPing   time.Time  // last heartbeat received from the client
	writeMu    sync.Mutex // serializes writes to this connection
	processing int32      // atomic flag: 0 = idle, 1 = being read by handleConn
}

// WriteMessage sends a WebSocket text frame to this connection. The write
// mutex ensures that concurrent goroutines do not interleave frame bytes.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ConnectionManager is a thread-safe registry that maps user IDs and file
// descriptors to their respective Connection objects. It supports O(1) lookups
// by both user ID and fd.
type ConnectionManager struct {
	mu     sync.RWMutex
	byUser map[int64]*Connection // user_id -> Connection
	byFd   map[int]*Connection   // fd -> Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byUser: make(map[int64]*Connection),
		byFd:   make(map[int]*Connection),
	}
}

// Add registers a new connection in both the user and fd lookup maps. If the
// user already had a connection, the previous one is returned so the caller
// can close it (last connection wins).
func (cm *ConnectionManager) Add(conn *Connection) *Connection {
	cm.mu.Lock()
	prev := cm.byUser[conn.UserID]
	if prev != nil {
		delete(cm.byFd, prev.Fd)
	}
	cm.byUser[conn.UserID] = conn
	cm.byFd[conn.Fd] = conn
	cm.mu.Unlock()
	return prev
}

// Remove removes a connection by user ID, closes the underlying network
// connection, and removes it from both lookup maps. Returns true if the
// connection was found and removed, false if it was already gone.
func (cm *ConnectionManager) Remove(userID int64) bool {
	cm.mu.Lock()
	conn, ok := cm.byUser[userID]
	if ok {
		delete(cm.byUser, userID)
		delete(cm.byFd, conn.Fd)
	}
	cm.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// RemoveByFd removes a connection by file descriptor, closes the underlying
// network connection, and removes it from both lookup maps. It returns the
// removed connection, or nil if no connection was registered for that fd.
func (cm *ConnectionManager) RemoveByFd(fd int) *Connection {
	cm.mu.Lock()
	conn, ok := cm.byFd[fd]
	if ok {
		delete(cm.byFd, fd)
		delete(cm.byUser, conn.UserID)
	}
	cm.mu.Unlock()

	if ok {
		conn.Close()
		return conn
	}
	return nil
}

// Get returns the connection for the given user ID, or nil if not found.
func (cm *ConnectionManager) Get(userID int64) *Connection {
	cm.mu.RLock()
	conn := cm.byUser[userID]
	cm.mu.RUnlock()
	return conn
}

// GetByFd returns the connection for the given file descriptor, or nil if
// not found.
func (cm *ConnectionManager) GetByFd(fd int) *Connection {
	cm.mu.RLock()
	conn := cm.byFd[fd]
	cm.mu.RUnlock()
	return conn
}

// GetByConn returns the connection for the given net.Conn by extracting
// its file descriptor. Returns nil if not found.
func (cm *ConnectionManager) GetByConn(c net.Conn) *Connection {
	fd := socketFD(c)
	return cm.GetByFd(fd)
}

// Count returns the current number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byUser)
	cm.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections. The returned slice is
// safe to iterate without holding the lock.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byUser))
	for _, conn := range cm.byUser {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}
