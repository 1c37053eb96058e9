// Package gateway 接受 Napcat 的反向 WebSocket 连接并分发收到的帧
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/smallnest/napcatbridge/bus"
	"github.com/smallnest/napcatbridge/correlation"
	"github.com/smallnest/napcatbridge/heartbeat"
	"github.com/smallnest/napcatbridge/internal/logger"
	"github.com/smallnest/napcatbridge/metrics"
	"github.com/smallnest/napcatbridge/onebot"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Config 监听配置
type Config struct {
	Host           string
	Port           int
	Path           string
	AccessToken    string
	ActionTimeout  time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
}

func (c *Config) normalize() {
	if c.Path == "" {
		c.Path = "/"
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = correlation.DefaultTimeout
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 * 1024 * 1024
	}
}

// Server 网关服务器
type Server struct {
	cfg     Config
	bus     *bus.MessageBus
	store   *correlation.Store[*onebot.Response]
	monitor *heartbeat.Monitor
	log     *zap.Logger

	mu       sync.RWMutex
	running  bool
	listener net.Listener
	server   *http.Server

	connectionsMu sync.RWMutex
	connections   map[string]*Connection
	active        *Connection
}

// NewServer 创建网关服务器
func NewServer(cfg Config, messageBus *bus.MessageBus, store *correlation.Store[*onebot.Response], monitor *heartbeat.Monitor) *Server {
	cfg.normalize()
	return &Server{
		cfg:         cfg,
		bus:         messageBus,
		store:       store,
		monitor:     monitor,
		log:         logger.L().Named("gateway"),
		connections: make(map[string]*Connection),
	}
}

// Start 绑定端口并开始服务，绑定失败直接返回错误
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc(s.cfg.Path, s.handleWebSocket)

	s.listener = ln
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.running = true
	s.mu.Unlock()

	go func() {
		s.log.Info("Gateway listening",
			zap.String("addr", ln.Addr().String()),
			zap.String("path", s.cfg.Path),
		)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("Gateway server error", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		_ = s.Stop()
	}()

	return nil
}

// Addr 实际监听地址
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop 停止服务器
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	srv := s.server
	s.mu.Unlock()

	s.closeAllConnections()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		s.log.Error("Failed to shutdown gateway server", zap.Error(err))
		return err
	}

	s.log.Info("Gateway server stopped")
	return nil
}

// IsRunning 检查是否运行中
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Server) closeAllConnections() {
	s.connectionsMu.Lock()
	conns := make([]*Connection, 0, len(s.connections))
	for id, conn := range s.connections {
		conns = append(conns, conn)
		delete(s.connections, id)
	}
	s.active = nil
	s.connectionsMu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}

func (s *Server) addConnection(conn *Connection) {
	s.connectionsMu.Lock()
	defer s.connectionsMu.Unlock()
	s.connections[conn.ID] = conn
	s.active = conn
	metrics.GatewayConnections.Set(float64(len(s.connections)))
}

func (s *Server) removeConnection(id string) {
	s.connectionsMu.Lock()
	defer s.connectionsMu.Unlock()
	delete(s.connections, id)
	if s.active != nil && s.active.ID == id {
		s.active = nil
		// 退回到任一仍存活的连接
		for _, c := range s.connections {
			s.active = c
			break
		}
	}
	metrics.GatewayConnections.Set(float64(len(s.connections)))
}

// ConnectionCount 当前连接数
func (s *Server) ConnectionCount() int {
	s.connectionsMu.RLock()
	defer s.connectionsMu.RUnlock()
	return len(s.connections)
}

// ActiveCaller 返回最近建立的连接上的动作调用器
func (s *Server) ActiveCaller() (onebot.API, bool) {
	s.connectionsMu.RLock()
	defer s.connectionsMu.RUnlock()
	if s.active == nil {
		return nil, false
	}
	return s.active.caller, true
}

// handleHealth 健康检查处理器
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	accounts := make([]map[string]interface{}, 0)
	if s.monitor != nil {
		for _, info := range s.monitor.Snapshot() {
			accounts = append(accounts, map[string]interface{}{
				"self_id":   info.SelfID.String(),
				"state":     info.State.String(),
				"last_seen": info.LastSeen.Unix(),
			})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "ok",
		"time":        time.Now().Unix(),
		"connections": s.ConnectionCount(),
		"pending":     s.store.Pending(),
		"accounts":    accounts,
	})
}

// handleWebSocket 接受 Napcat 的反向连接
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != s.cfg.Path {
		http.NotFound(w, r)
		return
	}
	if s.cfg.AccessToken != "" && !s.authenticate(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("Failed to upgrade to WebSocket", zap.Error(err))
		return
	}
	ws.SetReadLimit(s.cfg.MaxMessageSize)

	conn := newConnection(ws, s.store, s.cfg.ActionTimeout, s.log)
	if id, ok := parseSelfID(r.Header.Get("X-Self-ID")); ok {
		conn.setSelfID(id)
		if s.monitor != nil {
			s.monitor.Expect(id)
		}
	}
	s.addConnection(conn)

	s.log.Info("Gateway connection established",
		zap.String("conn_id", conn.ID),
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("self_id", r.Header.Get("X-Self-ID")),
	)

	if s.cfg.PingInterval > 0 {
		go conn.keepalive(s.cfg.PingInterval)
	}
	go s.readLoop(conn)
}

// authenticate 校验 access_token，支持查询参数和 Bearer 头
func (s *Server) authenticate(r *http.Request) bool {
	token := r.URL.Query().Get("access_token")
	if token == "" {
		auth := r.Header.Get("Authorization")
		if strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimPrefix(auth, "Bearer ")
		} else if strings.HasPrefix(auth, "Token ") {
			token = strings.TrimPrefix(auth, "Token ")
		}
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AccessToken)) == 1
}

// readLoop 读取帧直到连接关闭
func (s *Server) readLoop(conn *Connection) {
	defer func() {
		_ = conn.Close()
		s.removeConnection(conn.ID)
		if id, ok := conn.SelfID(); ok && s.monitor != nil {
			s.monitor.MarkLost(id, "connection closed")
		}
		s.log.Info("Gateway connection closed", zap.String("conn_id", conn.ID))
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("Gateway read error",
					zap.String("conn_id", conn.ID),
					zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		s.dispatch(conn, data)
	}
}
