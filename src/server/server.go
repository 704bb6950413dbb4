package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"market-observer/src/config"
	"market-observer/src/delivery"
	"market-observer/src/dispatcher"
	"market-observer/src/interfaces"
	"market-observer/src/logger"
	"market-observer/src/models"
	"market-observer/src/upstream"
)

// -----------------------------------------------------------------------------
// FastAPIServer wires the WebSocket hub into a gin engine, mirroring the
// teacher's REST-plus-websocket surface (getHealth/getMetrics/setupRoutes).
// -----------------------------------------------------------------------------

type FastAPIServer struct {
	Config       *config.Config
	Logger       *logger.Logger
	SnapshotPath string // where addConnection persists the edited config (spec §6)

	engine *gin.Engine
	hub    *Hub
	pool   *upstream.ConnectionPool
	dsp    *dispatcher.SubscriptionDispatcher

	httpServer *http.Server
	hubStop    chan struct{}
}

// -----------------------------------------------------------------------------

func NewFastAPIServer(cfg *config.Config, snapshotPath string, log *logger.Logger, pool *upstream.ConnectionPool, dsp *dispatcher.SubscriptionDispatcher, engine *delivery.DiffDeliveryEngine, catalogue interfaces.InstrumentCatalogue) *FastAPIServer {
	gin.SetMode(gin.ReleaseMode)

	s := &FastAPIServer{
		Config:       cfg,
		Logger:       log,
		SnapshotPath: snapshotPath,
		engine:       gin.New(),
		pool:         pool,
		dsp:          dsp,
	}
	s.hub = NewHub(dsp, engine, catalogue, pool, log)

	s.engine.Use(gin.Recovery())
	s.engine.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	s.setupRoutes()
	return s
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) setupRoutes() {
	s.engine.GET("/api/health", s.getHealth)
	s.engine.GET("/api/stats", s.getStats)
	s.engine.GET("/api/connections", s.getConnections)
	s.engine.POST("/api/connections", s.addConnection)
	s.engine.GET("/ws", s.hub.handleWebSocket)
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

func (s *FastAPIServer) Start() error {
	s.hubStop = make(chan struct{})
	go s.hub.Run(s.hubStop)

	addr := fmt.Sprintf(":%d", s.Config.WebsocketPort)
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	s.Logger.Info("starting websocket server on %s", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) Stop(ctx context.Context) error {
	close(s.hubStop)
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// -----------------------------------------------------------------------------
// REST handlers
// -----------------------------------------------------------------------------

func (s *FastAPIServer) getHealth(c *gin.Context) {
	c.JSON(200, gin.H{
		"status":            "ok",
		"active_upstreams":  s.pool.ActiveCount(),
		"total_upstreams":   len(s.pool.All()),
		"client_connections": s.hub.ConnectionCount(),
	})
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) getStats(c *gin.Context) {
	c.JSON(200, s.dsp.Statistics())
}

// -----------------------------------------------------------------------------

// addConnection adds a new upstream connection at runtime and persists the
// edited configuration as a YAML snapshot via config.Config.Save, the way
// the teacher's admin surface edits-and-saves rather than mutating the JSON
// source file in place.
func (s *FastAPIServer) addConnection(c *gin.Context) {
	var cfg models.MConnectionConfig
	if err := c.BindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := s.pool.AddConnection(cfg); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	s.Config.Connections = append(s.Config.Connections, cfg)
	if s.SnapshotPath != "" {
		if err := s.Config.Save(s.SnapshotPath); err != nil {
			s.Logger.Warning("failed to persist config snapshot after adding connection %s: %v", cfg.ConnectionID, err)
		}
	}

	conn, _ := s.pool.Get(cfg.ConnectionID)
	if conn != nil && cfg.Enabled {
		conn.Start()
	}

	c.JSON(http.StatusCreated, gin.H{"connection_id": cfg.ConnectionID, "status": "added"})
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) getConnections(c *gin.Context) {
	type connView struct {
		ID            string `json:"connection_id"`
		Status        string `json:"status"`
		Quality       int    `json:"quality"`
		Subscriptions int    `json:"subscriptions"`
	}
	conns := s.pool.All()
	out := make([]connView, 0, len(conns))
	for _, cn := range conns {
		out = append(out, connView{
			ID:            cn.ID(),
			Status:        cn.Status().String(),
			Quality:       cn.Quality(),
			Subscriptions: cn.SubscriptionCount(),
		})
	}
	c.JSON(200, out)
}
