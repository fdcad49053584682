package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/betbot/copyflow/internal/copytrade"
	"github.com/betbot/copyflow/internal/position"
	"github.com/betbot/copyflow/internal/risk"
	"github.com/betbot/copyflow/internal/scheduler"
	"github.com/betbot/copyflow/internal/storage"
)

var log = logrus.WithField("module", "server")

// Server 只读运维接口：查持仓、订单、复制记录与风控状态。
// 不提供任何下单或改配置的入口。
type Server struct {
	store     *storage.Store
	positions *position.Tracker
	riskMgr   *risk.Manager
	engine    *copytrade.Engine
	sched     *scheduler.Scheduler

	httpSrv *http.Server
}

func New(listen string, store *storage.Store, positions *position.Tracker,
	riskMgr *risk.Manager, engine *copytrade.Engine, sched *scheduler.Scheduler) *Server {
	s := &Server{
		store:     store,
		positions: positions,
		riskMgr:   riskMgr,
		engine:    engine,
		sched:     sched,
	}
	s.httpSrv = &http.Server{
		Addr:              listen,
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	api := r.Group("/api")
	api.GET("/positions", s.handlePositions)
	api.GET("/orders", s.handleOrders)
	api.GET("/copytrades", s.handleCopyTrades)
	api.GET("/risk", s.handleRisk)
	api.GET("/copytrade/state", s.handleEngineState)
	return r
}

// Start 在后台启动 HTTP 服务
func (s *Server) Start() {
	go func() {
		log.Infof("运维接口监听 %s", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("运维接口退出: %v", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"positions":      s.positions.OpenPositions(),
		"total_exposure": s.positions.GetTotalExposure(),
	})
}

func (s *Server) handleOrders(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	orders, err := s.store.Orders().FindRecent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) handleCopyTrades(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	trades, err := s.store.CopyLog().FindRecent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"copy_trades": trades})
}

func (s *Server) handleRisk(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"balance":        s.riskMgr.Balance(),
		"circuit_states": s.riskMgr.CircuitStates(),
		"skipped_ticks":  s.sched.SkippedTicks(),
	})
}

func (s *Server) handleEngineState(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Snapshot())
}
