// Package httpserver exposes the order cleanup REST surface consumed by the
// console: a paginated listing and an irreversible per-order file delete.
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jumboxerox/opsconsole/internal/model"
	"github.com/jumboxerox/opsconsole/internal/orderstore"
	"github.com/willibrandon/mtlog"
	"github.com/willibrandon/mtlog/core"
)

const maxPageSize = 100

// OrderRepository is the narrow store contract required by the HTTP API.
type OrderRepository interface {
	ListForDeletion(ctx context.Context, search string, page, limit int) (model.OrderPage, error)
	Get(ctx context.Context, id string) (orderstore.OrderRecord, error)
	MarkFilesDeleted(ctx context.Context, id string, at time.Time) error
	Counts(ctx context.Context) (total, deleted int, err error)
}

// FileRemover deletes the stored files of one order.
type FileRemover interface {
	RemoveOrder(orderID string) (int64, error)
}

// Options tunes the server. Zero values pick defaults.
type Options struct {
	Addr   string
	Logger core.Logger
	Now    func() time.Time
}

// Server provides the HTTP API of the dev backend.
type Server struct {
	addr      string
	orders    OrderRepository
	files     FileRemover
	log       core.Logger
	now       func() time.Time
	deleteMu  sync.Mutex // one file removal at a time
	server    *http.Server
	listener  net.Listener
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates a new HTTP API server.
func NewServer(opts Options, orders OrderRepository, files FileRemover) *Server {
	if opts.Addr == "" {
		opts.Addr = "0.0.0.0:3000"
	}
	if opts.Logger == nil {
		opts.Logger = mtlog.New()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      opts.Addr,
		orders:    orders,
		files:     files,
		log:       opts.Logger.ForContext("SourceContext", "httpserver"),
		now:       opts.Now,
		ctx:       ctx,
		cancel:    cancel,
		startTime: opts.Now(),
	}
}

// Handler builds the routing tree.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	api := r.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/admin/orders-for-deletion", s.handleList)
	api.DELETE("/admin/order/files/:id", s.handleDeleteFiles)
	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.startTime = s.now()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server on {Addr} stopped: {Error}", s.addr, err)
		}
	}()
	s.log.Information("HTTP API listening on {Addr}", listener.Addr().String())
	return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)
		status := c.Writer.Status()
		switch {
		case status >= 500:
			s.log.Error("HTTP {Method} {Path} responded {StatusCode} in {Elapsed}", c.Request.Method, c.Request.URL.Path, status, elapsed)
		case status >= 400:
			s.log.Warning("HTTP {Method} {Path} responded {StatusCode} in {Elapsed}", c.Request.Method, c.Request.URL.Path, status, elapsed)
		default:
			s.log.Debug("HTTP {Method} {Path} responded {StatusCode} in {Elapsed}", c.Request.Method, c.Request.URL.Path, status, elapsed)
		}
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	total, deleted, err := s.orders.Counts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to read health metrics"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"uptime":       s.now().Sub(s.startTime).String(),
		"orders":       total,
		"filesDeleted": deleted,
	})
}

// positiveQuery reads a positive integer query parameter.
func positiveQuery(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func (s *Server) handleList(c *gin.Context) {
	page, ok := positiveQuery(c, "page", 1)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"message": "page must be a positive integer"})
		return
	}
	limit, ok := positiveQuery(c, "limit", model.DefaultPageSize)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"message": "limit must be a positive integer"})
		return
	}
	limit = min(limit, maxPageSize)

	result, err := s.orders.ListForDeletion(c.Request.Context(), c.Query("search"), page, limit)
	if err != nil {
		s.log.Error("Listing orders failed: {Error}", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to load storage data"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleDeleteFiles(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	s.deleteMu.Lock()
	defer s.deleteMu.Unlock()

	order, err := s.orders.Get(ctx, id)
	switch {
	case errors.Is(err, orderstore.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "Order not found"})
		return
	case err != nil:
		s.log.Error("Loading order {OrderID} failed: {Error}", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Deletion failed"})
		return
	case order.FilesDeleted:
		c.JSON(http.StatusBadRequest, gin.H{"message": "Files already deleted"})
		return
	}

	freed, err := s.files.RemoveOrder(id)
	if err != nil {
		s.log.Error("Removing files of order {OrderID} failed: {Error}", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to remove stored files"})
		return
	}

	if err := s.orders.MarkFilesDeleted(ctx, id, s.now()); err != nil {
		if errors.Is(err, orderstore.ErrAlreadyDeleted) {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Files already deleted"})
			return
		}
		s.log.Error("Marking order {OrderID} deleted failed: {Error}", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Deletion failed"})
		return
	}

	s.log.Information("Deleted {FileCount} files of order {OrderID}, freed {FreedBytes} bytes", len(order.Files), id, freed)
	c.JSON(http.StatusOK, gin.H{
		"message":    "Files deleted successfully",
		"freedBytes": freed,
	})
}
