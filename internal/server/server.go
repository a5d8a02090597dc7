// Package server is the thin HTTP surface in front of the pipeline: browser
// history ingestion, an authenticated external-command endpoint and a
// websocket status stream. It owns no pipeline state of its own.
package server

import (
	"context"
	"errors"
	log "log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"omni/internal/memory"
	"omni/internal/pipeline"
	"omni/internal/toolbox"
)

const browserContentLimit = 500

type BrowserData struct {
	URL     string `json:"url" binding:"required"`
	Title   string `json:"title" binding:"required"`
	Content string `json:"content"`
}

type ExternalCommand struct {
	Command string `json:"command" binding:"required"`
}

type Server struct {
	store    *memory.Store
	queue    *pipeline.Queue
	apiKey   string
	upgrader websocket.Upgrader
}

func New(store *memory.Store, queue *pipeline.Queue, apiKey string) *Server {
	return &Server{
		store:  store,
		queue:  queue,
		apiKey: apiKey,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/", s.handleRoot)
	r.POST("/ingest-browser", s.handleIngestBrowser)
	r.POST("/api/external-command", s.handleExternalCommand)
	r.GET("/ws/live-stream", s.handleLiveStream)
	return r
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleRoot(c *gin.Context) {
	stream, longTerm := s.store.Counts()
	c.JSON(http.StatusOK, gin.H{
		"status":            "omni backend running",
		"queue_depth":       s.queue.Depth(),
		"stream_records":    stream,
		"long_term_records": longTerm,
	})
}

func (s *Server) handleIngestBrowser(c *gin.Context) {
	var data BrowserData
	if err := c.ShouldBindJSON(&data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	content := data.Content
	if len(content) > browserContentLimit {
		content = content[:browserContentLimit] + "..."
	}
	text := "User visited " + data.Title + " (" + data.URL + "). Content: " + content

	err := s.store.Add(c.Request.Context(), text, memory.SourceBrowser, map[string]any{
		"url":   data.URL,
		"title": data.Title,
	})
	if err != nil {
		log.Error("browser ingest failed", "url", data.URL, "err", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "ingest failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ingested"})
}

func (s *Server) handleExternalCommand(c *gin.Context) {
	if s.apiKey == "" || c.GetHeader("X-API-Key") != s.apiKey {
		c.JSON(http.StatusForbidden, gin.H{"detail": "Invalid API Key"})
		return
	}

	var cmd ExternalCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	log.Info("external command received", "command", cmd.Command)
	res, err := toolbox.Execute(c.Request.Context(), cmd.Command)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "executed", "result": res})
}

// handleLiveStream pushes a status frame once per second until the client
// goes away.
func (s *Server) handleLiveStream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
			stream, longTerm := s.store.Counts()
			err := conn.WriteJSON(gin.H{
				"state":             "listening",
				"timestamp":         float64(time.Now().UnixNano()) / 1e9,
				"queue_depth":       s.queue.Depth(),
				"queue_age_seconds": s.queue.OldestAge().Seconds(),
				"stream_records":    stream,
				"long_term_records": longTerm,
			})
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Debug("live stream client gone", "err", err)
				}
				return
			}
		}
	}
}
