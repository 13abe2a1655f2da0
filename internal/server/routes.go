package server

import (
	"errors"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/instaxemu/internal/auth"
	"github.com/danmuck/instaxemu/internal/events"
	"github.com/danmuck/instaxemu/internal/printer/model"
	"github.com/danmuck/instaxemu/internal/printer/state"
	"github.com/danmuck/instaxemu/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.ID,
			"version": version,
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":   true,
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.ID,
			"version": version,
		})
	})

	api := r.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/printer-info", s.handlePrinterInfo)
	api.GET("/print-status", s.handlePrintStatus)
	api.GET("/events", s.handlePendingEvents)
	api.GET("/files", s.handleListFiles)
	api.GET("/files/:name", s.handleDownloadFile)

	write := api.Group("")
	if s.token != "" {
		write.Use(auth.Middleware(auth.StaticToken{Token: s.token}))
	}
	write.POST("/set-model", s.handleSetModel)
	write.POST("/set-battery", s.handleSetBattery)
	write.POST("/set-prints", s.handleSetPrints)
	write.POST("/set-charging", s.boolSetter("charging", s.printer.Store.SetCharging))
	write.POST("/set-suspend-decrement", s.boolSetter("suspend", s.printer.Store.SetSuspendDecrement))
	write.POST("/set-cover-open", s.boolSetter("cover_open", s.printer.Store.SetCoverOpen))
	write.POST("/set-printer-busy", s.boolSetter("printer_busy", s.printer.Store.SetPrinterBusy))
	write.POST("/set-accelerometer", s.handleSetAccelerometer)

	write.DELETE("/files/:name", s.handleDeleteFile)
	write.DELETE("/files", s.handleDeleteFile)
	write.POST("/files-delete-all", s.handleDeleteAll)
	write.POST("/upload", s.handleUpload)
}

func (s *Server) connected() bool {
	return s.printer.Session != nil && s.printer.Session.IsConnected()
}

func (s *Server) handleStatus(c *gin.Context) {
	snap := s.printer.Store.Snapshot()
	uptime := time.Since(s.Appeared)
	body := gin.H{
		"model":          s.printer.Profile.ID.String(),
		"connected":      s.connected(),
		"battery_state":  snap.BatteryState(),
		"state":          snap,
		"uptime":         uptime.Round(time.Second).String(),
		"uptime_seconds": int64(uptime.Seconds()),
	}
	if s.printer.Session != nil {
		body["job"] = s.printer.Session.Dispatcher().Job().Status()
	}
	if s.printer.Persister != nil {
		next := s.printer.Persister.Model()
		body["next_model"] = next
		body["restart_required"] = next != s.printer.Profile.ID.String()
	}
	if s.printer.Files != nil {
		if stats, err := s.printer.Files.Stats(); err == nil {
			body["storage"] = stats
		}
	}
	if s.printer.Events != nil {
		body["events_pending"] = s.printer.Events.PendingCount()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handlePendingEvents(c *gin.Context) {
	pending := []events.Pending{}
	if s.printer.Events != nil {
		pending = s.printer.Events.Pending()
	}
	c.JSON(http.StatusOK, gin.H{"count": len(pending), "pending": pending})
}

func (s *Server) handlePrinterInfo(c *gin.Context) {
	p := s.printer.Profile
	snap := s.printer.Store.Snapshot()
	mode, _ := state.PrintModeName(snap.PrintMode)
	c.JSON(http.StatusOK, gin.H{
		"device_name":        p.Identity.DeviceName,
		"model":              p.ID.String(),
		"name":               p.Name,
		"width":              p.Width,
		"height":             p.Height,
		"chunk_size":         p.ChunkSize,
		"max_file_size":      p.MaxFileSize,
		"identity":           p.Identity,
		"battery":            snap.BatteryPercentage,
		"charging":           snap.Charging,
		"suspend_decrement":  snap.SuspendDecrement,
		"photos_remaining":   snap.PhotosRemaining,
		"lifetime_prints":    snap.LifetimePrints,
		"connected":          s.connected(),
		"accelerometer":      snap.Accelerometer,
		"cover_open":         snap.CoverOpen,
		"printer_busy":       snap.PrinterBusy,
		"auto_sleep_timeout": snap.AutoSleepMinutes,
		"print_mode":         snap.PrintMode,
		"print_mode_name":    mode,
	})
}

func (s *Server) handlePrintStatus(c *gin.Context) {
	if s.printer.Session == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no printer session"})
		return
	}
	c.JSON(http.StatusOK, s.printer.Session.Dispatcher().Job().Status())
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": msg})
}

func respondOK(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleSetModel(c *gin.Context) {
	var req struct {
		Model *string `json:"model"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Model == nil {
		badRequest(c, "missing or invalid model")
		return
	}
	p, err := model.Parse(*req.Model)
	if err != nil {
		badRequest(c, "invalid model name")
		return
	}
	name := p.ID.String()
	if s.printer.Persister != nil {
		if err := s.printer.Persister.SetModel(name); err != nil {
			log.Error().Err(err).Str("model", name).Msg("model switch not saved")
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}
	}
	log.Info().Str("from", s.printer.Profile.ID.String()).Str("to", name).Msg("model switch requested")
	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"model":            name,
		"restart_required": name != s.printer.Profile.ID.String(),
		"persisted":        s.printer.Persister != nil,
	})
}

func (s *Server) handleSetBattery(c *gin.Context) {
	var req struct {
		Percentage *int `json:"percentage"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Percentage == nil {
		badRequest(c, "missing or invalid percentage")
		return
	}
	if err := s.printer.Store.SetBattery(*req.Percentage); err != nil {
		badRequest(c, "percentage must be 0-100")
		return
	}
	respondOK(c)
}

func (s *Server) handleSetPrints(c *gin.Context) {
	var req struct {
		Count *int `json:"count"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Count == nil {
		badRequest(c, "missing or invalid count")
		return
	}
	if err := s.printer.Store.SetPhotosRemaining(*req.Count); err != nil {
		badRequest(c, "count must be 0-15")
		return
	}
	respondOK(c)
}

// boolSetter handles the POST endpoints that take a single boolean field.
func (s *Server) boolSetter(field string, set func(bool)) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req map[string]any
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid json")
			return
		}
		v, isBool := req[field].(bool)
		if !isBool {
			badRequest(c, "missing or invalid "+field)
			return
		}
		set(v)
		log.Info().Bool(field, v).Msg("printer state changed")
		respondOK(c)
	}
}

func (s *Server) handleSetAccelerometer(c *gin.Context) {
	var req struct {
		X           *int `json:"x"`
		Y           *int `json:"y"`
		Z           *int `json:"z"`
		Orientation *int `json:"orientation"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.X == nil || req.Y == nil || req.Z == nil {
		badRequest(c, "missing or invalid x, y, z")
		return
	}
	for _, v := range []int{*req.X, *req.Y, *req.Z} {
		if v < math.MinInt16 || v > math.MaxInt16 {
			badRequest(c, "axis values must fit int16")
			return
		}
	}
	orientation := 0
	if req.Orientation != nil {
		orientation = *req.Orientation
	}
	if orientation < 0 || orientation > math.MaxUint8 {
		badRequest(c, "orientation must be 0-255")
		return
	}
	s.printer.Store.SetAccelerometer(state.Accelerometer{
		X:           int16(*req.X),
		Y:           int16(*req.Y),
		Z:           int16(*req.Z),
		Orientation: uint8(orientation),
	})
	respondOK(c)
}

func (s *Server) handleListFiles(c *gin.Context) {
	files, err := s.printer.Files.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	stats, err := s.printer.Files.Stats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files, "stats": stats})
}

func fileError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrInvalidName), errors.Is(err, storage.ErrTooLarge), errors.Is(err, storage.ErrEmpty):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) handleDownloadFile(c *gin.Context) {
	path, err := s.printer.Files.Path(c.Param("name"))
	if err != nil {
		fileError(c, err)
		return
	}
	c.Header("Content-Type", "image/jpeg")
	c.File(path)
}

// handleDeleteFile accepts the name as a path segment or as ?file=.
func (s *Server) handleDeleteFile(c *gin.Context) {
	name := c.Param("name")
	if name == "" {
		name = c.Query("file")
	}
	if err := s.printer.Files.Delete(name); err != nil {
		fileError(c, err)
		return
	}
	log.Info().Str("file", name).Msg("print file deleted")
	respondOK(c)
}

func (s *Server) handleDeleteAll(c *gin.Context) {
	n, err := s.printer.Files.DeleteAll()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	log.Info().Int("deleted", n).Msg("print files deleted")
	c.JSON(http.StatusOK, gin.H{"success": true, "deleted": n, "message": "All files deleted"})
}

// handleUpload accepts either a multipart form with a "file" field or the
// raw image as the request body.
func (s *Server) handleUpload(c *gin.Context) {
	if c.Request.ContentLength > storage.MaxUploadSize && !strings.HasPrefix(c.ContentType(), "multipart/") {
		badRequest(c, "file too large")
		return
	}

	body := io.Reader(c.Request.Body)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("file")
		if err != nil {
			badRequest(c, "missing file field")
			return
		}
		if fh.Size > storage.MaxUploadSize {
			badRequest(c, "file too large")
			return
		}
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}
		defer f.Close()
		body = f
	}

	name, err := s.printer.Files.SaveUpload(body)
	if err != nil {
		fileError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "filename": name})
}
