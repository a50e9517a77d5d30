package simserver

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/hooksbot/client/internal/config"
	"github.com/hooksbot/client/pkg/response"
)

// Server implements the hooks service contract: the REST endpoints and the
// shared notification channel. The processing behind it is simulated; the
// wire surface is the real one.
type Server struct {
	app     *fiber.App
	hub     *Hub
	pipe    *Pipeline
	dataDir string

	ownsDataDir bool
}

// New builds a simulator from config. With an empty DataDir a temporary
// directory is created and removed on Shutdown.
func New(cfg config.SimConfig) (*Server, error) {
	dataDir := cfg.DataDir
	ownsDataDir := false
	if dataDir == "" {
		dir, err := os.MkdirTemp("", "hooksim-")
		if err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		dataDir = dir
		ownsDataDir = true
	}

	hub := NewHub()
	go hub.Run()

	s := &Server{
		hub:         hub,
		pipe:        NewPipeline(hub, dataDir, time.Duration(cfg.StepDelay)*time.Millisecond),
		dataDir:     dataDir,
		ownsDataDir: ownsDataDir,
	}

	app := fiber.New(fiber.Config{
		BodyLimit:             cfg.BodyLimit * 1024 * 1024,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	app.Post("/process", s.handleProcess)
	app.Post("/cancel_task", s.handleCancelTask)
	app.Post("/delete_temp_files", s.handleDeleteTempFiles)
	app.Get("/download_output", s.handleDownloadOutput)
	app.Post("/download_all", s.handleDownloadAll)
	app.Get("/files/:task/:name", s.handleFile)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(func(c *websocket.Conn) {
		hub.HandleConnection(c)
	}))

	s.app = app
	return s, nil
}

// Hub exposes the notification hub, mainly so tests can inject envelopes.
func (s *Server) Hub() *Hub {
	return s.hub
}

// DataDir returns the directory task outputs are written under.
func (s *Server) DataDir() string {
	return s.dataDir
}

// Listen serves on the given address until Shutdown.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Serve serves on an existing listener; used by tests with an ephemeral
// port.
func (s *Server) Serve(ln net.Listener) error {
	return s.app.Listener(ln)
}

// Shutdown stops the server and removes the data dir if the server owns it.
func (s *Server) Shutdown() error {
	err := s.app.ShutdownWithTimeout(10 * time.Second)
	if s.ownsDataDir {
		if rmErr := os.RemoveAll(s.dataDir); err == nil {
			err = rmErr
		}
	}
	return err
}

// handleProcess accepts a multipart job submission. Contract: missing or
// invalid fields are a synchronous rejection, a 200 with an error flag in
// the body, not an HTTP error.
func (s *Server) handleProcess(c *fiber.Ctx) error {
	taskID := c.FormValue("task_id")
	if taskID == "" {
		return response.Rejected(c, "task_id is required")
	}
	if strings.ContainsAny(taskID, "/\\.") {
		return response.Rejected(c, "invalid task_id")
	}
	if c.FormValue("voice_id") == "" {
		return response.Rejected(c, "voice_id is required")
	}
	if c.FormValue("api_key") == "" {
		return response.Rejected(c, "api_key is required")
	}

	form, err := c.MultipartForm()
	if err != nil {
		return response.Rejected(c, "invalid multipart form")
	}
	videos := form.File["video"]
	if len(videos) == 0 {
		return response.Rejected(c, "at least one video file is required")
	}

	dir := filepath.Join(s.dataDir, taskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return response.Error(c, fiber.StatusInternalServerError, "failed to create task dir")
	}

	// Script and CSV are stored alongside the clips; the simulation does
	// not interpret them.
	for _, field := range []string{"script", "input_csv"} {
		if fh, err := c.FormFile(field); err == nil {
			_ = c.SaveFile(fh, filepath.Join(dir, filepath.Base(fh.Filename)))
		}
	}

	inputs := make([]InputVideo, 0, len(videos))
	for _, fh := range videos {
		name := filepath.Base(fh.Filename)
		path := filepath.Join(dir, name)
		if err := c.SaveFile(fh, path); err != nil {
			return response.Error(c, fiber.StatusInternalServerError, "failed to save upload")
		}
		inputs = append(inputs, InputVideo{Name: name, Path: path})
	}

	s.pipe.Start(taskID, inputs)
	return response.Accepted(c)
}

type taskRequest struct {
	TaskID string `json:"task_id"`
}

func (s *Server) handleCancelTask(c *fiber.Ctx) error {
	var req taskRequest
	if err := c.BodyParser(&req); err != nil || req.TaskID == "" {
		return response.Error(c, fiber.StatusBadRequest, "task_id is required")
	}

	if s.pipe.Cancel(req.TaskID) {
		return response.Message(c, fmt.Sprintf("Task %s has been canceled", req.TaskID))
	}
	return response.Message(c, fmt.Sprintf("Task %s is not running, nothing to cancel", req.TaskID))
}

func (s *Server) handleDeleteTempFiles(c *fiber.Ctx) error {
	var req taskRequest
	if err := c.BodyParser(&req); err != nil || req.TaskID == "" {
		return response.Error(c, fiber.StatusBadRequest, "task_id is required")
	}
	if strings.ContainsAny(req.TaskID, "/\\.") {
		return response.Error(c, fiber.StatusBadRequest, "invalid task_id")
	}

	if err := s.pipe.Cleanup(req.TaskID); err != nil {
		return response.Error(c, fiber.StatusInternalServerError, "failed to delete temp files")
	}
	return response.Message(c, fmt.Sprintf("Temporary files for task %s deleted", req.TaskID))
}

func (s *Server) handleDownloadOutput(c *fiber.Ctx) error {
	zipPath := c.Query("zip_path")
	if zipPath == "" {
		return response.Error(c, fiber.StatusBadRequest, "zip_path is required")
	}

	path, err := s.safeJoin(zipPath)
	if err != nil {
		return response.Error(c, fiber.StatusBadRequest, "invalid zip_path")
	}
	if _, err := os.Stat(path); err != nil {
		return response.Error(c, fiber.StatusNotFound, "bundle not found")
	}
	return c.Download(path, filepath.Base(path))
}

func (s *Server) handleDownloadAll(c *fiber.Ctx) error {
	var req struct {
		VideoPaths []string `json:"video_paths"`
	}
	if err := c.BodyParser(&req); err != nil || len(req.VideoPaths) == 0 {
		return response.Error(c, fiber.StatusBadRequest, "video_paths is required")
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, vp := range req.VideoPaths {
		path, err := s.safeJoin(strings.TrimPrefix(vp, "/files/"))
		if err != nil {
			zw.Close()
			return response.Error(c, fiber.StatusBadRequest, "invalid video path")
		}
		if err := addToZip(zw, path, filepath.Base(path)); err != nil {
			zw.Close()
			return response.Error(c, fiber.StatusNotFound, "video not found")
		}
	}
	if err := zw.Close(); err != nil {
		return response.Error(c, fiber.StatusInternalServerError, "failed to build archive")
	}

	c.Set(fiber.HeaderContentType, "application/zip")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="videos.zip"`)
	return c.Send(buf.Bytes())
}

func (s *Server) handleFile(c *fiber.Ctx) error {
	path, err := s.safeJoin(filepath.Join(c.Params("task"), c.Params("name")))
	if err != nil {
		return response.Error(c, fiber.StatusBadRequest, "invalid path")
	}
	if _, err := os.Stat(path); err != nil {
		return response.Error(c, fiber.StatusNotFound, "file not found")
	}
	return c.SendFile(path)
}

// safeJoin resolves rel under the data dir, refusing traversal outside it.
func (s *Server) safeJoin(rel string) (string, error) {
	path := filepath.Join(s.dataDir, filepath.Clean("/"+rel))
	if !strings.HasPrefix(path, s.dataDir+string(os.PathSeparator)) {
		return "", errors.New("path escapes data dir")
	}
	return path, nil
}
