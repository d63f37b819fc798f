// Package server exposes the analysis pipeline over HTTP.
package server

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/zen-systems/careerflow/pkg/analysis"
	"github.com/zen-systems/careerflow/pkg/document"
	"github.com/zen-systems/careerflow/pkg/pipeline"
)

// DefaultMaxUploadBytes matches the upload limit of the web form.
const DefaultMaxUploadBytes = 16 << 20

// Options configures the HTTP server.
type Options struct {
	UploadDir       string
	MaxUploadBytes  int64
	DefaultPipeline string
	Logger          func(format string, args ...any)
}

// Server handles resume uploads.
type Server struct {
	app       *fiber.App
	svc       *analysis.Service
	uploadDir string
	pipeline  string
	logf      func(format string, args ...any)
}

// New builds the fiber app and registers routes.
func New(svc *analysis.Service, opts Options) (*Server, error) {
	if svc == nil {
		return nil, errors.New("server: analysis service is required")
	}
	limit := opts.MaxUploadBytes
	if limit <= 0 {
		limit = DefaultMaxUploadBytes
	}
	s := &Server{
		svc:       svc,
		uploadDir: opts.UploadDir,
		pipeline:  opts.DefaultPipeline,
		logf:      opts.Logger,
	}
	if s.pipeline == "" {
		s.pipeline = "basic"
	}
	if s.logf == nil {
		s.logf = func(string, ...any) {}
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "careerflow",
		BodyLimit:             int(limit),
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	s.app.Get("/healthz", s.healthz)
	s.app.Get("/progress", s.progress)
	s.app.Post("/analyze", s.analyze)
	return s, nil
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown is called.
func (s *Server) Listen(addr string) error {
	s.logf("[server] listening on %s", addr)
	return s.app.Listen(addr)
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) healthz(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// progress is a fixed placeholder polled by the upload page.
func (s *Server) progress(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"progress": 50, "status": "Processing..."})
}

func (s *Server) analyze(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil || fh.Filename == "" {
		return fail(c, fiber.StatusBadRequest, "no file uploaded")
	}
	name := filepath.Base(fh.Filename)
	if !document.Supported(name) {
		return fail(c, fiber.StatusUnsupportedMediaType, "unsupported file type; upload one of "+strings.Join(document.Extensions, ", "))
	}

	ref := c.FormValue("pipeline", s.pipeline)
	p, err := pipeline.Builtin(ref)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}

	if s.uploadDir != "" {
		if err := os.MkdirAll(s.uploadDir, 0700); err != nil {
			return err
		}
	}
	dir, err := os.MkdirTemp(s.uploadDir, "upload-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, name)
	if err := c.SaveFile(fh, path); err != nil {
		return err
	}

	s.logf("[server] analyzing %s with %s", name, p.Name)
	res, err := s.svc.Analyze(c.UserContext(), analysis.Request{Pipeline: p, DocumentPath: path})
	if err != nil {
		return err
	}
	return c.Status(res.Response.StatusCode).JSON(res.Response)
}

func fail(c *fiber.Ctx, code int, msg string) error {
	return c.Status(code).JSON(fiber.Map{"success": false, "error": msg})
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var ferr *fiber.Error
	if errors.As(err, &ferr) {
		code = ferr.Code
	}
	return fail(c, code, err.Error())
}
