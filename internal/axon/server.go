// Package axon serves the validator's public HTTP endpoint and keeps
// its location advertised on chain so peers can find it.
package axon

import (
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog/log"

	"github.com/tensorplex-labs/sensei/internal/config"
	"github.com/tensorplex-labs/sensei/internal/dendrite"
	"github.com/tensorplex-labs/sensei/pkg/signature"
)

const (
	DefaultHost      = "0.0.0.0"
	DefaultPort      = 8091
	DefaultBodyLimit = 1024 * 1024 // 1MB
)

// whitelistedRoutes skip decompression and signature checks so anyone
// can probe liveness without holding a registered hotkey.
var whitelistedRoutes = []string{"/health", "/identity"}

// Identity is what the axon reports about itself on /identity.
type Identity struct {
	Hotkey  string `json:"hotkey"`
	Netuid  int    `json:"netuid"`
	Version int    `json:"version"`
}

// Server is the fiber app answering synapse posts from peers.
type Server struct {
	App      *fiber.App
	host     string
	port     int
	identity Identity
}

// SynapseHandler processes one decoded synapse and returns the reply body.
type SynapseHandler[T any] func(c *fiber.Ctx, req T) (T, error)

// NewServer builds the axon app with panic recovery, compression, zstd
// request handling and signature verification wired in. A nil verifier
// falls back to the default sr25519 verifier.
func NewServer(cfg *config.AxonEnvConfig, verifier signature.SignatureVerifier, identity Identity) *Server {
	port := DefaultPort
	bodyLimit := DefaultBodyLimit
	if cfg != nil {
		if cfg.AxonPort != 0 {
			port = cfg.AxonPort
		}
		if cfg.BodySizeLimit != 0 {
			bodyLimit = cfg.BodySizeLimit
		}
	}
	if verifier == nil {
		verifier = signature.NewVerifier()
	}

	app := fiber.New(fiber.Config{
		Prefork:      false,
		ErrorHandler: fiberErrHandler,
		JSONEncoder:  sonic.Marshal,
		JSONDecoder:  sonic.Unmarshal,
		BodyLimit:    bodyLimit,
	})

	app.Use(recover.New())
	app.Use(compress.New(compress.Config{Level: compress.LevelBestCompression}))
	app.Use(ZstdMiddleware(whitelistedRoutes))
	app.Use(SignatureMiddleware(verifier, whitelistedRoutes))

	s := &Server{
		App:      app,
		host:     DefaultHost,
		port:     port,
		identity: identity,
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(createResponse(map[string]string{"status": "ok"}, nil))
	})
	app.Get("/identity", func(c *fiber.Ctx) error {
		return c.JSON(createResponse(s.identity, nil))
	})

	return s
}

func fiberErrHandler(ctx *fiber.Ctx, err error) error {
	// Status code defaults to 500
	code := fiber.StatusInternalServerError

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}

	log.Error().
		Err(err).
		Int("status_code", code).
		Str("path", ctx.Path()).
		Str("method", ctx.Method()).
		Msg("axon error handler triggered")

	return ctx.Status(code).JSON(createResponse(map[string]interface{}{}, err))
}

// ServeSynapse registers a POST handler for synapse type T on the route
// derived from its type name, so registration mirrors the client side.
func ServeSynapse[T any](s *Server, handler SynapseHandler[T]) {
	var zero T
	route := dendrite.RouteFor(zero)

	s.App.Post(route, func(c *fiber.Ctx) error {
		var req T
		if err := c.BodyParser(&req); err != nil {
			log.Error().
				Err(err).
				Str("route", route).
				Msg("failed to parse synapse body")
			return c.Status(fiber.StatusBadRequest).
				JSON(createResponse(map[string]interface{}{}, err))
		}

		resp, err := handler(c, req)
		if err != nil {
			log.Error().
				Err(err).
				Str("route", route).
				Msg("synapse handler failed")
			var empty T
			return c.Status(fiber.StatusInternalServerError).JSON(createResponse(empty, err))
		}

		return c.JSON(createResponse(resp, nil))
	})
}

// Start blocks serving the axon until Shutdown is called or the
// listener fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	log.Info().Str("address", addr).Msg("axon listening")
	return s.App.Listen(addr)
}

// Shutdown drains in-flight requests before stopping the listener.
func (s *Server) Shutdown() error {
	return s.App.ShutdownWithTimeout(5 * time.Second)
}

func createResponse[T any](body T, err error) dendrite.StdResponse[T] {
	if err != nil {
		errMsg := err.Error()
		return dendrite.StdResponse[T]{
			Body:  body,
			Error: &errMsg,
		}
	}
	return dendrite.StdResponse[T]{
		Body:  body,
		Error: nil,
	}
}
