package axon

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"

	"github.com/tensorplex-labs/sensei/internal/dendrite"
	"github.com/tensorplex-labs/sensei/pkg/signature"
)

// ZstdMiddleware decompresses zstd request bodies and compresses
// responses for callers that accept zstd. Whitelisted routes pass
// through untouched.
func ZstdMiddleware(whitelist []string) fiber.Handler {
	if whitelist == nil {
		whitelist = whitelistedRoutes
	}

	return func(c *fiber.Ctx) error {
		path := c.Path()
		for _, route := range whitelist {
			if path == route {
				return c.Next()
			}
		}

		contentEncoding := c.Get("content-encoding")
		if strings.ToLower(contentEncoding) == "zstd" {
			body := c.Body()
			if len(body) > 0 {
				decoder, err := zstd.NewReader(bytes.NewReader(body))
				if err != nil {
					log.Err(err).Msg("failed to create zstd decoder")
					return c.Status(fiber.StatusBadRequest).JSON(
						createResponse(
							map[string]interface{}{},
							fmt.Errorf("failed to decompress zstd data: %s", err.Error()),
						))
				}
				defer decoder.Close()

				decompressed, err := io.ReadAll(decoder)
				if err != nil {
					log.Err(err).Msg("failed to decompress request")
					return c.Status(fiber.StatusBadRequest).JSON(
						createResponse(
							map[string]interface{}{},
							fmt.Errorf("failed to decompress zstd data: %s", err.Error()),
						))
				}

				c.Request().SetBody(decompressed)
			}
		}

		err := c.Next()
		if err != nil {
			return err
		}

		acceptEncoding := c.Get("accept-encoding")
		if strings.Contains(strings.ToLower(acceptEncoding), "zstd") {
			responseBody := c.Response().Body()
			if len(responseBody) > 0 {
				encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
				if err != nil {
					log.Err(err).Msg("failed to create zstd encoder")
					return nil // continue without compression
				}
				defer encoder.Close()

				compressed := encoder.EncodeAll(responseBody, nil)
				c.Response().SetBody(compressed)
				c.Set("content-encoding", "zstd")
				c.Set("content-length", fmt.Sprintf("%d", len(compressed)))
			}
		}

		return nil
	}
}

// SignatureMiddleware rejects synapse posts whose auth headers do not
// carry a valid sr25519 signature from the claimed hotkey. The signed
// message must begin with the hotkey itself, which ties all three
// headers together and stops signature replay under another identity.
func SignatureMiddleware(signatureVerifier signature.SignatureVerifier, whitelist []string) fiber.Handler {
	if whitelist == nil {
		whitelist = whitelistedRoutes
	}

	return func(c *fiber.Ctx) error {
		path := c.Path()
		for _, route := range whitelist {
			if path == route {
				return c.Next()
			}
		}

		sig := c.Get(dendrite.SignatureHeader)
		hotkey := c.Get(dendrite.HotkeyHeader)
		message := c.Get(dendrite.MessageHeader)

		if hotkey == "" || sig == "" || message == "" {
			errMsg := fmt.Sprintf("%s, missing headers, expected: %s, %s, %s",
				http.StatusText(http.StatusBadRequest),
				dendrite.SignatureHeader, dendrite.HotkeyHeader, dendrite.MessageHeader)
			return c.Status(fiber.StatusBadRequest).JSON(
				createResponse(map[string]interface{}{}, fmt.Errorf("%s", errMsg)))
		}

		if !strings.HasPrefix(message, hotkey+":") {
			errMsg := fmt.Sprintf("%s, message not bound to hotkey",
				http.StatusText(http.StatusForbidden))
			return c.Status(fiber.StatusForbidden).JSON(
				createResponse(map[string]interface{}{}, fmt.Errorf("%s", errMsg)))
		}

		isSignatureValid, err := signatureVerifier.Verify(message, sig, hotkey)
		if err != nil {
			errMsg := fmt.Sprintf("signature verification error: %s", err.Error())
			return c.Status(fiber.StatusInternalServerError).JSON(
				createResponse(map[string]interface{}{}, fmt.Errorf("%s", errMsg)))
		}

		if !isSignatureValid {
			errMsg := fmt.Sprintf("%s due to invalid signature",
				http.StatusText(http.StatusForbidden))
			return c.Status(fiber.StatusForbidden).JSON(
				createResponse(map[string]interface{}{}, fmt.Errorf("%s", errMsg)))
		}

		log.Debug().
			Str("hotkey", hotkey).
			Str("path", path).
			Msg("verified caller signature")

		return c.Next()
	}
}
