// Package dendrite sends task synapses to miner axons and collects
// their completions. Dispatch is slot preserving: the response slice
// always lines up index-for-index with the endpoints that were queried,
// with timeouts and transport failures recorded in place instead of
// shrinking the batch.
package dendrite

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"

	"github.com/tensorplex-labs/sensei/pkg/signature"
)

type ClientConfig struct {
	Timeout     time.Duration
	Compression bool
}

type Client struct {
	config      *ClientConfig
	restyClient *resty.Client
	encoder     *zstd.Encoder
	decoder     *zstd.Decoder
	provider    *signature.Provider
	hotkey      string

	mu sync.Mutex // guards encoder reuse across concurrent queries
}

// NewClient creates a query client. provider may be nil, in which case
// requests go out unsigned; miners that enforce signatures will reject
// them.
func NewClient(config *ClientConfig, provider *signature.Provider, hotkey string) (*Client, error) {
	if config == nil {
		config = &ClientConfig{}
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultQueryTimeout * time.Second
	}

	restyClient := resty.New().
		SetTimeout(config.Timeout).
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal)

	client := &Client{
		config:      config,
		restyClient: restyClient,
		provider:    provider,
		hotkey:      hotkey,
	}

	if config.Compression {
		restyClient.SetHeader("Accept-Encoding", "zstd")

		var buf bytes.Buffer
		encoder, err := zstd.NewWriter(&buf)
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		client.encoder = encoder

		decoder, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
		client.decoder = decoder
	}

	return client, nil
}

// Close releases compression resources.
func (c *Client) Close() {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
}

// Dispatch queries every endpoint concurrently and returns one Response
// per endpoint in the same order. It returns once every slot has either
// a completion or a recorded failure; a slow peer can delay the batch
// by at most the timeout.
func (c *Client) Dispatch(ctx context.Context, endpoints []Endpoint, synapse Prompting, timeout time.Duration) []Response {
	responses := make([]Response, len(endpoints))
	if len(endpoints) == 0 {
		return responses
	}

	if timeout <= 0 {
		timeout = c.config.Timeout
	}
	synapse.Timeout = timeout.Seconds()

	var wg sync.WaitGroup
	wg.Add(len(endpoints))
	for i, ep := range endpoints {
		go func(slot int, ep Endpoint) {
			defer wg.Done()
			responses[slot] = c.queryOne(ctx, ep, synapse, timeout)
		}(i, ep)
	}
	wg.Wait()

	return responses
}

func (c *Client) queryOne(ctx context.Context, ep Endpoint, synapse Prompting, timeout time.Duration) Response {
	resp := Response{UID: ep.UID, Hotkey: ep.Hotkey}

	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	restyResp, err := c.send(qctx, ep.URL, synapse)
	resp.ProcessTime = time.Since(start).Seconds()

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			resp.StatusCode = http.StatusRequestTimeout
			resp.StatusMessage = "query timed out"
		} else {
			resp.StatusCode = http.StatusServiceUnavailable
			resp.StatusMessage = err.Error()
		}
		log.Debug().
			Err(err).
			Str("hotkey", ep.Hotkey).
			Int64("uid", ep.UID).
			Msg("query failed")
		return resp
	}

	body := restyResp.Body()
	if c.decoder != nil &&
		strings.Contains(strings.ToLower(restyResp.Header().Get("Content-Encoding")), "zstd") {
		decompressed, err := c.decoder.DecodeAll(body, nil)
		if err != nil {
			resp.StatusCode = http.StatusUnprocessableEntity
			resp.StatusMessage = fmt.Sprintf("decompress response: %s", err.Error())
			return resp
		}
		body = decompressed
	}

	if restyResp.IsError() {
		resp.StatusCode = restyResp.StatusCode()
		resp.StatusMessage = strings.TrimSpace(string(body))
		return resp
	}

	var envelope StdResponse[Prompting]
	if err := sonic.Unmarshal(body, &envelope); err != nil {
		resp.StatusCode = http.StatusUnprocessableEntity
		resp.StatusMessage = fmt.Sprintf("unmarshal response: %s", err.Error())
		return resp
	}
	if envelope.Error != nil {
		resp.StatusCode = http.StatusInternalServerError
		resp.StatusMessage = *envelope.Error
		return resp
	}

	resp.StatusCode = http.StatusOK
	resp.Completion = envelope.Body.Completion
	return resp
}

func (c *Client) send(ctx context.Context, baseURL string, synapse Prompting) (*resty.Response, error) {
	endpoint := strings.TrimSuffix(baseURL, "/") + RouteFor(synapse)

	req := c.restyClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json")

	if c.provider != nil {
		headers, err := c.authHeaders()
		if err != nil {
			return nil, fmt.Errorf("sign query: %w", err)
		}
		req.SetHeaders(headers)
	}

	if c.encoder != nil {
		compressed, err := c.compress(synapse)
		if err != nil {
			return nil, err
		}
		req.SetHeader("Content-Encoding", "zstd")
		req.SetBody(compressed)
	} else {
		req.SetBody(synapse)
	}

	return req.Post(endpoint)
}

// authHeaders signs a per-request claim over the local hotkey. The
// message carries a nanosecond timestamp so captured headers cannot be
// replayed indefinitely.
func (c *Client) authHeaders() (map[string]string, error) {
	message := fmt.Sprintf("%s:%d", c.hotkey, time.Now().UnixNano())
	sig, err := c.provider.Sign(message)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		HotkeyHeader:    c.hotkey,
		MessageHeader:   message,
		SignatureHeader: sig,
	}, nil
}

func (c *Client) compress(synapse Prompting) ([]byte, error) {
	raw, err := sonic.Marshal(synapse)
	if err != nil {
		return nil, fmt.Errorf("marshal synapse: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var buf bytes.Buffer
	c.encoder.Reset(&buf)
	if _, err := c.encoder.Write(raw); err != nil {
		return nil, fmt.Errorf("compress synapse: %w", err)
	}
	if err := c.encoder.Close(); err != nil {
		return nil, fmt.Errorf("finalize compression: %w", err)
	}
	return buf.Bytes(), nil
}
