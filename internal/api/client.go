package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	cr "github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apperrors "github.com/juancollazo-ch/sku-price-scanner/internal/errors"
	"github.com/juancollazo-ch/sku-price-scanner/internal/logging"
	"github.com/juancollazo-ch/sku-price-scanner/internal/models"
	"github.com/juancollazo-ch/sku-price-scanner/internal/validator"
)

const (
	runPath = "/v1/automation/run-sse"

	eventProgress = "PROGRESS"
	eventComplete = "COMPLETE"
	eventError    = "ERROR"

	maxEventSize = 1 << 20
	maxErrorBody = 1 << 10
)

// ExtractionRequest es un pedido de extracción para un vendor.
type ExtractionRequest struct {
	Vendor string
	URL    string
	Goal   string
}

// Extractor es el contrato que consume el orquestador.
type Extractor interface {
	Extract(ctx context.Context, req ExtractionRequest) (models.VendorResult, error)
}

type ClientConfig struct {
	BaseURL string
	APIKey  string
	// Timeout es el límite duro de cada llamada, stream incluido.
	Timeout time.Duration
	// RPS y Burst limitan las llamadas salientes de todo el proceso.
	// RPS <= 0 desactiva el límite.
	RPS   float64
	Burst int
}

// ExtractionClient habla con el servicio de extracción por HTTP + SSE.
type ExtractionClient struct {
	http      *http.Client
	base      string
	apiKey    string
	timeout   time.Duration
	limiter   *rate.Limiter
	validator *validator.RequestValidator
	logger    *zap.Logger
}

type Option func(*ExtractionClient)

func WithHTTPClient(c *http.Client) Option {
	return func(ec *ExtractionClient) {
		if c != nil {
			ec.http = c
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(ec *ExtractionClient) {
		if l != nil {
			ec.logger = l
		}
	}
}

func NewExtractionClient(cfg ClientConfig, opts ...Option) (*ExtractionClient, error) {
	if cfg.BaseURL == "" {
		return nil, cr.New("extraction base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}

	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	c := &ExtractionClient{
		// sin Timeout en el http.Client: el límite lo pone el contexto de cada llamada
		http:      &http.Client{},
		base:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		timeout:   cfg.Timeout,
		limiter:   rate.NewLimiter(limit, cfg.Burst),
		validator: validator.Get(),
		logger:    zap.L(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type runRequest struct {
	URL  string `json:"url"`
	Goal string `json:"goal"`
}

type streamEvent struct {
	Type   string          `json:"type"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// extractionPayload es el único formato de resultado aceptado. Cualquier otra
// cosa es un error permanente.
type extractionPayload struct {
	Price      *decimal.Decimal `json:"price"`
	Currency   string           `json:"currency" validate:"required_with=Price,omitempty,iso4217"`
	InStock    *bool            `json:"inStock" validate:"required"`
	StockLevel string           `json:"stockLevel"`
	Notes      *string          `json:"notes"`
}

// Extract ejecuta una extracción. Los errores ya vienen clasificados:
// TransientUpstream (reintentable) o PermanentUpstream.
func (c *ExtractionClient) Extract(ctx context.Context, req ExtractionRequest) (models.VendorResult, error) {
	logger := logging.FromContext(ctx, c.logger).With(zap.String("vendor", req.Vendor))

	if err := c.limiter.Wait(ctx); err != nil {
		if cr.Is(ctx.Err(), context.Canceled) {
			return models.VendorResult{}, cr.Wrap(ctx.Err(), "extraction cancelled by caller")
		}
		return models.VendorResult{}, apperrors.ErrTransientUpstream("extraction rate limiter wait aborted", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(runRequest{URL: req.URL, Goal: req.Goal})
	if err != nil {
		return models.VendorResult{}, apperrors.ErrInternalServer("encode extraction request", err)
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.base+runPath, bytes.NewReader(body))
	if err != nil {
		return models.VendorResult{}, apperrors.ErrPermanentUpstream("error building extraction request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("X-API-Key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return models.VendorResult{}, c.transportError(callCtx, "extraction request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return models.VendorResult{}, apperrors.ErrExternalAPI(
			resp.StatusCode,
			fmt.Sprintf("extraction service returned status %d", resp.StatusCode),
			cr.Newf("body: %s", strings.TrimSpace(string(snippet))),
		)
	}

	raw, err := c.readStream(callCtx, resp.Body, logger)
	if err != nil {
		return models.VendorResult{}, err
	}

	result, err := c.decodeResult(raw)
	if err != nil {
		return models.VendorResult{}, err
	}
	result.Name = req.Vendor
	result.URL = req.URL

	logger.Debug("extraction completed", zap.Duration("latency", time.Since(start)))
	return result, nil
}

// readStream consume el SSE hasta COMPLETE o ERROR y devuelve el result crudo.
func (c *ExtractionClient) readStream(ctx context.Context, r io.Reader, logger *zap.Logger) (json.RawMessage, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	var data []string
	dispatch := func() (json.RawMessage, bool, error) {
		if len(data) == 0 {
			return nil, false, nil
		}
		payload := strings.Join(data, "\n")
		data = data[:0]

		var ev streamEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, true, apperrors.ErrPermanentUpstream("malformed extraction event", err)
		}
		switch ev.Type {
		case eventProgress:
			logger.Debug("extraction progress")
			return nil, false, nil
		case eventComplete:
			if len(ev.Result) == 0 {
				return nil, true, apperrors.ErrPermanentUpstream("extraction completed without result", nil)
			}
			return ev.Result, true, nil
		case eventError:
			return nil, true, apperrors.ErrPermanentUpstream("extraction failed", cr.Newf("upstream: %s", ev.Error))
		default:
			logger.Debug("ignoring extraction event", zap.String("type", ev.Type))
			return nil, false, nil
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if res, done, err := dispatch(); done {
				return res, err
			}
		case strings.HasPrefix(line, ":"):
			// comentario / keep-alive
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, c.transportError(ctx, "extraction stream interrupted", err)
	}
	// último evento sin línea en blanco final
	if res, done, err := dispatch(); done {
		return res, err
	}
	if cr.Is(ctx.Err(), context.Canceled) {
		return nil, cr.Wrap(ctx.Err(), "extraction cancelled by caller")
	}
	return nil, apperrors.ErrTransientUpstream("extraction stream ended without result", nil)
}

func (c *ExtractionClient) decodeResult(raw json.RawMessage) (models.VendorResult, error) {
	var p extractionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return models.VendorResult{}, apperrors.ErrPermanentUpstream("extraction result does not match schema", err)
	}
	if err := c.validator.Struct(p); err != nil {
		return models.VendorResult{}, apperrors.ErrPermanentUpstream("extraction result does not match schema", err)
	}
	if p.Price != nil && p.Price.IsNegative() {
		return models.VendorResult{}, apperrors.ErrPermanentUpstream(
			"extraction result does not match schema",
			cr.Newf("price must be >= 0, got %s", p.Price),
		)
	}

	return models.VendorResult{
		Price:      p.Price,
		Currency:   p.Currency,
		InStock:    *p.InStock,
		StockLevel: p.StockLevel,
		Notes:      p.Notes,
	}, nil
}

// transportError: timeout de la llamada → 504 reintentable, el resto → 502.
// Si el caller canceló se devuelve la cancelación sin clasificar: no es un
// fallo del upstream.
func (c *ExtractionClient) transportError(ctx context.Context, msg string, err error) error {
	switch ctxErr := ctx.Err(); {
	case cr.Is(ctxErr, context.Canceled):
		return cr.Wrap(ctxErr, "extraction cancelled by caller")
	case cr.Is(ctxErr, context.DeadlineExceeded):
		return apperrors.ErrGatewayTimeout(fmt.Sprintf("extraction timed out after %s", c.timeout), err)
	}
	return apperrors.ErrTransientUpstream(msg, err)
}
