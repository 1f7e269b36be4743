package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	cr "github.com/cockroachdb/errors"
	"go.uber.org/zap"

	apperrors "github.com/juancollazo-ch/sku-price-scanner/internal/errors"
	"github.com/juancollazo-ch/sku-price-scanner/internal/models"
	"github.com/juancollazo-ch/sku-price-scanner/internal/retry"
	"github.com/juancollazo-ch/sku-price-scanner/internal/worker"
)

// Enqueuer es la parte del worker pool que usa el sender.
type Enqueuer interface {
	Enqueue(task worker.Task) bool
}

// Sender publica cambios significativos de precio/stock en un webhook.
type Sender struct {
	http       *http.Client
	webhookURL string
	policy     retry.Policy
	pool       Enqueuer
	logger     *zap.Logger
}

type Option func(*Sender)

func WithPolicy(p retry.Policy) Option {
	return func(s *Sender) { s.policy = p }
}

func WithHTTPClient(c *http.Client) Option {
	return func(s *Sender) {
		if c != nil {
			s.http = c
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Sender) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSender devuelve nil si webhookURL está vacío; un *Sender nil no envía
// nada.
func NewSender(webhookURL string, pool Enqueuer, opts ...Option) *Sender {
	if webhookURL == "" {
		return nil
	}

	s := &Sender{
		http:       &http.Client{Timeout: 10 * time.Second},
		webhookURL: webhookURL,
		// 3 intentos: 1s, 2s
		policy: retry.Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 4 * time.Second},
		pool:   pool,
		logger: zap.L(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Notify encola el envío si el resultado tiene cambios que notificar.
// Devuelve true si se encoló algo.
func (s *Sender) Notify(result *models.ScanResult) bool {
	if s == nil || result == nil {
		return false
	}
	n, ok := result.ToChangeNotification()
	if !ok {
		return false
	}

	return s.pool.Enqueue(worker.Task{
		Name: "webhook:" + n.SKU,
		Run: func(ctx context.Context) error {
			return s.Send(ctx, n)
		},
	})
}

func (s *Sender) Send(ctx context.Context, n models.ChangeNotification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return cr.Wrap(err, "error marshaling change notification")
	}

	attempt := 0
	err = retry.WithRetry(ctx, s.policy, func(ctx context.Context) error {
		attempt++
		return s.post(ctx, payload, attempt)
	})
	if err != nil {
		s.logger.Warn("webhook delivery failed",
			zap.String("sku", n.SKU),
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
		return err
	}

	s.logger.Info("webhook delivered",
		zap.String("sku", n.SKU),
		zap.Int("changes", len(n.Changes)),
		zap.Int("attempts", attempt),
	)
	return nil
}

func (s *Sender) post(ctx context.Context, payload []byte, attempt int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return apperrors.ErrInternalServer("error creating webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Retry-Attempt", strconv.Itoa(attempt))

	resp, err := s.http.Do(req)
	if err != nil {
		return apperrors.ErrTransientUpstream(fmt.Sprintf("error sending webhook (attempt %d)", attempt), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return apperrors.ErrExternalAPI(resp.StatusCode,
		fmt.Sprintf("webhook failed with status %d (attempt %d)", resp.StatusCode, attempt), nil)
}
