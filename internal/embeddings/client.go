package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/tour-agent/backend/pkg/circuitbreaker"
	"github.com/tour-agent/backend/pkg/logger"
	"github.com/tour-agent/backend/pkg/retry"
)

var (
	// ErrTimeout means the embedding call exceeded its deadline. Retryable by
	// the caller with backoff; the core does not retry past its own budget.
	ErrTimeout = errors.New("embedding request timed out")
	// ErrUnavailable covers every other failure of the embedding dependency.
	ErrUnavailable = errors.New("embedding service unavailable")
)

// Embedder turns text into a fixed-dimension vector. Synchronous,
// timeout-bound, stateless.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

type Client struct {
	client      *openai.Client
	model       string
	dim         int
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewClient(apiKey, model string, dim int, timeout time.Duration) *Client {
	cb := circuitbreaker.NewCircuitBreaker("embeddings", circuitbreaker.Config{
		MaxRequests:      5,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Embedding client initialized",
		zap.String("model", model),
		zap.Int("dimension", dim),
	)

	return &Client{
		client:      openai.NewClient(apiKey),
		model:       model,
		dim:         dim,
		timeout:     timeout,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

func (c *Client) Dimension() int {
	return c.dim
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var embedding []float32

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
				Input: []string{text},
				Model: openai.EmbeddingModel(c.model),
			})
			if err != nil {
				return err
			}
			if len(resp.Data) == 0 {
				return fmt.Errorf("empty embedding response")
			}

			embedding = make([]float32, len(resp.Data[0].Embedding))
			copy(embedding, resp.Data[0].Embedding)
			return nil
		})
	})

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if len(embedding) != c.dim {
		return nil, fmt.Errorf("%w: model returned dimension %d, expected %d", ErrUnavailable, len(embedding), c.dim)
	}

	return embedding, nil
}
