package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// Payload is one task handed to a worker for execution.
type Payload struct {
	// TaskID identifies the task being executed.
	TaskID string
	// System is the system prompt, optional.
	System string
	// Prompt is the user-facing task prompt.
	Prompt string
	// MaxTokens caps the response; zero uses the runner default.
	MaxTokens int64
}

// Output is the result of one payload execution.
type Output struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
}

// Runner executes task payloads. The Anthropic implementation is the
// default; tests substitute their own.
type Runner interface {
	Run(ctx context.Context, p Payload) (Output, error)
}

// RetryConfig configures exponential backoff around API calls.
type RetryConfig struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	MaxElapsedTime      time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      2 * time.Minute,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// DefaultMaxTokens caps responses when the payload does not set a limit.
const DefaultMaxTokens = 8192

// AnthropicRunner executes payloads against the Anthropic API, with
// exponential backoff and a circuit breaker so a degraded API surfaces
// quickly instead of hammering retries from every worker.
type AnthropicRunner struct {
	client  *Client
	retry   RetryConfig
	breaker *gobreaker.CircuitBreaker
}

// NewAnthropicRunner creates a runner over the given client.
func NewAnthropicRunner(client *Client, retry RetryConfig) *AnthropicRunner {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "anthropic",
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("[worker] circuit breaker %q: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			// Cancellation is the caller's choice, not an API failure.
			if err == nil {
				return true
			}
			return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})
	return &AnthropicRunner{
		client:  client,
		retry:   retry,
		breaker: breaker,
	}
}

// Run executes one payload and returns the model's text output.
func (r *AnthropicRunner) Run(ctx context.Context, p Payload) (Output, error) {
	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     r.client.Model(),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(p.Prompt)),
		},
	}
	if p.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: p.System}}
	}

	resp, err := r.callWithRetry(ctx, params)
	if err != nil {
		return Output{}, fmt.Errorf("execute task %s: %w", p.TaskID, err)
	}

	r.client.Tracker().Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)

	var text string
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += variant.Text
		}
	}
	return Output{
		Text:         text,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}

// callWithRetry sends one API request with exponential backoff, routed
// through the circuit breaker. An open circuit and a cancelled context
// both stop the retry loop immediately.
func (r *AnthropicRunner) callWithRetry(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	var resp *anthropic.Message

	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		result, err := r.breaker.Execute(func() (interface{}, error) {
			return r.client.inner.Messages.New(ctx, params)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}

		resp = result.(*anthropic.Message)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.retry.InitialInterval
	policy.MaxInterval = r.retry.MaxInterval
	policy.MaxElapsedTime = r.retry.MaxElapsedTime
	policy.Multiplier = r.retry.Multiplier
	policy.RandomizationFactor = r.retry.RandomizationFactor

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	return resp, nil
}
