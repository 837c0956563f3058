// Package enrich wraps the OpenAI chat-completions API for lead
// classification. Every call consumes external quota: the client never retries
// on its own, it classifies failures and leaves the retry decision to the
// dispatcher.
package enrich

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/genusglobalinc/leadbot/internal/ratelimit"
	"github.com/genusglobalinc/leadbot/pkg/models"
)

type Options struct {
	APIKey  string
	Model   string
	BaseURL string

	// AcquireTimeout bounds the wait for a rate-limit permit.
	AcquireTimeout time.Duration
	// CallTimeout bounds one API round-trip.
	CallTimeout time.Duration
}

type Client struct {
	api     *openai.Client
	model   string
	limiter *ratelimit.Limiter

	acquireTimeout time.Duration
	callTimeout    time.Duration
}

func NewClient(opts Options, limiter *ratelimit.Limiter) *Client {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return &Client{
		api:            openai.NewClientWithConfig(cfg),
		model:          opts.Model,
		limiter:        limiter,
		acquireTimeout: opts.AcquireTimeout,
		callTimeout:    opts.CallTimeout,
	}
}

// Classify turns one RawExtraction into an EnrichmentResult. Failures are
// encoded in the result's Outcome and Reason; the returned error carries the
// underlying cause for logging and is nil on any classified result.
func (c *Client) Classify(ctx context.Context, ex *models.RawExtraction) (models.EnrichmentResult, error) {
	result := models.EnrichmentResult{Model: c.model, Outcome: models.EnrichmentFailed}

	if strings.TrimSpace(ex.TextContent) == "" && len(ex.Emails) == 0 && len(ex.Phones) == 0 {
		// Nothing to classify; do not spend quota on an empty page.
		result.Outcome = models.EnrichmentSkipped
		return result, nil
	}

	acquireCtx, cancel := context.WithTimeout(ctx, c.acquireTimeout)
	permit, err := c.limiter.Acquire(acquireCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			result.Reason = models.ReasonCancelled
			return result, ctx.Err()
		}
		result.Reason = models.ReasonRateLimitTimeout
		return result, eris.Wrap(err, "enrich: rate limit wait")
	}
	defer permit.Release()

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(ex)},
		},
	})
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			result.Reason = models.ReasonCancelled
			return result, ctx.Err()
		}
		result.Reason = classifyError(err)
		zap.L().Warn("enrich: api call failed",
			zap.String("url", ex.TargetURL),
			zap.String("reason", string(result.Reason)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return result, eris.Wrap(err, "enrich: chat completion")
	}

	if len(resp.Choices) == 0 {
		result.Reason = models.ReasonMalformedResp
		return result, eris.New("enrich: no choices in response")
	}

	fields, err := parseResponse(resp.Choices[0].Message.Content)
	if err != nil {
		result.Reason = models.ReasonMalformedResp
		return result, err
	}

	result = models.EnrichmentResult{
		Label:       fields.Label,
		CompanyName: fields.CompanyName,
		ContactName: fields.ContactName,
		Email:       fields.Email,
		Phone:       fields.Phone,
		Industry:    fields.Industry,
		Summary:     fields.Summary,
		Confidence:  fields.Confidence,
		Model:       c.model,
		Outcome:     models.EnrichmentOK,
	}

	zap.L().Info("enrich: classified",
		zap.String("url", ex.TargetURL),
		zap.String("label", result.Label),
		zap.String("confidence", result.Confidence),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

// classifyError maps transport and API failures onto the retry taxonomy.
// 429 and 5xx are retryable; auth and policy rejections are terminal.
func classifyError(err error) models.FailReason {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403:
			return models.ReasonTerminalAuth
		case apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode/100 == 5:
			return models.ReasonNetworkRetryable
		case isPolicyCode(apiErr):
			return models.ReasonTerminalPolicy
		default:
			return models.ReasonMalformedResp
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == 401 || reqErr.HTTPStatusCode == 403 {
			return models.ReasonTerminalAuth
		}
		if reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode/100 == 5 {
			return models.ReasonNetworkRetryable
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return models.ReasonNetworkRetryable
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return models.ReasonNetworkRetryable
	}
	return models.ReasonNetworkRetryable
}

func isPolicyCode(apiErr *openai.APIError) bool {
	if code, ok := apiErr.Code.(string); ok {
		return strings.Contains(code, "content_policy") || strings.Contains(code, "content_filter")
	}
	return strings.Contains(apiErr.Type, "content_policy")
}
