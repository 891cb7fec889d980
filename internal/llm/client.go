// Package llm wraps the Anthropic SDK for the two-phase extraction
// pipeline (C4 Phase A, C5 Phase B): a single tool-use call per prompt,
// retried on transient API errors with exponential backoff, instrumented
// with OTel the way the teacher's internal/compact haikuClient is,
// grounded on that file directly.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/steveyegge/pm/internal/apierrors"
	"github.com/steveyegge/pm/internal/telemetry"
)

const (
	maxRetries     = 3
	initialBackoff = 1 * time.Second
)

var errAPIKeyRequired = errors.New("llm: ANTHROPIC_API_KEY required")

// Client wraps the Anthropic API for structured tool-use extraction.
type Client struct {
	client         anthropic.Client
	model          anthropic.Model
	maxRetries     int
	initialBackoff time.Duration
}

// New constructs a Client. apiKey is the fallback; ANTHROPIC_API_KEY in
// the environment always takes precedence, matching the teacher.
func New(apiKey, model string) (*Client, error) {
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		apiKey = envKey
	}
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}

	metricsOnce.Do(initMetrics)

	return &Client{
		client:         anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:          anthropic.Model(model),
		maxRetries:     maxRetries,
		initialBackoff: initialBackoff,
	}, nil
}

// ToolCall describes a single forced tool-use request: the model is
// required to respond by calling the named tool with input matching
// inputSchema (a JSON Schema object).
type ToolCall struct {
	System       string
	UserMessage  string
	ToolName     string
	ToolDesc     string
	InputSchema  map[string]any
	MaxTokens    int64
	OperationTag string // e.g. "extraction", "organization" — span/metric attribute
}

// Invoke performs one tool-use round trip, retrying on transient errors
// (429, 5xx, network timeouts) with exponential backoff. It returns the
// tool's raw JSON input untouched; the caller is responsible for
// unmarshalling and validating it against its expected schema.
func (c *Client) Invoke(ctx context.Context, call ToolCall) (json.RawMessage, error) {
	tracer := telemetry.Tracer("llm")
	ctx, span := tracer.Start(ctx, "llm.invoke")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", string(c.model)),
		attribute.String("llm.operation", call.OperationTag),
	)

	maxTokens := call.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	toolParam := anthropic.ToolParam{
		Name:        call.ToolName,
		Description: anthropic.String(call.ToolDesc),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: call.InputSchema["properties"],
			Required:   toStringSlice(call.InputSchema["required"]),
		},
	}

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(call.UserMessage)),
		},
		Tools: []anthropic.ToolUnionParam{{OfTool: &toolParam}},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: call.ToolName},
		},
	}
	if call.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: call.System}}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.initialBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		t0 := time.Now()
		message, err := c.client.Messages.New(ctx, params)
		elapsedMS := float64(time.Since(t0).Milliseconds())

		if err == nil {
			modelAttr := attribute.String("llm.model", string(c.model))
			if metrics.inputTokens != nil {
				metrics.inputTokens.Add(ctx, message.Usage.InputTokens, metric.WithAttributes(modelAttr))
				metrics.outputTokens.Add(ctx, message.Usage.OutputTokens, metric.WithAttributes(modelAttr))
				metrics.duration.Record(ctx, elapsedMS, metric.WithAttributes(modelAttr))
			}
			span.SetAttributes(
				attribute.Int64("llm.input_tokens", message.Usage.InputTokens),
				attribute.Int64("llm.output_tokens", message.Usage.OutputTokens),
				attribute.Int("llm.attempts", attempt+1),
			)

			for _, block := range message.Content {
				if block.Type == "tool_use" && block.Name == call.ToolName {
					return block.Input, nil
				}
			}
			err = apierrors.New(apierrors.CodeUpstream, "llm: model did not call the requested tool")
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isRetryable(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, apierrors.Wrap(apierrors.CodeUpstream, "llm: non-retryable API error", err)
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return nil, apierrors.Wrap(apierrors.CodeUpstream, fmt.Sprintf("llm: failed after %d attempts", c.maxRetries+1), lastErr)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

func toStringSlice(v any) []string {
	raw, ok := v.([]string)
	if ok {
		return raw
	}
	anySlice, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(anySlice))
	for _, x := range anySlice {
		if s, ok := x.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

var metrics struct {
	inputTokens  metric.Int64Counter
	outputTokens metric.Int64Counter
	duration     metric.Float64Histogram
}

var metricsOnce sync.Once

func initMetrics() {
	m := telemetry.Meter("github.com/steveyegge/pm/llm")
	metrics.inputTokens, _ = m.Int64Counter("pm.llm.input_tokens",
		metric.WithDescription("Anthropic API input tokens consumed"),
		metric.WithUnit("{token}"),
	)
	metrics.outputTokens, _ = m.Int64Counter("pm.llm.output_tokens",
		metric.WithDescription("Anthropic API output tokens generated"),
		metric.WithUnit("{token}"),
	)
	metrics.duration, _ = m.Float64Histogram("pm.llm.request.duration",
		metric.WithDescription("Anthropic API request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
}
