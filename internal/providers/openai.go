package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"

	"github.com/ChamsBouzaiene/kea/internal/engine"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// OpenAIClient implements engine.LLMClient against the OpenAI chat
// completions API. With a custom base URL it also serves the
// OpenAI-compatible providers (DeepSeek, Groq, Ollama, LM Studio, ...).
type OpenAIClient struct {
	client  *openai.Client
	model   string
	baseURL string
}

// NewOpenAIClient creates an OpenAI-backed LLM client. baseURL may be empty
// for the official API.
func NewOpenAIClient(apiKey, modelName, baseURL string) (*OpenAIClient, error) {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIClient{
		client:  openai.NewClientWithConfig(config),
		model:   modelName,
		baseURL: baseURL,
	}, nil
}

// openaiMessages converts the normalized history into OpenAI's shape.
// Assistant content is never sent empty (some backends serialize "" as
// null and reject it), and tool messages without a preceding tool-calling
// assistant message are dropped because the API rejects them.
func openaiMessages(messages []engine.ChatMessage) (string, []openai.ChatCompletionMessage) {
	var systemMsg string
	msgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	var prevAssistantHadToolCalls bool

	for i, msg := range messages {
		switch msg.Role {
		case engine.RoleSystem:
			systemMsg = msg.Content
			prevAssistantHadToolCalls = false
		case engine.RoleUser:
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
			prevAssistantHadToolCalls = false
		case engine.RoleAssistant:
			content := msg.Content
			if content == "" {
				content = " "
			}
			var toolCalls []openai.ToolCall
			for _, tc := range msg.ToolCalls {
				argsJSON, _ := json.Marshal(tc.Args)
				toolCalls = append(toolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(argsJSON),
					},
				})
			}
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:      openai.ChatMessageRoleAssistant,
				Content:   content,
				ToolCalls: toolCalls,
			})
			prevAssistantHadToolCalls = len(msg.ToolCalls) > 0
		case engine.RoleTool:
			if !prevAssistantHadToolCalls {
				continue
			}
			content := msg.Content
			if content == "" {
				content = "{}"
			}
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: msg.Name,
				Content:    content,
			})
			if i+1 < len(messages) && messages[i+1].Role == engine.RoleAssistant {
				prevAssistantHadToolCalls = false
			}
		}
	}
	return systemMsg, msgs
}

func openaiTools(toolSchemas []engine.ToolSchema) ([]openai.Tool, error) {
	var tools []openai.Tool
	for _, ts := range toolSchemas {
		var schemaObj map[string]any
		if err := json.Unmarshal([]byte(ts.JSONSchema), &schemaObj); err != nil {
			return nil, fmt.Errorf("invalid tool schema JSON for %s: %w", ts.Name, err)
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        ts.Name,
				Description: ts.Description,
				Parameters:  schemaObj,
			},
		})
	}
	return tools, nil
}

func buildOpenAIRequest(modelName string, messages []engine.ChatMessage, toolSchemas []engine.ToolSchema, opts engine.ChatOptions) (openai.ChatCompletionRequest, error) {
	systemMsg, msgs := openaiMessages(messages)

	tools, err := openaiTools(toolSchemas)
	if err != nil {
		return openai.ChatCompletionRequest{}, err
	}

	req := openai.ChatCompletionRequest{
		Model:    modelName,
		Messages: msgs,
	}
	if systemMsg != "" {
		req.Messages = append([]openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemMsg,
		}}, req.Messages...)
	}
	if len(tools) > 0 {
		req.Tools = tools
		req.ToolChoice = "auto"
	}
	if opts.MaxOutputTokens > 0 {
		req.MaxTokens = opts.MaxOutputTokens
	}
	if opts.Temperature > 0 {
		req.Temperature = &opts.Temperature
	}
	return req, nil
}

// Chat implements engine.LLMClient.Chat.
func (c *OpenAIClient) Chat(ctx context.Context, modelName string, messages []engine.ChatMessage, toolSchemas []engine.ToolSchema, opts engine.ChatOptions) (engine.LLMResponse, error) {
	req, err := buildOpenAIRequest(modelName, messages, toolSchemas, opts)
	if err != nil {
		return engine.LLMResponse{}, err
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		httpStatus, retryAfter := extractErrorMetadata(err)
		return engine.LLMResponse{}, engine.WrapProviderError(err, httpStatus, retryAfter)
	}
	if len(resp.Choices) == 0 {
		return engine.LLMResponse{}, fmt.Errorf("openai returned no choices")
	}

	choice := resp.Choices[0]

	var toolCalls []engine.ToolCall
	for _, tc := range choice.Message.ToolCalls {
		args := make(map[string]any)
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				log.Printf("openai: tool call %s has invalid argument JSON: %v", tc.ID, err)
				args = make(map[string]any)
			}
		}
		toolCalls = append(toolCalls, engine.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}

	finishReason := "stop"
	switch {
	case len(toolCalls) > 0:
		finishReason = "tool_calls"
	case choice.FinishReason == openai.FinishReasonLength:
		finishReason = "length"
	case choice.FinishReason == openai.FinishReasonContentFilter:
		finishReason = "content_filter"
	}

	usage := engine.Usage{
		Prompt:     resp.Usage.PromptTokens,
		Completion: resp.Usage.CompletionTokens,
		Total:      resp.Usage.TotalTokens,
	}

	return engine.LLMResponse{
		Assistant: engine.ChatMessage{
			Role:      engine.RoleAssistant,
			Content:   choice.Message.Content,
			ToolCalls: toolCalls,
		},
		ToolCalls:    toolCalls,
		Usage:        usage,
		FinishReason: finishReason,
	}, nil
}

// toolCallAccumulator gathers the per-field deltas OpenAI streams for one
// tool call. Arguments arrive as partial JSON text and can only be parsed
// once the stream ends.
type toolCallAccumulator struct {
	call  engine.ToolCall
	args  strings.Builder
	index int
}

// Stream implements engine.LLMClient.Stream.
func (c *OpenAIClient) Stream(ctx context.Context, modelName string, messages []engine.ChatMessage, toolSchemas []engine.ToolSchema, opts engine.ChatOptions) (<-chan engine.StreamEvent, <-chan error) {
	eventCh := make(chan engine.StreamEvent, 10)
	errCh := make(chan error, 1)

	go func() {
		defer close(eventCh)
		defer close(errCh)

		req, err := buildOpenAIRequest(modelName, messages, toolSchemas, opts)
		if err != nil {
			errCh <- err
			return
		}
		req.Stream = true
		req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

		stream, err := c.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			httpStatus, retryAfter := extractErrorMetadata(err)
			errCh <- engine.WrapProviderError(err, httpStatus, retryAfter)
			return
		}
		defer stream.Close()

		accum := make(map[string]*toolCallAccumulator)
		nextIndex := 0
		var finalUsage engine.Usage

		for {
			response, err := stream.Recv()
			if err != nil {
				if !errors.Is(err, io.EOF) && !strings.Contains(err.Error(), "EOF") {
					httpStatus, retryAfter := extractErrorMetadata(err)
					errCh <- engine.WrapProviderError(err, httpStatus, retryAfter)
					return
				}
				emitAccumulated(ctx, eventCh, accum)
				if finalUsage.Total > 0 {
					select {
					case eventCh <- engine.StreamEvent{Type: "usage", Usage: finalUsage}:
					case <-ctx.Done():
					}
				}
				return
			}

			// The final chunk carries usage with no choices when
			// stream_options.include_usage is set.
			if response.Usage != nil && response.Usage.TotalTokens > 0 {
				finalUsage = engine.Usage{
					Prompt:     response.Usage.PromptTokens,
					Completion: response.Usage.CompletionTokens,
					Total:      response.Usage.TotalTokens,
				}
			}
			if len(response.Choices) == 0 {
				continue
			}
			delta := response.Choices[0].Delta

			if delta.Content != "" {
				select {
				case eventCh <- engine.StreamEvent{Type: "text_delta", Text: delta.Content}:
				case <-ctx.Done():
					return
				}
			}

			for _, tcDelta := range delta.ToolCalls {
				acc := accumulatorFor(accum, tcDelta, &nextIndex)
				if acc == nil {
					continue
				}
				if tcDelta.Function.Name != "" {
					acc.call.Name = tcDelta.Function.Name
				}
				if tcDelta.Function.Arguments != "" {
					acc.args.WriteString(tcDelta.Function.Arguments)
				}
			}
		}
	}()

	return eventCh, errCh
}

// accumulatorFor finds or creates the accumulator for a tool call delta.
// Deltas may arrive keyed by id or, before the id is known, only by index.
func accumulatorFor(accum map[string]*toolCallAccumulator, tcDelta openai.ToolCall, nextIndex *int) *toolCallAccumulator {
	if tcDelta.ID != "" {
		if acc, ok := accum[tcDelta.ID]; ok {
			return acc
		}
		// An earlier delta may have parked this call under a temp id.
		if tcDelta.Index != nil {
			for key, acc := range accum {
				if acc.index == *tcDelta.Index && strings.HasPrefix(key, "temp_") {
					delete(accum, key)
					acc.call.ID = tcDelta.ID
					accum[tcDelta.ID] = acc
					return acc
				}
			}
		}
		acc := &toolCallAccumulator{
			call:  engine.ToolCall{ID: tcDelta.ID},
			index: *nextIndex,
		}
		*nextIndex++
		accum[tcDelta.ID] = acc
		return acc
	}

	if tcDelta.Index == nil {
		return nil
	}
	for _, acc := range accum {
		if acc.index == *tcDelta.Index {
			return acc
		}
	}
	tempID := fmt.Sprintf("temp_%d", *tcDelta.Index)
	acc := &toolCallAccumulator{
		call:  engine.ToolCall{ID: tempID},
		index: *tcDelta.Index,
	}
	accum[tempID] = acc
	return acc
}

// emitAccumulated parses each accumulated tool call's argument JSON and
// emits the calls in request order. Unparseable arguments degrade to an
// empty map so schema validation downstream reports the problem.
func emitAccumulated(ctx context.Context, eventCh chan<- engine.StreamEvent, accum map[string]*toolCallAccumulator) {
	var calls []*toolCallAccumulator
	for _, acc := range accum {
		if acc.call.Name == "" {
			continue
		}
		args := make(map[string]any)
		if acc.args.Len() > 0 {
			if err := json.Unmarshal([]byte(acc.args.String()), &args); err != nil {
				log.Printf("openai stream: tool call %s (%s) has invalid argument JSON after %d bytes: %v",
					acc.call.Name, acc.call.ID, acc.args.Len(), err)
				args = make(map[string]any)
			}
		}
		acc.call.Args = args
		calls = append(calls, acc)
	}
	sort.Slice(calls, func(i, j int) bool { return calls[i].index < calls[j].index })

	for _, acc := range calls {
		select {
		case eventCh <- engine.StreamEvent{Type: "tool_call", ToolCall: acc.call}:
		case <-ctx.Done():
			return
		}
	}
}
