package extraction

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"
)

const DefaultOpenAIModel = "gpt-4o-mini"

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIExtractor sends receipts to the OpenAI chat completions API. Images
// are attached as data URLs; text receipts are sent inline.
type OpenAIExtractor struct {
	client chatCompleter
	model  string
}

func NewOpenAIExtractor(apiKey, model string) *OpenAIExtractor {
	return newOpenAIExtractor(openai.NewClient(apiKey), model)
}

func newOpenAIExtractor(client chatCompleter, model string) *OpenAIExtractor {
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIExtractor{client: client, model: model}
}

func (e *OpenAIExtractor) Name() string { return MethodOpenAI }

func (e *OpenAIExtractor) Extract(ctx context.Context, in Input) (*Result, error) {
	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	switch {
	case in.text() != "":
		user.Content = "Receipt text:\n" + in.text()
	case in.IsImage():
		dataURL := fmt.Sprintf("data:%s;base64,%s", in.mimeType(), base64.StdEncoding.EncodeToString(in.Data))
		user.MultiContent = []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: "Extract this receipt."},
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
				URL:    dataURL,
				Detail: openai.ImageURLDetailAuto,
			}},
		}
	default:
		return nil, &ExtractionError{
			Code:              ErrInvalidDocument,
			Message:           fmt.Sprintf("%s receipts are not supported", in.mimeType()),
			Method:            MethodOpenAI,
			SuggestedFallback: MethodGemini,
		}
	}

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: receiptPrompt},
			user,
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Temperature:    0,
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ExtractionError{
			Code:      ErrInvalidResponse,
			Message:   "empty completion",
			Method:    MethodOpenAI,
			Retryable: true,
		}
	}
	return decodeAIResponse(MethodOpenAI, resp.Choices[0].Message.Content)
}

func classifyOpenAIError(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	return classifyStatus(MethodOpenAI, status, err)
}

// classifyStatus maps a provider failure to an ExtractionError. Rate limits,
// server errors and timeouts are retryable; request and auth errors are not.
func classifyStatus(method string, status int, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &ExtractionError{Code: ErrProviderTimeout, Message: "provider timed out", Method: method, Retryable: true, SuggestedFallback: MethodHeuristic, Cause: err}
	case errors.Is(err, context.Canceled):
		return err
	case status == http.StatusTooManyRequests:
		return &ExtractionError{Code: ErrProviderRateLimited, Message: "provider rate limited", Method: method, Retryable: true, SuggestedFallback: MethodHeuristic, Cause: err}
	case status >= 500 || status == 0:
		return &ExtractionError{Code: ErrProviderUnavailable, Message: "provider unavailable", Method: method, Retryable: true, SuggestedFallback: MethodHeuristic, Cause: err}
	default:
		return &ExtractionError{Code: ErrProviderUnavailable, Message: fmt.Sprintf("provider rejected request (status %d)", status), Method: method, SuggestedFallback: MethodHeuristic, Cause: err}
	}
}
