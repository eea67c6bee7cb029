package extraction

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.0-flash"

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiExtractor sends receipts to the Gemini API. Images and PDFs are sent
// as inline bytes.
type GeminiExtractor struct {
	models contentGenerator
	model  string
}

func NewGeminiExtractor(ctx context.Context, apiKey, model string) (*GeminiExtractor, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return newGeminiExtractor(client.Models, model), nil
}

func newGeminiExtractor(models contentGenerator, model string) *GeminiExtractor {
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiExtractor{models: models, model: model}
}

func (e *GeminiExtractor) Name() string { return MethodGemini }

func (e *GeminiExtractor) Extract(ctx context.Context, in Input) (*Result, error) {
	parts := []*genai.Part{genai.NewPartFromText(receiptPrompt)}
	switch mime := in.mimeType(); {
	case in.text() != "":
		parts = append(parts, genai.NewPartFromText("Receipt text:\n"+in.text()))
	case in.IsImage() || mime == MimePDF:
		parts = append(parts, genai.NewPartFromBytes(in.Data, mime))
	default:
		return nil, &ExtractionError{
			Code:    ErrInvalidDocument,
			Message: fmt.Sprintf("%s receipts are not supported", mime),
			Method:  MethodGemini,
		}
	}

	temperature := float32(0)
	resp, err := e.models.GenerateContent(ctx, e.model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			Temperature:      &temperature,
		})
	if err != nil {
		return nil, classifyGeminiError(err)
	}
	text := resp.Text()
	if text == "" {
		return nil, &ExtractionError{
			Code:      ErrInvalidResponse,
			Message:   "empty response",
			Method:    MethodGemini,
			Retryable: true,
		}
	}
	return decodeAIResponse(MethodGemini, text)
}

func classifyGeminiError(err error) error {
	status := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.Code
	case errors.As(err, &apiErrPtr):
		status = apiErrPtr.Code
	}
	return classifyStatus(MethodGemini, status, err)
}
