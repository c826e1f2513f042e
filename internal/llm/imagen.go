package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/unclebandit/newsletter-backend/internal/config"
)

// ImagenClient generates section images through the Gemini API.
type ImagenClient struct {
	client *genai.Client
	model  string
}

func NewImagenClient(ctx context.Context, cfg config.GeminiConfig) (*ImagenClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: %w", ErrMissingAPIKey)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}
	return &ImagenClient{client: client, model: cfg.ImageModel}, nil
}

func (c *ImagenClient) GenerateImage(ctx context.Context, prompt string) (*Image, error) {
	resp, err := c.client.Models.GenerateImages(ctx, c.model, prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		AspectRatio:    "1:1",
		OutputMIMEType: "image/png",
	})
	if err != nil {
		return nil, fmt.Errorf("generate image: %w", err)
	}
	if len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil {
		return nil, ErrEmptyResponse
	}

	generated := resp.GeneratedImages[0]
	if len(generated.Image.ImageBytes) == 0 {
		if generated.RAIFilteredReason != "" {
			return nil, fmt.Errorf("%w: %s", ErrImageFiltered, generated.RAIFilteredReason)
		}
		return nil, ErrEmptyResponse
	}

	mime := generated.Image.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	return &Image{Data: generated.Image.ImageBytes, MIMEType: mime}, nil
}

var _ ImageGenerator = (*ImagenClient)(nil)
