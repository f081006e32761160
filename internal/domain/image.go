package domain

import "context"

// ImagePromptRecord is an image-generation prompt derived from a paragraph.
type ImagePromptRecord struct {
	Prompt          string `json:"prompt"`
	SourceParagraph string `json:"source_paragraph"`
}

// ImageRequest is one call to the image-generation API.
type ImageRequest struct {
	Prompt  string `json:"prompt"`
	Model   string `json:"model,omitempty"`
	Size    string `json:"size,omitempty"`
	Style   string `json:"style,omitempty"`
	Quality string `json:"quality,omitempty"`
}

// ImageResult is a generated image reference.
type ImageResult struct {
	URL           string `json:"url"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
	Prompt        string `json:"prompt"`
}

// ImageGenerator produces images from prompts.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, req ImageRequest) (*ImageResult, error)
}
