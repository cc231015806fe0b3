package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "image/jpeg" // register decoder for non-PNG renders

	"github.com/google/uuid"
	"golang.org/x/image/draw"
)

// ImageRenderer turns a prompt into a fetchable image URL. The OpenAI
// provider satisfies it through the Images API.
type ImageRenderer interface {
	GenerateImage(ctx context.Context, prompt, size string) (string, error)
}

// ImageEditor rewrites an existing image per a prompt and returns the
// fetchable result URL. Satisfied by the OpenAI provider through the
// image edits endpoint.
type ImageEditor interface {
	AlterImage(ctx context.Context, imagePath, prompt, size string) (string, error)
}

const (
	// imageMaxSide bounds the stored image; larger renders are scaled down.
	imageMaxSide      = 2000
	imageFetchTimeout = 60 * time.Second
	imageMaxBytes     = 20 << 20
)

var imageSizes = map[string]bool{
	"1024x1024": true,
	"1792x1024": true,
	"1024x1792": true,
}

type imageParams struct {
	Prompt     string `json:"prompt" jsonschema:"description=Text description of the image to generate"`
	Size       string `json:"size,omitempty" jsonschema:"description=Image size: 1024x1024 (default) or 1792x1024 or 1024x1792"`
	OutputPath string `json:"output_path,omitempty" jsonschema:"description=File path to save the image to. Defaults to a generated name in the working directory."`
}

// GenerateImageTool renders an image from a prompt and saves it to disk so
// the user can open it.
type GenerateImageTool struct {
	renderer ImageRenderer
	client   *http.Client
	workDir  func() string
}

// NewGenerateImageTool creates the generate_image tool. workDir resolves
// relative output paths at call time; nil uses the process cwd.
func NewGenerateImageTool(renderer ImageRenderer, workDir func() string) *GenerateImageTool {
	return &GenerateImageTool{
		renderer: renderer,
		client:   &http.Client{Timeout: imageFetchTimeout},
		workDir:  workDir,
	}
}

func (t *GenerateImageTool) Name() string { return "generate_image" }

func (t *GenerateImageTool) Description() string {
	return "Generate an image from a text prompt and save it to a file on disk so that the user can access it on their computer. Provide a detailed prompt describing the image."
}

func (t *GenerateImageTool) Schema() json.RawMessage {
	return schemaOf(imageParams{})
}

func (t *GenerateImageTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	var p imageParams
	if err := json.Unmarshal(params, &p); err != nil {
		return Errorf("Invalid parameters: %v", err), nil
	}
	if strings.TrimSpace(p.Prompt) == "" {
		return Errorf("Prompt parameter is required"), nil
	}
	if p.Size != "" && !imageSizes[p.Size] {
		return Errorf("Unsupported size %q: use 1024x1024, 1792x1024 or 1024x1792", p.Size), nil
	}

	imageURL, err := t.renderer.GenerateImage(ctx, p.Prompt, p.Size)
	if err != nil {
		return Errorf("Image generation failed: %v", err), nil
	}

	img, err := fetchImage(ctx, t.client, imageURL)
	if err != nil {
		return Errorf("Failed to download generated image: %v", err), nil
	}

	img, resized := scaleToFit(img, imageMaxSide)

	path := imageOutputPath(t.workDir, p.OutputPath, "generated-image")
	if err := savePNG(path, img); err != nil {
		return Errorf("Failed to save image: %v", err), nil
	}

	bounds := img.Bounds()
	content := fmt.Sprintf("Image generated and saved to %s (%dx%d)", path, bounds.Dx(), bounds.Dy())
	if resized {
		content += " after downscaling"
	}
	return &Result{Content: content, Files: []string{path}}, nil
}

// alterSizes are the sizes the image edits endpoint accepts.
var alterSizes = map[string]bool{
	"256x256":   true,
	"512x512":   true,
	"1024x1024": true,
}

type alterImageParams struct {
	ImagePath  string `json:"image_path" jsonschema:"description=Path to the source image to alter. PNG works best."`
	Prompt     string `json:"prompt" jsonschema:"description=Text description of the desired alteration"`
	Size       string `json:"size,omitempty" jsonschema:"description=Output size: 1024x1024 (default) or 512x512 or 256x256"`
	OutputPath string `json:"output_path,omitempty" jsonschema:"description=File path to save the altered image to. Defaults to a generated name in the working directory."`
}

// AlterImageTool rewrites an existing image per a prompt, leaving the
// source file untouched.
type AlterImageTool struct {
	editor  ImageEditor
	client  *http.Client
	workDir func() string
}

// NewAlterImageTool creates the generate_altered_image tool. workDir
// resolves relative paths at call time; nil uses the process cwd.
func NewAlterImageTool(editor ImageEditor, workDir func() string) *AlterImageTool {
	return &AlterImageTool{
		editor:  editor,
		client:  &http.Client{Timeout: imageFetchTimeout},
		workDir: workDir,
	}
}

func (t *AlterImageTool) Name() string { return "generate_altered_image" }

func (t *AlterImageTool) Description() string {
	return "Alter an existing image file according to a text prompt and save the result as a new file on disk. The source image is not modified. Provide the path to the source image and a detailed prompt describing the change."
}

func (t *AlterImageTool) Schema() json.RawMessage {
	return schemaOf(alterImageParams{})
}

func (t *AlterImageTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	var p alterImageParams
	if err := json.Unmarshal(params, &p); err != nil {
		return Errorf("Invalid parameters: %v", err), nil
	}
	if strings.TrimSpace(p.ImagePath) == "" {
		return Errorf("Image path parameter is required"), nil
	}
	if strings.TrimSpace(p.Prompt) == "" {
		return Errorf("Prompt parameter is required"), nil
	}
	if p.Size != "" && !alterSizes[p.Size] {
		return Errorf("Unsupported size %q: use 1024x1024, 512x512 or 256x256", p.Size), nil
	}

	source := resolveImagePath(t.workDir, p.ImagePath)
	if _, err := os.Stat(source); err != nil {
		return Errorf("Cannot read source image %s: %v", source, err), nil
	}

	imageURL, err := t.editor.AlterImage(ctx, source, p.Prompt, p.Size)
	if err != nil {
		return Errorf("Image alteration failed: %v", err), nil
	}

	img, err := fetchImage(ctx, t.client, imageURL)
	if err != nil {
		return Errorf("Failed to download altered image: %v", err), nil
	}

	img, _ = scaleToFit(img, imageMaxSide)

	path := imageOutputPath(t.workDir, p.OutputPath, "altered-image")
	if err := savePNG(path, img); err != nil {
		return Errorf("Failed to save image: %v", err), nil
	}

	bounds := img.Bounds()
	content := fmt.Sprintf("Image altered and saved to %s (%dx%d)", path, bounds.Dx(), bounds.Dy())
	return &Result{Content: content, Files: []string{path}}, nil
}

func fetchImage(ctx context.Context, client *http.Client, imageURL string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image fetch returned status %d", resp.StatusCode)
	}

	img, _, err := image.Decode(io.LimitReader(resp.Body, imageMaxBytes))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// imageOutputPath resolves the save path for a rendered image. An empty
// request gets a generated name under the working directory.
func imageOutputPath(workDir func() string, requested, prefix string) string {
	if requested == "" {
		requested = fmt.Sprintf("%s-%s.png", prefix, uuid.NewString()[:8])
	}
	return resolveImagePath(workDir, requested)
}

func resolveImagePath(workDir func() string, path string) string {
	base := ""
	if workDir != nil {
		base = workDir()
	}
	if filepath.IsAbs(path) || base == "" {
		return path
	}
	return filepath.Join(base, path)
}

// scaleToFit downscales img so that neither side exceeds maxSide,
// preserving aspect ratio. Smaller images pass through.
func scaleToFit(img image.Image, maxSide int) (image.Image, bool) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= maxSide && height <= maxSide {
		return img, false
	}

	newWidth, newHeight := width, height
	if width > height {
		newWidth = maxSide
		newHeight = int(float64(height) * float64(maxSide) / float64(width))
	} else {
		newHeight = maxSide
		newWidth = int(float64(width) * float64(maxSide) / float64(height))
	}

	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst, true
}

func savePNG(path string, img image.Image) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return err
	}
	return f.Close()
}
