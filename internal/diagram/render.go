package diagram

import (
	"context"
	"encoding/base64"

	"github.com/rendis/scenecraft/pkg/schema"
)

// Formats accepted by Render.
const (
	FormatMermaid = "mermaid"
	FormatASCII   = "ascii"
	FormatImage   = "image"
)

// Render renders model in format. Images come back base64-encoded.
func Render(ctx context.Context, model *Model, format string) (string, error) {
	switch format {
	case FormatMermaid, "":
		return RenderMermaid(model), nil
	case FormatASCII:
		return RenderASCII(model), nil
	case FormatImage:
		png, err := RenderImage(ctx, model)
		if err != nil {
			return "", schema.NewError(schema.ErrCodeExecution, err.Error()).WithCause(err)
		}
		return base64.StdEncoding.EncodeToString(png), nil
	default:
		return "", schema.NewErrorf(schema.ErrCodeValidation, "unsupported diagram format %q", format)
	}
}
