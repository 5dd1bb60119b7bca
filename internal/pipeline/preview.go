package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"time"

	"github.com/dmitrijs2005/dngdrop/internal/common"
)

const DefaultPreviewQuality = 95

// Previewer pulls the embedded PreviewImage out of a DNG with exiftool and
// re-encodes it as a baseline JPEG.
type Previewer struct {
	ExiftoolPath string
	Quality      int
	Timeout      time.Duration
	Runner       Runner
}

func (p *Previewer) Extract(ctx context.Context, dngPath, jpgPath string) error {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	runner := p.Runner
	if runner == nil {
		runner = ExecRunner{}
	}

	out, err := runner.Run(ctx, p.ExiftoolPath, "-b", "-PreviewImage", dngPath)
	if err != nil {
		return classify(ctx, "extract preview", err)
	}
	if len(out) == 0 {
		return fmt.Errorf("%w: no embedded preview in %s", common.ErrPipelineFailure, dngPath)
	}

	img, _, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		return fmt.Errorf("%w: decode preview: %v", common.ErrPipelineFailure, err)
	}

	quality := p.Quality
	if quality <= 0 || quality > 100 {
		quality = DefaultPreviewQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return fmt.Errorf("%w: encode preview: %v", common.ErrPipelineFailure, err)
	}
	return os.WriteFile(jpgPath, buf.Bytes(), 0o640)
}
