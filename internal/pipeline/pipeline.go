// Package pipeline is the boundary to the external tools that do the actual
// image work: a RAW→DNG converter, exiftool for metadata patching and for
// pulling the embedded JPEG preview out of a DNG.
//
// Nothing here is safe to run twice for the same input; callers are expected
// to deduplicate before calling Process.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/dngdrop/internal/common"
)

// Processor turns one RAW file into a patched DNG inside outputDir and
// returns the DNG path.
type Processor interface {
	Process(ctx context.Context, inputPath, outputDir string) (string, error)
}

// PreviewExtractor writes a JPEG rendition of dngPath to jpgPath.
type PreviewExtractor interface {
	Extract(ctx context.Context, dngPath, jpgPath string) error
}

// DefaultExifTags rewrites the camera identity of converted files.
var DefaultExifTags = []string{
	"Make=FUJIFILM",
	"Model=Fujifilm X-T5",
	"UniqueCameraModel=Fujifilm X-T5",
}

// Pipeline converts with ConverterPath and then patches EXIF with
// ExiftoolPath. A zero Timeout disables the bound.
type Pipeline struct {
	ConverterPath string
	ExiftoolPath  string
	ExifTags      []string
	Timeout       time.Duration
	Runner        Runner
}

func (p *Pipeline) runner() Runner {
	if p.Runner == nil {
		return ExecRunner{}
	}
	return p.Runner
}

// Process implements Processor. The converter names its output after the
// input stem, so inputPath's stem must already be unique.
func (p *Pipeline) Process(ctx context.Context, inputPath, outputDir string) (string, error) {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	output := filepath.Join(outputDir, stem+common.PrimaryExt)

	if _, err := p.runner().Run(ctx, p.ConverterPath, "-d", outputDir, inputPath); err != nil {
		os.Remove(output)
		return "", classify(ctx, "convert", err)
	}
	if _, err := os.Stat(output); err != nil {
		return "", fmt.Errorf("%w: converter produced no %s", common.ErrPipelineFailure, filepath.Base(output))
	}

	tags := p.ExifTags
	if len(tags) == 0 {
		tags = DefaultExifTags
	}
	args := make([]string, 0, len(tags)+2)
	for _, t := range tags {
		args = append(args, "-"+t)
	}
	args = append(args, "-overwrite_original", output)

	if _, err := p.runner().Run(ctx, p.ExiftoolPath, args...); err != nil {
		os.Remove(output)
		return "", classify(ctx, "patch metadata", err)
	}

	return output, nil
}

// Check reports which configured tools cannot be found.
func (p *Pipeline) Check() error {
	var errs []error
	for _, tool := range []string{p.ConverterPath, p.ExiftoolPath} {
		if err := Lookup(tool); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func classify(ctx context.Context, step string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", common.ErrProcessingTimeout, step, err)
	}
	if isMissingTool(err) {
		return fmt.Errorf("%w: %s: tool not installed: %v", common.ErrPipelineFailure, step, err)
	}
	return fmt.Errorf("%w: %s: %v", common.ErrPipelineFailure, step, err)
}
