package ocr

import (
	"context"
	"fmt"
)

var defaultEngine Engine = noopEngine{}

// DefaultEngine returns the registered default OCR engine. Importing the
// tesseract subpackage replaces the built-in no-op engine.
func DefaultEngine() Engine {
	return defaultEngine
}

// SetDefaultEngine sets the default OCR engine.
func SetDefaultEngine(engine Engine) {
	defaultEngine = engine
}

// RecognizeAll applies opts to every input and runs them through the engine.
// Batch-capable engines get one call; everything else is executed
// sequentially, honoring context cancellation between inputs.
func RecognizeAll(ctx context.Context, engine Engine, inputs []Input, opts ...InputOption) ([]Result, error) {
	prepared := make([]Input, len(inputs))
	for i, in := range inputs {
		for _, opt := range opts {
			opt(&in)
		}
		prepared[i] = in
	}
	if b, ok := engine.(BatchEngine); ok {
		return b.RecognizeBatch(ctx, prepared)
	}
	results := make([]Result, 0, len(prepared))
	for _, in := range prepared {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		res, err := engine.Recognize(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("recognize %s: %w", in.ID, err)
		}
		results = append(results, res)
	}
	return results, nil
}

type noopEngine struct{}

func (noopEngine) Name() string { return "noop" }

func (noopEngine) Recognize(ctx context.Context, input Input) (Result, error) {
	return Result{InputID: input.ID}, nil
}
