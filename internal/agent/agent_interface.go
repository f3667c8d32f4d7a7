package agent

import (
	"context"
	"errors"
)

// ErrGenerationUnavailable is returned when the text generation provider
// cannot be reached or rejects the request.
var ErrGenerationUnavailable = errors.New("text generation unavailable")

// TextGenerator produces a tutor reply for a prompt and prior history.
type TextGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// Ensure implementations satisfy TextGenerator.
var (
	_ TextGenerator = (*GrpcClient)(nil)
	_ TextGenerator = (*Service)(nil)
)
