package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/cloudward/azkit-go/pipeline"
)

// ChainedTokenCredentialOptions configures a ChainedTokenCredential.
type ChainedTokenCredentialOptions struct {
	LogHandler slog.Handler
}

// ChainedTokenCredential tries its sources in order until one produces a
// token. A source answering CredentialUnavailableError is skipped; any
// other failure stops the chain, because the source was present and its
// failure is actionable. The first source to succeed is remembered and
// used directly on subsequent calls.
type ChainedTokenCredential struct {
	sources []pipeline.TokenCredential
	logger  *slog.Logger

	mu     sync.Mutex
	winner pipeline.TokenCredential
}

func NewChainedTokenCredential(sources []pipeline.TokenCredential, opts *ChainedTokenCredentialOptions) (*ChainedTokenCredential, error) {
	if len(sources) == 0 {
		return nil, errors.New("at least one credential source is required")
	}
	if opts == nil {
		opts = &ChainedTokenCredentialOptions{}
	}
	return &ChainedTokenCredential{
		sources: append([]pipeline.TokenCredential(nil), sources...),
		logger:  newCredentialLogger(opts.LogHandler),
	}, nil
}

// GetToken implements pipeline.TokenCredential.
func (c *ChainedTokenCredential) GetToken(ctx context.Context, opts pipeline.TokenRequestOptions) (pipeline.AccessToken, error) {
	c.mu.Lock()
	winner := c.winner
	c.mu.Unlock()
	if winner != nil {
		return winner.GetToken(ctx, opts)
	}

	var unavailable []string
	for _, source := range c.sources {
		tk, err := source.GetToken(ctx, opts)
		if err == nil {
			c.mu.Lock()
			c.winner = source
			c.mu.Unlock()
			return tk, nil
		}

		var skip *CredentialUnavailableError
		if errors.As(err, &skip) {
			c.logger.LogAttrs(ctx, slog.LevelDebug, "credential source unavailable",
				slog.String("error", err.Error()))
			unavailable = append(unavailable, err.Error())
			continue
		}
		return pipeline.AccessToken{}, err
	}

	return pipeline.AccessToken{}, newCredentialUnavailableError("ChainedTokenCredential",
		"no credential source is available in this environment: "+strings.Join(unavailable, "; "))
}

// Close closes every source that supports closing.
func (c *ChainedTokenCredential) Close() error {
	var firstErr error
	for _, source := range c.sources {
		if closer, ok := source.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

var _ pipeline.TokenCredential = (*ChainedTokenCredential)(nil)
