package classify

import (
	"context"
	"strings"

	"github.com/jaytaylor/html2text"
	"github.com/sirupsen/logrus"

	"github.com/brandon/onebox/pkg/types"
)

// Inference is the external zero-shot classification call.
type Inference interface {
	ZeroShot(ctx context.Context, text string, labels []string) ([]types.ClassificationResult, error)
}

// Classifier maps email content to the fixed category taxonomy. It is pure
// given its input and safe for concurrent use; in-flight inference calls are
// bounded by a global semaphore to respect external rate limits.
type Classifier struct {
	inference Inference
	threshold float64
	maxChars  int
	sem       chan struct{}
	logger    *logrus.Logger
}

// NewClassifier creates a classifier. threshold is the minimum confidence an
// inference result needs to be accepted; below it the keyword fallback
// decides.
func NewClassifier(inference Inference, threshold float64, maxChars, maxConcurrent int, logger *logrus.Logger) *Classifier {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Classifier{
		inference: inference,
		threshold: threshold,
		maxChars:  maxChars,
		sem:       make(chan struct{}, maxConcurrent),
		logger:    logger,
	}
}

// Classify labels the given text and HTML content. It never fails: when the
// inference service is unavailable, returns malformed output, or scores every
// label below the threshold, the deterministic fallback decides.
func (c *Classifier) Classify(ctx context.Context, text, html string) types.ClassificationResult {
	content := BuildContent(text, html)
	if strings.TrimSpace(content) == "" {
		return types.ClassificationResult{Label: types.CategoryUncategorized}
	}

	results, err := c.infer(ctx, truncate(content, c.maxChars))
	if err != nil {
		c.logger.WithError(err).Warn("Inference unavailable, using keyword fallback")
		return Fallback(content)
	}

	best := types.ClassificationResult{}
	for _, r := range results {
		if r.Confidence > best.Confidence {
			best = r
		}
	}

	if best.Label == "" || best.Confidence < c.threshold {
		return Fallback(content)
	}
	return best
}

// infer performs the bounded external call.
func (c *Classifier) infer(ctx context.Context, input string) ([]types.ClassificationResult, error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-c.sem }()

	return c.inference.ZeroShot(ctx, input, types.Categories)
}

// BuildContent concatenates the plain text with text derived from the HTML
// part. HTML that cannot be converted is ignored rather than classified raw.
func BuildContent(text, html string) string {
	var parts []string
	if text != "" {
		parts = append(parts, text)
	}
	if html != "" {
		if derived, err := html2text.FromString(html, html2text.Options{TextOnly: true}); err == nil && derived != "" {
			parts = append(parts, derived)
		}
	}
	return strings.Join(parts, "\n")
}

// truncate bounds content length before the external call, on rune
// boundaries.
func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
