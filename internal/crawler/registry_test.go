package crawler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCrawler struct{}

func (stubCrawler) Init(ctx context.Context) error                 { return nil }
func (stubCrawler) Crawl(ctx context.Context, url string) error    { return nil }
func (stubCrawler) ExtractLinks(Session) ([]string, error)         { return nil, nil }
func (stubCrawler) ExtractContent(Session, string) (*ExtractedContent, error) {
	return &ExtractedContent{}, nil
}
func (stubCrawler) ShouldCrawlURL(string) bool            { return true }
func (stubCrawler) GetConfig() map[string]interface{}     { return nil }

func TestRegistryResolvesRegisteredCrawler(t *testing.T) {
	r := NewRegistry()
	r.Register("ex", stubCrawler{})

	impl, err := r.Get("ex")
	require.NoError(t, err)
	assert.NotNil(t, impl)
}

func TestRegistryUnknownIDIsInvalidCrawler(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("missing")
	require.Error(t, err)

	reason := AsReason(err)
	assert.Equal(t, KindInvalidCrawler, reason.Kind)
	assert.Equal(t, "missing", reason.ID)
}
