package crawler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldRetryClassification(t *testing.T) {
	cases := []struct {
		name   string
		reason Reason
		want   bool
	}{
		{"timeout", Reason{Kind: KindTimeout}, true},
		{"network_error", Reason{Kind: KindNetworkError}, true},
		{"browser_error", Reason{Kind: KindBrowserError}, true},
		{"temporary_failure", Reason{Kind: KindTemporaryFailure}, true},
		{"http_error_500", Reason{Kind: KindHTTPError, Status: 500}, true},
		{"http_error_503", Reason{Kind: KindHTTPError, Status: 503}, true},
		{"http_error_404", Reason{Kind: KindHTTPError, Status: 404}, false},
		{"invalid_crawler", Reason{Kind: KindInvalidCrawler, ID: "x"}, false},
		{"unexpected_return", Reason{Kind: KindUnexpectedReturn}, false},
		{"other", Reason{Kind: KindOther}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.reason.ShouldRetry())
		})
	}
}

func TestAsReasonWrapsArbitraryErrors(t *testing.T) {
	reason := AsReason(errors.New("boom"))
	assert.Equal(t, KindOther, reason.Kind)
	assert.Equal(t, "boom", reason.Msg)
}

func TestAsReasonUnwrapsTypedError(t *testing.T) {
	reason := AsReason(NetworkError("reset"))
	assert.Equal(t, KindNetworkError, reason.Kind)
	assert.Equal(t, "reset", reason.Msg)
}

func TestFormattedMatchesScenarioS4(t *testing.T) {
	reason := Reason{Kind: KindNetworkError, Msg: ":reset"}
	assert.Equal(t, "Network error: :reset", reason.Formatted())
}

func TestDefaultHandleErrorMatchesClassifier(t *testing.T) {
	assert.Equal(t, ActionRetry, DefaultHandleError(Timeout("slow")))
	assert.Equal(t, ActionSkip, DefaultHandleError(HTTPError(404)))
}
