package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ImpactScanner/internal/config"
	"ImpactScanner/internal/domain"
	"ImpactScanner/internal/engine"
)

type cannedReply struct {
	status int
	header map[string]string
	body   string
}

func cannedServer(t *testing.T, reply cannedReply, paths chan<- string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if paths != nil {
			select {
			case paths <- r.URL.Path:
			default:
			}
		}
		w.Header().Set("Content-Type", "application/json")
		for k, v := range reply.header {
			w.Header().Set(k, v)
		}
		w.WriteHeader(reply.status)
		_, _ = w.Write([]byte(reply.body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestGeminiClientOutcomes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		reply   cannedReply
		outcome domain.Outcome
		text    string
		hint    time.Duration
	}{
		{
			name:    "success",
			reply:   cannedReply{status: http.StatusOK, body: `{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"rationale\":"},{"text":"\"tariffs\"}"}]},"finishReason":"STOP"}]}`},
			outcome: domain.OutcomeSuccess,
			text:    `{"rationale":"tariffs"}`,
		},
		{
			name:    "prompt blocked",
			reply:   cannedReply{status: http.StatusOK, body: `{"promptFeedback":{"blockReason":"SAFETY"}}`},
			outcome: domain.OutcomeRefused,
		},
		{
			name:    "candidate withheld",
			reply:   cannedReply{status: http.StatusOK, body: `{"candidates":[{"finishReason":"PROHIBITED_CONTENT"}]}`},
			outcome: domain.OutcomeRefused,
		},
		{
			name:    "empty candidate",
			reply:   cannedReply{status: http.StatusOK, body: `{"candidates":[{"content":{"role":"model","parts":[]},"finishReason":"MAX_TOKENS"}]}`},
			outcome: domain.OutcomeTransportError,
		},
		{
			name: "quota",
			reply: cannedReply{
				status: http.StatusTooManyRequests,
				body:   `{"error":{"code":429,"message":"Quota exceeded for metric. Please retry in 12.5s.","status":"RESOURCE_EXHAUSTED"}}`,
			},
			outcome: domain.OutcomeRateLimited,
			hint:    12500 * time.Millisecond,
		},
		{
			name:    "server error",
			reply:   cannedReply{status: http.StatusInternalServerError, body: `{"error":{"code":500,"message":"internal","status":"INTERNAL"}}`},
			outcome: domain.OutcomeTransportError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := cannedServer(t, tt.reply, nil)
			client, err := NewGeminiClient(context.Background(), config.EngineConfig{
				ID:       "gemini",
				Kind:     "gemini",
				Model:    "gemini-test",
				APIKey:   "g-key",
				Endpoint: server.URL,
			})
			require.NoError(t, err)

			resp, err := client.Invoke(context.Background(), "analyze", domain.NewsItem{})
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, resp.Outcome, "response: %+v", resp)
			assert.Equal(t, tt.text, resp.Text)
			assert.Equal(t, tt.hint, resp.RetryAfter)
		})
	}
}

func TestClaudeClientOutcomes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		reply   cannedReply
		outcome domain.Outcome
		text    string
		hint    time.Duration
	}{
		{
			name: "success",
			reply: cannedReply{status: http.StatusOK, body: `{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",` +
				`"content":[{"type":"text","text":"{\"rationale\":\"rates\"}"}],"stop_reason":"end_turn","stop_sequence":null,` +
				`"usage":{"input_tokens":10,"output_tokens":5}}`},
			outcome: domain.OutcomeSuccess,
			text:    `{"rationale":"rates"}`,
		},
		{
			name: "refusal",
			reply: cannedReply{status: http.StatusOK, body: `{"id":"msg_2","type":"message","role":"assistant","model":"claude-test",` +
				`"content":[],"stop_reason":"refusal","stop_sequence":null,"usage":{"input_tokens":10,"output_tokens":0}}`},
			outcome: domain.OutcomeRefused,
		},
		{
			name: "rate limited",
			reply: cannedReply{
				status: http.StatusTooManyRequests,
				header: map[string]string{"Retry-After": "3"},
				body:   `{"type":"error","error":{"type":"rate_limit_error","message":"Number of requests has exceeded your rate limit"}}`,
			},
			outcome: domain.OutcomeRateLimited,
			hint:    3 * time.Second,
		},
		{
			name:    "overloaded",
			reply:   cannedReply{status: 529, body: `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`},
			outcome: domain.OutcomeTransportError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			paths := make(chan string, 4)
			server := cannedServer(t, tt.reply, paths)
			client, err := NewClaudeClient(config.EngineConfig{
				ID:       "claude",
				Kind:     "claude",
				Model:    "claude-test",
				APIKey:   "a-key",
				Endpoint: server.URL,
			})
			require.NoError(t, err)

			resp, err := client.Invoke(context.Background(), "analyze", domain.NewsItem{})
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, resp.Outcome, "response: %+v", resp)
			assert.Equal(t, tt.text, resp.Text)
			assert.Equal(t, tt.hint, resp.RetryAfter)

			require.Len(t, paths, 1, "sdk retries must stay disabled")
			assert.True(t, strings.HasSuffix(<-paths, "/v1/messages"))
		})
	}
}

func TestRegisterSkipsEnginesWithoutKeys(t *testing.T) {
	t.Parallel()

	reg := engine.NewRegistry()
	Register(reg)
	assert.Equal(t, []string{"claude", "gemini", "openai"}, reg.Kinds())

	for _, kind := range []string{"gemini", "claude"} {
		factory, err := reg.Resolve(kind)
		require.NoError(t, err)
		_, err = factory(config.EngineConfig{ID: kind, Kind: kind, Model: "m"})
		assert.ErrorIs(t, err, engine.ErrNotConfigured, kind)
	}
}
