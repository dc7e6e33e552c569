package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Paranoid-AF/ghostline/budget"
)

// fakeOllama answers /api/generate with the response text chosen by reply.
func fakeOllama(t *testing.T, reply func(req api.GenerateRequest) string) (*httptest.Server, *[]api.GenerateRequest) {
	t.Helper()
	var mu sync.Mutex
	var seen []api.GenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Write([]byte("Ollama is running"))
		case "/api/tags":
			w.Write([]byte(`{"models":[{"name":"qwen2.5-coder:7b","size":42,"modified_at":"2026-09-30T12:00:00Z"}]}`))
		case "/api/generate":
			var req api.GenerateRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			mu.Lock()
			seen = append(seen, req)
			mu.Unlock()
			json.NewEncoder(w).Encode(api.GenerateResponse{Response: reply(req), Done: true, DoneReason: "stop"})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func newTestClient(url string) *Client {
	return New(Options{URL: url, Model: "qwen2.5-coder", KeepAliveMinutes: 15, Concurrency: 2})
}

func TestComplete(t *testing.T) {
	srv, seen := fakeOllama(t, func(api.GenerateRequest) string {
		return `{"language":"typescript","suggestions":[{"code":"const sub = (a, b) => a - b;","priority":1}]}`
	})
	c := newTestClient(srv.URL)

	got, err := c.Complete(context.Background(), CompleteRequest{
		LanguageID:     "typescript",
		FileName:       "math.ts",
		Prefix:         "const sub ",
		PrecedingLines: "const add = (a, b) => a + b;",
		Diff:           "+const add",
	}, true)
	require.NoError(t, err)
	assert.Equal(t, []Candidate{{Code: "const sub = (a, b) => a - b;", Priority: 1}}, got)

	require.Len(t, *seen, 1)
	req := (*seen)[0]
	assert.Equal(t, "qwen2.5-coder", req.Model)
	require.NotNil(t, req.Stream)
	assert.False(t, *req.Stream)
	require.NotNil(t, req.KeepAlive)
	assert.Equal(t, 15*time.Minute, req.KeepAlive.Duration)
	assert.JSONEq(t, string(completeSchema), string(req.Format))
	assert.Contains(t, req.Prompt, "<prefix>const sub </prefix>")
	assert.Contains(t, req.Prompt, "<git-diff>+const add</git-diff>")
	assert.Contains(t, req.Prompt, "<file-name>math.ts</file-name>")

	assert.Equal(t, 2, c.Budget().Available())
}

func TestCompleteOmitsEmptyDiff(t *testing.T) {
	srv, seen := fakeOllama(t, func(api.GenerateRequest) string {
		return `{"language":"go","suggestions":[]}`
	})
	c := newTestClient(srv.URL)

	got, err := c.Complete(context.Background(), CompleteRequest{LanguageID: "go", Prefix: "x"}, true)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotContains(t, (*seen)[0].Prompt, "<git-diff>")
}

func TestMerge(t *testing.T) {
	srv, seen := fakeOllama(t, func(api.GenerateRequest) string {
		return `{"language":"typescript","mergedCode":"const sub = (a,b) => b - a;"}`
	})
	c := newTestClient(srv.URL)

	got, err := c.Merge(context.Background(), "const sub = ", "b - a")
	require.NoError(t, err)
	assert.Equal(t, "const sub = (a,b) => b - a;", got)
	assert.Contains(t, (*seen)[0].Prompt, "<first>const sub = </first>")
	assert.Contains(t, (*seen)[0].Prompt, "<second>b - a</second>")
}

func TestRerank(t *testing.T) {
	srv, seen := fakeOllama(t, func(api.GenerateRequest) string {
		return `{"suggestions":[{"code":"b()","weight":5},{"code":"a()","weight":2}]}`
	})
	c := newTestClient(srv.URL)

	got, err := c.Rerank(context.Background(), RerankRequest{
		LanguageID:  "go",
		Suggestions: []Ranked{{Code: "a()", Weight: 1}, {Code: "b()", Weight: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, []Ranked{{Code: "b()", Weight: 5}, {Code: "a()", Weight: 2}}, got)
	assert.Contains(t, (*seen)[0].Prompt, `[{"code":"a()","weight":1},{"code":"b()","weight":1}]`)
}

func TestMalformedResponses(t *testing.T) {
	cases := []struct {
		name  string
		reply string
		call  func(c *Client) error
	}{
		{"complete not json", "sure! here you go", func(c *Client) error {
			_, err := c.Complete(context.Background(), CompleteRequest{}, true)
			return err
		}},
		{"complete missing priority", `{"language":"go","suggestions":[{"code":"x"}]}`, func(c *Client) error {
			_, err := c.Complete(context.Background(), CompleteRequest{}, true)
			return err
		}},
		{"merge missing mergedCode", `{"language":"go"}`, func(c *Client) error {
			_, err := c.Merge(context.Background(), "a", "b")
			return err
		}},
		{"rerank missing suggestions", `{}`, func(c *Client) error {
			_, err := c.Rerank(context.Background(), RerankRequest{})
			return err
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := fakeOllama(t, func(api.GenerateRequest) string { return tc.reply })
			c := newTestClient(srv.URL)

			err := tc.call(c)
			assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)
			assert.Equal(t, 2, c.Budget().Available())
		})
	}
}

func TestServerErrorIsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()
	c := newTestClient(srv.URL)

	_, err := c.Complete(context.Background(), CompleteRequest{}, true)
	assert.True(t, errors.Is(err, ErrUnreachable))
	assert.Contains(t, err.Error(), "status 404")
	assert.Equal(t, 2, c.Budget().Available())
}

func TestConnectionRefusedIsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := newTestClient(url)
	_, err := c.Merge(context.Background(), "a", "b")
	assert.True(t, errors.Is(err, ErrUnreachable))
	assert.Equal(t, 2, c.Budget().Available())
}

func TestNoModel(t *testing.T) {
	c := New(Options{URL: "http://127.0.0.1:0"})
	_, err := c.Complete(context.Background(), CompleteRequest{}, true)
	assert.ErrorIs(t, err, ErrNoModel)
}

func TestNonBlockingCompleteFailsWhenBudgetExhausted(t *testing.T) {
	var calls atomic.Int32
	srv, _ := fakeOllama(t, func(api.GenerateRequest) string {
		calls.Add(1)
		return `{"language":"go","suggestions":[]}`
	})
	c := newTestClient(srv.URL)
	require.NoError(t, c.Budget().TryAcquire())
	require.NoError(t, c.Budget().TryAcquire())

	_, err := c.Complete(context.Background(), CompleteRequest{}, false)
	assert.ErrorIs(t, err, budget.ErrExceeded)
	assert.Equal(t, int32(0), calls.Load())
}

func TestConcurrencyNeverExceedsBudget(t *testing.T) {
	var inFlight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		json.NewEncoder(w).Encode(api.GenerateResponse{Response: `{"language":"go","mergedCode":"x"}`, Done: true})
	}))
	defer srv.Close()
	c := newTestClient(srv.URL)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Merge(context.Background(), "a", "b")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, 2, c.Budget().Available())
}

func TestCancelledRequestReleasesBudget(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)
	c := newTestClient(srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Complete(ctx, CompleteRequest{}, true)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, errors.Is(err, ErrUnreachable))
	assert.Equal(t, 2, c.Budget().Available())
}

func TestReconfigureAppliesConcurrency(t *testing.T) {
	c := newTestClient("http://localhost:11434")
	c.Reconfigure(Options{URL: "http://localhost:11434/", Model: "other", Concurrency: 7})
	assert.Equal(t, 7, c.Budget().Max())
	assert.Equal(t, "other", c.Model())
}

func TestPingAndListModels(t *testing.T) {
	srv, _ := fakeOllama(t, func(api.GenerateRequest) string { return "" })
	c := newTestClient(srv.URL)

	require.NoError(t, c.Ping(context.Background()))

	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "qwen2.5-coder:7b", models[0].Name)
	assert.Equal(t, int64(42), models[0].Size)
	assert.Equal(t, time.Date(2026, 9, 30, 12, 0, 0, 0, time.UTC), models[0].ModifiedAt.UTC())
}

func TestInvalidURLIsUnreachable(t *testing.T) {
	c := New(Options{URL: "not a url", Model: "m", Concurrency: 1})
	_, err := c.Complete(context.Background(), CompleteRequest{}, true)
	assert.True(t, errors.Is(err, ErrUnreachable), "got %v", err)
	assert.True(t, errors.Is(c.Ping(context.Background()), ErrUnreachable))
	assert.Equal(t, 1, c.Budget().Available())
}

func TestErrorLineIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json at all\n"))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Merge(context.Background(), "a", "b")
	assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)
}

func TestLoadModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req api.GenerateRequest
		json.NewDecoder(r.Body).Decode(&req)
		assert.Empty(t, req.Prompt)
		assert.Empty(t, req.Format)
		json.NewEncoder(w).Encode(api.GenerateResponse{Done: true, DoneReason: "load"})
	}))
	defer srv.Close()

	assert.NoError(t, newTestClient(srv.URL).LoadModel(context.Background()))
}

func TestLoadModelUnexpectedReply(t *testing.T) {
	srv, _ := fakeOllama(t, func(api.GenerateRequest) string { return "hello" })
	err := newTestClient(srv.URL).LoadModel(context.Background())
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestRateLimit(t *testing.T) {
	srv, _ := fakeOllama(t, func(api.GenerateRequest) string { return `{"language":"go","mergedCode":"x"}` })
	c := New(Options{URL: srv.URL, Model: "m", RequestsPerSec: 20})

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.Merge(context.Background(), "a", "b")
		require.NoError(t, err)
	}
	// Burst of 20 covers all three calls.
	assert.Less(t, time.Since(start), time.Second)

	c.SetRateLimit(1)
	_, err := c.Merge(context.Background(), "a", "b")
	require.NoError(t, err)
	start = time.Now()
	_, err = c.Merge(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond)
}

func TestLoadPromptsOverride(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "merge.tmpl"), []byte("JOIN {{.Prefix}}|{{.Candidate}}"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rerank.tmpl"), []byte("{{.Broken"), 0644))

	p := LoadPrompts(dir)

	merged, err := render(p.merge, mergeData{Prefix: "a", Candidate: "b"})
	require.NoError(t, err)
	assert.Equal(t, "JOIN a|b", merged)

	ranked, err := render(p.rerank, RerankRequest{Suggestions: []Ranked{}})
	require.NoError(t, err)
	assert.True(t, strings.Contains(ranked, "<suggestion-list>"))
}
