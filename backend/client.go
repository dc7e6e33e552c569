// Package backend calls the Ollama server that produces, merges and ranks
// inline completion candidates.
package backend

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ollama/ollama/api"
	"golang.org/x/time/rate"

	"github.com/Paranoid-AF/ghostline/budget"
)

var (
	// ErrUnreachable marks transport failures and non-200 responses.
	ErrUnreachable = errors.New("ollama server unreachable")
	// ErrMalformed marks responses that do not match the requested schema.
	ErrMalformed = errors.New("malformed ollama response")
	// ErrNoModel is returned when no code completion model is configured.
	ErrNoModel = errors.New("code completion model is not configured")
)

// Candidate is one proposal from the completion call.
type Candidate struct {
	Code     string  `json:"code"`
	Priority float64 `json:"priority"`
}

// Ranked is one entry of the rerank call, in both directions.
type Ranked struct {
	Code   string  `json:"code"`
	Weight float64 `json:"weight"`
}

// CompleteRequest is the context sent with a completion call.
type CompleteRequest struct {
	LanguageID     string
	FileName       string
	Prefix         string
	PrecedingLines string
	Diff           string
}

// RerankRequest carries the stored suggestions of one document.
type RerankRequest struct {
	LanguageID     string
	FileName       string
	PrecedingLines string
	Suggestions    []Ranked
}

// Model is an installed model reported by the server.
type Model struct {
	Name       string
	Size       int64
	ModifiedAt time.Time
}

// Options configures a Client.
type Options struct {
	URL              string
	Model            string
	KeepAliveMinutes int
	Concurrency      int
	RequestsPerSec   float64
	Prompts          *Prompts
	HTTPClient       *http.Client
}

// Client is the process-wide Ollama client. Every call it makes takes a unit
// from its Budget first and returns it on every exit path.
type Client struct {
	mu  sync.RWMutex
	cur settings

	budget  *budget.Budget
	limiter *rate.Limiter
	client  *http.Client
}

// settings is the connection state a call starts with.
type settings struct {
	baseURL   string
	api       *api.Client // nil when baseURL does not parse
	model     string
	keepAlive time.Duration
	prompts   *Prompts
}

// New creates a client from opts.
func New(opts Options) *Client {
	c := &Client{
		budget:  budget.New(opts.Concurrency),
		limiter: rate.NewLimiter(rate.Inf, 1),
		client:  opts.HTTPClient,
	}
	if c.client == nil {
		// No timeout: a hung call holds its budget unit until the server answers.
		c.client = &http.Client{}
	}
	c.Reconfigure(opts)
	return c
}

// Reconfigure applies new connection, budget and rate settings in place.
// Calls already in flight keep the settings they started with.
func (c *Client) Reconfigure(opts Options) {
	baseURL := strings.TrimRight(opts.URL, "/")
	var client *api.Client
	if u, err := url.Parse(baseURL); err == nil && u.Scheme != "" && u.Host != "" {
		client = api.NewClient(u, c.client)
	} else {
		slog.Warn("invalid ollama url", "url", opts.URL)
	}

	c.mu.Lock()
	prompts := c.cur.prompts
	if opts.Prompts != nil {
		prompts = opts.Prompts
	} else if prompts == nil {
		prompts = DefaultPrompts()
	}
	c.cur = settings{
		baseURL:   baseURL,
		api:       client,
		model:     opts.Model,
		keepAlive: time.Duration(opts.KeepAliveMinutes) * time.Minute,
		prompts:   prompts,
	}
	c.mu.Unlock()

	c.budget.SetMax(opts.Concurrency)
	c.SetRateLimit(opts.RequestsPerSec)
}

// SetRateLimit caps outgoing requests per second. Zero or less disables it.
func (c *Client) SetRateLimit(rps float64) {
	if rps <= 0 {
		c.limiter.SetLimit(rate.Inf)
		return
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	c.limiter.SetBurst(burst)
	c.limiter.SetLimit(rate.Limit(rps))
}

// Budget returns the concurrency budget shared by every call of this client.
func (c *Client) Budget() *budget.Budget {
	return c.budget
}

// Model returns the configured code completion model.
func (c *Client) Model() string {
	return c.settings().model
}

func (c *Client) settings() settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cur
}

// acquire takes a budget unit, waiting for one when wait is set. The returned
// release must be called exactly once.
func (c *Client) acquire(ctx context.Context, wait bool) (func(), error) {
	var err error
	if wait {
		err = c.budget.Acquire(ctx)
	} else {
		err = c.budget.TryAcquire()
	}
	if err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(c.budget.Release) }, nil
}

// Complete asks for candidate continuations of req.Prefix. With wait unset it
// fails with budget.ErrExceeded instead of waiting for a free unit.
func (c *Client) Complete(ctx context.Context, req CompleteRequest, wait bool) ([]Candidate, error) {
	prompt, err := render(c.settings().prompts.complete, req)
	if err != nil {
		return nil, errors.Wrap(err, "render completion prompt")
	}

	raw, err := c.generate(ctx, prompt, completeSchema, wait)
	if err != nil {
		return nil, err
	}
	return parseComplete(raw)
}

// Merge asks the model to join prefix and candidate into one piece of code.
func (c *Client) Merge(ctx context.Context, prefix, candidate string) (string, error) {
	prompt, err := render(c.settings().prompts.merge, mergeData{Prefix: prefix, Candidate: candidate})
	if err != nil {
		return "", errors.Wrap(err, "render merge prompt")
	}

	raw, err := c.generate(ctx, prompt, mergeSchema, true)
	if err != nil {
		return "", err
	}
	return parseMerge(raw)
}

// Rerank asks the model to reorder and reweight req.Suggestions.
func (c *Client) Rerank(ctx context.Context, req RerankRequest) ([]Ranked, error) {
	if req.Suggestions == nil {
		req.Suggestions = []Ranked{}
	}
	prompt, err := render(c.settings().prompts.rerank, req)
	if err != nil {
		return nil, errors.Wrap(err, "render rerank prompt")
	}

	raw, err := c.generate(ctx, prompt, rerankSchema, true)
	if err != nil {
		return nil, err
	}
	return parseRerank(raw)
}

// generate runs a single-shot generate call and returns the response text.
func (c *Client) generate(ctx context.Context, prompt string, format json.RawMessage, wait bool) (string, error) {
	res, err := c.rawGenerate(ctx, prompt, format, wait)
	if err != nil {
		return "", err
	}
	return res.Response, nil
}

func (c *Client) rawGenerate(ctx context.Context, prompt string, format json.RawMessage, wait bool) (*api.GenerateResponse, error) {
	s := c.settings()
	if s.model == "" {
		return nil, ErrNoModel
	}
	if s.api == nil {
		return nil, errors.Mark(errors.Newf("invalid ollama url %q", s.baseURL), ErrUnreachable)
	}

	release, err := c.acquire(ctx, wait)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "rate limit")
	}

	stream := false
	req := &api.GenerateRequest{
		Model:  s.model,
		Prompt: prompt,
		Format: format,
		Stream: &stream,
	}
	if s.keepAlive > 0 {
		req.KeepAlive = &api.Duration{Duration: s.keepAlive}
	}

	slog.Debug("ollama generate", "model", s.model, "prompt_bytes", len(prompt))

	var res *api.GenerateResponse
	err = s.api.Generate(ctx, req, func(r api.GenerateResponse) error {
		res = &r
		return nil
	})
	if err != nil {
		return nil, classify(ctx, err, "ollama generate")
	}
	if res == nil {
		return nil, malformed("empty generate response")
	}
	return res, nil
}

// classify maps an api client error onto the backend's error taxonomy.
// Errors from a cancelled ctx are returned as the ctx error.
func classify(ctx context.Context, err error, op string) error {
	if ctx.Err() != nil {
		return errors.Wrap(ctx.Err(), op)
	}
	var status api.StatusError
	if errors.As(err, &status) {
		return errors.Mark(
			errors.Newf("%s: ollama error (status %d): %s", op, status.StatusCode, strings.TrimSpace(status.ErrorMessage)),
			ErrUnreachable)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return errors.Mark(errors.Wrap(err, op), ErrUnreachable)
	}
	// The server answered, but not with something the api client could decode.
	return errors.Mark(errors.Wrap(err, op), ErrMalformed)
}

// Ping checks that the server answers on its root URL.
func (c *Client) Ping(ctx context.Context) error {
	s := c.settings()
	if s.api == nil {
		return errors.Mark(errors.Newf("invalid ollama url %q", s.baseURL), ErrUnreachable)
	}

	release, err := c.acquire(ctx, true)
	if err != nil {
		return err
	}
	defer release()

	if err := s.api.Heartbeat(ctx); err != nil {
		return classify(ctx, err, "ollama heartbeat")
	}
	return nil
}

// LoadModel asks the server to load the completion model into memory so the
// first real call does not pay for it.
func (c *Client) LoadModel(ctx context.Context) error {
	res, err := c.rawGenerate(ctx, "", nil, true)
	if err != nil {
		return errors.Wrap(err, "load model")
	}
	if res.Response != "" || !res.Done || res.DoneReason != "load" {
		return malformed("unexpected load response: response=%q done=%t done_reason=%q",
			res.Response, res.Done, res.DoneReason)
	}
	return nil
}

// ListModels returns the models installed on the server.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	s := c.settings()
	if s.api == nil {
		return nil, errors.Mark(errors.Newf("invalid ollama url %q", s.baseURL), ErrUnreachable)
	}

	release, err := c.acquire(ctx, true)
	if err != nil {
		return nil, err
	}
	defer release()

	res, err := s.api.List(ctx)
	if err != nil {
		return nil, classify(ctx, err, "ollama list")
	}
	models := make([]Model, 0, len(res.Models))
	for _, m := range res.Models {
		models = append(models, Model{Name: m.Name, Size: m.Size, ModifiedAt: m.ModifiedAt})
	}
	return models, nil
}
