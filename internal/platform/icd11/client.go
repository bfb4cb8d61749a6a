package icd11

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const (
	// ModuleTM2 is the module label for chapter 26, Traditional Medicine
	// Module 2.
	ModuleTM2 = "TM2"
	// ModuleBiomedical is used when an entity carries no chapter.
	ModuleBiomedical = "Biomedical"

	tm2Chapter = "26"
)

// Status classifies the outcome of a remote search.
type Status int

const (
	StatusOK Status = iota
	StatusDisabled
	StatusAuthFailed
	StatusUnavailable
	StatusProtocol
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusDisabled:
		return "disabled"
	case StatusAuthFailed:
		return "auth_failed"
	case StatusUnavailable:
		return "unavailable"
	case StatusProtocol:
		return "protocol"
	}
	return "unknown"
}

// Entity is one parsed search hit.
type Entity struct {
	Code   string
	Title  string
	Module string
	Raw    json.RawMessage
}

// Outcome is the result of a remote call. Entities is only populated for
// StatusOK; Err is set for the failure statuses.
type Outcome struct {
	Status   Status
	Entities []Entity
	Err      error
}

// OK reports whether the call reached the remote and was parsed.
func (o Outcome) OK() bool { return o.Status == StatusOK }

// TokenProvider supplies bearer tokens. CredentialCache implements it.
type TokenProvider interface {
	Token(ctx context.Context) (string, bool, error)
	Invalidate()
}

// Sink receives every entity returned by Search.
type Sink interface {
	Store(ctx context.Context, e Entity) error
}

// ClientConfig configures the search client.
type ClientConfig struct {
	SearchURL string
	Language  string
	Timeout   time.Duration
	Retries   int
}

// Client performs authenticated ICD-11 searches.
type Client struct {
	http     *resty.Client
	url      string
	language string
	tokens   TokenProvider
	sink     Sink
	logger   zerolog.Logger
}

// NewClient creates a search client. sink may be nil, in which case Search
// behaves like Fetch.
func NewClient(cfg ClientConfig, tokens TokenProvider, sink Sink, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	language := cfg.Language
	if language == "" {
		language = "en"
	}

	hc := resty.New().
		SetTimeout(timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r != nil && (r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500)
		})

	return &Client{
		http:     hc,
		url:      cfg.SearchURL,
		language: language,
		tokens:   tokens,
		sink:     sink,
		logger:   logger.With().Str("component", "icd11-client").Logger(),
	}
}

// Fetch runs a search without touching any local state other than the
// credential slot. A 401 from the search endpoint invalidates the token.
func (c *Client) Fetch(ctx context.Context, query string, limit int) Outcome {
	token, ok, err := c.tokens.Token(ctx)
	if err != nil {
		return Outcome{Status: StatusAuthFailed, Err: err}
	}
	if !ok {
		return Outcome{Status: StatusDisabled}
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("Accept", "application/json").
		SetHeader("API-Version", "v2").
		SetHeader("Accept-Language", c.language).
		SetQueryParams(map[string]string{
			"q":           query,
			"flatResults": "true",
		}).
		Get(c.url)
	if err != nil {
		return Outcome{Status: StatusUnavailable, Err: &RemoteUnavailableError{Err: err}}
	}

	if resp.StatusCode() == http.StatusUnauthorized {
		c.tokens.Invalidate()
	}
	if !resp.IsSuccess() {
		return Outcome{
			Status: StatusUnavailable,
			Err: &RemoteUnavailableError{
				StatusCode: resp.StatusCode(),
				Err:        fmt.Errorf("search returned %s", resp.Status()),
			},
		}
	}

	entities, err := c.parse(resp.Body(), limit)
	if err != nil {
		return Outcome{Status: StatusProtocol, Err: &RemoteProtocolError{Err: err}}
	}
	return Outcome{Status: StatusOK, Entities: entities}
}

// Search is Fetch followed by a write-through of every returned entity into
// the sink. Sink failures are logged and do not affect the outcome.
func (c *Client) Search(ctx context.Context, query string, limit int) Outcome {
	out := c.Fetch(ctx, query, limit)
	if !out.OK() || c.sink == nil {
		return out
	}
	for _, e := range out.Entities {
		if err := c.sink.Store(ctx, e); err != nil {
			c.logger.Error().Err(err).Str("code", e.Code).Msg("failed to cache ICD-11 entity")
		}
	}
	return out
}

type searchResponse struct {
	DestinationEntities []json.RawMessage `json:"destinationEntities"`
	Error               bool              `json:"error"`
	ErrorMessage        string            `json:"errorMessage"`
}

type rawEntity struct {
	ID      string          `json:"id"`
	TheCode string          `json:"theCode"`
	Title   json.RawMessage `json:"title"`
	Chapter json.RawMessage `json:"chapter"`
}

func (c *Client) parse(body []byte, limit int) ([]Entity, error) {
	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	if resp.Error {
		return nil, fmt.Errorf("search reported error: %s", resp.ErrorMessage)
	}
	if resp.DestinationEntities == nil {
		return nil, errors.New("search response missing destinationEntities")
	}

	entities := make([]Entity, 0, len(resp.DestinationEntities))
	for _, raw := range resp.DestinationEntities {
		if limit > 0 && len(entities) >= limit {
			break
		}
		e, err := parseEntity(raw)
		if err != nil {
			c.logger.Warn().Err(err).Msg("skipping malformed ICD-11 entity")
			continue
		}
		entities = append(entities, e)
	}
	return entities, nil
}

var highlightTags = regexp.MustCompile(`</?em[^>]*>`)

func parseEntity(raw json.RawMessage) (Entity, error) {
	var re rawEntity
	if err := json.Unmarshal(raw, &re); err != nil {
		return Entity{}, fmt.Errorf("decode entity: %w", err)
	}

	code := strings.TrimSpace(re.TheCode)
	if code == "" {
		code = strings.TrimSpace(re.ID)
	}
	if code == "" {
		return Entity{}, errors.New("entity has no identifier")
	}

	title := highlightTags.ReplaceAllString(textValue(re.Title), "")

	module := ModuleBiomedical
	if ch := textValue(re.Chapter); ch != "" {
		module = ch
		if ch == tm2Chapter {
			module = ModuleTM2
		}
	}

	return Entity{
		Code:   code,
		Title:  strings.TrimSpace(title),
		Module: module,
		Raw:    append(json.RawMessage(nil), raw...),
	}, nil
}

// textValue accepts a plain string, a number, or a language-tagged object
// carrying the text under "@value" or "value".
func textValue(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	var obj struct {
		LDValue json.RawMessage `json:"@value"`
		Value   json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	if v := textValue(obj.LDValue); v != "" {
		return v
	}
	return textValue(obj.Value)
}
