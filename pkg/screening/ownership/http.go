package ownership

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Mindburn-Labs/exposure/pkg/resiliency"
	"github.com/Mindburn-Labs/exposure/pkg/screening"
	"github.com/Mindburn-Labs/exposure/pkg/screening/normalize"
)

// relatedCompany is one entry of a relation tier in the provider response.
type relatedCompany struct {
	Name                string   `json:"name"`
	OwnershipPercentage *float64 `json:"ownership_percentage,omitempty"`
	EvidenceSource      string   `json:"evidence_source,omitempty"`
}

// ownershipResponse is the provider wire format.
type ownershipResponse struct {
	Subject      string           `json:"subject"`
	Parents      []relatedCompany `json:"parents"`
	Subsidiaries []relatedCompany `json:"subsidiaries"`
	Affiliates   []relatedCompany `json:"affiliates"`
}

type siblingsResponse struct {
	Siblings []string `json:"siblings"`
}

// HTTPLookup queries a remote ownership provider:
//
//	GET {base}/v1/ownership?name=...  -> ownershipResponse
//	GET {base}/v1/siblings?name=...   -> siblingsResponse
//
// Calls go through a circuit breaker. Retries are off by default: a missed
// ownership signal degrades confidence, it does not change correctness.
type HTTPLookup struct {
	name    string
	base    *url.URL
	client  *resiliency.EnhancedClient
	ceiling float64
}

type HTTPOption func(*httpConfig)

type httpConfig struct {
	httpClient *http.Client
	retries    int
	breaker    *resiliency.CircuitBreaker
	ceiling    float64
	name       string
}

func WithHTTPClient(c *http.Client) HTTPOption { return func(h *httpConfig) { h.httpClient = c } }

func WithRetries(n int) HTTPOption { return func(h *httpConfig) { h.retries = n } }

func WithCircuitBreaker(cb *resiliency.CircuitBreaker) HTTPOption {
	return func(h *httpConfig) { h.breaker = cb }
}

func WithCeiling(c float64) HTTPOption { return func(h *httpConfig) { h.ceiling = c } }

func WithProviderName(n string) HTTPOption { return func(h *httpConfig) { h.name = n } }

func NewHTTPLookup(baseURL string, opts ...HTTPOption) (*HTTPLookup, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("ownership url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("ownership url %q: scheme must be http or https", baseURL)
	}
	cfg := httpConfig{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		breaker:    resiliency.NewCircuitBreaker("ownership", 5, 30*time.Second),
		ceiling:    1.0,
		name:       "http:" + u.Host,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &HTTPLookup{
		name: cfg.name,
		base: u,
		client: resiliency.NewEnhancedClient(
			resiliency.WithHTTPClient(cfg.httpClient),
			resiliency.WithMaxRetries(cfg.retries),
			resiliency.WithBreaker(cfg.breaker),
		),
		ceiling: cfg.ceiling,
	}, nil
}

func (h *HTTPLookup) Name() string { return h.name }

func (h *HTTPLookup) Lookup(ctx context.Context, name string) (Ownership, error) {
	var body ownershipResponse
	if err := h.get(ctx, "/v1/ownership", name, &body); err != nil {
		return Ownership{}, err
	}

	// Edges are addressed to the queried name. A provider that answers with
	// its own registered form of the company is recorded in the evidence.
	registered := strings.TrimSpace(body.Subject)
	if normalize.Company(registered) == normalize.Company(name) {
		registered = ""
	}
	var edges []screening.OwnershipEdge
	add := func(rel screening.Relation, tier []relatedCompany) {
		for _, rc := range tier {
			if strings.TrimSpace(rc.Name) == "" {
				continue
			}
			src := rc.EvidenceSource
			if src == "" {
				src = h.name
			}
			if registered != "" {
				src += fmt.Sprintf(" (registered as %q)", registered)
			}
			edges = append(edges, screening.OwnershipEdge{
				SubjectName:         name,
				RelatedName:         rc.Name,
				Relation:            rel,
				OwnershipPercentage: rc.OwnershipPercentage,
				EvidenceSource:      src,
			})
		}
	}
	add(screening.RelationParent, body.Parents)
	add(screening.RelationSubsidiary, body.Subsidiaries)
	add(screening.RelationAffiliate, body.Affiliates)

	return Ownership{Subject: name, Edges: edges, Source: h.name, Ceiling: h.ceiling}, nil
}

func (h *HTTPLookup) Siblings(ctx context.Context, name string) ([]string, error) {
	var body siblingsResponse
	if err := h.get(ctx, "/v1/siblings", name, &body); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return body.Siblings, nil
}

func (h *HTTPLookup) get(ctx context.Context, path, name string, into any) error {
	u := *h.base
	u.Path += path
	u.RawQuery = url.Values{"name": {name}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return &LookupError{Kind: KindUnavailable, Provider: h.name, Name: name, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return Classify(h.name, name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &LookupError{Kind: KindNotFound, Provider: h.name, Name: name, Err: ErrNotFound}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &LookupError{Kind: KindRateLimited, Provider: h.name, Name: name, Err: statusError(resp)}
	case resp.StatusCode != http.StatusOK:
		return &LookupError{Kind: KindUnavailable, Provider: h.name, Name: name, Err: statusError(resp)}
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(into); err != nil {
		return &LookupError{Kind: KindUnavailable, Provider: h.name, Name: name, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func statusError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	msg := strings.TrimSpace(string(snippet))
	if msg == "" {
		return errors.New(resp.Status)
	}
	return fmt.Errorf("%s: %s", resp.Status, msg)
}
