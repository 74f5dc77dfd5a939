package taapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"TaPull/internal/domain/models"
	"TaPull/internal/domain/repository"
	pkghttp "TaPull/pkg/http"
	"TaPull/pkg/logger"
)

// indicatorSpec describes one provider indicator call and how its response
// fields map onto snapshot value keys.
type indicatorSpec struct {
	endpoint string
	params   map[string]string
	fields   map[string]string // provider field -> snapshot key
}

// indicatorSet is the full set retrieved per symbol. MACD and BBANDS expand
// into several snapshot keys from one call.
var indicatorSet = []indicatorSpec{
	{endpoint: "rsi", fields: map[string]string{"value": models.KeyRSI}},
	{endpoint: "macd", fields: map[string]string{
		"valueMACD":       models.KeyMACD,
		"valueMACDSignal": models.KeyMACDSignal,
		"valueMACDHist":   models.KeyMACDHist,
	}},
	{endpoint: "ema", params: map[string]string{"period": "20"}, fields: map[string]string{"value": models.KeyEMA20}},
	{endpoint: "sma", params: map[string]string{"period": "50"}, fields: map[string]string{"value": models.KeySMA50}},
	{endpoint: "adx", fields: map[string]string{"value": models.KeyADX}},
	{endpoint: "atr", fields: map[string]string{"value": models.KeyATR}},
	{endpoint: "bbands", fields: map[string]string{
		"valueUpperBand":  models.KeyBBandsUpper,
		"valueMiddleBand": models.KeyBBandsMid,
		"valueLowerBand":  models.KeyBBandsLower,
	}},
	{endpoint: "mfi", fields: map[string]string{"value": models.KeyMFI}},
	{endpoint: "obv", fields: map[string]string{"value": models.KeyOBV}},
}

// ClientOption configures Client.
type ClientOption func(*Client)

// Client talks to the taapi.io-shaped indicator API.
type Client struct {
	http    *pkghttp.Client
	baseURL string
	secret  string
	timeout time.Duration
	log     *logger.Logger
}

// NewClient creates a provider client.
func NewClient(secret string, opts ...ClientOption) (*Client, error) {
	if secret == "" {
		return nil, fmt.Errorf("secret is required")
	}

	c := &Client{
		baseURL: "https://api.taapi.io",
		secret:  secret,
		timeout: 15 * time.Second,
		log:     logger.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.baseURL = strings.TrimRight(c.baseURL, "/")
	c.http = pkghttp.NewClient(pkghttp.WithTimeout(c.timeout))
	return c, nil
}

// WithBaseURL overrides the provider base URL (tests, proxies).
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithRequestTimeout sets the per-call deadline.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// FetchSymbol retrieves the full indicator set for one symbol via
// single-indicator GET calls. The first failed call aborts the set; partial
// data is never returned as live.
func (c *Client) FetchSymbol(ctx context.Context, req repository.SymbolRequest) (*models.IndicatorSnapshot, error) {
	values := make(map[string]float64, len(indicatorSet)+4)
	real := 0

	for _, spec := range indicatorSet {
		fields, err := c.fetchOne(ctx, spec, req)
		if err != nil {
			return nil, err
		}
		for providerField, key := range spec.fields {
			if v, ok := fields[providerField]; ok {
				values[key] = v
				real++
			}
		}
	}

	return &models.IndicatorSnapshot{
		Symbol:             req.Symbol,
		Interval:           req.Interval,
		Exchange:           req.Exchange,
		Values:             values,
		Source:             models.SourceLive,
		RealIndicatorCount: real,
		Timestamp:          time.Now().UTC(),
	}, nil
}

func (c *Client) fetchOne(ctx context.Context, spec indicatorSpec, req repository.SymbolRequest) (map[string]float64, error) {
	query := map[string][]string{
		"secret":   {c.secret},
		"exchange": {req.Exchange},
		"symbol":   {req.Symbol},
		"interval": {req.Interval},
	}
	for k, v := range spec.params {
		query[k] = []string{v}
	}

	resp, err := c.http.SendRequest(ctx, &pkghttp.RequestOptions{
		Method:      pkghttp.MethodGet,
		URL:         c.baseURL + "/" + spec.endpoint,
		QueryParams: query,
	})
	if err != nil {
		return nil, Classify(0, nil, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Classify(0, nil, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, Classify(resp.StatusCode, body, nil)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, Classify(0, nil, fmt.Errorf("decode %s response: %w", spec.endpoint, err))
	}

	fields := make(map[string]float64, len(raw))
	for k, v := range raw {
		var f float64
		if err := json.Unmarshal(v, &f); err == nil {
			fields[k] = f
		}
	}
	return fields, nil
}

// bulk request/response wire shapes.
type bulkConstruct struct {
	Exchange   string          `json:"exchange"`
	Symbol     string          `json:"symbol"`
	Interval   string          `json:"interval"`
	Indicators []bulkIndicator `json:"indicators"`
}

type bulkIndicator struct {
	ID        string `json:"id"`
	Indicator string `json:"indicator"`
	Period    string `json:"period,omitempty"`
}

type bulkRequest struct {
	Secret     string          `json:"secret"`
	Constructs []bulkConstruct `json:"constructs"`
}

type bulkResponse struct {
	Data []struct {
		ID     string                     `json:"id"`
		Result map[string]json.RawMessage `json:"result"`
		Errors []string                   `json:"errors"`
	} `json:"data"`
}

// FetchBulk retrieves indicator sets for several symbols in one POST /bulk
// call. Results are demultiplexed by the correlation id embedded in each
// indicator spec ("<requestID>|<indicator>"); a request with no usable data
// is simply absent from the returned map.
func (c *Client) FetchBulk(ctx context.Context, reqs []repository.SymbolRequest) (map[string]*models.IndicatorSnapshot, error) {
	if len(reqs) == 0 {
		return map[string]*models.IndicatorSnapshot{}, nil
	}

	byID := make(map[string]repository.SymbolRequest, len(reqs))
	constructs := make([]bulkConstruct, 0, len(reqs))
	for _, req := range reqs {
		byID[req.ID] = req
		indicators := make([]bulkIndicator, 0, len(indicatorSet))
		for _, spec := range indicatorSet {
			indicators = append(indicators, bulkIndicator{
				ID:        req.ID + "|" + spec.endpoint,
				Indicator: spec.endpoint,
				Period:    spec.params["period"],
			})
		}
		constructs = append(constructs, bulkConstruct{
			Exchange:   req.Exchange,
			Symbol:     req.Symbol,
			Interval:   req.Interval,
			Indicators: indicators,
		})
	}

	resp, err := c.http.SendRequest(ctx, &pkghttp.RequestOptions{
		Method: pkghttp.MethodPost,
		URL:    c.baseURL + "/bulk",
		Body:   bulkRequest{Secret: c.secret, Constructs: constructs},
	})
	if err != nil {
		return nil, Classify(0, nil, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Classify(0, nil, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, Classify(resp.StatusCode, body, nil)
	}

	var parsed bulkResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, Classify(0, nil, fmt.Errorf("decode bulk response: %w", err))
	}

	specByEndpoint := make(map[string]indicatorSpec, len(indicatorSet))
	for _, spec := range indicatorSet {
		specByEndpoint[spec.endpoint] = spec
	}

	out := make(map[string]*models.IndicatorSnapshot, len(reqs))
	now := time.Now().UTC()
	for _, item := range parsed.Data {
		reqID, endpoint, ok := splitCorrelationID(item.ID)
		if !ok {
			c.log.Warn("bulk result with unparseable id", logger.String("id", item.ID))
			continue
		}
		req, ok := byID[reqID]
		if !ok {
			continue
		}
		spec, ok := specByEndpoint[endpoint]
		if !ok || len(item.Errors) > 0 || item.Result == nil {
			continue
		}

		snap := out[reqID]
		if snap == nil {
			snap = &models.IndicatorSnapshot{
				Symbol:    req.Symbol,
				Interval:  req.Interval,
				Exchange:  req.Exchange,
				Values:    make(map[string]float64, len(indicatorSet)+4),
				Source:    models.SourceBatch,
				Timestamp: now,
			}
			out[reqID] = snap
		}
		for providerField, key := range spec.fields {
			raw, ok := item.Result[providerField]
			if !ok {
				continue
			}
			var f float64
			if err := json.Unmarshal(raw, &f); err != nil {
				continue
			}
			snap.Values[key] = f
			snap.RealIndicatorCount++
		}
	}

	// Drop entries that parsed but carried no values at all.
	for id, snap := range out {
		if snap.RealIndicatorCount == 0 {
			delete(out, id)
		}
	}
	return out, nil
}

func splitCorrelationID(id string) (reqID, endpoint string, ok bool) {
	i := strings.LastIndex(id, "|")
	if i <= 0 || i == len(id)-1 {
		return "", "", false
	}
	return id[:i], id[i+1:], true
}

// Entitlements returns the provider-form symbols permitted under the active
// credentials. A plan-limitation rejection that embeds the permitted list in
// its error payload is treated as a successful answer.
func (c *Client) Entitlements(ctx context.Context) ([]string, error) {
	resp, err := c.http.SendRequest(ctx, &pkghttp.RequestOptions{
		Method: pkghttp.MethodGet,
		URL:    c.baseURL + "/exchange-symbols",
		QueryParams: map[string][]string{
			"secret": {c.secret},
		},
	})
	if err != nil {
		return nil, Classify(0, nil, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Classify(0, nil, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		perr := Classify(resp.StatusCode, body, nil)
		if perr.Class == ClassEntitlementDenied && len(perr.Entitled) > 0 {
			c.log.Warn("entitlements derived from plan-limitation payload",
				logger.Int("symbols", len(perr.Entitled)))
			return perr.Entitled, nil
		}
		return nil, perr
	}

	var symbols []string
	if err := json.Unmarshal(body, &symbols); err != nil {
		return nil, Classify(0, nil, fmt.Errorf("decode symbols response: %w", err))
	}
	return symbols, nil
}
