// Package reverb implements platform.Adapter for P2, a JSON REST
// marketplace (Reverb-shaped) that exposes a listings collection and
// per-listing PUT/PATCH actions. Grounded on the retryablehttp-based client
// wrapper style used across the pack's REST integrations, with tidwall/gjson
// for cheap ad-hoc field extraction instead of fully typed response structs.
package reverb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/go-querystring/query"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/relvacode/iso8601"
	"github.com/tidwall/gjson"

	"github.com/tommytoolman/marketsync/internal/adapter/common"
	"github.com/tommytoolman/marketsync/internal/errs"
	"github.com/tommytoolman/marketsync/internal/model"
	"github.com/tommytoolman/marketsync/internal/platform"
)

var statusTable = common.StatusTable{
	"live":      model.StatusActive,
	"sold":      model.StatusSold,
	"ended":     model.StatusEnded,
	"draft":     model.StatusDraft,
	"suspended": model.StatusRemoved,
}

// listParams is encoded with google/go-querystring into the listings
// collection request.
type listParams struct {
	Page    int    `url:"page"`
	PerPage int    `url:"per_page"`
	State   string `url:"state,omitempty"`
}

// Adapter talks to the Reverb-shaped REST API.
type Adapter struct {
	baseURL string
	token   string
	client  *retryablehttp.Client
	limiter *common.Limiter
	breaker *common.Breaker
}

// New builds a Reverb adapter against baseURL using token as a bearer
// credential.
func New(baseURL, token string) *Adapter {
	c := retryablehttp.NewClient()
	c.RetryMax = 4
	c.Logger = nil

	return &Adapter{
		baseURL: baseURL,
		token:   token,
		client:  c,
		limiter: common.NewLimiter(5, 10),
		breaker: common.NewBreaker(model.PlatformP2),
	}
}

func (a *Adapter) Name() model.PlatformTag { return model.PlatformP2 }

func (a *Adapter) do(ctx context.Context, method, path string, params any, body any) ([]byte, int, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, 0, &errs.TransientError{Op: "reverb.do", Reason: "rate limiter", Err: err}
	}

	url := a.baseURL + path
	if params != nil {
		v, err := query.Values(params)
		if err != nil {
			return nil, 0, &errs.FatalError{Op: "reverb.do", Err: err}
		}
		url += "?" + v.Encode()
	}

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, 0, &errs.FatalError{Op: "reverb.do", Err: err}
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, 0, &errs.FatalError{Op: "reverb.do", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	req.Header.Set("Content-Type", "application/hal+json")
	req.Header.Set("Accept-Version", "3.0")

	result, err := a.breaker.Do("reverb."+method, func() (any, error) {
		resp, err := a.client.Do(req)
		if err != nil {
			return nil, &errs.TransientError{Op: "reverb." + method, Reason: "request failed", Err: err}
		}
		defer resp.Body.Close()
		buf := new(bytes.Buffer)
		if _, err := buf.ReadFrom(resp.Body); err != nil {
			return nil, &errs.TransientError{Op: "reverb." + method, Reason: "reading body", Err: err}
		}
		return [2]any{buf.Bytes(), resp.StatusCode}, nil
	})
	if err != nil {
		return nil, 0, err
	}
	pair := result.([2]any)
	status := pair[1].(int)
	respBody := pair[0].([]byte)

	if status == http.StatusNotFound {
		return nil, status, &errs.NotFoundError{Op: "reverb." + method, ExternalID: path}
	}
	if status >= 500 {
		return nil, status, &errs.TransientError{Op: "reverb." + method, Reason: fmt.Sprintf("status %d", status)}
	}
	if status >= 400 {
		return nil, status, &errs.PermanentError{Op: "reverb." + method, Reason: fmt.Sprintf("status %d: %s", status, gjson.GetBytes(respBody, "error").String())}
	}
	return respBody, status, nil
}

func (a *Adapter) FetchAll(ctx context.Context) ([]platform.RemoteListing, error) {
	var out []platform.RemoteListing
	page := 1
	for {
		body, _, err := a.do(ctx, http.MethodGet, "/api/my/listings", listParams{Page: page, PerPage: 50}, nil)
		if err != nil {
			return nil, err
		}
		listings := gjson.GetBytes(body, "listings")
		if !listings.Exists() || len(listings.Array()) == 0 {
			break
		}
		for _, l := range listings.Array() {
			out = append(out, toRemoteListing(l))
		}
		total := gjson.GetBytes(body, "total").Int()
		if int64(page*50) >= total {
			break
		}
		page++
	}
	return out, nil
}

func toRemoteListing(l gjson.Result) platform.RemoteListing {
	rl := platform.RemoteListing{
		ExternalID: l.Get("id").String(),
		Status:     statusTable.Translate(l.Get("state.slug").String()),
		Price:      l.Get("price.amount").Float(),
		Title:      l.Get("title").String(),
		ListingURL: l.Get("_links.web.href").String(),
		Raw:        model.RawPayload(l.Raw),
	}
	if l.Get("inventory").Exists() {
		q := int(l.Get("inventory").Int())
		rl.QuantityAvailable = &q
	}
	if published := l.Get("published_at"); published.Exists() {
		if t, err := iso8601.ParseString(published.String()); err == nil {
			rl.ListedAt = t
		}
	}
	return rl
}

func (a *Adapter) MarkAsSold(ctx context.Context, externalID string) error {
	_, _, err := a.do(ctx, http.MethodPut, "/api/my/listings/"+externalID+"/state", nil, map[string]string{"slug": "sold"})
	var nf *errs.NotFoundError
	if errAs(err, &nf) {
		return nil
	}
	return err
}

func (a *Adapter) UpdatePrice(ctx context.Context, externalID string, newPrice float64) error {
	_, _, err := a.do(ctx, http.MethodPut, "/api/my/listings/"+externalID, nil, map[string]any{
		"price": map[string]any{"amount": fmt.Sprintf("%.2f", newPrice), "currency": "GBP"},
	})
	return err
}

func (a *Adapter) UpdateQuantity(ctx context.Context, externalID string, newQty int, hints platform.QuantityHints) error {
	_, _, err := a.do(ctx, http.MethodPut, "/api/my/listings/"+externalID, nil, map[string]any{"inventory": newQty})
	return err
}

func (a *Adapter) CreateListing(ctx context.Context, p *model.Product, enriched platform.EnrichedContext) (platform.CreateResult, error) {
	payload := map[string]any{
		"make":        p.Brand,
		"model":       p.ModelName,
		"title":       p.Title,
		"description": p.Description,
		"condition":   map[string]string{"uuid": enriched.CategoryID},
		"price":       map[string]any{"amount": fmt.Sprintf("%.2f", p.CanonicalPrice()), "currency": "GBP"},
		"inventory":   p.Quantity,
		"photos":      p.AdditionalImages,
	}
	body, _, err := a.do(ctx, http.MethodPost, "/api/my/listings", nil, payload)
	if err != nil {
		return platform.CreateResult{}, err
	}
	return platform.CreateResult{
		ExternalID: gjson.GetBytes(body, "id").String(),
		ListingURL: gjson.GetBytes(body, "_links.web.href").String(),
		Raw:        model.RawPayload(body),
	}, nil
}

func (a *Adapter) ApplyProductEdit(ctx context.Context, p *model.Product, link *model.PlatformLink, changed model.ChangedFields) (platform.EditResult, error) {
	if link.ExternalID == nil {
		return platform.EditResult{}, &errs.PermanentError{Op: "reverb.ApplyProductEdit", Reason: "no external id on link"}
	}
	payload := map[string]any{}
	if changed.Title != nil {
		payload["title"] = *changed.Title
	}
	if changed.Description != nil {
		payload["description"] = *changed.Description
	}
	if changed.BasePrice != nil {
		payload["price"] = map[string]any{"amount": fmt.Sprintf("%.2f", *changed.BasePrice), "currency": "GBP"}
	}
	if changed.Quantity != nil {
		payload["inventory"] = *changed.Quantity
	}
	body, _, err := a.do(ctx, http.MethodPut, "/api/my/listings/"+*link.ExternalID, nil, payload)
	if err != nil {
		return platform.EditResult{}, err
	}
	return platform.EditResult{ListingURL: gjson.GetBytes(body, "_links.web.href").String(), Raw: model.RawPayload(body)}, nil
}

func errAs(err error, target **errs.NotFoundError) bool {
	nf, ok := err.(*errs.NotFoundError)
	if !ok {
		return false
	}
	*target = nf
	return true
}

var _ platform.Adapter = (*Adapter)(nil)
