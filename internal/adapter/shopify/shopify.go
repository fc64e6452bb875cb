// Package shopify implements platform.Adapter for P3, a GraphQL-admin-API
// marketplace (Shopify-shaped). All requests hit a single endpoint with a
// query/mutation body; tidwall/gjson pulls fields back out of the
// response's "data" envelope instead of generated GraphQL bindings, matching
// the pack's lightweight-client-over-gjson idiom rather than a codegen tool.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/tommytoolman/marketsync/internal/adapter/common"
	"github.com/tommytoolman/marketsync/internal/errs"
	"github.com/tommytoolman/marketsync/internal/model"
	"github.com/tommytoolman/marketsync/internal/platform"
)

var statusTable = common.StatusTable{
	"ACTIVE":        model.StatusActive,
	"DRAFT":         model.StatusDraft,
	"ARCHIVED":      model.StatusEnded,
}

const productsQuery = `
query Products($cursor: String) {
  products(first: 50, after: $cursor) {
    pageInfo { hasNextPage endCursor }
    nodes {
      id
      title
      status
      onlineStoreUrl
      totalInventory
      variants(first: 1) { nodes { id price } }
    }
  }
}`

// Adapter talks to the Shopify-shaped Admin GraphQL API.
type Adapter struct {
	endpoint string
	token    string
	client   *retryablehttp.Client
	limiter  *common.Limiter
	breaker  *common.Breaker
}

// New builds a Shopify adapter. endpoint is the store's
// /admin/api/.../graphql.json URL.
func New(endpoint, token string) *Adapter {
	c := retryablehttp.NewClient()
	c.RetryMax = 4
	c.Logger = nil
	return &Adapter{
		endpoint: endpoint,
		token:    token,
		client:   c,
		limiter:  common.NewLimiter(2, 4), // Shopify's leaky-bucket cost budget
		breaker:  common.NewBreaker(model.PlatformP3),
	}
}

func (a *Adapter) Name() model.PlatformTag { return model.PlatformP3 }

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

func (a *Adapter) request(ctx context.Context, query string, vars map[string]any) ([]byte, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, &errs.TransientError{Op: "shopify.request", Reason: "rate limiter", Err: err}
	}
	payload, err := json.Marshal(gqlRequest{Query: query, Variables: vars})
	if err != nil {
		return nil, &errs.FatalError{Op: "shopify.request", Err: err}
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &errs.FatalError{Op: "shopify.request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", a.token)

	result, err := a.breaker.Do("shopify.request", func() (any, error) {
		resp, err := a.client.Do(req)
		if err != nil {
			return nil, &errs.TransientError{Op: "shopify.request", Reason: "request failed", Err: err}
		}
		defer resp.Body.Close()
		buf := new(bytes.Buffer)
		if _, err := buf.ReadFrom(resp.Body); err != nil {
			return nil, &errs.TransientError{Op: "shopify.request", Reason: "reading body", Err: err}
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, &errs.TransientError{Op: "shopify.request", Reason: fmt.Sprintf("status %d", resp.StatusCode)}
		}
		return buf.Bytes(), nil
	})
	if err != nil {
		return nil, err
	}
	body := result.([]byte)
	if errsArr := gjson.GetBytes(body, "errors"); errsArr.Exists() && len(errsArr.Array()) > 0 {
		return nil, &errs.PermanentError{Op: "shopify.request", Reason: errsArr.Array()[0].Get("message").String()}
	}
	return body, nil
}

func (a *Adapter) FetchAll(ctx context.Context) ([]platform.RemoteListing, error) {
	var out []platform.RemoteListing
	var cursor any
	for {
		body, err := a.request(ctx, productsQuery, map[string]any{"cursor": cursor})
		if err != nil {
			return nil, err
		}
		nodes := gjson.GetBytes(body, "data.products.nodes")
		for _, n := range nodes.Array() {
			out = append(out, toRemoteListing(n))
		}
		if !gjson.GetBytes(body, "data.products.pageInfo.hasNextPage").Bool() {
			break
		}
		cursor = gjson.GetBytes(body, "data.products.pageInfo.endCursor").String()
	}
	return out, nil
}

func toRemoteListing(n gjson.Result) platform.RemoteListing {
	price := n.Get("variants.nodes.0.price").Float()
	qty := int(n.Get("totalInventory").Int())
	return platform.RemoteListing{
		ExternalID:        n.Get("id").String(),
		Status:            statusTable.Translate(n.Get("status").String()),
		Price:             price,
		Title:             n.Get("title").String(),
		ListingURL:        n.Get("onlineStoreUrl").String(),
		QuantityAvailable: &qty,
		Raw:               model.RawPayload(n.Raw),
	}
}

func (a *Adapter) MarkAsSold(ctx context.Context, externalID string) error {
	_, err := a.request(ctx, `mutation($id: ID!) { productUpdate(input: {id: $id, status: ARCHIVED}) { userErrors { message } } }`,
		map[string]any{"id": externalID})
	return err
}

func (a *Adapter) UpdatePrice(ctx context.Context, externalID string, newPrice float64) error {
	_, err := a.request(ctx, `mutation($id: ID!, $price: Money!) {
		productVariantUpdate(input: {id: $id, price: $price}) { userErrors { message } }
	}`, map[string]any{"id": externalID, "price": fmt.Sprintf("%.2f", newPrice)})
	return err
}

func (a *Adapter) UpdateQuantity(ctx context.Context, externalID string, newQty int, hints platform.QuantityHints) error {
	_, err := a.request(ctx, `mutation($id: ID!, $qty: Int!) {
		inventoryAdjustQuantity(input: {inventoryItemId: $id, availableDelta: $qty}) { userErrors { message } }
	}`, map[string]any{"id": externalID, "qty": newQty})
	return err
}

func (a *Adapter) CreateListing(ctx context.Context, p *model.Product, enriched platform.EnrichedContext) (platform.CreateResult, error) {
	body, err := a.request(ctx, `mutation($input: ProductInput!) {
		productCreate(input: $input) { product { id onlineStoreUrl } userErrors { message } }
	}`, map[string]any{"input": map[string]any{
		"title":       p.Title,
		"bodyHtml":    p.Description,
		"productType": enriched.CategoryID,
		"vendor":      p.Brand,
	}})
	if err != nil {
		return platform.CreateResult{}, err
	}
	return platform.CreateResult{
		ExternalID: gjson.GetBytes(body, "data.productCreate.product.id").String(),
		ListingURL: gjson.GetBytes(body, "data.productCreate.product.onlineStoreUrl").String(),
		Raw:        model.RawPayload(body),
	}, nil
}

func (a *Adapter) ApplyProductEdit(ctx context.Context, p *model.Product, link *model.PlatformLink, changed model.ChangedFields) (platform.EditResult, error) {
	if link.ExternalID == nil {
		return platform.EditResult{}, &errs.PermanentError{Op: "shopify.ApplyProductEdit", Reason: "no external id on link"}
	}
	input := map[string]any{"id": *link.ExternalID}
	if changed.Title != nil {
		input["title"] = *changed.Title
	}
	if changed.Description != nil {
		input["bodyHtml"] = *changed.Description
	}
	body, err := a.request(ctx, `mutation($input: ProductInput!) {
		productUpdate(input: $input) { product { onlineStoreUrl } userErrors { message } }
	}`, map[string]any{"input": input})
	if err != nil {
		return platform.EditResult{}, err
	}
	return platform.EditResult{
		ListingURL: gjson.GetBytes(body, "data.productUpdate.product.onlineStoreUrl").String(),
		Raw:        model.RawPayload(body),
	}, nil
}

var _ platform.Adapter = (*Adapter)(nil)
