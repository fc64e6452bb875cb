// Package ebay implements platform.Adapter for P1, the legacy XML Trading
// API marketplace (eBay-shaped). Requests and responses are both XML
// envelopes; the session credential is a JWT that must be refreshed before
// expiry, grounded on the golang-jwt/jwt library the pack's auth-heavy
// services use for token lifetime checks.
package ebay

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/relvacode/iso8601"

	"github.com/tommytoolman/marketsync/internal/adapter/common"
	"github.com/tommytoolman/marketsync/internal/errs"
	"github.com/tommytoolman/marketsync/internal/model"
	"github.com/tommytoolman/marketsync/internal/platform"
)

var statusTable = common.StatusTable{
	"Active":    model.StatusActive,
	"Completed": model.StatusSold,
	"Ended":     model.StatusEnded,
}

// tradingEnvelope is the common wrapper every Trading API call returns.
type tradingEnvelope struct {
	XMLName xml.Name `xml:"GetMyeBaySellingResponse"`
	Ack     string   `xml:"Ack"`
	Errors  []struct {
		ShortMessage string `xml:"ShortMessage"`
		SeverityCode string `xml:"SeverityCode"`
	} `xml:"Errors"`
	ActiveList struct {
		ItemArray struct {
			Item []tradingItem `xml:"Item"`
		} `xml:"ItemArray"`
	} `xml:"ActiveList"`
}

type tradingItem struct {
	ItemID       string `xml:"ItemID"`
	Title        string `xml:"Title"`
	SellingStatus struct {
		CurrentPrice struct {
			Value float64 `xml:",chardata"`
		} `xml:"CurrentPrice"`
		ListingStatus  string `xml:"ListingStatus"`
		QuantitySold   int    `xml:"QuantitySold"`
	} `xml:"SellingStatus"`
	Quantity  int    `xml:"Quantity"`
	ListingURL string `xml:"ListingDetails>ViewItemURL"`
	// StartTime is the Trading API's ISO8601 listing-start timestamp;
	// parsed tolerantly with relvacode/iso8601 since the legacy API has
	// shipped more than one date-time flavor over the years (spec §9's
	// "JSON field shape drift" note applies equally to this XML API).
	StartTime string `xml:"ListingDetails>StartTime"`
}

// reviseResponse covers ReviseFixedPriceItem / EndFixedPriceItem / AddItem.
type reviseResponse struct {
	Ack      string `xml:"Ack"`
	ItemID   string `xml:"ItemID"`
	Errors   []struct {
		ShortMessage string `xml:"ShortMessage"`
		ErrorCode    string `xml:"ErrorCode"`
	} `xml:"Errors"`
}

// Adapter talks to the eBay-shaped Trading API.
type Adapter struct {
	endpoint string
	devID    string
	appID    string
	certID   string

	mu        sync.Mutex
	token     string
	tokenExp  time.Time
	refreshFn func(ctx context.Context) (string, time.Time, error)

	client  *retryablehttp.Client
	limiter *common.Limiter
	breaker *common.Breaker
}

// New builds an eBay adapter. refreshFn performs the OAuth2 token refresh
// and is called lazily whenever the cached token is within a minute of
// expiry, parsed via golang-jwt/jwt/v5 to read its own exp claim back out.
func New(endpoint, devID, appID, certID string, refreshFn func(ctx context.Context) (string, time.Time, error)) *Adapter {
	c := retryablehttp.NewClient()
	c.RetryMax = 4
	c.Logger = nil

	return &Adapter{
		endpoint:  endpoint,
		devID:     devID,
		appID:     appID,
		certID:    certID,
		refreshFn: refreshFn,
		client:    c,
		limiter:   common.NewLimiter(2, 4),
		breaker:   common.NewBreaker(model.PlatformP1),
	}
}

func (a *Adapter) Name() model.PlatformTag { return model.PlatformP1 }

func (a *Adapter) currentToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token != "" && time.Until(a.tokenExp) > time.Minute {
		return a.token, nil
	}
	tok, exp, err := a.refreshFn(ctx)
	if err != nil {
		return "", &errs.TransientError{Op: "ebay.refreshToken", Reason: "oauth refresh failed", Err: err}
	}
	// Prefer the claim inside the token over the caller's exp if present,
	// since marketplaces occasionally clock-skew their stated lifetime.
	if claims, _, parseErr := jwt.NewParser().ParseUnverified(tok, jwt.MapClaims{}); parseErr == nil {
		if mc, ok := claims.Claims.(jwt.MapClaims); ok {
			if expUnix, err := mc.GetExpirationTime(); err == nil && expUnix != nil {
				exp = expUnix.Time
			}
		}
	}
	a.token = tok
	a.tokenExp = exp
	return tok, nil
}

func (a *Adapter) call(ctx context.Context, callName string, body []byte) ([]byte, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, &errs.TransientError{Op: "ebay.call", Reason: "rate limiter", Err: err}
	}
	token, err := a.currentToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &errs.FatalError{Op: "ebay.call", Err: err}
	}
	req.Header.Set("Content-Type", "text/xml")
	req.Header.Set("X-EBAY-API-CALL-NAME", callName)
	req.Header.Set("X-EBAY-API-SITEID", "3")
	req.Header.Set("X-EBAY-API-COMPATIBILITY-LEVEL", "1193")
	req.Header.Set("X-EBAY-API-IAF-TOKEN", token)
	req.Header.Set("X-EBAY-API-DEV-NAME", a.devID)
	req.Header.Set("X-EBAY-API-APP-NAME", a.appID)
	req.Header.Set("X-EBAY-API-CERT-NAME", a.certID)

	result, err := a.breaker.Do("ebay."+callName, func() (any, error) {
		resp, err := a.client.Do(req)
		if err != nil {
			return nil, &errs.TransientError{Op: "ebay." + callName, Reason: "request failed", Err: err}
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &errs.TransientError{Op: "ebay." + callName, Reason: "reading body", Err: err}
		}
		if resp.StatusCode >= 500 {
			return nil, &errs.TransientError{Op: "ebay." + callName, Reason: fmt.Sprintf("status %d", resp.StatusCode)}
		}
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

func (a *Adapter) FetchAll(ctx context.Context) ([]platform.RemoteListing, error) {
	body := []byte(`<?xml version="1.0" encoding="utf-8"?>
<GetMyeBaySellingRequest xmlns="urn:ebay:apis:eBLBaseComponents">
  <ActiveList><Sort>TimeLeft</Sort></ActiveList>
</GetMyeBaySellingRequest>`)

	raw, err := a.call(ctx, "GetMyeBaySelling", body)
	if err != nil {
		return nil, err
	}

	var env tradingEnvelope
	if err := xml.Unmarshal(raw, &env); err != nil {
		return nil, &errs.FatalError{Op: "ebay.FetchAll", Err: err}
	}
	if env.Ack == "Failure" && len(env.Errors) > 0 {
		return nil, &errs.PermanentError{Op: "ebay.FetchAll", Reason: env.Errors[0].ShortMessage}
	}

	out := make([]platform.RemoteListing, 0, len(env.ActiveList.ItemArray.Item))
	for _, item := range env.ActiveList.ItemArray.Item {
		sold := item.SellingStatus.QuantitySold
		rl := platform.RemoteListing{
			ExternalID: item.ItemID,
			Status:     statusTable.Translate(item.SellingStatus.ListingStatus),
			Price:      item.SellingStatus.CurrentPrice.Value,
			Title:      item.Title,
			ListingURL: item.ListingURL,
		}
		remaining := item.Quantity - sold
		rl.QuantityTotal = &item.Quantity
		rl.QuantityAvailable = &remaining
		rl.QuantitySold = &sold
		if remaining <= 0 {
			rl.Status = model.StatusSold
		}
		if item.StartTime != "" {
			if t, err := iso8601.ParseString(item.StartTime); err == nil {
				rl.ListedAt = t
			}
		}
		out = append(out, rl)
	}
	return out, nil
}

func (a *Adapter) MarkAsSold(ctx context.Context, externalID string) error {
	body := []byte(fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<EndFixedPriceItemRequest xmlns="urn:ebay:apis:eBLBaseComponents">
  <ItemID>%s</ItemID><EndingReason>NotAvailable</EndingReason>
</EndFixedPriceItemRequest>`, externalID))
	_, err := a.doRevise(ctx, "EndFixedPriceItem", body, externalID)
	return err
}

func (a *Adapter) UpdatePrice(ctx context.Context, externalID string, newPrice float64) error {
	body := []byte(fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<ReviseFixedPriceItemRequest xmlns="urn:ebay:apis:eBLBaseComponents">
  <Item><ItemID>%s</ItemID><StartPrice>%.2f</StartPrice></Item>
</ReviseFixedPriceItemRequest>`, externalID, newPrice))
	_, err := a.doRevise(ctx, "ReviseFixedPriceItem", body, externalID)
	return err
}

func (a *Adapter) UpdateQuantity(ctx context.Context, externalID string, newQty int, hints platform.QuantityHints) error {
	if hints.IsZero {
		return a.MarkAsSold(ctx, externalID)
	}
	body := []byte(fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<ReviseFixedPriceItemRequest xmlns="urn:ebay:apis:eBLBaseComponents">
  <Item><ItemID>%s</ItemID><Quantity>%d</Quantity></Item>
</ReviseFixedPriceItemRequest>`, externalID, newQty))
	_, err := a.doRevise(ctx, "ReviseFixedPriceItem", body, externalID)
	return err
}

func (a *Adapter) CreateListing(ctx context.Context, p *model.Product, enriched platform.EnrichedContext) (platform.CreateResult, error) {
	body := []byte(fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<AddFixedPriceItemRequest xmlns="urn:ebay:apis:eBLBaseComponents">
  <Item>
    <Title>%s</Title>
    <PrimaryCategory><CategoryID>%s</CategoryID></PrimaryCategory>
    <StartPrice>%.2f</StartPrice>
    <Quantity>%d</Quantity>
    <ConditionID>%s</ConditionID>
  </Item>
</AddFixedPriceItemRequest>`, p.Title, enriched.CategoryID, p.CanonicalPrice(), p.Quantity, conditionCode(p.Condition)))

	raw, err := a.call(ctx, "AddFixedPriceItem", body)
	if err != nil {
		return platform.CreateResult{}, err
	}
	var resp reviseResponse
	if err := xml.Unmarshal(raw, &resp); err != nil {
		return platform.CreateResult{}, &errs.FatalError{Op: "ebay.CreateListing", Err: err}
	}
	if resp.Ack == "Failure" && len(resp.Errors) > 0 {
		return platform.CreateResult{}, &errs.PermanentError{Op: "ebay.CreateListing", Reason: resp.Errors[0].ShortMessage}
	}
	return platform.CreateResult{
		ExternalID: resp.ItemID,
		ListingURL: "https://www.ebay.co.uk/itm/" + resp.ItemID,
		Raw:        model.RawPayload(raw),
	}, nil
}

func (a *Adapter) ApplyProductEdit(ctx context.Context, p *model.Product, link *model.PlatformLink, changed model.ChangedFields) (platform.EditResult, error) {
	if link.ExternalID == nil {
		return platform.EditResult{}, &errs.PermanentError{Op: "ebay.ApplyProductEdit", Reason: "no external id on link"}
	}
	title := p.Title
	if changed.Title != nil {
		title = *changed.Title
	}
	body := []byte(fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<ReviseFixedPriceItemRequest xmlns="urn:ebay:apis:eBLBaseComponents">
  <Item><ItemID>%s</ItemID><Title>%s</Title></Item>
</ReviseFixedPriceItemRequest>`, *link.ExternalID, title))

	raw, err := a.doRevise(ctx, "ReviseFixedPriceItem", body, *link.ExternalID)
	if err != nil {
		return platform.EditResult{}, err
	}
	return platform.EditResult{ListingURL: "https://www.ebay.co.uk/itm/" + *link.ExternalID, Raw: model.RawPayload(raw)}, nil
}

func (a *Adapter) doRevise(ctx context.Context, callName string, body []byte, externalID string) ([]byte, error) {
	raw, err := a.call(ctx, callName, body)
	if err != nil {
		return nil, err
	}
	var resp reviseResponse
	if err := xml.Unmarshal(raw, &resp); err != nil {
		return nil, &errs.FatalError{Op: "ebay." + callName, Err: err}
	}
	if resp.Ack == "Failure" && len(resp.Errors) > 0 {
		msg := resp.Errors[0].ShortMessage
		if resp.Errors[0].ErrorCode == "291" { // eBay's "item not found/already ended" code
			return nil, &errs.NotFoundError{Op: "ebay." + callName, ExternalID: externalID}
		}
		return nil, &errs.PermanentError{Op: "ebay." + callName, Reason: msg}
	}
	return raw, nil
}

func conditionCode(c model.Condition) string {
	switch c {
	case model.ConditionNew:
		return "1000"
	case model.ConditionExcellent, model.ConditionVeryGood:
		return "3000"
	default:
		return "5000"
	}
}

var _ platform.Adapter = (*Adapter)(nil)
