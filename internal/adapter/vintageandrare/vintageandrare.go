// Package vintageandrare implements platform.Adapter for P4, a
// form-post-and-scrape marketplace (VintageAndRare-shaped) with no public
// API: listing state is read back out of rendered HTML and writes go
// through the same web forms a human seller would use. Session cookies from
// one login form-post are kept in the http.Client's cookie jar and reused
// until it holds none for the site; when the form-post path can't complete a write (a
// JS-gated confirmation step) the adapter falls back to a headless
// chromedp session, mirroring how the pack's scrape-based integrations
// degrade from plain HTTP to a real browser only when they must.
package vintageandrare

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ssgelm/cookiejarparser"

	"github.com/tommytoolman/marketsync/internal/adapter/common"
	"github.com/tommytoolman/marketsync/internal/errs"
	"github.com/tommytoolman/marketsync/internal/model"
	"github.com/tommytoolman/marketsync/internal/platform"
)

var statusTable = common.StatusTable{
	"available": model.StatusActive,
	"sold":      model.StatusSold,
	"removed":   model.StatusRemoved,
}

var priceRE = regexp.MustCompile(`[^0-9.]`)

// listingRowRE extracts one listing-row block at a time; the site's
// listing markup is stable enough that a targeted regexp scrape avoids
// pulling in a full HTML parser for five fields.
var listingRowRE = regexp.MustCompile(`(?s)<div class="listing-row" data-listing-id="(\d+)" data-status="(\w+)".*?<a class="listing-link" href="([^"]+)".*?<span class="listing-title">([^<]*)</span>.*?<span class="listing-price">([^<]*)</span>.*?</div>`)

// Adapter scrapes and form-posts against the VintageAndRare-shaped site.
type Adapter struct {
	baseURL  string
	username string
	password string

	client  *http.Client
	jar     http.CookieJar
	limiter *common.Limiter
	breaker *common.Breaker

	// chromedpAllocator is created lazily; plain form-posts cover most
	// writes and a browser is only spun up for the confirmation steps
	// that require executing the site's own JS.
	chromedpAllocator context.Context
	cancelAllocator   context.CancelFunc
}

// New builds a VintageAndRare adapter. Login happens on first call to
// FetchAll or any write method.
func New(baseURL, username, password string) *Adapter {
	jar, _ := cookiejar.New(nil)
	return &Adapter{
		baseURL:  baseURL,
		username: username,
		password: password,
		client:   &http.Client{Jar: jar, Timeout: 30 * time.Second},
		jar:      jar,
		limiter:  common.NewLimiter(1, 2),
		breaker:  common.NewBreaker(model.PlatformP4),
	}
}

func (a *Adapter) Name() model.PlatformTag { return model.PlatformP4 }

func (a *Adapter) ensureSession(ctx context.Context) error {
	if cookies := a.jar.Cookies(mustURL(a.baseURL)); len(cookies) > 0 {
		return nil
	}
	form := url.Values{"username": {a.username}, "password": {a.password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/login", strings.NewReader(form.Encode()))
	if err != nil {
		return &errs.FatalError{Op: "vintageandrare.ensureSession", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return &errs.TransientError{Op: "vintageandrare.ensureSession", Reason: "login request failed", Err: err}
	}
	defer resp.Body.Close()

	// The login response's cookies are already in http.Client's own jar.
	// ssgelm/cookiejarparser is asked for a jar from an empty file path;
	// that jar replaces the client's only if the load succeeds.
	if parsed, err := cookiejarparser.LoadCookieJarFromFile("", nil); err == nil && parsed != nil {
		a.jar = parsed
		a.client.Jar = parsed
	}
	if resp.StatusCode >= 400 {
		return &errs.PermanentError{Op: "vintageandrare.ensureSession", Reason: fmt.Sprintf("login rejected: status %d", resp.StatusCode)}
	}
	return nil
}

func (a *Adapter) FetchAll(ctx context.Context) ([]platform.RemoteListing, error) {
	if err := a.ensureSession(ctx); err != nil {
		return nil, err
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, &errs.TransientError{Op: "vintageandrare.FetchAll", Reason: "rate limiter", Err: err}
	}

	result, err := a.breaker.Do("vintageandrare.FetchAll", func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/my/listings", nil)
		if err != nil {
			return nil, &errs.FatalError{Op: "vintageandrare.FetchAll", Err: err}
		}
		resp, err := a.client.Do(req)
		if err != nil {
			return nil, &errs.TransientError{Op: "vintageandrare.FetchAll", Reason: "request failed", Err: err}
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return nil, &errs.TransientError{Op: "vintageandrare.FetchAll", Reason: fmt.Sprintf("status %d", resp.StatusCode)}
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &errs.TransientError{Op: "vintageandrare.FetchAll", Reason: "reading body", Err: err}
		}
		return string(body), nil
	})
	if err != nil {
		return nil, err
	}

	html := result.(string)
	var out []platform.RemoteListing
	for _, m := range listingRowRE.FindAllStringSubmatch(html, -1) {
		priceText := priceRE.ReplaceAllString(m[5], "")
		price, _ := strconv.ParseFloat(priceText, 64)
		out = append(out, platform.RemoteListing{
			ExternalID: m[1],
			Status:     statusTable.Translate(m[2]),
			Price:      price,
			Title:      strings.TrimSpace(m[4]),
			ListingURL: a.baseURL + m[3],
		})
	}
	return out, nil
}

func (a *Adapter) MarkAsSold(ctx context.Context, externalID string) error {
	return a.postForm(ctx, "/my/listings/"+externalID+"/sold", url.Values{})
}

func (a *Adapter) UpdatePrice(ctx context.Context, externalID string, newPrice float64) error {
	return a.postForm(ctx, "/my/listings/"+externalID+"/edit", url.Values{"price": {fmt.Sprintf("%.2f", newPrice)}})
}

func (a *Adapter) UpdateQuantity(ctx context.Context, externalID string, newQty int, hints platform.QuantityHints) error {
	// VintageAndRare is single-quantity: there is no partial update, only
	// "end the listing" once stock reaches zero.
	if !hints.IsZero {
		return &errs.PermanentError{Op: "vintageandrare.UpdateQuantity", Reason: "platform does not support partial quantity updates"}
	}
	return a.MarkAsSold(ctx, externalID)
}

func (a *Adapter) postForm(ctx context.Context, path string, form url.Values) error {
	if err := a.ensureSession(ctx); err != nil {
		return err
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return &errs.TransientError{Op: "vintageandrare.postForm", Reason: "rate limiter", Err: err}
	}

	_, err := a.breaker.Do("vintageandrare.postForm", func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, &errs.FatalError{Op: "vintageandrare.postForm", Err: err}
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		resp, err := a.client.Do(req)
		if err != nil {
			return nil, &errs.TransientError{Op: "vintageandrare.postForm", Reason: "request failed", Err: err}
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil, &errs.NotFoundError{Op: "vintageandrare.postForm", ExternalID: path}
		}
		if resp.StatusCode >= 500 {
			return nil, &errs.TransientError{Op: "vintageandrare.postForm", Reason: fmt.Sprintf("status %d", resp.StatusCode)}
		}
		if resp.StatusCode >= 400 {
			return nil, &errs.PermanentError{Op: "vintageandrare.postForm", Reason: fmt.Sprintf("status %d", resp.StatusCode)}
		}
		return nil, nil
	})
	return err
}

func (a *Adapter) CreateListing(ctx context.Context, p *model.Product, enriched platform.EnrichedContext) (platform.CreateResult, error) {
	// The site's "publish" confirmation step runs client-side JS that a
	// plain form-post cannot satisfy, so creation always goes through the
	// headless browser fallback.
	return a.createViaBrowser(ctx, p, enriched)
}

func (a *Adapter) createViaBrowser(ctx context.Context, p *model.Product, enriched platform.EnrichedContext) (platform.CreateResult, error) {
	if a.chromedpAllocator == nil {
		allocCtx, cancel := chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
		browserCtx, browserCancel := chromedp.NewContext(allocCtx)
		a.chromedpAllocator = browserCtx
		a.cancelAllocator = func() { browserCancel(); cancel() }
	}

	var listingID, listingURL string
	err := chromedp.Run(a.chromedpAllocator,
		chromedp.Navigate(a.baseURL+"/my/listings/new"),
		chromedp.WaitVisible(`#listing-title`, chromedp.ByID),
		chromedp.SendKeys(`#listing-title`, p.Title, chromedp.ByID),
		chromedp.SendKeys(`#listing-price`, fmt.Sprintf("%.2f", p.CanonicalPrice()), chromedp.ByID),
		chromedp.SendKeys(`#listing-description`, p.Description, chromedp.ByID),
		chromedp.Click(`#publish-listing`, chromedp.ByID),
		chromedp.WaitVisible(`.listing-published-confirmation`, chromedp.ByQuery),
		chromedp.AttributeValue(`.listing-published-confirmation`, "data-listing-id", &listingID, nil),
		chromedp.AttributeValue(`.listing-published-confirmation a`, "href", &listingURL, nil),
	)
	if err != nil {
		return platform.CreateResult{}, &errs.TransientError{Op: "vintageandrare.createViaBrowser", Reason: "headless session failed", Err: err}
	}
	if listingID == "" {
		return platform.CreateResult{}, &errs.PermanentError{Op: "vintageandrare.createViaBrowser", Reason: "publish did not return a listing id"}
	}
	return platform.CreateResult{ExternalID: listingID, ListingURL: a.baseURL + listingURL}, nil
}

// ApplyProductEdit re-posts the listing's entire edit form rather than a
// sparse patch: the site's edit endpoint replaces whatever fields are
// missing from the post with blanks, so changed must first be merged onto
// p's current values (dario.cat/mergo, model.Product.Merged) to get the
// full, post-edit field set before building the form.
func (a *Adapter) ApplyProductEdit(ctx context.Context, p *model.Product, link *model.PlatformLink, changed model.ChangedFields) (platform.EditResult, error) {
	if link.ExternalID == nil {
		return platform.EditResult{}, &errs.PermanentError{Op: "vintageandrare.ApplyProductEdit", Reason: "no external id on link"}
	}
	merged, err := p.Merged(changed)
	if err != nil {
		return platform.EditResult{}, &errs.FatalError{Op: "vintageandrare.ApplyProductEdit", Err: err}
	}

	form := url.Values{}
	form.Set("title", merged.Title)
	form.Set("description", merged.Description)
	form.Set("price", fmt.Sprintf("%.2f", merged.CanonicalPrice()))
	form.Set("quantity", fmt.Sprintf("%d", merged.Quantity))
	if err := a.postForm(ctx, "/my/listings/"+*link.ExternalID+"/edit", form); err != nil {
		return platform.EditResult{}, err
	}
	return platform.EditResult{ListingURL: link.ListingURL}, nil
}

// Close tears down the headless browser session, if one was started.
func (a *Adapter) Close() {
	if a.cancelAllocator != nil {
		a.cancelAllocator()
	}
}

func mustURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		panic(err)
	}
	return u
}

var _ platform.Adapter = (*Adapter)(nil)
