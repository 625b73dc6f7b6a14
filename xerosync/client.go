package xerosync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultRetryAfter = 5 * time.Second

// Client is a thin typed wrapper over the remote ledger's REST API. Pages are
// 1-based; a page holding fewer records than pageSize is the last page. A 429
// response is retried in place after the provider-specified delay, so callers
// never lose or skip a page.
type Client struct {
	baseURL     string
	accessToken string
	tenantID    string
	http        *http.Client
	sleep       func(time.Duration)
}

func NewClient(accessToken string, tenantID string) (*Client, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, errors.New("xero access token is empty")
	}
	baseURL := strings.TrimSpace(os.Getenv("XERO_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.xero.com/api.xro/2.0"
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		tenantID:    tenantID,
		http:        &http.Client{Timeout: 30 * time.Second},
		sleep:       time.Sleep,
	}, nil
}

type listEnvelope struct {
	Contacts []XeroContact `json:"Contacts"`
	Payments []XeroPayment `json:"Payments"`
	Invoices []XeroInvoice `json:"Invoices"`
}

func (c *Client) ListContacts(ctx context.Context, modifiedSince *time.Time, page, pageSize int) ([]XeroContact, error) {
	env, err := c.list(ctx, "/Contacts", modifiedSince, page, pageSize)
	if err != nil {
		return nil, err
	}
	return env.Contacts, nil
}

func (c *Client) ListPayments(ctx context.Context, modifiedSince *time.Time, page, pageSize int) ([]XeroPayment, error) {
	env, err := c.list(ctx, "/Payments", modifiedSince, page, pageSize)
	if err != nil {
		return nil, err
	}
	return env.Payments, nil
}

func (c *Client) ListInvoices(ctx context.Context, modifiedSince *time.Time, page, pageSize int) ([]XeroInvoice, error) {
	env, err := c.list(ctx, "/Invoices", modifiedSince, page, pageSize)
	if err != nil {
		return nil, err
	}
	return env.Invoices, nil
}

// UpdateContact writes a local contact version back to the ledger. Used by
// use_local conflict resolution.
func (c *Client) UpdateContact(ctx context.Context, contact XeroContact) error {
	return c.post(ctx, "/Contacts", listEnvelope{Contacts: []XeroContact{contact}})
}

func (c *Client) UpdatePayment(ctx context.Context, payment XeroPayment) error {
	return c.post(ctx, "/Payments", listEnvelope{Payments: []XeroPayment{payment}})
}

func (c *Client) UpdateInvoice(ctx context.Context, invoice XeroInvoice) error {
	return c.post(ctx, "/Invoices", listEnvelope{Invoices: []XeroInvoice{invoice}})
}

func (c *Client) list(ctx context.Context, path string, modifiedSince *time.Time, page, pageSize int) (*listEnvelope, error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("pageSize", strconv.Itoa(pageSize))

	body, err := c.do(ctx, http.MethodGet, path, params, nil, modifiedSince)
	if err != nil {
		return nil, err
	}

	var env listEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPost, path, nil, data, nil)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body []byte, modifiedSince *time.Time) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}

	for {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
		req.Header.Set("Xero-Tenant-Id", c.tenantID)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if modifiedSince != nil {
			req.Header.Set("If-Modified-Since", modifiedSince.UTC().Format(http.TimeFormat))
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			rateErr := &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
			c.sleep(rateErr.RetryAfter)
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", rateErr, ctx.Err())
			}
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &RemoteAPIError{
				StatusCode: resp.StatusCode,
				Body:       strings.TrimSpace(string(respBody)),
			}
		}
		return respBody, nil
	}
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultRetryAfter
}
