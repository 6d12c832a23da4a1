// Package pncp wraps the public consultation API of Brazil's procurement
// portal: paginated notice and planning listings plus the per-record item
// endpoints.
package pncp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/licitabr/pncp-mirror/internal/fetch"
)

// ErrMalformed marks a 2xx response whose body could not be decoded. The
// aggregator retries these with a small budget separate from the network
// retry budget.
var ErrMalformed = errors.New("pncp: malformed response body")

const queryDateLayout = "20060102"

// Envelope is the pagination wrapper shared by the listing endpoints.
type Envelope struct {
	Data           []map[string]any `json:"data"`
	TotalRegistros int64            `json:"totalRegistros"`
	TotalPaginas   int              `json:"totalPaginas"`
	NumeroPagina   int              `json:"numeroPagina"`
	Empty          bool             `json:"empty"`
}

// Page is one fetched listing page plus the request metadata the skip log
// needs when a page is abandoned.
type Page struct {
	Envelope  Envelope
	URL       string
	Status    int
	Attempts  int
	NoContent bool
}

// Client issues requests against the consultation API.
type Client struct {
	fetcher *fetch.Client
	baseURL string
}

// NewClient builds a Client. baseURL has no trailing slash.
func NewClient(fetcher *fetch.Client, baseURL string) *Client {
	return &Client{fetcher: fetcher, baseURL: strings.TrimRight(baseURL, "/")}
}

// NoticesPage fetches one page of published notices for a single day and
// modality partition.
func (c *Client) NoticesPage(ctx context.Context, day time.Time, modality, page, pageSize int) (Page, error) {
	q := url.Values{}
	q.Set("dataInicial", day.Format(queryDateLayout))
	q.Set("dataFinal", day.Format(queryDateLayout))
	q.Set("codigoModalidadeContratacao", strconv.Itoa(modality))
	q.Set("pagina", strconv.Itoa(page))
	q.Set("tamanhoPagina", strconv.Itoa(pageSize))
	return c.listPage(ctx, c.baseURL+"/v1/contratacoes/publicacao", q)
}

// PlanUpdatesPage fetches one page of planning entries updated on day. The
// endpoint returns nothing when both bounds are equal, so the request always
// covers [day, day+1); the caller still checkpoints day itself.
func (c *Client) PlanUpdatesPage(ctx context.Context, day time.Time, page, pageSize int) (Page, error) {
	q := url.Values{}
	q.Set("dataInicio", day.Format(queryDateLayout))
	q.Set("dataFim", day.AddDate(0, 0, 1).Format(queryDateLayout))
	q.Set("pagina", strconv.Itoa(page))
	q.Set("tamanhoPagina", strconv.Itoa(pageSize))
	return c.listPage(ctx, c.baseURL+"/v1/pca/atualizacao", q)
}

// PlanUserItemsPage fetches the fallback planning-item listing for one
// submitting user and planning year.
func (c *Client) PlanUserItemsPage(ctx context.Context, anoPca, idUsuario int64, page, pageSize int) (Page, error) {
	q := url.Values{}
	q.Set("anoPca", strconv.FormatInt(anoPca, 10))
	q.Set("idUsuario", strconv.FormatInt(idUsuario, 10))
	q.Set("pagina", strconv.Itoa(page))
	q.Set("tamanhoPagina", strconv.Itoa(pageSize))
	return c.listPage(ctx, c.baseURL+"/v1/pca/usuario", q)
}

func (c *Client) listPage(ctx context.Context, rawURL string, q url.Values) (Page, error) {
	target := rawURL + "?" + q.Encode()
	res, err := c.fetcher.Get(ctx, rawURL, q)
	page := Page{URL: target, Status: res.StatusCode, Attempts: res.Attempts, NoContent: res.NoContent}
	if err != nil {
		return page, err
	}
	if res.NoContent || res.StatusCode == 404 {
		return page, nil
	}
	if !res.OK() {
		return page, fmt.Errorf("list %s: unexpected status %d", rawURL, res.StatusCode)
	}
	if err := json.Unmarshal(res.Body, &page.Envelope); err != nil {
		return page, fmt.Errorf("decode %s: %w: %w", rawURL, ErrMalformed, err)
	}
	return page, nil
}

// ItemsError describes an abandoned per-notice item fetch, carrying the
// request metadata the skip log records.
type ItemsError struct {
	ControlNumber string
	URL           string
	Status        int
	Attempts      int
	Err           error
}

func (e *ItemsError) Error() string {
	return fmt.Sprintf("items %s: %v", e.ControlNumber, e.Err)
}

func (e *ItemsError) Unwrap() error { return e.Err }

// NoticeItems fetches the full item list for one notice. A 404 or 204 means
// the notice legitimately has zero items and is not an error; every other
// failure is returned as an *ItemsError.
func (c *Client) NoticeItems(ctx context.Context, controlNumber string) ([]map[string]any, error) {
	cnpj, seq, year, err := ParseControlNumber(controlNumber)
	if err != nil {
		return nil, err
	}
	rawURL := fmt.Sprintf("%s/v1/orgaos/%s/compras/%d/%d/itens", c.baseURL, cnpj, year, seq)
	res, err := c.fetcher.Get(ctx, rawURL, nil)
	if err != nil {
		return nil, &ItemsError{
			ControlNumber: controlNumber, URL: rawURL,
			Status: res.StatusCode, Attempts: res.Attempts, Err: err,
		}
	}
	if res.NoContent || res.StatusCode == 404 {
		return nil, nil
	}
	if !res.OK() {
		return nil, &ItemsError{
			ControlNumber: controlNumber, URL: rawURL,
			Status: res.StatusCode, Attempts: res.Attempts,
			Err: fmt.Errorf("unexpected status %d", res.StatusCode),
		}
	}
	var items []map[string]any
	if err := json.Unmarshal(res.Body, &items); err != nil {
		return nil, &ItemsError{
			ControlNumber: controlNumber, URL: rawURL,
			Status: res.StatusCode, Attempts: res.Attempts,
			Err: fmt.Errorf("%w: %w", ErrMalformed, err),
		}
	}
	return items, nil
}

// ParseControlNumber splits the opaque "CNPJ-1-SEQUENCIAL/ANO" notice key
// into the parts the item endpoint is addressed by.
func ParseControlNumber(s string) (cnpj string, seq int, year int, err error) {
	slash := strings.LastIndexByte(s, '/')
	if slash < 0 {
		return "", 0, 0, fmt.Errorf("control number %q: missing year", s)
	}
	year, err = strconv.Atoi(s[slash+1:])
	if err != nil {
		return "", 0, 0, fmt.Errorf("control number %q: bad year", s)
	}
	parts := strings.Split(s[:slash], "-")
	if len(parts) != 3 {
		return "", 0, 0, fmt.Errorf("control number %q: want CNPJ-1-SEQ/ANO", s)
	}
	seq, err = strconv.Atoi(parts[2])
	if err != nil {
		return "", 0, 0, fmt.Errorf("control number %q: bad sequence", s)
	}
	return parts[0], seq, year, nil
}
