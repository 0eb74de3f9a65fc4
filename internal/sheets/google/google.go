package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	goauth "golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"

	"sheetsync/internal/core"
	ports "sheetsync/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Values are written verbatim so that TRUE/FALSE, ISO dates and decimal
// strings read back exactly as written.
const valueInputOption = "RAW"

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
}

// Ensure interface conformance
var _ ports.RangeStore = (*Client)(nil)

// Credentials identifies the service account. Either Email and PrivateKey,
// or an inline service-account JSON document.
type Credentials struct {
	Email      string
	PrivateKey string
	JSON       string
}

func (c Credentials) configured() bool {
	return strings.TrimSpace(c.JSON) != "" ||
		(strings.TrimSpace(c.Email) != "" && strings.TrimSpace(c.PrivateKey) != "")
}

// NormalizePrivateKey restores newlines in keys stored with escaped "\n"
// sequences, as environment variables usually carry them.
func NormalizePrivateKey(key string) string {
	key = strings.TrimSpace(key)
	key = strings.Trim(key, `"`)
	return strings.ReplaceAll(key, `\n`, "\n")
}

// New creates a Sheets client authenticated as a service account.
func New(ctx context.Context, spreadsheetID string, creds Credentials) (*Client, error) {
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	svc, err := newSheetsService(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &Client{svc: svc, spreadsheetID: spreadsheetID}, nil
}

// newSheetsService prefers inline JSON credentials and falls back to a JWT
// built from the account email and private key.
func newSheetsService(ctx context.Context, creds Credentials) (*gsheet.Service, error) {
	if !creds.configured() {
		return nil, errors.New("missing service account credentials")
	}

	if js := strings.TrimSpace(creds.JSON); js != "" {
		slog.InfoContext(ctx, "Creating Google Sheets service from inline service account JSON",
			"json_length", len(js))
		return gsheet.NewService(ctx,
			goption.WithCredentialsJSON([]byte(js)),
			goption.WithScopes(gsheet.SpreadsheetsScope))
	}

	cfg := &jwt.Config{
		Email:      strings.TrimSpace(creds.Email),
		PrivateKey: []byte(NormalizePrivateKey(creds.PrivateKey)),
		Scopes:     []string{gsheet.SpreadsheetsScope},
		TokenURL:   goauth.JWTTokenURL,
	}

	// The token source outlives the request that created the client, so it
	// must not capture a request context.
	base := context.WithValue(context.Background(), oauth2.HTTPClient, newHTTPClientWithPooling())
	slog.InfoContext(ctx, "Creating Google Sheets service with service account JWT",
		"email", cfg.Email,
		"scope", gsheet.SpreadsheetsScope)

	return gsheet.NewService(ctx, goption.WithHTTPClient(cfg.Client(base)))
}

// newHTTPClientWithPooling creates an HTTP client tuned for the Sheets API
// with connection pooling and bounded timeouts.
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 20 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   30 * time.Second,
	}
}

func (c *Client) BatchGet(ctx context.Context, ranges []string) ([][][]string, error) {
	resp, err := c.svc.Spreadsheets.Values.BatchGet(c.spreadsheetID).
		Ranges(ranges...).
		ValueRenderOption("FORMATTED_VALUE").
		MajorDimension("ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("batch get %d range(s): %w", len(ranges), err)
	}

	out := make([][][]string, len(ranges))
	for i := range ranges {
		if i < len(resp.ValueRanges) && resp.ValueRanges[i] != nil {
			out[i] = toGrid(resp.ValueRanges[i].Values)
		}
	}
	slog.DebugContext(ctx, "Sheets batch get completed", "ranges", len(ranges))
	return out, nil
}

func (c *Client) BatchClear(ctx context.Context, ranges []string) error {
	_, err := c.svc.Spreadsheets.Values.BatchClear(c.spreadsheetID, &gsheet.BatchClearValuesRequest{
		Ranges: ranges,
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("batch clear %d range(s): %w", len(ranges), err)
	}
	return nil
}

func (c *Client) BatchUpdate(ctx context.Context, data []ports.RangeData) error {
	req := &gsheet.BatchUpdateValuesRequest{
		ValueInputOption: valueInputOption,
		Data:             make([]*gsheet.ValueRange, 0, len(data)),
	}
	cells := 0
	for _, d := range data {
		req.Data = append(req.Data, &gsheet.ValueRange{
			Range:          d.Range,
			MajorDimension: "ROWS",
			Values:         toValues(d.Rows),
		})
		for _, row := range d.Rows {
			cells += len(row)
		}
	}

	resp, err := c.svc.Spreadsheets.Values.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("batch update %d range(s): %w", len(data), err)
	}
	slog.InfoContext(ctx, "Sheets batch update completed",
		"ranges", len(data),
		"cells_sent", cells,
		"cells_updated", resp.TotalUpdatedCells)
	return nil
}

// Provider builds the client on first use and reuses it afterwards.
// Missing settings are reported as a configuration error on every call.
type Provider struct {
	spreadsheetID string
	creds         Credentials

	mu     sync.Mutex
	client *Client
}

var _ ports.StoreProvider = (*Provider)(nil)

func NewProvider(spreadsheetID string, creds Credentials) *Provider {
	return &Provider{spreadsheetID: strings.TrimSpace(spreadsheetID), creds: creds}
}

func (p *Provider) Store(ctx context.Context) (ports.RangeStore, error) {
	if missing := p.missing(); len(missing) > 0 {
		return nil, &core.ConfigurationError{Missing: missing}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	c, err := New(ctx, p.spreadsheetID, p.creds)
	if err != nil {
		return nil, err
	}
	p.client = c
	return c, nil
}

func (p *Provider) missing() []string {
	var missing []string
	if p.spreadsheetID == "" {
		missing = append(missing, "GOOGLE_SPREADSHEET_ID")
	}
	if strings.TrimSpace(p.creds.JSON) == "" {
		if strings.TrimSpace(p.creds.Email) == "" {
			missing = append(missing, "GOOGLE_SERVICE_ACCOUNT_EMAIL")
		}
		if strings.TrimSpace(p.creds.PrivateKey) == "" {
			missing = append(missing, "GOOGLE_PRIVATE_KEY")
		}
	}
	return missing
}
