package sheets

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/phenrril/pharmastore/internal/domain"
)

const DefaultExportBase = "https://docs.google.com/spreadsheets"

const driveReadonlyScope = "https://www.googleapis.com/auth/drive.readonly"

var sheetIDPattern = regexp.MustCompile(`/d/([A-Za-z0-9_-]+)/`)

// Fetcher downloads a shared Google Sheet as CSV text.
type Fetcher struct {
	client     *http.Client
	exportBase string
}

func NewFetcher(client *http.Client, exportBase string) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	if strings.TrimSpace(exportBase) == "" {
		exportBase = DefaultExportBase
	}
	return &Fetcher{client: client, exportBase: strings.TrimRight(exportBase, "/")}
}

// NewAuthorizedClient returns an HTTP client authenticated with a Google
// service account, able to export sheets shared privately with that account.
func NewAuthorizedClient(ctx context.Context, credentialsJSON []byte) (*http.Client, error) {
	creds, err := google.CredentialsFromJSON(ctx, credentialsJSON, driveReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("google credentials: %w", err)
	}
	return oauth2.NewClient(ctx, creds.TokenSource), nil
}

// SheetID extracts the spreadsheet identifier from a sharing URL.
func SheetID(sharingURL string) (string, error) {
	m := sheetIDPattern.FindStringSubmatch(sharingURL)
	if len(m) < 2 {
		return "", domain.ErrInvalidSheetURL
	}
	return m[1], nil
}

func (f *Fetcher) ExportURL(sheetID string) string {
	return f.exportBase + "/d/" + sheetID + "/export?format=csv"
}

func (f *Fetcher) Fetch(ctx context.Context, sharingURL string) (string, error) {
	id, err := SheetID(sharingURL)
	if err != nil {
		return "", err
	}
	if ctx.Err() != nil {
		return "", domain.ErrAborted
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.ExportURL(id), nil)
	if err != nil {
		return "", err
	}
	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", domain.ErrAborted
		}
		return "", fmt.Errorf("%w: %v", domain.ErrSheetUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status code %d", domain.ErrSheetUnreachable, resp.StatusCode)
	}
	// a sheet that is not shared publicly redirects to an HTML sign-in page
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt == "text/html" {
		return "", fmt.Errorf("%w: sheet is not shared publicly", domain.ErrSheetUnreachable)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return "", domain.ErrAborted
		}
		return "", fmt.Errorf("%w: %v", domain.ErrSheetUnreachable, err)
	}
	log.Info().Str("sheet_id", id).Int("bytes", len(body)).Dur("took", time.Since(start)).Msg("sheet fetched")
	return string(body), nil
}
