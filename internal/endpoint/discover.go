package endpoint

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ahmethakanbesel/diadict/internal/progress"
)

// Attributes the admin page sets on its job controls.
const (
	attrImportStart    = "import-start"
	attrImportProgress = "import-progress"
	attrRepairStart    = "repair-start"
	attrRepairProgress = "repair-progress"
)

var ErrNoEndpoints = errors.New("page declares no job endpoints")

// Endpoints holds the absolute job URLs declared by an admin page.
type Endpoints struct {
	ImportStart    string
	ImportProgress string
	RepairStart    string
	RepairProgress string
	CSRFToken      string
}

func (e Endpoints) ImportKind() progress.Kind {
	return progress.ImportKind(e.ImportStart, e.ImportProgress)
}

func (e Endpoints) RepairKind() progress.Kind {
	return progress.RepairKind(e.RepairStart, e.RepairProgress)
}

// Discover fetches pageURL and reads the job endpoint attributes from it.
// Relative URLs are resolved against pageURL.
func Discover(ctx context.Context, client *http.Client, pageURL string) (Endpoints, error) {
	if client == nil {
		client = http.DefaultClient
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return Endpoints{}, fmt.Errorf("parse page url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return Endpoints{}, err
	}
	req.Header.Set("Accept", "text/html")

	res, err := client.Do(req) //nolint:gosec // URL comes from config
	if err != nil {
		return Endpoints{}, err
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode != http.StatusOK {
		return Endpoints{}, fmt.Errorf("fetch %s: unexpected status %d", pageURL, res.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return Endpoints{}, fmt.Errorf("parse page: %w", err)
	}

	var e Endpoints
	targets := map[string]*string{
		attrImportStart:    &e.ImportStart,
		attrImportProgress: &e.ImportProgress,
		attrRepairStart:    &e.RepairStart,
		attrRepairProgress: &e.RepairProgress,
	}
	for attr, dst := range targets {
		raw, ok := doc.Find("[" + attr + "]").First().Attr(attr)
		raw = strings.TrimSpace(raw)
		if !ok || raw == "" {
			continue
		}
		ref, err := url.Parse(raw)
		if err != nil {
			return Endpoints{}, fmt.Errorf("attribute %s: %w", attr, err)
		}
		*dst = base.ResolveReference(ref).String()
	}

	if token, ok := doc.Find(`input[name="` + csrfField + `"]`).First().Attr("value"); ok {
		e.CSRFToken = token
	}

	if e.ImportStart == "" && e.ImportProgress == "" && e.RepairStart == "" && e.RepairProgress == "" {
		return Endpoints{}, ErrNoEndpoints
	}
	return e, nil
}
