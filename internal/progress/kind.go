package progress

import (
	"fmt"
	"net/url"
	"slices"
	"sort"
	"strings"
)

// Job type tags.
const (
	KindImport = "import"
	KindRepair = "repair"
)

// Params is the opaque payload sent with the start request and, minus the
// start-only keys, with every progress query.
type Params map[string]string

// Values converts p into form values.
func (p Params) Values() url.Values {
	v := make(url.Values, len(p))
	for k, val := range p {
		v.Set(k, val)
	}
	return v
}

// Kind describes one type of long-running job and where to reach it.
type Kind struct {
	Name        string
	StartURL    string
	ProgressURL string
	// Required keys must be present and non-empty before a job can start.
	Required []string
	// StartOnly keys are sent with the start request but not with progress queries.
	StartOnly []string
}

// ImportKind is the CSV import job. The file reference only goes to the start
// endpoint; the server tracks progress by deel/sectie/aflevering.
func ImportKind(startURL, progressURL string) Kind {
	return Kind{
		Name:        KindImport,
		StartURL:    startURL,
		ProgressURL: progressURL,
		Required:    []string{"csv_file", "deel", "aflevering"},
		StartOnly:   []string{"csv_file"},
	}
}

// RepairKind is the database repair job.
func RepairKind(startURL, progressURL string) Kind {
	return Kind{
		Name:        KindRepair,
		StartURL:    startURL,
		ProgressURL: progressURL,
		Required:    []string{"repairtype"},
	}
}

// Validate returns ErrMissingParam naming the first required key that is absent or blank.
func (k Kind) Validate(p Params) error {
	for _, key := range k.Required {
		if strings.TrimSpace(p[key]) == "" {
			return fmt.Errorf("%w: %s", ErrMissingParam, key)
		}
	}
	return nil
}

// ProgressParams returns p without the start-only keys.
func (k Kind) ProgressParams(p Params) Params {
	out := make(Params, len(p))
	for key, val := range p {
		if slices.Contains(k.StartOnly, key) {
			continue
		}
		out[key] = val
	}
	return out
}

// Identity is a stable key for one job of this kind: the type tag plus the
// sorted progress parameters.
func (k Kind) Identity(p Params) string {
	pp := k.ProgressParams(p)
	keys := make([]string, 0, len(pp))
	for key := range pp {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(k.Name)
	for _, key := range keys {
		b.WriteByte('|')
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(pp[key])
	}
	return b.String()
}
