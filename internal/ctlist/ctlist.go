// Package ctlist fetches and filters the master Certificate Transparency
// log list.
package ctlist

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// DefaultLogListURL is Google Chrome's published list of CT logs.
const DefaultLogListURL = "https://www.gstatic.com/ct/log_list/v3/log_list.json"

// Descriptor identifies a single CT log worth polling.
type Descriptor struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// logList mirrors the subset of the v3 log-list schema this package needs.
// See https://www.gstatic.com/ct/log_list/v3/log_list_schema.json.
type logList struct {
	Operators []struct {
		Logs []struct {
			URL         string `json:"url"`
			Description string `json:"description"`
			State       *struct {
				Usable *struct{} `json:"usable"`
			} `json:"state"`
		} `json:"logs"`
	} `json:"operators"`
}

// Directory fetches CT_LOG_LIST_URL and filters it down to usable logs.
type Directory struct {
	URL    string
	Client *http.Client
}

// NewDirectory returns a Directory that fetches from url using a client with
// a 30s timeout, matching the HTTP timeout the rest of this system uses for
// upstream CT log requests.
func NewDirectory(url string) *Directory {
	if url == "" {
		url = DefaultLogListURL
	}
	return &Directory{
		URL:    url,
		Client: &http.Client{Timeout: 30 * time.Second},
	}
}

// List fetches and decodes the log list, returning only logs whose
// state.usable key is present. Order is preserved as received. A network
// failure or non-200 response yields an empty slice; the caller treats this
// as a terminal startup error.
func (d *Directory) List(ctx context.Context) []Descriptor {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		log.Printf("ctlist: building request: %v", err)
		return nil
	}

	resp, err := d.Client.Do(req)
	if err != nil {
		log.Printf("ctlist: fetching %s: %v", d.URL, err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("ctlist: fetching %s: unexpected status %s", d.URL, resp.Status)
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("ctlist: reading body: %v", err)
		return nil
	}

	var parsed logList
	if err := json.Unmarshal(body, &parsed); err != nil {
		log.Printf("ctlist: decoding body: %v", err)
		return nil
	}

	var out []Descriptor
	for _, op := range parsed.Operators {
		for _, l := range op.Logs {
			if l.State == nil || l.State.Usable == nil {
				continue
			}
			out = append(out, Descriptor{
				URL:  normalizeURL(l.URL),
				Name: l.Description,
			})
		}
	}
	return out
}

func normalizeURL(url string) string {
	return strings.TrimSuffix(url, "/")
}
