package ingestion

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/html"

	"github.com/landregistry/inspire-reconciler/internal/errors"
)

// CouncilLink is one archive link discovered on the INSPIRE index page.
type CouncilLink struct {
	Council string // display name, used for alphabetical ordering and filenames
	URL     string // absolute archive download URL
}

// FetchCouncilIndex downloads and parses the public HTML index page listing
// one downloadable archive per council (§4.2 Input).
func FetchCouncilIndex(ctx context.Context, indexURL string) ([]CouncilLink, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, indexURL, nil)
	if err != nil {
		return nil, errors.InternalError("building council index request: " + err.Error())
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, errors.NetworkError(err, "fetching council index")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.New(errors.ErrorTypeExternal, errors.SeverityHigh,
			fmt.Sprintf("council index returned status %d", resp.StatusCode))
	}

	base, err := url.Parse(indexURL)
	if err != nil {
		return nil, errors.InternalError("parsing council index URL: " + err.Error())
	}

	links, err := parseIndexLinks(resp.Body, base)
	if err != nil {
		return nil, err
	}
	sort.Slice(links, func(i, j int) bool { return links[i].Council < links[j].Council })
	return links, nil
}

// parseIndexLinks walks the HTML tree for anchor tags pointing at archive
// downloads, using the link text (or, failing that, the filename stem) as
// the council name.
func parseIndexLinks(r io.Reader, base *url.URL) ([]CouncilLink, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, errors.DataRowError(err, "parsing council index HTML")
	}

	var links []CouncilLink
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			href := attr(n, "href")
			if isArchiveLink(href) {
				resolved := resolveURL(base, href)
				name := strings.TrimSpace(text(n))
				if name == "" {
					name = councilNameFromFilename(href)
				}
				links = append(links, CouncilLink{Council: name, URL: resolved})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func isArchiveLink(href string) bool {
	lower := strings.ToLower(href)
	return strings.HasSuffix(lower, ".zip")
}

func resolveURL(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func councilNameFromFilename(href string) string {
	name := href
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	name = strings.TrimSuffix(name, ".zip")
	return strings.ReplaceAll(name, "_", " ")
}

// FilterCouncils applies the alphabetical afterCouncil/maxCouncils filters
// (§4.2: "only councils whose name sorts strictly after it are processed").
// links must already be sorted alphabetically by Council.
func FilterCouncils(links []CouncilLink, afterCouncil string, maxCouncils int) []CouncilLink {
	out := links
	if afterCouncil != "" {
		idx := sort.Search(len(out), func(i int) bool { return out[i].Council > afterCouncil })
		out = out[idx:]
	}
	if maxCouncils > 0 && len(out) > maxCouncils {
		out = out[:maxCouncils]
	}
	return out
}
