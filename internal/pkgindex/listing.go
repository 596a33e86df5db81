package pkgindex

import (
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"
)

// File is one anchor of a simple-repository project page.
type File struct {
	Filename       string
	URL            string // absolute, without fragment
	Algo           string // from the "#algo=hex" fragment, empty when absent
	Digest         string
	RequiresPython string
	Yanked         bool
}

// ParseListing extracts the distribution links of a project page. Relative
// hrefs are resolved against pageURL.
func ParseListing(r io.Reader, pageURL string) ([]File, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page URL %q: %w", pageURL, err)
	}

	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var files []File
	var extractLinks func(*html.Node)
	extractLinks = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			if f, ok := fileFromAnchor(n, base); ok {
				files = append(files, f)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extractLinks(c)
		}
	}
	extractLinks(doc)

	return files, nil
}

func fileFromAnchor(n *html.Node, base *url.URL) (File, bool) {
	var f File
	var href string
	for _, attr := range n.Attr {
		switch attr.Key {
		case "href":
			href = attr.Val
		case "data-requires-python":
			f.RequiresPython = strings.TrimSpace(attr.Val)
		case "data-yanked":
			f.Yanked = true
		}
	}
	if href == "" {
		return f, false
	}

	ref, err := url.Parse(href)
	if err != nil {
		return f, false
	}
	abs := base.ResolveReference(ref)
	if algo, digest, ok := strings.Cut(abs.Fragment, "="); ok && digest != "" {
		f.Algo = strings.ToLower(algo)
		f.Digest = strings.ToLower(digest)
	}
	abs.Fragment = ""

	f.URL = abs.String()
	f.Filename = path.Base(abs.Path)
	if f.Filename == "" || f.Filename == "/" || f.Filename == "." {
		return f, false
	}
	return f, true
}
