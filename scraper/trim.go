package scraper

import (
	"fmt"
	"net/url"
	"strings"

	"carbitrage/config"
)

// TrimMutator rewrites a marketplace search URL so it only matches one
// trim. An empty trim leaves the URL untouched.
type TrimMutator interface {
	ApplyTrim(rawURL, trim string) string
}

func NewTrimMutator(cfg config.TrimConfig) (TrimMutator, error) {
	switch cfg.Style {
	case "query":
		if cfg.Param == "" {
			return nil, fmt.Errorf("query trim needs a param")
		}
		return &QueryTrim{Param: cfg.Param, Anchor: cfg.Anchor, Before: cfg.Before}, nil
	case "fragment":
		if cfg.Param == "" {
			return nil, fmt.Errorf("fragment trim needs a param")
		}
		return &FragmentTrim{Key: cfg.Param}, nil
	case "append":
		if cfg.Param == "" {
			return nil, fmt.Errorf("append trim needs a param")
		}
		return &AppendTrim{Param: cfg.Param}, nil
	case "", "none":
		return noTrim{}, nil
	default:
		return nil, fmt.Errorf("unknown trim style %q", cfg.Style)
	}
}

// QueryTrim sets Param in the query string. A new param goes next to
// Anchor when the URL has it, otherwise at the end.
type QueryTrim struct {
	Param  string
	Anchor string
	Before bool
}

func (q *QueryTrim) ApplyTrim(rawURL, trim string) string {
	trim = strings.TrimSpace(trim)
	if trim == "" {
		return rawURL
	}

	parts := splitURL(rawURL)
	pair := q.Param + "=" + url.QueryEscape(trim)

	if params, ok := replaceParam(parts.params, q.Param, pair); ok {
		parts.params = params
		return parts.String()
	}

	if q.Anchor != "" {
		if idx := indexParam(parts.params, q.Anchor); idx >= 0 {
			if !q.Before {
				idx++
			}
			parts.params = insertAt(parts.params, idx, pair)
			return parts.String()
		}
	}

	parts.params = append(parts.params, pair)
	return parts.String()
}

// AppendTrim sets Param, appending it with ? or & when missing. Applying
// it repeatedly leaves the param once, with the latest value.
type AppendTrim struct {
	Param string
}

func (a *AppendTrim) ApplyTrim(rawURL, trim string) string {
	trim = strings.TrimSpace(trim)
	if trim == "" {
		return rawURL
	}

	parts := splitURL(rawURL)
	pair := a.Param + "=" + url.QueryEscape(trim)

	if params, ok := replaceParam(parts.params, a.Param, pair); ok {
		parts.params = params
	} else {
		parts.params = append(parts.params, pair)
	}
	return parts.String()
}

// FragmentTrim works on sites that keep search state after '#', as
// "key:value|key:value" segments. Without a fragment the URL is returned
// unchanged.
type FragmentTrim struct {
	Key string
}

func (f *FragmentTrim) ApplyTrim(rawURL, trim string) string {
	trim = strings.TrimSpace(trim)
	if trim == "" {
		return rawURL
	}

	hash := strings.Index(rawURL, "#")
	if hash < 0 {
		return rawURL
	}

	head, fragment := rawURL[:hash], rawURL[hash+1:]
	segment := f.Key + ":" + url.PathEscape(trim)

	if fragment == "" {
		return head + "#" + segment
	}

	segments := strings.Split(fragment, "|")
	if strings.HasPrefix(segments[0], f.Key+":") {
		segments[0] = segment
	} else {
		segments = append([]string{segment}, segments...)
	}
	return head + "#" + strings.Join(segments, "|")
}

type noTrim struct{}

func (noTrim) ApplyTrim(rawURL, _ string) string { return rawURL }

type urlParts struct {
	base     string
	params   []string
	fragment string
}

// splitURL cuts a URL into base, query params and fragment without
// re-encoding, so untouched params keep their order and spelling.
func splitURL(rawURL string) urlParts {
	var p urlParts

	rest := rawURL
	if i := strings.Index(rest, "#"); i >= 0 {
		p.fragment = rest[i:]
		rest = rest[:i]
	}
	if i := strings.Index(rest, "?"); i >= 0 {
		for _, param := range strings.Split(rest[i+1:], "&") {
			if param != "" {
				p.params = append(p.params, param)
			}
		}
		rest = rest[:i]
	}
	p.base = rest
	return p
}

func (p urlParts) String() string {
	var b strings.Builder
	b.WriteString(p.base)
	if len(p.params) > 0 {
		b.WriteByte('?')
		b.WriteString(strings.Join(p.params, "&"))
	}
	b.WriteString(p.fragment)
	return b.String()
}

func paramKey(param string) string {
	key, _, _ := strings.Cut(param, "=")
	return key
}

func indexParam(params []string, key string) int {
	for i, p := range params {
		if paramKey(p) == key {
			return i
		}
	}
	return -1
}

// replaceParam puts pair at the first occurrence of key and drops any
// later duplicates.
func replaceParam(params []string, key, pair string) ([]string, bool) {
	idx := indexParam(params, key)
	if idx < 0 {
		return params, false
	}

	out := make([]string, 0, len(params))
	for i, p := range params {
		switch {
		case i == idx:
			out = append(out, pair)
		case paramKey(p) == key:
		default:
			out = append(out, p)
		}
	}
	return out, true
}

func insertAt(params []string, idx int, pair string) []string {
	out := make([]string, 0, len(params)+1)
	out = append(out, params[:idx]...)
	out = append(out, pair)
	return append(out, params[idx:]...)
}
