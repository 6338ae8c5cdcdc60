package router

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// Category is the class a request falls into.
type Category string

const (
	CategoryStatic     Category = "static"
	CategoryAPI        Category = "api"
	CategoryImage      Category = "image"
	CategoryNavigation Category = "navigation"
	CategoryDefault    Category = "default"
)

// DefaultAPIPatterns match the catalog API, the catalog image CDN and the
// BaaS REST and auth endpoints.
var DefaultAPIPatterns = []string{
	`^https://api\.themoviedb\.org/3/`,
	`^https://image\.tmdb\.org/t/p/`,
	`^https://[^/]*\.supabase\.co/rest/v1/`,
	`^https://[^/]*\.supabase\.co/auth/v1/`,
}

// Rules classify requests. All URL tests run against the full URL string,
// query included.
type Rules struct {
	StaticContains []string
	StaticSuffixes []string
	APIPatterns    []*regexp.Regexp
	ImageContains  []string
	ImageSuffixes  []string
}

// DefaultRules returns the built-in classification rules.
func DefaultRules() Rules {
	patterns, err := CompilePatterns(DefaultAPIPatterns)
	if err != nil {
		panic(err)
	}
	return Rules{
		StaticContains: []string{"/static/", "/assets/", "favicon"},
		StaticSuffixes: []string{".js", ".css", ".woff", ".woff2", ".ico"},
		APIPatterns:    patterns,
		ImageContains:  []string{"image.tmdb.org"},
		ImageSuffixes:  []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".svg"},
	}
}

// CompilePatterns compiles API URL patterns.
func CompilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile api pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Classify returns the first matching category:
// static, api, image, navigation, default.
func (r Rules) Classify(req *http.Request) Category {
	url := req.URL.String()
	accept := req.Header.Get("Accept")

	switch {
	case r.IsStatic(url):
		return CategoryStatic
	case r.IsAPI(url):
		return CategoryAPI
	case r.IsImage(url, accept):
		return CategoryImage
	case strings.Contains(accept, "text/html"):
		return CategoryNavigation
	default:
		return CategoryDefault
	}
}

// IsStatic reports whether url names a static application asset.
func (r Rules) IsStatic(url string) bool {
	return containsAny(url, r.StaticContains) || hasAnySuffix(url, r.StaticSuffixes)
}

// IsAPI reports whether url matches one of the API patterns.
func (r Rules) IsAPI(url string) bool {
	for _, re := range r.APIPatterns {
		if re.MatchString(url) {
			return true
		}
	}
	return false
}

// IsImage reports whether the request asks for an image.
func (r Rules) IsImage(url, accept string) bool {
	return strings.Contains(accept, "image") ||
		containsAny(url, r.ImageContains) ||
		hasAnySuffix(url, r.ImageSuffixes)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}
