// Package search renders the fragments the city search helper reflects
// from a shared link: the results header taken from the ?city= query and
// the details panel taken from the #fragment. Every value is treated as
// untrusted text.
package search

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"

	"github.com/microcosm-cc/bluemonday"
)

var fragments = template.Must(template.New("search").Parse(`
{{- define "header" }}<h2>Results for: {{ . }}</h2>{{ end -}}
{{- define "details" }}<div class="details-content">{{ . }}</div>{{ end -}}
`))

var strict = bluemonday.StrictPolicy()

// Header renders the results heading for city
func Header(city string) (string, error) {
	return render("header", city)
}

// Details renders the details panel. Markup in text is stripped and the
// remaining text is escaped.
func Details(text string) (string, error) {
	return render("details", template.HTML(strict.Sanitize(text)))
}

// ShareLink builds a link that reopens the page on city with summary in
// the details panel
func ShareLink(base, city, summary string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	q := u.Query()
	q.Set("city", city)
	u.RawQuery = q.Encode()
	u.Fragment = summary
	u.RawFragment = ""
	return u.String(), nil
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := fragments.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}
