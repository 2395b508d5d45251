package curl

import (
	"net/http"
	"sort"
	"strings"

	"github.com/itsnoxius/mockgate/internal/headers"
)

// Request describes the outbound call to render
type Request struct {
	Method   string
	URL      string
	RawQuery string
	Header   http.Header
	Body     string
}

// Build renders a reproducible curl command line. Headers pass through the
// same exclusion list as forwarding and are emitted in sorted order; the body
// is included only for methods that carry one.
func Build(r Request) string {
	var b strings.Builder

	method := strings.ToUpper(r.Method)
	if method == "" {
		method = http.MethodGet
	}

	target := r.URL
	if r.RawQuery != "" {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + r.RawQuery
	}

	b.WriteString("curl -X ")
	b.WriteString(method)
	b.WriteString(" ")
	b.WriteString(quote(target))

	h := headers.Outbound(r.Header)
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range h[k] {
			b.WriteString(" -H ")
			b.WriteString(quote(k + ": " + v))
		}
	}

	if r.Body != "" && hasBody(method) {
		b.WriteString(" -d ")
		b.WriteString(quote(r.Body))
	}

	return b.String()
}

func hasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// quote wraps s in single quotes for a POSIX shell
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
