package curl

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuild(t *testing.T) {
	testCases := []struct {
		name string
		req  Request
		want string
	}{
		{
			name: "get with query",
			req: Request{
				Method:   "get",
				URL:      "https://up.example/invoices",
				RawQuery: "page=2&size=10",
				Header:   http.Header{"Accept": {"application/json"}},
			},
			want: `curl -X GET 'https://up.example/invoices?page=2&size=10' -H 'Accept: application/json'`,
		},
		{
			name: "get drops body",
			req:  Request{Method: "GET", URL: "http://a/b", Body: `{"x":1}`},
			want: `curl -X GET 'http://a/b'`,
		},
		{
			name: "post with body and escaped quote",
			req: Request{
				Method: "POST",
				URL:    "http://a/notes",
				Header: http.Header{"Content-Type": {"application/json"}},
				Body:   `{"text":"it's here"}`,
			},
			want: `curl -X POST 'http://a/notes' -H 'Content-Type: application/json' -d '{"text":"it'\''s here"}'`,
		},
		{
			name: "hop headers excluded and sorted",
			req: Request{
				Method: "PATCH",
				URL:    "http://a/x",
				Header: http.Header{
					"Host":           {"proxy"},
					"Connection":     {"close"},
					"Content-Length": {"2"},
					"X-B":            {"2"},
					"X-A":            {"1"},
				},
				Body: "{}",
			},
			want: `curl -X PATCH 'http://a/x' -H 'X-A: 1' -H 'X-B: 2' -d '{}'`,
		},
		{
			name: "query appended to url that already has one",
			req:  Request{Method: "DELETE", URL: "http://a/x?y=1", RawQuery: "z=2"},
			want: `curl -X DELETE 'http://a/x?y=1&z=2'`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Build(tc.req))
		})
	}
}
