package http

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/kjstillabower/weather-station-service/internal/validation"
)

// maxBodyBytes bounds form and JSON request bodies.
const maxBodyBytes = 1 << 20

var errMalformedBody = errors.New("malformed request body")

// Params holds request parameters in one of two shapes: the key to values
// mapping of a query string or form body, or the decoded object of a JSON body.
// Get reads either shape.
type Params struct {
	form url.Values
	json map[string]interface{}
	// isJSON is set when a JSON body replaced the query parameters, even if
	// the body was not an object.
	isJSON bool
}

// parseParams reads the query string, then lets a form-urlencoded or JSON body
// replace it. Other body types leave the query parameters in place.
func parseParams(r *http.Request) (Params, error) {
	p := Params{form: parseValues(r.URL.RawQuery)}
	if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
		return p, nil
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded":
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			return Params{}, validation.Invalid(errMalformedBody, "unreadable request body")
		}
		return Params{form: parseValues(string(body))}, nil
	case "application/json":
		dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
		dec.UseNumber()
		var v interface{}
		if err := dec.Decode(&v); err != nil {
			return Params{}, validation.Invalid(errMalformedBody, "malformed JSON body")
		}
		if _, err := dec.Token(); err != io.EOF {
			return Params{}, validation.Invalid(errMalformedBody, "malformed JSON body")
		}
		obj, _ := v.(map[string]interface{})
		return Params{json: obj, isJSON: true}, nil
	}
	return p, nil
}

// parseValues parses a query-encoded string leniently. Pairs with an empty
// value are dropped, so a blank form field reads as absent.
func parseValues(s string) url.Values {
	// ParseQuery keeps every pair it could decode alongside the first error.
	v, _ := url.ParseQuery(s)
	for k, vs := range v {
		kept := vs[:0]
		for _, x := range vs {
			if x != "" {
				kept = append(kept, x)
			}
		}
		if len(kept) == 0 {
			delete(v, k)
			continue
		}
		v[k] = kept
	}
	return v
}

// Get returns the first value for key. For JSON bodies a string is returned
// as-is, a number in its literal text, a bool as true/false and an array by
// its first element; null, objects and missing keys are absent.
func (p Params) Get(key string) (string, bool) {
	if p.isJSON {
		return jsonValue(p.json[key])
	}
	vs := p.form[key]
	if len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// Value returns Get(key) with absent keys read as "".
func (p Params) Value(key string) string {
	v, _ := p.Get(key)
	return v
}

func jsonValue(v interface{}) (string, bool) {
	switch v := v.(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case bool:
		return strconv.FormatBool(v), true
	case []interface{}:
		if len(v) == 0 {
			return "", false
		}
		return jsonValue(v[0])
	default:
		return "", false
	}
}

// pathSegments splits an escaped URL path into its percent-decoded segments,
// without the leading slash. A trailing slash yields a trailing "" segment.
// Segments with invalid escapes are kept verbatim.
func pathSegments(escapedPath string) []string {
	parts := strings.Split(strings.TrimPrefix(escapedPath, "/"), "/")
	for i, s := range parts {
		if u, err := url.PathUnescape(s); err == nil {
			parts[i] = u
		}
	}
	return parts
}
