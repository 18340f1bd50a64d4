package cache

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"strings"
)

const PREFIX = "---CACHED-RESPONSE---\n"

// Serialize encodes a stored entry: the prefix, the request key, the
// response type and URL, then the response in HTTP/1.1 wire format.
func Serialize(key string, resp *Response) ([]byte, error) {
	if strings.ContainsAny(key, "\r\n") {
		return nil, fmt.Errorf("invalid cache key %q", key)
	}

	b, err := httputil.DumpResponse(resp.HTTP(nil), true)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(PREFIX)
	buf.WriteString(key + "\n")
	buf.WriteString(string(resp.Type) + " " + resp.URL + "\n")
	buf.Write(b)
	return buf.Bytes(), nil
}

// Deserialize is the inverse of Serialize.
func Deserialize(b []byte) (string, *Response, error) {
	if !bytes.HasPrefix(b, []byte(PREFIX)) {
		n := min(len(b), len(PREFIX))
		return "", nil, fmt.Errorf("invalid prefix: expected '%s', got '%s'", PREFIX, string(b[:n]))
	}

	reader := bufio.NewReader(bytes.NewReader(b[len(PREFIX):]))

	key, err := reader.ReadString('\n')
	if err != nil {
		return "", nil, fmt.Errorf("failed to read cache key: %w", err)
	}
	meta, err := reader.ReadString('\n')
	if err != nil {
		return "", nil, fmt.Errorf("failed to read response metadata: %w", err)
	}
	typ, location, _ := strings.Cut(strings.TrimSuffix(meta, "\n"), " ")

	httpResp, err := http.ReadResponse(reader, nil)
	if err != nil {
		return "", nil, fmt.Errorf("failed to deserialize response: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return strings.TrimSuffix(key, "\n"), &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
		Type:       ResponseType(typ),
		URL:        location,
	}, nil
}
