package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// DefaultHTTPTimeout bounds a single market-data request.
const DefaultHTTPTimeout = 10 * time.Second

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &http.Client{Timeout: timeout}
}

// getJSON GETs addr and decodes the JSON body into data, keeping numbers as
// json.Number so closes convert to decimals without float rounding. Every
// failure wraps ErrUpstream. Query strings are left out of error messages
// since they may carry API keys.
func getJSON(ctx context.Context, client *http.Client, addr string, header http.Header, data interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("%w: GET %v%v: %v", ErrUpstream, req.URL.Host, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: GET %v%v: %v", ErrUpstream, req.URL.Host, req.URL.Path, resp.Status)
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(data); err != nil {
		return fmt.Errorf("%w: decode %v%v: %v", ErrUpstream, req.URL.Host, req.URL.Path, err)
	}
	return nil
}
