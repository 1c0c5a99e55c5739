package provider

import (
	"fmt"
	"io"
	"net/http"
)

const maxResponseBytes = 32 << 20

// Do sends req and returns the body of a 2xx answer. Transport failures and
// other status codes come back as *Error.
func Do(client *http.Client, provider string, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, ClassifyTransport(provider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, ClassifyTransport(provider, fmt.Errorf("read response: %w", err))
	}
	if err := ClassifyStatus(provider, resp, body); err != nil {
		return nil, err
	}
	return body, nil
}
