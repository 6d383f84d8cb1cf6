// internal/executor/http.go - HTTP action execution
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// RunHTTP issues one HTTP call. A 2xx status is success; anything else is a
// failed outcome carrying the status code. Timeouts are distinguished from
// other transport failures in the error message.
func RunHTTP(ctx context.Context, method, url string, headers map[string]string, body string, query map[string]string, timeout time.Duration) Outcome {
	start := time.Now()

	method = strings.ToUpper(method)

	var reqBody io.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return Outcome{
			Success:        false,
			Error:          fmt.Sprintf("request error: %v", err),
			ElapsedSeconds: roundSeconds(time.Since(start)),
		}
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	if len(query) > 0 {
		q := req.URL.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		elapsed := roundSeconds(time.Since(start))
		if isTimeout(err) {
			return Outcome{
				Success:        false,
				Error:          fmt.Sprintf("request timeout: %v", err),
				ElapsedSeconds: elapsed,
			}
		}
		return Outcome{
			Success:        false,
			Error:          fmt.Sprintf("request error: %v", err),
			ElapsedSeconds: elapsed,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	elapsed := roundSeconds(time.Since(start))
	if err != nil {
		return Outcome{
			Success:        false,
			Error:          fmt.Sprintf("request error: failed to read response: %v", err),
			StatusCode:     resp.StatusCode,
			ElapsedSeconds: elapsed,
		}
	}

	output := Sanitize(string(respBody))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Outcome{
			Success:        true,
			Output:         output,
			StatusCode:     resp.StatusCode,
			ElapsedSeconds: elapsed,
		}
	}

	reason := http.StatusText(resp.StatusCode)
	msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
	if reason != "" {
		msg = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, reason)
	}

	return Outcome{
		Success:        false,
		Output:         output,
		Error:          msg,
		StatusCode:     resp.StatusCode,
		ElapsedSeconds: elapsed,
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
