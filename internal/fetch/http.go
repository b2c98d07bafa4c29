package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrLinkExpired indicates the download URL has expired or requires
// re-authentication (HTTP 403).
var ErrLinkExpired = errors.New("link expired or access denied (403)")

const genericUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36"

// probeResult holds the metadata learned from a ranged HEAD-equivalent probe.
type probeResult struct {
	Size         int64
	Filename     string
	Status       int
	AcceptRanges bool
	ETag         string
	LastModified string
}

func (f *Fetcher) newRequest(method, urlStr string, headers map[string]string) (*http.Request, error) {
	req, err := http.NewRequest(method, urlStr, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", genericUserAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Connection", "keep-alive")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// probeURL checks the URL with a zero-length range GET to learn size,
// range support and cache validators without transferring the file.
func (f *Fetcher) probeURL(ctx context.Context, urlStr string, headers map[string]string) (*probeResult, error) {
	probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := f.newRequest("GET", urlStr, headers)
	if err != nil {
		return nil, friendlyError(err)
	}
	req = req.WithContext(probeCtx)
	req.Header.Set("Range", "bytes=0-0")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, friendlyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusPartialContent {
		return &probeResult{Status: resp.StatusCode}, friendlyHTTPError(resp.StatusCode)
	}

	filename := ""
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			filename = params["filename"]
		}
	}
	if filename == "" {
		filename = filepath.Base(resp.Request.URL.Path)
		if filename == "." || filename == "/" {
			filename = "unknown_file"
		}
	}

	acceptRanges := resp.Header.Get("Accept-Ranges") == "bytes"
	size := resp.ContentLength

	if resp.StatusCode == http.StatusPartialContent {
		acceptRanges = true
		if cr := resp.Header.Get("Content-Range"); cr != "" {
			if parts := strings.Split(cr, "/"); len(parts) == 2 {
				if total, err := strconv.ParseInt(parts[1], 10, 64); err == nil {
					size = total
				}
			}
		}
	}

	return &probeResult{
		Size:         size,
		Filename:     filename,
		Status:       resp.StatusCode,
		AcceptRanges: acceptRanges,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}, nil
}

// encodeHeaders serializes request headers for storage in a task's
// Headers column; nil/empty maps encode as the empty string.
func encodeHeaders(headers map[string]string) string {
	if len(headers) == 0 {
		return ""
	}
	data, err := json.Marshal(headers)
	if err != nil {
		return ""
	}
	return string(data)
}

// decodeHeaders is the inverse of encodeHeaders, tolerating the empty
// string (no headers recorded).
func decodeHeaders(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	var headers map[string]string
	if err := json.Unmarshal([]byte(raw), &headers); err != nil {
		return nil
	}
	return headers
}

func friendlyError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "no such host"):
		return fmt.Errorf("server not found: check the URL is correct")
	case strings.Contains(msg, "connection refused"):
		return fmt.Errorf("server is offline or unreachable")
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return fmt.Errorf("connection timed out, try again later")
	case strings.Contains(msg, "certificate"):
		return fmt.Errorf("TLS certificate error")
	case strings.Contains(msg, "network is unreachable"):
		return fmt.Errorf("no internet connection")
	default:
		return fmt.Errorf("connection failed: %w", err)
	}
}

func friendlyHTTPError(status int) error {
	switch status {
	case 404:
		return fmt.Errorf("file not found on server (404)")
	case 403:
		return fmt.Errorf("access denied by server (403)")
	case 401:
		return fmt.Errorf("authentication required (401)")
	case 429:
		return fmt.Errorf("too many requests, wait and try again")
	case 500, 502, 503:
		return fmt.Errorf("server error, try again later (%d)", status)
	default:
		return fmt.Errorf("server returned error %d", status)
	}
}
