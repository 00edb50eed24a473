// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

package boundary

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gatehouse-project/gatehouse/audit"
)

const defaultFetchBodyLimit = 8 << 20 // 8 MiB

// FetchRequest describes one outbound HTTP request.
type FetchRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte

	// Requester appears in the audit record.
	Requester string

	// MaxBodyBytes caps the response body read. Defaults to 8 MiB.
	MaxBodyBytes int64
}

// FetchResult is the response after the body limit was applied.
type FetchResult struct {
	StatusCode int
	Headers    http.Header
	Body       []byte

	// Truncated reports that the response body hit MaxBodyBytes.
	Truncated bool
}

// Fetch performs an outbound HTTP request through the SSRF guard. The
// destination is validated twice: once against the parsed URL (scheme,
// host shape, resolved addresses) and again inside the dialer at
// connect time, so a DNS answer that changes between the two cannot
// route the request to an internal address. The request itself is
// scanned for credential material before anything leaves the process.
func (c *Coordinator) Fetch(ctx context.Context, session string, request FetchRequest) (FetchResult, error) {
	if request.Method == "" {
		request.Method = http.MethodGet
	}

	if err := c.guard.ValidateURL(ctx, request.URL); err != nil {
		c.emit(ctx, session, "fetch", request.Requester, "", 1, audit.ActionBlock, map[string]string{
			"url":    request.URL,
			"reason": err.Error(),
		})
		return FetchResult{}, &BlockedError{Operation: "fetch", Reason: err.Error()}
	}

	if reason, clean := c.leaks.ScanRequest(request.URL, request.Headers, request.Body); !clean {
		c.emit(ctx, session, "fetch", request.Requester, auditCategoryExfiltration, 1, audit.ActionBlock, map[string]string{
			"url":    request.URL,
			"reason": reason,
		})
		return FetchResult{}, &BlockedError{Operation: "fetch", Reason: reason}
	}

	var body io.Reader
	if len(request.Body) > 0 {
		body = bytes.NewReader(request.Body)
	}
	httpRequest, err := http.NewRequestWithContext(ctx, request.Method, request.URL, body)
	if err != nil {
		return FetchResult{}, fmt.Errorf("boundary: building request: %w", err)
	}
	for name, value := range request.Headers {
		httpRequest.Header.Set(name, value)
	}

	response, err := c.client.Do(httpRequest)
	if err != nil {
		c.emit(ctx, session, "fetch", request.Requester, "", 0, audit.ActionBlock, map[string]string{
			"url":    request.URL,
			"reason": err.Error(),
		})
		return FetchResult{}, fmt.Errorf("boundary: fetching %s: %w", request.URL, err)
	}
	defer response.Body.Close()

	limit := request.MaxBodyBytes
	if limit <= 0 {
		limit = defaultFetchBodyLimit
	}
	data, err := io.ReadAll(io.LimitReader(response.Body, limit+1))
	if err != nil {
		return FetchResult{}, fmt.Errorf("boundary: reading response from %s: %w", request.URL, err)
	}
	result := FetchResult{
		StatusCode: response.StatusCode,
		Headers:    response.Header,
		Body:       data,
	}
	if int64(len(data)) > limit {
		result.Body = data[:limit]
		result.Truncated = true
	}

	c.emit(ctx, session, "fetch", request.Requester, "", 0, audit.ActionAllow, map[string]string{
		"url":    request.URL,
		"status": response.Status,
	})
	return result, nil
}

// auditCategoryExfiltration labels fetch blocks caused by credential
// material in the outgoing request.
const auditCategoryExfiltration = "credential_exfiltration"
