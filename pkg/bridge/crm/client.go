// Package crm is the REST client for the CRM Gateway, the system of record
// for listings, viewing slots, appointments, leads and call logs. Every
// operation is bounded by a short timeout; non-2xx responses come back as
// typed errors, never panics, and callers treat them as recoverable.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/leaseline/voicebridge/pkg/core"
)

const defaultTimeout = 5 * time.Second

// Client talks to the CRM Gateway. The zero value is not usable; construct
// with New. The embedded http.Client is shared and safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration
}

// New creates a Client. timeout bounds each individual request; a
// non-positive value falls back to the default.
func New(baseURL, apiKey string, httpClient *http.Client, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		timeout:    timeout,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return core.NewProviderError("crm", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusNotFound:
		return core.NewNotFoundError(fmt.Sprintf("crm: %s %s", method, path))
	case resp.StatusCode == http.StatusConflict:
		return core.NewConflictError(fmt.Sprintf("crm: %s %s", method, path))
	default:
		return core.NewProviderError("crm", fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return core.NewProviderError("crm", fmt.Errorf("decode %s %s: %w", method, path, err))
	}
	return nil
}

// ListingByNumber resolves the active listing advertised under a dialed
// E.164 number. A nil listing with nil error means no active listing.
func (c *Client) ListingByNumber(ctx context.Context, e164 string) (*Listing, error) {
	var listing Listing
	err := c.do(ctx, http.MethodGet, "/v1/listings/by-number/"+e164, nil, &listing)
	if err != nil {
		var coreErr *core.Error
		if asCore(err, &coreErr) && coreErr.Type == core.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &listing, nil
}

// NextSlot returns the next bookable viewing slot for a listing, or nil if
// none is open.
func (c *Client) NextSlot(ctx context.Context, listingID int64) (*Slot, error) {
	var slot Slot
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/listings/%d/next-slot", listingID), nil, &slot)
	if err != nil {
		var coreErr *core.Error
		if asCore(err, &coreErr) && coreErr.Type == core.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &slot, nil
}

// CreateLead records a prospective tenant.
func (c *Client) CreateLead(ctx context.Context, lead Lead) (*Lead, error) {
	var created Lead
	if err := c.do(ctx, http.MethodPost, "/v1/leads", lead, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// CreateAppointment books a viewing slot. A conflict error means the slot
// filled up between offer and booking.
func (c *Client) CreateAppointment(ctx context.Context, req AppointmentRequest) (*Appointment, error) {
	var appt Appointment
	if err := c.do(ctx, http.MethodPost, "/v1/appointments", req, &appt); err != nil {
		return nil, err
	}
	return &appt, nil
}

// UpdateAppointment applies a partial update to an existing appointment.
func (c *Client) UpdateAppointment(ctx context.Context, id int64, upd AppointmentUpdate) (*Appointment, error) {
	var appt Appointment
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/v1/appointments/%d", id), upd, &appt); err != nil {
		return nil, err
	}
	return &appt, nil
}

// CancelAppointment cancels a viewing.
func (c *Client) CancelAppointment(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/v1/appointments/%d", id), nil, nil)
}

// LogCallStart records the start of an inbound call and returns the call
// log id used to correlate leads and the end-of-call entry.
func (c *Client) LogCallStart(ctx context.Context, start CallStart) (int64, error) {
	var log CallLog
	if err := c.do(ctx, http.MethodPost, "/v1/calls", start, &log); err != nil {
		return 0, err
	}
	return log.ID, nil
}

// LogCallEnd records the end of a call. Callers guarantee at-most-once
// invocation per call; the gateway does not dedup.
func (c *Client) LogCallEnd(ctx context.Context, end CallEnd) error {
	return c.do(ctx, http.MethodPost, "/v1/calls/end", end, nil)
}

func asCore(err error, target **core.Error) bool {
	e, ok := err.(*core.Error)
	if !ok || e == nil {
		return false
	}
	*target = e
	return true
}
