package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/teemow/ipdocket/internal/google"
	"github.com/teemow/ipdocket/internal/instrumentation"
)

// Client wraps the Google Calendar service
type Client struct {
	svc     *calendar.Service
	metrics *instrumentation.Metrics
}

// NewClientForAccountWithProvider creates a Calendar client for account. The
// OAuth token is retrieved from the provided token provider.
func NewClientForAccountWithProvider(ctx context.Context, account string, provider google.TokenProvider, metrics *instrumentation.Metrics) (*Client, error) {
	httpClient, err := google.HTTPClient(ctx, provider, account)
	if err != nil {
		return nil, err
	}
	return NewClientWithHTTPClient(ctx, httpClient, metrics)
}

// NewClientWithHTTPClient creates a Calendar client on an already
// authenticated HTTP client. Extra options such as option.WithEndpoint are
// passed to the API service.
func NewClientWithHTTPClient(ctx context.Context, httpClient *http.Client, metrics *instrumentation.Metrics, opts ...option.ClientOption) (*Client, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar service: %w", err)
	}

	return &Client{
		svc:     svc,
		metrics: metrics,
	}, nil
}

func (c *Client) record(ctx context.Context, operation string, start time.Time, err error) {
	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
	}
	c.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceCalendar, operation, status, time.Since(start))
}

// CreateEvent creates a new calendar event
func (c *Client) CreateEvent(ctx context.Context, calendarID string, input EventInput) (*EventSummary, error) {
	start := time.Now()

	created, err := c.svc.Events.Insert(calendarID, toEvent(input)).Context(ctx).Do()
	c.record(ctx, instrumentation.OperationCreate, start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}

	summary := toEventSummary(created)
	return &summary, nil
}

// DeleteEvent deletes a calendar event. An event that is already gone counts
// as deleted.
func (c *Client) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	start := time.Now()

	err := c.svc.Events.Delete(calendarID, eventID).Context(ctx).Do()
	if isGone(err) {
		err = nil
	}
	c.record(ctx, instrumentation.OperationDelete, start, err)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return nil
}

func isGone(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone
	}
	return false
}
