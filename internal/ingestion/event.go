package ingestion

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// EventType is the provider's webhook event name.
type EventType string

const (
	EventResponseCreated  EventType = "ResponseCreated"
	EventRequestCompleted EventType = "RequestCompleted"
	EventApplicationError EventType = "ApplicationError"
)

// Event is a decoded, schema-valid webhook delivery.
type Event struct {
	Type          EventType `json:"event_type"`
	ReferenceType string    `json:"reference_type"`
	ReferenceID   string    `json:"reference_id"`
	Payload       Payload   `json:"payload"`
}

// Payload carries the provider response or a status notification.
type Payload struct {
	ResponseType string         `json:"response_type"`
	ResponseData *ResponseData  `json:"response_data"`
	Tags         Tags           `json:"tags"`
	Status       string         `json:"status"`
	Error        *ProviderError `json:"error"`
}

// Tags are delivery flags set by the provider.
type Tags struct {
	CachedResponse bool `json:"cached_response"`
}

// ProviderError describes a failed provider request.
type ProviderError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseData is the case data a provider response carries.
type ResponseData struct {
	Lawsuit     *Lawsuit        `json:"lawsuit"`
	Movements   []Movement      `json:"movements"`
	Attachments []AttachmentRef `json:"attachments"`
}

// Lawsuit is the provider's description of the case.
type Lawsuit struct {
	Number  string   `json:"number"`
	Court   string   `json:"court"`
	Title   string   `json:"title"`
	Subject string   `json:"subject"`
	Classes []string `json:"classes"`
}

// Movement is one official docket entry.
type Movement struct {
	ID          string `json:"id"`
	Date        string `json:"date"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// AttachmentRef points at a downloadable provider file.
type AttachmentRef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	URL         string `json:"url"`
	Date        string `json:"date"`
}

// Cached reports whether the response is the provider's cached partial answer.
func (e Event) Cached() bool {
	return e.Payload.Tags.CachedResponse
}

//go:embed schema/webhook_event.json
var eventSchemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func eventSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(eventSchemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("parse webhook schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("webhook_event.json", doc); err != nil {
			schemaErr = fmt.Errorf("add webhook schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile("webhook_event.json")
	})
	return schema, schemaErr
}

// Decode validates body against the webhook schema and decodes it. Any
// failure wraps ErrMalformed.
func Decode(body []byte) (Event, error) {
	sch, err := eventSchema()
	if err != nil {
		return Event{}, err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return Event{}, errors.Join(ErrMalformed, err)
	}
	if err := sch.Validate(inst); err != nil {
		return Event{}, errors.Join(ErrMalformed, err)
	}
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, errors.Join(ErrMalformed, err)
	}
	ev.ReferenceID = strings.TrimSpace(ev.ReferenceID)
	if ev.ReferenceID == "" {
		return Event{}, fmt.Errorf("%w: reference_id is required", ErrMalformed)
	}
	return ev, nil
}

var dateLayouts = []string{time.DateOnly, time.RFC3339, "02/01/2006", "2006-01-02 15:04:05"}

// parseDate accepts the date formats the provider is known to send.
func parseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
