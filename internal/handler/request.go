package handler

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"

	"github.com/mitchellh/mapstructure"
)

const (
	methodOptions   = "OPTIONS"
	preflightRoute  = "OPTIONS /tts"
	payloadTagName  = "mapstructure"
	jsonNullLiteral = "null"
)

var errBodyNull = errors.New("request body is null")

// Request is the canonical form of a trigger event.
type Request struct {
	// Method is the first HTTP method found in the event, empty for direct invocations.
	Method    string
	Preflight bool
	Text      string
}

// triggerEvent covers the event shapes of API Gateway REST, HTTP API and direct invocation.
type triggerEvent struct {
	HTTPMethod     string         `mapstructure:"httpMethod"`
	RequestContext requestContext `mapstructure:"requestContext"`
	Text           string         `mapstructure:"text"`
	Body           *string        `mapstructure:"body"`
	Base64Encoded  bool           `mapstructure:"isBase64Encoded"`
}

type requestContext struct {
	HTTP     httpContext `mapstructure:"http"`
	RouteKey string      `mapstructure:"routeKey"`
}

type httpContext struct {
	Method string `mapstructure:"method"`
}

type bodyPayload struct {
	Text string `mapstructure:"text"`
}

// Normalize converts a raw trigger event into a Request.
//
// Preflight detection runs on the raw fields before anything else is decoded,
// so a preflight event with malformed text or body still normalizes cleanly.
// A top-level text field is preferred; the body is only decoded when it is
// absent or empty. A missing body, or a body key holding JSON null, is treated
// as an empty JSON object.
func Normalize(raw json.RawMessage) (Request, error) {
	var fields map[string]any

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && string(trimmed) != jsonNullLiteral {
		err := json.Unmarshal(trimmed, &fields)
		if err != nil {
			return Request{}, parseError("failed to parse event: %w", err)
		}
	}

	method, preflight := routing(fields)
	if preflight {
		return Request{Method: method, Preflight: true, Text: ""}, nil
	}

	var event triggerEvent

	err := decodeFields(fields, &event)
	if err != nil {
		return Request{}, parseError("failed to decode event: %w", err)
	}

	req := Request{
		Method:    event.method(),
		Preflight: false,
		Text:      "",
	}

	if event.Text != "" {
		req.Text = event.Text

		return req, nil
	}

	text, err := event.bodyText()
	if err != nil {
		return Request{}, err
	}

	req.Text = text

	return req, nil
}

// routing reads the method and preflight markers from the raw event fields.
// Values of the wrong type are ignored.
func routing(fields map[string]any) (string, bool) {
	httpMethod := stringField(fields, "httpMethod")

	reqCtx, _ := fields["requestContext"].(map[string]any)
	httpCtx, _ := reqCtx["http"].(map[string]any)
	contextMethod := stringField(httpCtx, "method")
	routeKey := stringField(reqCtx, "routeKey")

	method := httpMethod
	if method == "" {
		method = contextMethod
	}

	preflight := httpMethod == methodOptions ||
		contextMethod == methodOptions ||
		routeKey == preflightRoute

	return method, preflight
}

func stringField(fields map[string]any, key string) string {
	value, _ := fields[key].(string)

	return value
}

func (e *triggerEvent) method() string {
	if e.HTTPMethod != "" {
		return e.HTTPMethod
	}

	return e.RequestContext.HTTP.Method
}

func (e *triggerEvent) bodyText() (string, error) {
	if e.Body == nil {
		return "", nil
	}

	body := []byte(*e.Body)

	if e.Base64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(*e.Body)
		if err != nil {
			return "", parseError("failed to decode base64 body: %w", err)
		}

		body = decoded
	}

	var fields map[string]any

	err := json.Unmarshal(body, &fields)
	if err != nil {
		return "", parseError("failed to parse request body: %w", err)
	}

	if fields == nil {
		return "", parseError("failed to parse request body: %w", errBodyNull)
	}

	var payload bodyPayload

	err = decodeFields(fields, &payload)
	if err != nil {
		return "", parseError("failed to decode request body: %w", err)
	}

	return payload.Text, nil
}

// decodeFields decodes a free-form JSON object into a typed struct.
func decodeFields(input map[string]any, out any) error {
	if len(input) == 0 {
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          payloadTagName,
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}

	return decoder.Decode(input)
}
