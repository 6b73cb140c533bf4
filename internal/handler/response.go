package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

// HTTP headers.
const (
	headerAllowOrigin  = "Access-Control-Allow-Origin"
	headerAllowMethods = "Access-Control-Allow-Methods"
	headerAllowHeaders = "Access-Control-Allow-Headers"
	headerMaxAge       = "Access-Control-Max-Age"
	headerContentType  = "Content-Type"

	allowOriginAny  = "*"
	allowedMethods  = "POST, OPTIONS, GET"
	allowedHeaders  = "Content-Type, Authorization, X-Requested-With, Accept"
	preflightMaxAge = "3600"
	contentTypeJSON = "application/json"
)

// SuccessMessage is returned alongside the URL of a generated file.
const SuccessMessage = "Audio generated successfully"

// SuccessBody is the JSON body of a successful response. The s3_url key is
// read by existing browser clients and must keep its name.
type SuccessBody struct {
	Message string `json:"message"`
	S3URL   string `json:"s3_url"`
}

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Error string `json:"error"`
}

func preflightResponse() events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers: map[string]string{
			headerAllowOrigin:  allowOriginAny,
			headerAllowMethods: allowedMethods,
			headerAllowHeaders: allowedHeaders,
			headerMaxAge:       preflightMaxAge,
		},
		Body: "",
	}
}

func successResponse(url string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers:    corsJSONHeaders(),
		Body:       encodeBody(SuccessBody{Message: SuccessMessage, S3URL: url}),
	}
}

// errorResponse maps a failed request to its response. Client errors become
// 400 with a reduced header set; every other kind becomes 500 and exposes
// the error message.
func errorResponse(err error) events.APIGatewayProxyResponse {
	if KindOf(err) == KindClientError {
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusBadRequest,
			Headers: map[string]string{
				headerAllowOrigin: allowOriginAny,
				headerContentType: contentTypeJSON,
			},
			Body: encodeBody(ErrorBody{Error: clientMessage(err)}),
		}
	}

	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusInternalServerError,
		Headers:    corsJSONHeaders(),
		Body:       encodeBody(ErrorBody{Error: err.Error()}),
	}
}

func clientMessage(err error) string {
	var tooLong *TextTooLongError
	if errors.As(err, &tooLong) {
		return tooLong.Error()
	}

	return ErrNoText.Error()
}

func corsJSONHeaders() map[string]string {
	return map[string]string{
		headerAllowOrigin:  allowOriginAny,
		headerAllowMethods: allowedMethods,
		headerAllowHeaders: allowedHeaders,
		headerContentType:  contentTypeJSON,
	}
}

// encodeBody marshals v without HTML escaping so presigned URLs keep their literal '&'.
func encodeBody(v any) string {
	var buf bytes.Buffer

	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)

	err := encoder.Encode(v)
	if err != nil {
		return `{"error": "failed to encode response"}`
	}

	return strings.TrimSuffix(buf.String(), "\n")
}
