// Package handler_test tests the text-to-speech request handler.
package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/tts-lambda/internal/core"
	"github.com/book-expert/tts-lambda/internal/handler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testBucket = "audio-artifacts"
	testAudio  = "ID3-sample-audio"
)

var (
	errMockSynthesize = errors.New("mock synthesize error: ThrottlingException")
	errMockUpload     = errors.New("mock upload error")
	errMockPresign    = errors.New("mock presign error")
	errMockNotify     = errors.New("mock notify error")
)

// mockSynthesizer is a mock implementation of the Synthesizer interface.
type mockSynthesizer struct {
	mu                   sync.Mutex
	synthesizeShouldFail bool
	requests             []core.SynthesisRequest
}

func (m *mockSynthesizer) Synthesize(_ context.Context, req core.SynthesisRequest) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)

	if m.synthesizeShouldFail {
		return nil, errMockSynthesize
	}

	return io.NopCloser(strings.NewReader(testAudio)), nil
}

func (m *mockSynthesizer) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.requests)
}

// mockArtifactStore is a mock implementation of the ArtifactStore interface.
type mockArtifactStore struct {
	mu                sync.Mutex
	uploadShouldFail  bool
	presignShouldFail bool
	uploadedPaths     []string
	uploadedKeys      []string
	uploadedData      [][]byte
	presignedKeys     []string
	presignedExpiry   time.Duration
}

func (m *mockArtifactStore) UploadFile(_ context.Context, localPath, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.uploadShouldFail {
		return errMockUpload
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}

	m.uploadedPaths = append(m.uploadedPaths, localPath)
	m.uploadedKeys = append(m.uploadedKeys, key)
	m.uploadedData = append(m.uploadedData, data)

	return nil
}

func (m *mockArtifactStore) PresignGetURL(_ context.Context, key string, expiry time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.presignShouldFail {
		return "", errMockPresign
	}

	m.presignedKeys = append(m.presignedKeys, key)
	m.presignedExpiry = expiry

	return "https://" + testBucket + ".s3.amazonaws.com/" + key +
		"?X-Amz-Algorithm=AWS4-HMAC-SHA256&X-Amz-Expires=3600&X-Amz-Signature=abc123", nil
}

// mockNotifier is a mock implementation of the Notifier interface.
type mockNotifier struct {
	mu               sync.Mutex
	notifyShouldFail bool
	keys             []string
}

func (m *mockNotifier) AudioCreated(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.keys = append(m.keys, key)

	if m.notifyShouldFail {
		return errMockNotify
	}

	return nil
}

type testFixture struct {
	handler     *handler.Handler
	synthesizer *mockSynthesizer
	store       *mockArtifactStore
	notifier    *mockNotifier
	stagingDir  string
}

func setupTest(t *testing.T, opts handler.Options) *testFixture {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "test-log.log")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = testLogger.Close()
	})

	fixture := &testFixture{
		synthesizer: &mockSynthesizer{},
		store:       &mockArtifactStore{},
		notifier:    &mockNotifier{},
		stagingDir:  t.TempDir(),
	}

	opts.Bucket = testBucket
	opts.StagingDir = fixture.stagingDir

	fixture.handler, err = handler.New(handler.Dependencies{
		Synthesizer: fixture.synthesizer,
		Store:       fixture.store,
		Notifier:    fixture.notifier,
		Log:         testLogger,
	}, opts)
	require.NoError(t, err)

	return fixture
}

func invoke(t *testing.T, h *handler.Handler, event string) events.APIGatewayProxyResponse {
	t.Helper()

	resp, err := h.Handle(context.Background(), json.RawMessage(event))
	require.NoError(t, err, "Handle must map every failure to a response")

	return resp
}

func decodeError(t *testing.T, resp events.APIGatewayProxyResponse) string {
	t.Helper()

	var body handler.ErrorBody

	require.NoError(t, json.Unmarshal([]byte(resp.Body), &body))

	return body.Error
}

func assertCORSJSONHeaders(t *testing.T, headers map[string]string) {
	t.Helper()

	assert.Equal(t, "*", headers["Access-Control-Allow-Origin"])
	assert.Equal(t, "POST, OPTIONS, GET", headers["Access-Control-Allow-Methods"])
	assert.Equal(t, "Content-Type, Authorization, X-Requested-With, Accept", headers["Access-Control-Allow-Headers"])
	assert.Equal(t, "application/json", headers["Content-Type"])
}

func TestHandle_Preflight(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		event string
	}{
		{name: "rest api method", event: `{"httpMethod": "OPTIONS"}`},
		{name: "http api method", event: `{"requestContext": {"http": {"method": "OPTIONS"}}}`},
		{name: "route key", event: `{"requestContext": {"routeKey": "OPTIONS /tts"}}`},
		{name: "ignores text", event: `{"httpMethod": "OPTIONS", "text": "Hello"}`},
		{name: "ignores malformed body", event: `{"httpMethod": "OPTIONS", "body": "{not json"}`},
		{name: "ignores object text", event: `{"httpMethod": "OPTIONS", "text": {"a": 1}}`},
		{name: "ignores object body", event: `{"httpMethod": "OPTIONS", "body": {"text": "x"}}`},
		{
			name:  "ignores malformed base64 flag",
			event: `{"requestContext": {"routeKey": "OPTIONS /tts"}, "isBase64Encoded": "maybe"}`,
		},
		{
			name:  "ignores malformed http context",
			event: `{"httpMethod": "OPTIONS", "requestContext": {"http": "broken"}}`,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			fixture := setupTest(t, handler.Options{})

			resp := invoke(t, fixture.handler, testCase.event)

			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Empty(t, resp.Body)
			assert.Equal(t, "*", resp.Headers["Access-Control-Allow-Origin"])
			assert.Equal(t, "POST, OPTIONS, GET", resp.Headers["Access-Control-Allow-Methods"])
			assert.Equal(t, "Content-Type, Authorization, X-Requested-With, Accept",
				resp.Headers["Access-Control-Allow-Headers"])
			assert.Equal(t, "3600", resp.Headers["Access-Control-Max-Age"])
			assert.Zero(t, fixture.synthesizer.calls(), "preflight must not reach the provider")
			assert.Empty(t, fixture.store.uploadedKeys)
		})
	}
}

func TestHandle_NoText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		event string
	}{
		{name: "empty event", event: `{}`},
		{name: "empty payload", event: ``},
		{name: "null payload", event: `null`},
		{name: "empty top-level text", event: `{"text": ""}`},
		{name: "null top-level text", event: `{"text": null}`},
		{name: "empty body object", event: `{"body": "{}"}`},
		{name: "empty body text", event: `{"body": "{\"text\": \"\"}"}`},
		{name: "null body", event: `{"httpMethod": "POST", "body": null}`},
		{name: "body without text", event: `{"body": "{\"voice\": \"Joanna\"}"}`},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			fixture := setupTest(t, handler.Options{})

			resp := invoke(t, fixture.handler, testCase.event)

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "No text provided", decodeError(t, resp))
			assert.Equal(t, map[string]string{
				"Access-Control-Allow-Origin": "*",
				"Content-Type":                "application/json",
			}, resp.Headers)
			assert.Zero(t, fixture.synthesizer.calls())
		})
	}
}

func TestHandle_Success(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		event string
		text  string
	}{
		{name: "top-level text", event: `{"text": "Hello world"}`, text: "Hello world"},
		{
			name:  "json body",
			event: `{"httpMethod": "POST", "body": "{\"text\": \"Hello world\"}"}`,
			text:  "Hello world",
		},
		{
			name:  "top-level text wins over malformed body",
			event: `{"text": "Direct", "body": "{broken"}`,
			text:  "Direct",
		},
		{
			name:  "base64 body",
			event: `{"body": "eyJ0ZXh0IjogIkhlbGxvIHdvcmxkIn0=", "isBase64Encoded": true}`,
			text:  "Hello world",
		},
		{
			name:  "http api event",
			event: `{"requestContext": {"http": {"method": "POST"}}, "body": "{\"text\": \"Hi\"}"}`,
			text:  "Hi",
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			fixture := setupTest(t, handler.Options{})

			resp := invoke(t, fixture.handler, testCase.event)

			require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)
			assertCORSJSONHeaders(t, resp.Headers)

			var body handler.SuccessBody

			require.NoError(t, json.Unmarshal([]byte(resp.Body), &body))
			assert.Equal(t, "Audio generated successfully", body.Message)

			parsed, err := url.Parse(body.S3URL)
			require.NoError(t, err)
			assert.Equal(t, "https", parsed.Scheme)
			assert.True(t, strings.HasSuffix(parsed.Path, ".mp3"))

			require.Len(t, fixture.synthesizer.requests, 1)
			assert.Equal(t, core.SynthesisRequest{
				Text:         testCase.text,
				Voice:        "Joanna",
				OutputFormat: "mp3",
			}, fixture.synthesizer.requests[0])

			require.Len(t, fixture.store.uploadedKeys, 1)
			key := fixture.store.uploadedKeys[0]
			assert.Equal(t, "/"+key, parsed.Path)
			assert.Equal(t, []byte(testAudio), fixture.store.uploadedData[0])
			assert.Equal(t, filepath.Join(fixture.stagingDir, key), fixture.store.uploadedPaths[0])
			assert.Equal(t, []string{key}, fixture.store.presignedKeys)
			assert.Equal(t, time.Hour, fixture.store.presignedExpiry)
			assert.Equal(t, []string{key}, fixture.notifier.keys)

			_, statErr := os.Stat(fixture.store.uploadedPaths[0])
			assert.ErrorIs(t, statErr, os.ErrNotExist, "staged file should be removed after upload")
		})
	}
}

func TestHandle_SuccessBodyKeepsLiteralURL(t *testing.T) {
	t.Parallel()

	fixture := setupTest(t, handler.Options{})

	resp := invoke(t, fixture.handler, `{"text": "Hello world"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Contains(t, resp.Body, `"s3_url":`)
	assert.Contains(t, resp.Body, "&X-Amz-Expires=3600")
	assert.NotContains(t, resp.Body, `\u0026`)
}

func TestHandle_UniqueArtifactsForIdenticalText(t *testing.T) {
	t.Parallel()

	fixture := setupTest(t, handler.Options{})

	first := invoke(t, fixture.handler, `{"text": "Hello world"}`)
	second := invoke(t, fixture.handler, `{"text": "Hello world"}`)

	require.Equal(t, http.StatusOK, first.StatusCode)
	require.Equal(t, http.StatusOK, second.StatusCode)

	require.Len(t, fixture.store.uploadedKeys, 2)
	assert.NotEqual(t, fixture.store.uploadedKeys[0], fixture.store.uploadedKeys[1])
	assert.NotEqual(t, first.Body, second.Body)
}

func TestHandle_ConcurrentInvocations(t *testing.T) {
	t.Parallel()

	fixture := setupTest(t, handler.Options{})

	const invocations = 8

	var wg sync.WaitGroup

	statuses := make([]int, invocations)

	for i := range invocations {
		wg.Add(1)

		go func() {
			defer wg.Done()

			resp, err := fixture.handler.Handle(context.Background(), json.RawMessage(`{"text": "same"}`))
			if err == nil {
				statuses[i] = resp.StatusCode
			}
		}()
	}

	wg.Wait()

	for _, status := range statuses {
		assert.Equal(t, http.StatusOK, status)
	}

	seen := make(map[string]struct{}, invocations)
	for _, key := range fixture.store.uploadedKeys {
		seen[key] = struct{}{}
	}

	assert.Len(t, seen, invocations)
}

func TestHandle_MalformedBody(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		event string
	}{
		{name: "invalid json", event: `{"body": "{not json"}`},
		{name: "json array", event: `{"body": "[1, 2]"}`},
		{name: "invalid base64", event: `{"body": "%%%", "isBase64Encoded": true}`},
		{name: "event is not an object", event: `"just a string"`},
		{name: "empty body string", event: `{"httpMethod": "POST", "body": ""}`},
		{name: "json null body string", event: `{"httpMethod": "POST", "body": "null"}`},
		{name: "base64 json null body", event: `{"body": "bnVsbA==", "isBase64Encoded": true}`},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			fixture := setupTest(t, handler.Options{})

			resp := invoke(t, fixture.handler, testCase.event)

			assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
			assert.NotEmpty(t, decodeError(t, resp))
			assertCORSJSONHeaders(t, resp.Headers)
			assert.Zero(t, fixture.synthesizer.calls())
		})
	}
}

func TestHandle_SynthesisFailure(t *testing.T) {
	t.Parallel()

	fixture := setupTest(t, handler.Options{})
	fixture.synthesizer.synthesizeShouldFail = true

	resp := invoke(t, fixture.handler, `{"text": "Hello world"}`)

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, decodeError(t, resp), errMockSynthesize.Error())
	assertCORSJSONHeaders(t, resp.Headers)
	assert.Empty(t, fixture.store.uploadedKeys)
	assert.Empty(t, fixture.notifier.keys)
}

func TestHandle_UploadFailure(t *testing.T) {
	t.Parallel()

	fixture := setupTest(t, handler.Options{})
	fixture.store.uploadShouldFail = true

	resp := invoke(t, fixture.handler, `{"text": "Hello world"}`)

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, decodeError(t, resp), errMockUpload.Error())
	assert.Empty(t, fixture.store.presignedKeys)

	entries, err := os.ReadDir(fixture.stagingDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "staged file should be removed after a failed upload")
}

func TestHandle_PresignFailure(t *testing.T) {
	t.Parallel()

	fixture := setupTest(t, handler.Options{})
	fixture.store.presignShouldFail = true

	resp := invoke(t, fixture.handler, `{"text": "Hello world"}`)

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, decodeError(t, resp), errMockPresign.Error())
	assert.Len(t, fixture.store.uploadedKeys, 1, "upload happened before presigning failed")
	assert.Empty(t, fixture.notifier.keys)
}

func TestHandle_NotifierFailureDoesNotFailRequest(t *testing.T) {
	t.Parallel()

	fixture := setupTest(t, handler.Options{})
	fixture.notifier.notifyShouldFail = true

	resp := invoke(t, fixture.handler, `{"text": "Hello world"}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, fixture.notifier.keys, 1)
}

func TestHandle_MaxTextLength(t *testing.T) {
	t.Parallel()

	fixture := setupTest(t, handler.Options{MaxTextLength: 5})

	resp := invoke(t, fixture.handler, `{"text": "héllo"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "limit counts characters, not bytes")

	resp = invoke(t, fixture.handler, `{"text": "Hello world"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Text exceeds maximum length of 5 characters", decodeError(t, resp))
	assert.Equal(t, 1, fixture.synthesizer.calls())
}

func TestHandle_CustomVoiceAndExpiry(t *testing.T) {
	t.Parallel()

	fixture := setupTest(t, handler.Options{Voice: "Matthew", URLExpiry: 15 * time.Minute})

	resp := invoke(t, fixture.handler, `{"text": "Hello world"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "Matthew", fixture.synthesizer.requests[0].Voice)
	assert.Equal(t, 15*time.Minute, fixture.store.presignedExpiry)
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	testLogger, err := logger.New(t.TempDir(), "test-log.log")
	require.NoError(t, err)

	synth := &mockSynthesizer{}
	store := &mockArtifactStore{}

	tests := []struct {
		name    string
		deps    handler.Dependencies
		opts    handler.Options
		wantErr error
	}{
		{
			name:    "missing synthesizer",
			deps:    handler.Dependencies{Store: store, Log: testLogger},
			wantErr: handler.ErrSynthesizerNil,
		},
		{
			name:    "missing store",
			deps:    handler.Dependencies{Synthesizer: synth, Log: testLogger},
			wantErr: handler.ErrStoreNil,
		},
		{
			name:    "missing logger",
			deps:    handler.Dependencies{Synthesizer: synth, Store: store},
			wantErr: handler.ErrLoggerNil,
		},
		{
			name:    "negative text limit",
			deps:    handler.Dependencies{Synthesizer: synth, Store: store, Log: testLogger},
			opts:    handler.Options{MaxTextLength: -1},
			wantErr: handler.ErrMaxTextLengthNegative,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			_, err := handler.New(testCase.deps, testCase.opts)
			require.ErrorIs(t, err, testCase.wantErr)
		})
	}
}
