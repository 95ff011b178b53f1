package gqlpipe

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPLinkDefaultEndpoint(t *testing.T) {
	link, err := NewHTTPLink("")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3007/graphql", link.Endpoint())
}

func TestNewHTTPLinkRejectsInvalidEndpoint(t *testing.T) {
	for _, endpoint := range []string{"://nope", "ws://example.com/graphql", "http://"} {
		_, err := NewHTTPLink(endpoint)
		assert.ErrorIs(t, err, ErrInvalidEndpoint, endpoint)
	}
}

func TestHTTPLinkSendsJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "1", r.Header.Get("X-Trace"))

		var body requestBody
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Echo", body.OperationName)
		assert.Equal(t, "hi", body.Variables["message"])

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"data": {"echo": "hi"}}`))
	}))
	defer server.Close()

	link, err := NewHTTPLink(server.URL)
	require.NoError(t, err)

	op, err := NewOperation(context.Background(), `mutation Echo($message: String!) { echo(message: $message) }`,
		map[string]interface{}{"message": "hi"})
	require.NoError(t, err)
	op.SetContext(func(OperationContext) OperationContext {
		return OperationContext{"headers": http.Header{"X-Trace": {"1"}}}
	})

	result, err := execute(link, op).Next(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"echo": "hi"}`, string(result.Data))
	assert.Empty(t, result.Errors)
}

func TestHTTPLinkKeepsGraphQLErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": null, "errors": [
			{"message": "boom", "locations": [{"line": 1, "column": 3}], "path": ["errorQuery"]},
			{"message": "again"}
		]}`))
	}))
	defer server.Close()

	link, err := NewHTTPLink(server.URL)
	require.NoError(t, err)

	result, err := execute(link, mustOperation(t, `{ errorQuery }`)).Next(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, "boom", result.Errors[0].Message)
	assert.Equal(t, []Location{{Line: 1, Column: 3}}, result.Errors[0].Locations)
	assert.Equal(t, []interface{}{"errorQuery"}, result.Errors[0].Path)
}

func TestHTTPLinkNetworkErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/garbage" {
			w.Write([]byte(`<html>`))
			return
		}
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	link, err := NewHTTPLink(server.URL + "/graphql")
	require.NoError(t, err)
	_, err = execute(link, mustOperation(t, `{ hello }`)).Next(context.Background())
	var netErr *NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, http.StatusServiceUnavailable, netErr.StatusCode)
	assert.Contains(t, string(netErr.Body), "nope")

	link, err = NewHTTPLink(server.URL + "/garbage")
	require.NoError(t, err)
	_, err = execute(link, mustOperation(t, `{ hello }`)).Next(context.Background())
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, http.StatusOK, netErr.StatusCode)

	server.Close()
	_, err = execute(link, mustOperation(t, `{ hello }`)).Next(context.Background())
	require.True(t, errors.As(err, &netErr))
	assert.Zero(t, netErr.StatusCode)
}

func TestHTTPLinkMultipartUpload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data"))
		assert.Equal(t, "Bearer abc123", r.Header.Get("Authorization"))
		assert.NoError(t, r.ParseMultipartForm(1<<20))

		var ops map[string]interface{}
		assert.NoError(t, json.Unmarshal([]byte(r.FormValue("operations")), &ops))
		vars, _ := ops["variables"].(map[string]interface{})
		file, present := vars["file"]
		assert.True(t, present)
		assert.Nil(t, file)
		assert.Equal(t, "avatar", vars["kind"])
		assert.Equal(t, []interface{}{nil}, vars["extra"])

		var fileMap map[string][]string
		assert.NoError(t, json.Unmarshal([]byte(r.FormValue("map")), &fileMap))
		assert.Equal(t, map[string][]string{"0": {"variables.file"}, "1": {"variables.extra.0"}}, fileMap)

		f, header, err := r.FormFile("0")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		content, _ := io.ReadAll(f)
		assert.Equal(t, "me.png", header.Filename)
		assert.Equal(t, "image/png", header.Header.Get("Content-Type"))
		assert.Equal(t, "PNGDATA", string(content))

		f2, header2, err := r.FormFile("1")
		if !assert.NoError(t, err) {
			return
		}
		defer f2.Close()
		assert.Equal(t, "blob", header2.Filename)

		w.Write([]byte(`{"data": {"upload": true}}`))
	}))
	defer server.Close()

	link, err := NewHTTPLink(server.URL)
	require.NoError(t, err)
	op, err := NewOperation(context.Background(), `mutation Upload($file: Upload!, $kind: String, $extra: [Upload]) { upload(file: $file, kind: $kind, extra: $extra) }`,
		map[string]interface{}{
			"file":  &Upload{File: strings.NewReader("PNGDATA"), Filename: "me.png", ContentType: "image/png"},
			"kind":  "avatar",
			"extra": []interface{}{Upload{File: strings.NewReader("x")}},
		})
	require.NoError(t, err)
	op.SetContext(func(OperationContext) OperationContext {
		return OperationContext{"headers": AuthHeaders(func() string { return "abc123" })}
	})

	result, err := execute(link, op).Next(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"upload": true}`, string(result.Data))
	assert.IsType(t, &Upload{}, op.Variables["file"])
}

func TestExtractUploadsWithoutFiles(t *testing.T) {
	vars := map[string]interface{}{"a": 1, "nested": map[string]interface{}{"b": "c"}}
	out, files := extractUploads(vars)
	assert.Empty(t, files)
	assert.Equal(t, vars, out)

	out, files = extractUploads(nil)
	assert.Nil(t, out)
	assert.Empty(t, files)
}
