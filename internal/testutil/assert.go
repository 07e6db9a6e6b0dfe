// Package testutil holds shared test helpers, fixtures and in-memory fakes.
package testutil

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

// AssertNoError checks that no error occurred
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Errorf("Expected no error but got: %v", err)
	}
}

// AssertError checks if error matches expected
func AssertError(t *testing.T, err error, expected string) {
	t.Helper()
	if err == nil {
		t.Errorf("Expected error %q but got nil", expected)
		return
	}
	if err.Error() != expected {
		t.Errorf("Expected error %q but got %q", expected, err.Error())
	}
}

// AssertErrorIs checks that err wraps target
func AssertErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Errorf("Expected error matching %v but got %v", target, err)
	}
}

// AssertEqual checks if two values are equal
func AssertEqual(t *testing.T, got, want interface{}) {
	t.Helper()
	if !equalValues(got, want) {
		t.Errorf("Expected %v but got %v", want, got)
	}
}

// equalValues uses == for comparable values and falls back to
// reflect.DeepEqual for uncomparable ones (slices, maps, funcs), where
// == on interface values would panic at runtime.
func equalValues(got, want interface{}) bool {
	if got != nil && want != nil && reflect.TypeOf(got) == reflect.TypeOf(want) && !reflect.TypeOf(got).Comparable() {
		return reflect.DeepEqual(got, want)
	}
	return got == want
}

// AssertTrue checks a boolean condition
func AssertTrue(t *testing.T, cond bool, msg string) {
	t.Helper()
	if !cond {
		t.Error(msg)
	}
}

// AssertContains checks if string contains substring
func AssertContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Errorf("Expected %q to contain %q", haystack, needle)
	}
}

// NewMockDB creates a mock database for testing
func NewMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock DB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

// NewJSONRequest creates an HTTP request with JSON body
func NewJSONRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		jsonBytes, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal JSON: %v", err)
		}
		bodyReader = bytes.NewReader(jsonBytes)
	}

	req := httptest.NewRequest(method, url, bodyReader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// ParseJSONResponse parses JSON response body
func ParseJSONResponse(t *testing.T, resp *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		t.Fatalf("Failed to decode JSON response: %v", err)
	}
}

// AssertStatusCode checks HTTP response status code
func AssertStatusCode(t *testing.T, resp *httptest.ResponseRecorder, want int) {
	t.Helper()
	if resp.Code != want {
		t.Errorf("Expected status code %d but got %d (body: %s)", want, resp.Code, resp.Body.String())
	}
}

// AssertJSONContentType checks Content-Type header
func AssertJSONContentType(t *testing.T, resp *httptest.ResponseRecorder) {
	t.Helper()
	contentType := resp.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("Expected Content-Type application/json but got %s", contentType)
	}
}

// StringPtr returns a pointer to the given string
func StringPtr(s string) *string {
	return &s
}

// IntPtr returns a pointer to the given int
func IntPtr(i int) *int {
	return &i
}
