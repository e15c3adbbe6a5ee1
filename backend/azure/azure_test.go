package azure

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"

	"github.com/starford/odal"
)

func TestNewValidatesOptions(t *testing.T) {
	cases := map[string]Options{
		"missing credentials": {Container: "c"},
		"missing container":   {AccountName: "acct", AccountKey: "a2V5"},
	}
	for name, opts := range cases {
		if _, err := New(opts); !errors.Is(err, odal.ErrInvalidPath) {
			t.Errorf("%s: err = %v, want ErrInvalidPath", name, err)
		}
	}
}

func TestToKey(t *testing.T) {
	b := &Backend{container: "assets"}
	cases := map[string]string{
		"az://assets/d/f.txt": "d/f.txt",
		"assets/d/f.txt":      "d/f.txt",
		"assets":              "",
		"https://acct.blob.core.windows.net/assets/d/f.txt": "d/f.txt",
		"az://other/f.txt": "az://other/f.txt",
		"other/f.txt":      "other/f.txt",
	}
	for in, want := range cases {
		if got := b.ToKey(in); got != want {
			t.Errorf("ToKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsFolderMarker(t *testing.T) {
	cases := []struct {
		meta map[string]*string
		want bool
	}{
		{map[string]*string{"hdi_isfolder": to.Ptr("true")}, true},
		{map[string]*string{"Hdi_isfolder": to.Ptr("True")}, true},
		{map[string]*string{"hdi_isfolder": to.Ptr("false")}, false},
		{map[string]*string{"other": to.Ptr("true")}, false},
		{nil, false},
	}
	for _, tc := range cases {
		if got := isFolderMarker(tc.meta); got != tc.want {
			t.Errorf("isFolderMarker(%v) = %v, want %v", tc.meta, got, tc.want)
		}
	}
}

func TestMapError(t *testing.T) {
	cases := []struct {
		status int
		kind   error
	}{
		{404, odal.ErrNotFound},
		{403, odal.ErrPermissionDenied},
		{401, odal.ErrPermissionDenied},
		{409, odal.ErrAlreadyExists},
		{412, odal.ErrAlreadyExists},
		{500, odal.ErrBackendUnavailable},
		{503, odal.ErrBackendUnavailable},
	}
	for _, tc := range cases {
		err := &azcore.ResponseError{StatusCode: tc.status}
		if got := mapError(err, "p"); !errors.Is(got, tc.kind) {
			t.Errorf("mapError(status %d) = %v, want kind %v", tc.status, got, tc.kind)
		}
	}
	if got := mapError(errors.New("dial tcp: refused"), "p"); !errors.Is(got, odal.ErrBackendUnavailable) {
		t.Errorf("transport error = %v, want ErrBackendUnavailable", got)
	}
}

func TestWriteNoOverwriteFailsBeforeUpload(t *testing.T) {
	var mu sync.Mutex
	var uploads int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodHead:
			// The target exists.
			w.Header().Set("ETag", `"0x1"`)
			w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
			w.Header().Set("Content-Length", "3")
			w.WriteHeader(http.StatusOK)
		case http.MethodPut:
			uploads++
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	b, err := New(Options{
		AccountName:      "acct",
		AccountKey:       "a2V5",
		Container:        "c",
		BlobEndpoint:     srv.URL,
		DatalakeEndpoint: srv.URL,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = b.Write(context.Background(), "f.txt", strings.NewReader("new"), false)
	if !errors.Is(err, odal.ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if uploads != 0 {
		t.Errorf("uploads = %d, want 0 (no byte transferred to an existing target)", uploads)
	}
}

func TestCapabilitiesExcludeGlob(t *testing.T) {
	b := &Backend{}
	if b.Capabilities().Supports(odal.CapGlob) {
		t.Error("glob should be undeclared")
	}
	if !b.Capabilities().Supports(odal.CapMove) {
		t.Error("move should be declared")
	}
}
