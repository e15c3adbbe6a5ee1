package s3

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/starford/odal"
)

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Options{})
	if !errors.Is(err, odal.ErrInvalidPath) {
		t.Errorf("err = %v, want ErrInvalidPath", err)
	}
}

func TestToKey(t *testing.T) {
	b := NewWithClient(nil, "my-bucket")
	cases := map[string]string{
		"my-bucket/d/f.txt":       "d/f.txt",
		"s3://my-bucket/d/f.txt":  "d/f.txt",
		"my-bucket":               "",
		"s3://my-bucket":          "",
		"other-bucket/d/f.txt":    "other-bucket/d/f.txt",
		"s3://other-bucket/f.txt": "s3://other-bucket/f.txt",
	}
	for in, want := range cases {
		if got := b.ToKey(in); got != want {
			t.Errorf("ToKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsNotFound(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&types.NoSuchKey{}, true},
		{&types.NotFound{}, true},
		{&smithy.GenericAPIError{Code: "NotFound"}, true},
		{&smithy.GenericAPIError{Code: "NoSuchKey"}, true},
		{&smithy.GenericAPIError{Code: "AccessDenied"}, false},
		{errors.New("dial tcp: connection refused"), false},
	}
	for _, tc := range cases {
		if got := isNotFound(tc.err); got != tc.want {
			t.Errorf("isNotFound(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestMapError(t *testing.T) {
	cases := []struct {
		err  error
		kind error
	}{
		{&types.NoSuchKey{}, odal.ErrNotFound},
		{&types.NoSuchBucket{}, odal.ErrNotFound},
		{&smithy.GenericAPIError{Code: "AccessDenied"}, odal.ErrPermissionDenied},
		{&smithy.GenericAPIError{Code: "Forbidden"}, odal.ErrPermissionDenied},
		{&smithy.GenericAPIError{Code: "SlowDown"}, odal.ErrBackendUnavailable},
		{errors.New("dial tcp: connection refused"), odal.ErrBackendUnavailable},
	}
	for _, tc := range cases {
		if got := mapError(tc.err, "d/f.txt"); !errors.Is(got, tc.kind) {
			t.Errorf("mapError(%v) = %v, want kind %v", tc.err, got, tc.kind)
		}
	}
}

func TestMapErrorPreservesNormalized(t *testing.T) {
	in := odal.NewAlreadyExists(backendName, "x")
	if got := mapError(in, "x"); !errors.Is(got, odal.ErrAlreadyExists) {
		t.Errorf("already-normalized error was remapped to %v", got)
	}
}
