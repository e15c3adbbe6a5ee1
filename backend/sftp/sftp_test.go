package sftp

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/starford/odal"
)

func TestOptionsValidate(t *testing.T) {
	valid := Options{
		Host:                  "files.example.com",
		User:                  "deploy",
		Password:              "secret",
		InsecureIgnoreHostKey: true,
	}
	if err := valid.validate(); err != nil {
		t.Fatalf("valid options rejected: %v", err)
	}

	cases := map[string]Options{
		"missing host": {User: "u", Password: "p", InsecureIgnoreHostKey: true},
		"missing user": {Host: "h", Password: "p", InsecureIgnoreHostKey: true},
		"missing auth": {Host: "h", User: "u", InsecureIgnoreHostKey: true},
		"missing host key policy": {Host: "h", User: "u", Password: "p"},
	}
	for name, opts := range cases {
		if err := opts.validate(); !errors.Is(err, odal.ErrInvalidPath) {
			t.Errorf("%s: err = %v, want ErrInvalidPath", name, err)
		}
	}
}

func TestToKey(t *testing.T) {
	b := &Backend{base: "/srv/data"}
	cases := map[string]string{
		"/srv/data/d/f.txt":                  "d/f.txt",
		"/srv/data":                          "",
		"sftp://files.example.com/srv/data/x": "x",
		"/other/f.txt":                       "/other/f.txt",
	}
	for in, want := range cases {
		if got := b.ToKey(in); got != want {
			t.Errorf("ToKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestToKeyRootBase(t *testing.T) {
	b := &Backend{base: "/"}
	if got := b.ToKey("/d/f.txt"); got != "d/f.txt" {
		t.Errorf("ToKey = %q", got)
	}
}

func TestRemote(t *testing.T) {
	b := &Backend{base: "/srv/data"}
	if got := b.remote("d/f.txt"); got != "/srv/data/d/f.txt" {
		t.Errorf("remote = %q", got)
	}
	if got := b.remote(""); got != "/srv/data" {
		t.Errorf("remote(\"\") = %q", got)
	}
}

func TestMapError(t *testing.T) {
	cases := []struct {
		err  error
		kind error
	}{
		{fs.ErrNotExist, odal.ErrNotFound},
		{fs.ErrPermission, odal.ErrPermissionDenied},
		{fs.ErrExist, odal.ErrAlreadyExists},
		{errors.New("connection lost"), odal.ErrBackendUnavailable},
	}
	for _, tc := range cases {
		if got := mapError(tc.err, "p"); !errors.Is(got, tc.kind) {
			t.Errorf("mapError(%v) = %v, want kind %v", tc.err, got, tc.kind)
		}
	}
}

func TestCapabilitiesExcludeGlob(t *testing.T) {
	b := &Backend{}
	if b.Capabilities().Supports(odal.CapGlob) {
		t.Error("glob should be undeclared")
	}
	if !b.Capabilities().Supports(odal.CapAtomicWrite) {
		t.Error("atomic_write should be declared")
	}
}
