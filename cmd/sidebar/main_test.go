package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/odvcencio/sidebar/pkg/config"
	sberrors "github.com/odvcencio/sidebar/pkg/errors"
	"github.com/odvcencio/sidebar/pkg/server"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Chdir(dir)
	return dir
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "sidebar.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func fileServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDispatchVersionAndHelp(t *testing.T) {
	var out, errb bytes.Buffer
	if code := dispatch([]string{"version"}, &out, &errb); code != 0 {
		t.Fatalf("version exit=%d", code)
	}
	if !strings.Contains(out.String(), "sidebar "+version) {
		t.Fatalf("version output=%q", out.String())
	}

	out.Reset()
	if code := dispatch([]string{"help"}, &out, &errb); code != 0 {
		t.Fatalf("help exit=%d", code)
	}
	if !strings.Contains(out.String(), "inspect") {
		t.Fatalf("help should list inspect: %q", out.String())
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	var out, errb bytes.Buffer
	if code := dispatch([]string{"frobnicate"}, &out, &errb); code != exitUsage {
		t.Fatalf("exit=%d want %d", code, exitUsage)
	}
	if code := dispatch(nil, &out, &errb); code != exitUsage {
		t.Fatalf("no args exit=%d want %d", code, exitUsage)
	}
}

func TestExitCodeForError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{errors.New("boom"), exitFailure},
		{withExitCode(errors.New("bad"), exitUsage), exitUsage},
		{sberrors.New(sberrors.ErrCodeConfigInvalid, "nope"), exitConfig},
		{withExitCode(sberrors.New(sberrors.ErrCodeNotFound, "gone"), exitFetch), exitFetch},
	}
	for _, tc := range cases {
		if got := exitCodeForError(tc.err); got != tc.want {
			t.Fatalf("exitCodeForError(%v)=%d want %d", tc.err, got, tc.want)
		}
	}
}

func TestInspectPrintsView(t *testing.T) {
	dir := isolate(t)
	srv := fileServer(t, http.StatusOK, `{"id":"f1","name":"a.txt"}`)
	path := writeConfig(t, dir, "transport:\n  api_host: "+srv.URL+"\ncapabilities:\n  has_activity_feed: true\n")

	var out, errb bytes.Buffer
	if code := dispatch([]string{"inspect", "-config", path, "f1"}, &out, &errb); code != 0 {
		t.Fatalf("exit=%d stderr=%s", code, errb.String())
	}
	if !strings.Contains(out.String(), `"target_id": "f1"`) {
		t.Fatalf("missing target in output: %s", out.String())
	}
	if !strings.Contains(out.String(), `"activity"`) {
		t.Fatalf("expected activity panel: %s", out.String())
	}
}

func TestInspectNothingToRender(t *testing.T) {
	dir := isolate(t)
	srv := fileServer(t, http.StatusOK, `{"id":"f1"}`)
	path := writeConfig(t, dir, "transport:\n  api_host: "+srv.URL+"\ncapabilities:\n  has_skills: true\n")

	var out, errb bytes.Buffer
	if code := dispatch([]string{"inspect", "-config", path, "f1"}, &out, &errb); code != 0 {
		t.Fatalf("exit=%d stderr=%s", code, errb.String())
	}
	if out.Len() != 0 {
		t.Fatalf("expected no output, got %q", out.String())
	}
}

func TestInspectFetchError(t *testing.T) {
	dir := isolate(t)
	srv := fileServer(t, http.StatusNotFound, `{"message":"gone"}`)
	path := writeConfig(t, dir, "transport:\n  api_host: "+srv.URL+"\ncapabilities:\n  has_activity_feed: true\n")

	var out, errb bytes.Buffer
	if code := dispatch([]string{"inspect", "-config", path, "f1"}, &out, &errb); code != exitFetch {
		t.Fatalf("exit=%d want %d stderr=%s", code, exitFetch, errb.String())
	}
	if !strings.Contains(errb.String(), "Error:") {
		t.Fatalf("expected error on stderr: %s", errb.String())
	}
}

func TestInspectUsage(t *testing.T) {
	isolate(t)
	var out, errb bytes.Buffer
	if code := dispatch([]string{"inspect"}, &out, &errb); code != exitUsage {
		t.Fatalf("exit=%d want %d", code, exitUsage)
	}
}

func TestInvalidConfigExitCode(t *testing.T) {
	dir := isolate(t)
	path := writeConfig(t, dir, "transport:\n  api_host: ftp://example.com\n")

	var out, errb bytes.Buffer
	if code := dispatch([]string{"inspect", "-config", path, "f1"}, &out, &errb); code != exitConfig {
		t.Fatalf("exit=%d want %d", code, exitConfig)
	}
	if code := dispatch([]string{"config", "check", "-config", path}, &out, &errb); code != exitConfig {
		t.Fatalf("config check exit=%d want %d", code, exitConfig)
	}
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	dir := isolate(t)
	path := writeConfig(t, dir, "transport:\n  token: s3cret\n  shared_link: https://app.box.com/s/x\n  shared_link_password: pw\nserver:\n  auth_token: api-key-9\n")

	var out, errb bytes.Buffer
	if code := dispatch([]string{"config", "show", "-config", path}, &out, &errb); code != 0 {
		t.Fatalf("exit=%d stderr=%s", code, errb.String())
	}
	if strings.Contains(out.String(), "s3cret") || strings.Contains(out.String(), "password: pw") || strings.Contains(out.String(), "api-key-9") {
		t.Fatalf("secrets leaked: %s", out.String())
	}
	if !strings.Contains(out.String(), redacted) {
		t.Fatalf("expected redaction marker: %s", out.String())
	}
}

func TestConfigCheckWarnings(t *testing.T) {
	isolate(t)
	var out, errb bytes.Buffer
	if code := dispatch([]string{"config", "check"}, &out, &errb); code != 0 {
		t.Fatalf("exit=%d stderr=%s", code, errb.String())
	}
	if !strings.Contains(out.String(), "Warnings:") {
		t.Fatalf("expected token warning: %s", out.String())
	}
}

type fakeServer struct {
	started bool
	cfgs    []*config.Config
}

func (f *fakeServer) Start(ctx context.Context) error {
	f.started = true
	return nil
}

func (f *fakeServer) SetConfig(cfg *config.Config) {
	f.cfgs = append(f.cfgs, cfg)
}

func TestServeWiresServer(t *testing.T) {
	isolate(t)
	fake := &fakeServer{}
	var got server.Options
	prev := serveNewServerFn
	serveNewServerFn = func(opts server.Options) sidebarServer {
		got = opts
		return fake
	}
	t.Cleanup(func() { serveNewServerFn = prev })

	var out, errb bytes.Buffer
	if code := dispatch([]string{"serve", "-addr", "127.0.0.1:0"}, &out, &errb); code != 0 {
		t.Fatalf("exit=%d stderr=%s", code, errb.String())
	}
	if !fake.started {
		t.Fatalf("server was not started")
	}
	if got.Config == nil || got.Config.Server.Address != "127.0.0.1:0" {
		t.Fatalf("address override not applied: %+v", got.Config)
	}
	if got.Cache == nil || got.Hub == nil || got.Logger == nil {
		t.Fatalf("runtime collaborators missing: %+v", got)
	}
}
