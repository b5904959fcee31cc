package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/hibi/internal/apperr"
	"github.com/starford/hibi/internal/diaryservice"
	"github.com/starford/hibi/internal/guard"
	"github.com/starford/hibi/internal/syncer"
	"github.com/starford/hibi/internal/testutil"
)

type testEnv struct {
	svc    *diaryservice.Service
	runner *testutil.FakeRunner
	repo   string
	site   string
	router http.Handler
}

func newTestEnv(t *testing.T, runner *testutil.FakeRunner, locator syncer.Locator, opts SiteOptions) *testEnv {
	t.Helper()
	repo := testutil.TestRepo(t)
	if locator == nil {
		locator = syncer.Static(repo)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	seq := syncer.New(locator, runner, syncer.Options{}, logger)
	svc := diaryservice.New(guard.New(), seq, testutil.TestDB(t), diaryservice.WithLogger(logger))

	site := t.TempDir()
	if err := os.WriteFile(filepath.Join(site, "index.html"), []byte("<form>diary</form>"), 0o644); err != nil {
		t.Fatal(err)
	}
	if opts.StaticRoot == "" {
		opts.StaticRoot = site
	}

	return &testEnv{
		svc:    svc,
		runner: runner,
		repo:   repo,
		site:   site,
		router: NewSite(svc, opts),
	}
}

func postDiary(router http.Handler, title, content, date string) *httptest.ResponseRecorder {
	form := url.Values{}
	if title != "" {
		form.Set("title", title)
	}
	if content != "" {
		form.Set("content", content)
	}
	if date != "" {
		form.Set("date", date)
	}
	req := httptest.NewRequest(http.MethodPost, "/diary", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func get(router http.Handler, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestPostDiary_Success(t *testing.T) {
	env := newTestEnv(t, &testutil.FakeRunner{}, nil, SiteOptions{})

	w := postDiary(env.router, "Hello", "Body text", "2024-03-05")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "updated!") {
		t.Errorf("missing acknowledgment: %s", w.Body.String())
	}

	data, err := os.ReadFile(filepath.Join(env.repo, "2024", "03", "05.md"))
	if err != nil {
		t.Fatal(err)
	}
	if want := "---\ntitle: Hello\n---\n\nBody text"; string(data) != want {
		t.Errorf("file = %q, want %q", data, want)
	}

	want := "git pull origin main\ngit add -A\ngit commit --all -m 2024/03/05 (from web)\ngit push origin HEAD"
	if got := env.runner.CommandLines(); got != want {
		t.Errorf("commands:\n%s\nwant:\n%s", got, want)
	}
}

func TestPostDiary_Multipart(t *testing.T) {
	env := newTestEnv(t, &testutil.FakeRunner{}, nil, SiteOptions{})

	body := "--b\r\nContent-Disposition: form-data; name=\"title\"\r\n\r\nT\r\n" +
		"--b\r\nContent-Disposition: form-data; name=\"content\"\r\n\r\nC\r\n" +
		"--b\r\nContent-Disposition: form-data; name=\"date\"\r\n\r\n2024-01-02\r\n--b--\r\n"
	req := httptest.NewRequest(http.MethodPost, "/diary", strings.NewReader(body))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=b")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestPostDiary_Malformed(t *testing.T) {
	cases := []struct {
		name                 string
		title, content, date string
	}{
		{"slashes", "t", "c", "2024/03/05"},
		{"two components", "t", "c", "2024-03"},
		{"letters", "t", "c", "abcd-ef-gh"},
		{"traversal", "t", "c", "../../-01-01"},
		{"missing date", "t", "c", ""},
		{"missing title", "", "c", "2024-03-05"},
		{"missing content", "t", "", "2024-03-05"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, &testutil.FakeRunner{}, nil, SiteOptions{})
			w := postDiary(env.router, tc.title, tc.content, tc.date)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if n := len(env.runner.Calls()); n != 0 {
				t.Errorf("git invoked %d times", n)
			}
			if env.svc.Guard().Busy() {
				t.Error("guard left held")
			}
		})
	}
}

func TestPostDiary_BodyTooLarge(t *testing.T) {
	env := newTestEnv(t, &testutil.FakeRunner{}, nil, SiteOptions{})
	w := postDiary(env.router, "t", strings.Repeat("x", maxFormBytes+1), "2024-03-05")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if n := len(env.runner.Calls()); n != 0 {
		t.Errorf("git invoked %d times", n)
	}
}

func TestPostDiary_PushFailure(t *testing.T) {
	runner := &testutil.FakeRunner{FailOn: map[string]string{"push": "! [rejected] HEAD -> main (fetch first)"}}
	env := newTestEnv(t, runner, nil, SiteOptions{})

	w := postDiary(env.router, "t", "c", "2024-03-05")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "failed to run command: git push origin HEAD") {
		t.Errorf("missing failed command: %s", body)
	}
	if !strings.Contains(body, "[rejected]") {
		t.Errorf("missing stderr: %s", body)
	}
	// Local state stays in place.
	if _, err := os.Stat(filepath.Join(env.repo, "2024", "03", "05.md")); err != nil {
		t.Errorf("entry file missing after push failure: %v", err)
	}
}

func TestPostDiary_PullFailureShortCircuits(t *testing.T) {
	runner := &testutil.FakeRunner{FailOn: map[string]string{"pull": "fatal: couldn't find remote ref main"}}
	env := newTestEnv(t, runner, nil, SiteOptions{})

	w := postDiary(env.router, "t", "c", "2024-03-05")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if got := env.runner.Subcommands(); len(got) != 1 || got[0] != "pull" {
		t.Errorf("subcommands = %v, want [pull]", got)
	}
	if _, err := os.Stat(filepath.Join(env.repo, "2024")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("entry written despite pull failure: %v", err)
	}
}

func TestPostDiary_StderrNeutralized(t *testing.T) {
	stderr := "\x1b[31merror:\x1b[0m <script>alert(1)</script> & more\r\nReceiving objects: 50%\rReceiving objects: 100%\b\a\x7f\tdone"
	runner := &testutil.FakeRunner{FailOn: map[string]string{"commit": stderr}}
	env := newTestEnv(t, runner, nil, SiteOptions{})

	w := postDiary(env.router, "t", "c", "2024-03-05")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	body := w.Body.String()
	if strings.Contains(body, "\x1b") {
		t.Error("escape sequence leaked into page")
	}
	if strings.Contains(body, "<script>alert") {
		t.Error("stderr embedded unescaped")
	}
	if !strings.Contains(body, "&lt;script&gt;alert(1)&lt;/script&gt;") {
		t.Errorf("escaped stderr missing: %s", body)
	}
	if strings.ContainsAny(body, "\r\b\a\x7f") {
		t.Errorf("control characters leaked into page: %q", body)
	}
	if !strings.Contains(body, "Receiving objects: 50% Receiving objects: 100%") {
		t.Errorf("progress output not preserved: %q", body)
	}
	if !strings.Contains(body, "\tdone") {
		t.Errorf("tab not preserved: %q", body)
	}
}

func TestCleanOutput(t *testing.T) {
	got := cleanOutput([]byte("a\rb\x00c\x1b[1md\x1b[0m\n\te\xff"))
	if want := "a b c d\n\te\uFFFD"; got != want {
		t.Errorf("cleanOutput = %q, want %q", got, want)
	}
}

func TestPostDiary_ConfigurationMissing(t *testing.T) {
	locator := syncer.EnvLocator{Env: "HIBI_TEST_UNSET_REPOSITORY"}
	env := newTestEnv(t, &testutil.FakeRunner{}, locator, SiteOptions{})

	w := postDiary(env.router, "t", "c", "2024-03-05")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if !strings.Contains(w.Body.String(), apperr.ErrConfigurationMissing.Error()) {
		t.Errorf("body = %s", w.Body.String())
	}
	if n := len(env.runner.Calls()); n != 0 {
		t.Errorf("git invoked %d times", n)
	}
}

func TestPostDiary_RecoversAfterMissingRepository(t *testing.T) {
	var path atomic.Pointer[string]
	missing := filepath.Join(t.TempDir(), "absent")
	path.Store(&missing)
	locator := syncer.LocatorFunc(func() (string, error) { return *path.Load(), nil })
	env := newTestEnv(t, &testutil.FakeRunner{}, locator, SiteOptions{})

	w := postDiary(env.router, "t", "first", "2024-03-05")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("first status = %d, want 500", w.Code)
	}
	if n := len(env.runner.Calls()); n != 0 {
		t.Errorf("git invoked %d times for missing repository", n)
	}
	if _, err := os.Stat(missing); !os.IsNotExist(err) {
		t.Error("missing repository was created")
	}

	path.Store(&env.repo)
	w = postDiary(env.router, "t", "second", "2024-03-05")
	if w.Code != http.StatusOK {
		t.Fatalf("second status = %d, body = %s", w.Code, w.Body.String())
	}
	data, err := os.ReadFile(filepath.Join(env.repo, "2024", "03", "05.md"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(string(data), "second") {
		t.Errorf("entry = %q", data)
	}
	if got := env.runner.Subcommands(); len(got) != 4 {
		t.Errorf("subcommands = %v, want pull add commit push", got)
	}
}

func TestPostDiary_BusyWhileRunning(t *testing.T) {
	entered := make(chan struct{})
	unblock := make(chan struct{})
	var once sync.Once
	runner := &testutil.FakeRunner{
		Hook: func(_ context.Context, _ string, args []string) {
			if args[0] == "pull" {
				once.Do(func() { close(entered) })
				<-unblock
			}
		},
	}
	env := newTestEnv(t, runner, nil, SiteOptions{})

	first := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		first <- postDiary(env.router, "a", "a", "2024-03-05")
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first request never reached git")
	}

	w := postDiary(env.router, "b", "b", "2024-03-06")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("second status = %d, want 503", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}

	// Static files and status never wait on the guard.
	if w := get(env.router, "/"); w.Code != http.StatusOK {
		t.Errorf("static while busy = %d", w.Code)
	}
	sw := get(env.router, "/api/status")
	var st StatusResponse
	_ = json.Unmarshal(sw.Body.Bytes(), &st)
	if !st.Busy {
		t.Error("status should report busy")
	}

	close(unblock)
	if w := <-first; w.Code != http.StatusOK {
		t.Fatalf("first status = %d, body = %s", w.Code, w.Body.String())
	}
	if _, err := os.Stat(filepath.Join(env.repo, "2024", "03", "06.md")); !errors.Is(err, os.ErrNotExist) {
		t.Error("refused submission wrote a file")
	}

	if w := postDiary(env.router, "c", "c", "2024-03-07"); w.Code != http.StatusOK {
		t.Errorf("after release status = %d", w.Code)
	}
}

func TestStaticFiles(t *testing.T) {
	env := newTestEnv(t, &testutil.FakeRunner{}, nil, SiteOptions{})

	w := get(env.router, "/")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "<form>diary</form>") {
		t.Errorf("GET / = %d %q", w.Code, w.Body.String())
	}
	if w := get(env.router, "/missing.css"); w.Code != http.StatusNotFound {
		t.Errorf("missing file = %d, want 404", w.Code)
	}
}

func TestStaticFiles_CustomIndex(t *testing.T) {
	site := t.TempDir()
	if err := os.WriteFile(filepath.Join(site, "home.htm"), []byte("home"), 0o644); err != nil {
		t.Fatal(err)
	}
	h := StaticHandler(site, "home.htm")
	w := get(h, "/")
	if w.Code != http.StatusOK || w.Body.String() != "home" {
		t.Errorf("GET / = %d %q", w.Code, w.Body.String())
	}
}

func TestStaticFiles_NoRoot(t *testing.T) {
	if w := get(StaticHandler("", ""), "/"); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestDiaryGetNotAllowed(t *testing.T) {
	env := newTestEnv(t, &testutil.FakeRunner{}, nil, SiteOptions{})
	w := get(env.router, "/diary")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /diary = %d, want 405", w.Code)
	}
	if got := w.Header().Get("Allow"); got != http.MethodPost {
		t.Errorf("Allow = %q, want POST", got)
	}

	req := httptest.NewRequest(http.MethodDelete, "/diary", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("DELETE /diary = %d, want 405", rec.Code)
	}
	if len(env.runner.Calls()) != 0 {
		t.Errorf("git invoked: %s", env.runner.CommandLines())
	}
}

func TestEntriesAPI(t *testing.T) {
	env := newTestEnv(t, &testutil.FakeRunner{}, nil, SiteOptions{})
	for _, d := range []string{"2024-03-05", "2024-03-06"} {
		if w := postDiary(env.router, "Title "+d, "walked the dog", d); w.Code != http.StatusOK {
			t.Fatalf("post %s = %d", d, w.Code)
		}
	}

	w := get(env.router, "/api/entries")
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	var list EntryListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if list.Total != 2 || list.Entries[0].Date != "2024-03-06" {
		t.Errorf("list = %+v", list)
	}

	w = get(env.router, "/api/entries/2024/03/05")
	if w.Code != http.StatusOK {
		t.Fatalf("get = %d", w.Code)
	}
	var entry EntryDetail
	_ = json.Unmarshal(w.Body.Bytes(), &entry)
	if entry.Title != "Title 2024-03-05" || entry.Path != "2024/03/05.md" {
		t.Errorf("entry = %+v", entry)
	}

	if w := get(env.router, "/api/entries/2020/01/01"); w.Code != http.StatusNotFound {
		t.Errorf("missing entry = %d, want 404", w.Code)
	}
	if w := get(env.router, "/api/entries/20/1/1"); w.Code != http.StatusBadRequest {
		t.Errorf("bad date = %d, want 400", w.Code)
	}

	w = get(env.router, "/api/search?q=dog")
	var sr SearchResponse
	_ = json.Unmarshal(w.Body.Bytes(), &sr)
	if w.Code != http.StatusOK || len(sr.Results) != 2 {
		t.Errorf("search = %d %+v", w.Code, sr)
	}
	if w := get(env.router, "/api/search"); w.Code != http.StatusBadRequest {
		t.Errorf("search no query = %d, want 400", w.Code)
	}

	w = get(env.router, "/api/runs")
	var runs RunListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &runs)
	if len(runs.Runs) != 2 {
		t.Errorf("runs = %+v", runs)
	}
}

func TestAuthMiddleware_Token(t *testing.T) {
	env := newTestEnv(t, &testutil.FakeRunner{}, nil, SiteOptions{AuthEnabled: true, AuthToken: "secret123"})

	if w := get(env.router, "/api/status"); w.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer secret123")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("valid token = %d, want 200", w.Code)
	}

	// The form endpoint and static site are not behind API auth.
	if w := postDiary(env.router, "t", "c", "2024-03-05"); w.Code != http.StatusOK {
		t.Errorf("POST /diary with auth enabled = %d", w.Code)
	}
	if w := get(env.router, "/"); w.Code != http.StatusOK {
		t.Errorf("static with auth enabled = %d", w.Code)
	}
}

func TestSSEEvents_AuthProtected(t *testing.T) {
	env := newTestEnv(t, &testutil.FakeRunner{}, nil, SiteOptions{AuthEnabled: true, AuthToken: "secret", Events: blockingSSE()})
	if w := get(env.router, "/api/events"); w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_AuthDisabled(t *testing.T) {
	env := newTestEnv(t, &testutil.FakeRunner{}, nil, SiteOptions{Events: blockingSSE()})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("SSE = %d, want 200", w.Code)
	}
}

// blockingSSE writes stream headers and blocks until the request ends.
func blockingSSE() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	})
}
