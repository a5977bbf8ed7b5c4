package http

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"spendly/internal/core"
	"spendly/internal/events"
	"spendly/internal/feed"
	"spendly/internal/gateway"
	"spendly/internal/identity"
	"spendly/internal/log"
	"spendly/internal/store"
	"spendly/internal/store/memory"
)

type testEnv struct {
	srv  *Server
	live *store.Live
	idp  *identity.Provider
	feed *feed.Feed
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	live := store.NewLive(memory.New(), events.NewLocal(), log.Discard())
	idp, err := identity.NewProvider(live, identity.Options{
		Secret:     []byte("test-secret-0123456789"),
		BcryptCost: bcrypt.MinCost,
	}, log.Discard())
	if err != nil {
		t.Fatal(err)
	}
	f := feed.New(live, log.Discard())
	srv, err := NewServer(Options{Addr: ":0", RateLimitPerMinute: 1000}, Deps{
		Identity: idp,
		Expenses: f,
		Gateway:  gateway.New(live, 0, log.Discard()),
		Ready:    func(context.Context) error { return nil },
		Logger:   log.Discard(),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		srv.beginShutdown()
		srv.limiter.Stop()
		live.Close()
	})
	return &testEnv{srv: srv, live: live, idp: idp, feed: f}
}

// browser replays cookies between requests like a real client.
type browser struct {
	t       *testing.T
	h       http.Handler
	cookies map[string]*http.Cookie
}

func (e *testEnv) browser(t *testing.T) *browser {
	return &browser{t: t, h: e.srv.Handler, cookies: map[string]*http.Cookie{}}
}

func (b *browser) do(method, target string, form url.Values, htmx bool) *httptest.ResponseRecorder {
	b.t.Helper()
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if htmx {
		req.Header.Set("HX-Request", "true")
	}
	for _, c := range b.cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	b.h.ServeHTTP(rr, req)
	for _, c := range rr.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(b.cookies, c.Name)
		} else {
			b.cookies[c.Name] = c
		}
	}
	return rr
}

func (b *browser) get(target string) *httptest.ResponseRecorder {
	return b.do(http.MethodGet, target, nil, false)
}

// signUp registers directly with the provider and signs in over HTTP.
func (e *testEnv) signUp(t *testing.T, email string) (*browser, *identity.User) {
	t.Helper()
	u, err := e.idp.Register(context.Background(), email, "secret1")
	if err != nil {
		t.Fatal(err)
	}
	b := e.browser(t)
	rr := b.do(http.MethodPost, "/login", url.Values{"email": {email}, "password": {"secret1"}}, false)
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/dashboard" {
		t.Fatalf("login = %d %q", rr.Code, rr.Header().Get("Location"))
	}
	return b, u
}

func (e *testEnv) expenses(t *testing.T, ownerID string) feed.Snapshot {
	t.Helper()
	snap, err := e.feed.Load(context.Background(), ownerID)
	if err != nil {
		t.Fatal(err)
	}
	return snap
}

func assertContains(t *testing.T, body, want string) {
	t.Helper()
	if !strings.Contains(body, want) {
		t.Errorf("body does not contain %q:\n%s", want, body)
	}
}

func trigger(t *testing.T, rr *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(rr.Header().Get("HX-Trigger")), &m); err != nil {
		t.Fatalf("HX-Trigger %q: %v", rr.Header().Get("HX-Trigger"), err)
	}
	return m
}

func notification(t *testing.T, rr *httptest.ResponseRecorder) (kind, message string) {
	t.Helper()
	var n struct {
		Type     string `json:"type"`
		Message  string `json:"message"`
		Duration int64  `json:"duration"`
	}
	raw, ok := trigger(t, rr)[EventShowNotification]
	if !ok {
		t.Fatalf("no %s trigger", EventShowNotification)
	}
	if err := json.Unmarshal(raw, &n); err != nil {
		t.Fatal(err)
	}
	if n.Duration != 3000 {
		t.Errorf("duration = %d, want 3000", n.Duration)
	}
	return n.Type, n.Message
}

func TestPublicEndpoints(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser(t)

	tests := []struct {
		path string
		want string
	}{
		{"/", "your personal expense tracker"},
		{"/login", "Sign In to Spendly"},
		{"/register", "Create Your Account"},
		{"/healthz", `"status":"ok"`},
		{"/readyz", `"status":"ready"`},
		{"/metrics", "http_requests_total"},
		{"/static/app.js", "EventSource"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rr := b.get(tt.path)
			if rr.Code != http.StatusOK {
				t.Fatalf("status = %d", rr.Code)
			}
			assertContains(t, rr.Body.String(), tt.want)
		})
	}

	if rr := b.get("/nope"); rr.Code != http.StatusNotFound {
		t.Errorf("unknown path status = %d", rr.Code)
	}
	if b.cookies[sidCookie] == nil {
		t.Error("first visit should mint a client session cookie")
	}
}

func TestReadyReportsStoreFailure(t *testing.T) {
	env := newTestEnv(t)
	env.srv.ready = func(context.Context) error { return io.ErrUnexpectedEOF }

	rr := env.browser(t).get("/readyz")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	assertContains(t, rr.Body.String(), "not_ready")
}

func TestDashboardRequiresSignIn(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser(t)

	for _, path := range []string{"/dashboard", "/dashboard/view", "/dashboard/form", "/dashboard/stream"} {
		rr := b.get(path)
		if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/login" {
			t.Errorf("%s = %d %q", path, rr.Code, rr.Header().Get("Location"))
		}
	}

	rr := b.do(http.MethodGet, "/dashboard/view", nil, true)
	if got := rr.Header().Get("HX-Redirect"); got != "/login" {
		t.Errorf("htmx redirect = %q", got)
	}
}

func TestRegisterLoginLogout(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser(t)

	rr := b.do(http.MethodPost, "/register", url.Values{"email": {"Ann@Example.com"}, "password": {"secret1"}}, false)
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/dashboard" {
		t.Fatalf("register = %d %q", rr.Code, rr.Header().Get("Location"))
	}
	if b.cookies[tokenCookie] == nil {
		t.Fatal("register should sign the user in")
	}

	rr = b.get("/dashboard")
	if rr.Code != http.StatusOK {
		t.Fatalf("dashboard status = %d", rr.Code)
	}
	body := rr.Body.String()
	assertContains(t, body, "Hello, ann@example.com")
	assertContains(t, body, "No expenses found.")
	assertContains(t, body, "No data to display.")

	for _, path := range []string{"/login", "/register"} {
		if rr := b.get(path); rr.Header().Get("Location") != "/dashboard" {
			t.Errorf("%s while signed in = %d %q", path, rr.Code, rr.Header().Get("Location"))
		}
	}

	rr = b.do(http.MethodPost, "/logout", nil, false)
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/login" {
		t.Fatalf("logout = %d %q", rr.Code, rr.Header().Get("Location"))
	}
	if b.cookies[tokenCookie] != nil {
		t.Error("logout should clear the session cookie")
	}
	if rr := b.get("/dashboard"); rr.Code != http.StatusSeeOther {
		t.Errorf("dashboard after logout = %d", rr.Code)
	}
}

func TestRevokedTokenIsRejected(t *testing.T) {
	env := newTestEnv(t)
	b, _ := env.signUp(t, "ann@example.com")
	token := b.cookies[tokenCookie]

	b.do(http.MethodPost, "/logout", nil, false)

	// Replaying the old token must not bring the session back.
	b.cookies[tokenCookie] = token
	if rr := b.get("/dashboard"); rr.Code != http.StatusSeeOther {
		t.Errorf("revoked token status = %d", rr.Code)
	}
}

func TestTokenBoundToClientSession(t *testing.T) {
	env := newTestEnv(t)
	b, _ := env.signUp(t, "ann@example.com")

	thief := env.browser(t)
	thief.get("/")
	thief.cookies[tokenCookie] = b.cookies[tokenCookie]
	if rr := thief.get("/dashboard"); rr.Code != http.StatusSeeOther {
		t.Errorf("token from another session status = %d", rr.Code)
	}
}

func TestAuthFailures(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.idp.Register(context.Background(), "ann@example.com", "secret1"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		path   string
		form   url.Values
		status int
		want   string
	}{
		{"unknown user", "/login", url.Values{"email": {"bob@example.com"}, "password": {"secret1"}}, http.StatusUnauthorized, "No account found with that email."},
		{"wrong password", "/login", url.Values{"email": {"ann@example.com"}, "password": {"nope123"}}, http.StatusUnauthorized, "Incorrect password."},
		{"missing fields", "/login", url.Values{"email": {""}, "password": {""}}, http.StatusUnauthorized, "Please fill in both fields."},
		{"taken email", "/register", url.Values{"email": {"ann@example.com"}, "password": {"secret1"}}, http.StatusUnprocessableEntity, "This email is already registered."},
		{"weak password", "/register", url.Values{"email": {"bob@example.com"}, "password": {"123"}}, http.StatusUnprocessableEntity, "Password must be at least 6 characters."},
		{"invalid email", "/register", url.Values{"email": {"not-an-email"}, "password": {"secret1"}}, http.StatusUnprocessableEntity, "Invalid email address."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := env.browser(t)
			rr := b.do(http.MethodPost, tt.path, tt.form, false)
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d", rr.Code, tt.status)
			}
			assertContains(t, rr.Body.String(), tt.want)
			if b.cookies[tokenCookie] != nil {
				t.Error("failed attempt must not set a session")
			}
		})
	}
}

func TestFederatedNotConfigured(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser(t)

	if rr := b.get("/auth/google"); rr.Code != http.StatusNotFound {
		t.Errorf("start status = %d", rr.Code)
	}
	rr := b.get("/auth/google/callback?state=x&code=y")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("callback status = %d", rr.Code)
	}
	assertContains(t, rr.Body.String(), identity.GenericLoginFailure)
	if strings.Contains(b.get("/login").Body.String(), "Or sign in with") {
		t.Error("no federated buttons expected without providers")
	}
}

func TestExpenseLifecycle(t *testing.T) {
	env := newTestEnv(t)
	b, u := env.signUp(t, "ann@example.com")

	rr := b.do(http.MethodPost, "/expenses", url.Values{
		"amount": {"12.50"}, "category": {"Food"}, "date": {"2024-03-01"}, "note": {"lunch"},
	}, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("create status = %d", rr.Code)
	}
	if kind, msg := notification(t, rr); kind != "success" || msg != gateway.MsgAdded {
		t.Errorf("notification = %s %q", kind, msg)
	}
	if _, ok := trigger(t, rr)[EventFormReset]; !ok {
		t.Error("create should reset the form")
	}
	assertContains(t, rr.Body.String(), `id="expense-form"`)

	snap := env.expenses(t, u.ID)
	if len(snap.Expenses) != 1 {
		t.Fatalf("stored %d expenses", len(snap.Expenses))
	}
	id := snap.Expenses[0].ID

	body := b.get("/dashboard").Body.String()
	assertContains(t, body, "Expenses (1)")
	assertContains(t, body, "$12.50 - lunch")
	assertContains(t, body, "2024-03-01 - Food")

	rr = b.get("/dashboard/form?edit=" + id)
	if rr.Code != http.StatusOK {
		t.Fatalf("edit form status = %d", rr.Code)
	}
	assertContains(t, rr.Body.String(), "Update Expense")
	assertContains(t, rr.Body.String(), `value="12.50"`)

	rr = b.do(http.MethodPost, "/expenses/"+id, url.Values{
		"amount": {"20"}, "category": {"Travel"}, "date": {"2024-03-02"},
	}, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("update status = %d", rr.Code)
	}
	if _, msg := notification(t, rr); msg != gateway.MsgUpdated {
		t.Errorf("update notice = %q", msg)
	}
	if _, ok := trigger(t, rr)[EventEditExit]; !ok {
		t.Error("update should exit edit mode")
	}
	if got := env.expenses(t, u.ID).Expenses[0]; got.Amount.Cents != 2000 || got.Category != "Travel" {
		t.Errorf("updated expense = %+v", got)
	}

	rr = b.do(http.MethodDelete, "/expenses/"+id, nil, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rr.Code)
	}
	if _, msg := notification(t, rr); msg != gateway.MsgDeleted {
		t.Errorf("delete notice = %q", msg)
	}
	if n := len(env.expenses(t, u.ID).Expenses); n != 0 {
		t.Errorf("%d expenses left after delete", n)
	}
}

func TestExpenseRejections(t *testing.T) {
	env := newTestEnv(t)
	owner, u := env.signUp(t, "ann@example.com")
	other, _ := env.signUp(t, "bob@example.com")

	owner.do(http.MethodPost, "/expenses", url.Values{"amount": {"5"}, "category": {"Food"}, "date": {"2024-01-01"}}, true)
	id := env.expenses(t, u.ID).Expenses[0].ID

	tests := []struct {
		name   string
		b      *browser
		method string
		path   string
		form   url.Values
		status int
		want   string
	}{
		{"missing fields", owner, http.MethodPost, "/expenses", url.Values{"amount": {"5"}}, http.StatusUnprocessableEntity, gateway.MsgMissingFields},
		{"bad amount", owner, http.MethodPost, "/expenses", url.Values{"amount": {"abc"}, "category": {"Food"}, "date": {"2024-01-01"}}, http.StatusUnprocessableEntity, gateway.MsgInvalidAmount},
		{"negative amount", owner, http.MethodPost, "/expenses", url.Values{"amount": {"-3"}, "category": {"Food"}, "date": {"2024-01-01"}}, http.StatusUnprocessableEntity, gateway.MsgInvalidAmount},
		{"bad date", owner, http.MethodPost, "/expenses", url.Values{"amount": {"3"}, "category": {"Food"}, "date": {"yesterday"}}, http.StatusUnprocessableEntity, gateway.MsgInvalidDate},
		{"anonymous", env.browser(t), http.MethodPost, "/expenses", url.Values{"amount": {"3"}, "category": {"Food"}, "date": {"2024-01-01"}}, http.StatusUnauthorized, gateway.MsgNotAuthenticated},
		{"foreign update", other, http.MethodPost, "/expenses/" + id, url.Values{"amount": {"3"}, "category": {"Food"}, "date": {"2024-01-01"}}, http.StatusInternalServerError, gateway.MsgSaveFailed},
		{"foreign delete", other, http.MethodDelete, "/expenses/" + id, nil, http.StatusInternalServerError, gateway.MsgDeleteFailed},
		{"missing delete", owner, http.MethodDelete, "/expenses/nope", nil, http.StatusInternalServerError, gateway.MsgDeleteFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := tt.b.do(tt.method, tt.path, tt.form, true)
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d", rr.Code, tt.status)
			}
			if kind, msg := notification(t, rr); kind != "error" || msg != tt.want {
				t.Errorf("notification = %s %q, want %q", kind, msg, tt.want)
			}
		})
	}

	snap := env.expenses(t, u.ID)
	if len(snap.Expenses) != 1 || snap.Expenses[0].Amount.Cents != 500 {
		t.Errorf("owner's expenses changed: %+v", snap.Expenses)
	}
}

func TestPlainFormPostShowsNoticeOnDashboard(t *testing.T) {
	env := newTestEnv(t)
	b, _ := env.signUp(t, "ann@example.com")

	rr := b.do(http.MethodPost, "/expenses?category=Food&sort=amount_desc", url.Values{
		"amount": {"7"}, "category": {"Food"}, "date": {"2024-01-01"},
	}, false)
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("status = %d", rr.Code)
	}
	if got, want := rr.Header().Get("Location"), "/dashboard?category=Food&chart=pie&sort=amount_desc"; got != want {
		t.Errorf("Location = %q, want %q", got, want)
	}

	body := b.get("/dashboard").Body.String()
	assertContains(t, body, gateway.MsgAdded)
	assertContains(t, body, `data-duration="3000"`)

	rr = env.browser(t).do(http.MethodPost, "/expenses", url.Values{"amount": {"7"}}, false)
	if rr.Header().Get("Location") != "/login" {
		t.Errorf("anonymous plain post Location = %q", rr.Header().Get("Location"))
	}
}

func TestDashboardViewPartial(t *testing.T) {
	env := newTestEnv(t)
	b, _ := env.signUp(t, "ann@example.com")
	for _, f := range []url.Values{
		{"amount": {"10"}, "category": {"Food"}, "date": {"2024-01-01"}, "note": {"pizza"}},
		{"amount": {"30"}, "category": {"Travel"}, "date": {"2024-01-02"}, "note": {"train"}},
	} {
		b.do(http.MethodPost, "/expenses", f, true)
	}

	rr := b.do(http.MethodGet, "/dashboard/view?category=Food", nil, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if got, want := rr.Header().Get("HX-Push-Url"), "/dashboard?category=Food&chart=pie&sort=date_desc"; got != want {
		t.Errorf("HX-Push-Url = %q, want %q", got, want)
	}
	body := rr.Body.String()
	assertContains(t, body, `id="live"`)
	assertContains(t, body, "Expenses (1)")
	assertContains(t, body, "pizza")
	if strings.Contains(body, "train") {
		t.Error("filtered list should not contain other categories")
	}
	// Totals cover the whole snapshot.
	assertContains(t, body, "$40.00")
	assertContains(t, body, "Travel: $30.00")
}

func TestExpenseFormUnknownID(t *testing.T) {
	env := newTestEnv(t)
	b, _ := env.signUp(t, "ann@example.com")

	if rr := b.get("/dashboard/form?edit=missing"); rr.Code != http.StatusNotFound {
		t.Errorf("status = %d", rr.Code)
	}
	rr := b.get("/dashboard/form")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	assertContains(t, rr.Body.String(), "Add Expense")
}

func TestEditFormKeepsUnlistedCategory(t *testing.T) {
	snap := feed.Snapshot{Expenses: []core.Expense{
		{ID: "a", Category: "Food"},
		{ID: "b", Category: "Garden"},
	}}

	f, ok := editForm(snap, "a", "")
	if !ok || len(f.Categories) != len(core.Categories) {
		t.Fatalf("known category: ok=%v categories=%v", ok, f.Categories)
	}

	f, ok = editForm(snap, "b", "")
	if !ok {
		t.Fatal("expense b not found")
	}
	if got := f.Categories[len(f.Categories)-1]; got != "Garden" || len(f.Categories) != len(core.Categories)+1 {
		t.Fatalf("categories = %v", f.Categories)
	}
	if len(core.Categories) != 5 {
		t.Fatal("form categories were modified")
	}
}

func TestMutationStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{gateway.ErrNotAuthenticated, http.StatusUnauthorized},
		{gateway.ErrInvalidInput, http.StatusUnprocessableEntity},
		{io.EOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := mutationStatus(tt.err); got != tt.want {
			t.Errorf("mutationStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

// sseEvent is one event read off the dashboard stream.
type sseEvent struct {
	name string
	data string
}

func readEvents(r io.Reader) <-chan sseEvent {
	out := make(chan sseEvent, 64)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		var ev sseEvent
		for sc.Scan() {
			line := sc.Text()
			switch {
			case line == "":
				if ev.name != "" {
					out <- ev
				}
				ev = sseEvent{}
			case strings.HasPrefix(line, "event:"):
				ev.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				ev.data += strings.TrimPrefix(line, "data:") + "\n"
			}
		}
	}()
	return out
}

func nextEvent(t *testing.T, events <-chan sseEvent, name string) sseEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("stream ended before %q", name)
			}
			if ev.name == name {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %q event", name)
		}
	}
}

func TestDashboardStream(t *testing.T) {
	env := newTestEnv(t)
	b, _ := env.signUp(t, "ann@example.com")

	ts := httptest.NewServer(env.srv.Handler)
	defer ts.Close()

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/dashboard/stream?sort=amount_desc", nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range b.cookies {
		req.AddCookie(c)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}
	stream := readEvents(resp.Body)

	if ev := nextEvent(t, stream, eventView); !strings.Contains(ev.data, "No expenses found.") {
		t.Errorf("initial view = %s", ev.data)
	}

	b.do(http.MethodPost, "/expenses", url.Values{"amount": {"9.99"}, "category": {"Bills"}, "date": {"2024-05-01"}}, true)
	for {
		ev := nextEvent(t, stream, eventView)
		if strings.Contains(ev.data, "$9.99") {
			break
		}
	}

	// Signing out from another tab ends the stream.
	b.do(http.MethodPost, "/logout", nil, false)
	if ev := nextEvent(t, stream, eventSignOut); strings.TrimSpace(ev.data) != "/login" {
		t.Errorf("signout data = %q", ev.data)
	}
}
