package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/theamal11z/Rex68/internal/chat"
	"github.com/theamal11z/Rex68/internal/conversation"
	"github.com/theamal11z/Rex68/internal/cron"
	"github.com/theamal11z/Rex68/internal/memory"
)

type fakeChat struct {
	gotUser    string
	gotTrigger string
	err        error

	mu        sync.Mutex
	timelines map[string]*conversation.Timeline
	forgot    []string
}

func (f *fakeChat) Timeline(ctx context.Context, userID string) *conversation.Timeline {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.timelines == nil {
		f.timelines = make(map[string]*conversation.Timeline)
	}
	tl, ok := f.timelines[userID]
	if !ok {
		tl = conversation.NewTimeline(userID, 0)
		f.timelines[userID] = tl
	}
	return tl
}

func (f *fakeChat) Forget(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.timelines, userID)
	f.forgot = append(f.forgot, userID)
}

func (f *fakeChat) HandleMessage(ctx context.Context, userID, content string) (chat.Reply, error) {
	f.gotUser = userID
	if f.err != nil {
		return chat.Reply{}, f.err
	}
	return chat.Reply{
		UserMessage: memory.Message{ID: 1, UserID: userID, Content: content, IsFromUser: true},
		Message:     memory.Message{ID: 2, UserID: userID, Content: "I hear you."},
		Tone:        "sad",
	}, nil
}

func (f *fakeChat) HandleTrigger(ctx context.Context, userID, triggerName, content string) (chat.Reply, error) {
	f.gotUser = userID
	f.gotTrigger = triggerName
	if f.err != nil {
		return chat.Reply{}, f.err
	}
	return chat.Reply{Message: memory.Message{Content: "coach reply"}, Trigger: triggerName, Tone: "neutral"}, nil
}

type fakeSummarizer struct{ out string }

func (f fakeSummarizer) Summarize(ctx context.Context, text string) string { return f.out }

type fakeJobs struct {
	jobs []cron.Job
	ran  []string
}

func (f *fakeJobs) ListJobs() []cron.Job { return f.jobs }

func (f *fakeJobs) RunNow(id string) error {
	for _, j := range f.jobs {
		if j.ID == id {
			f.ran = append(f.ran, id)
			return nil
		}
	}
	return fmt.Errorf("job %s not found", id)
}

func newTestServer(t *testing.T, h Handlers) (*httptest.Server, *memory.Engine) {
	t.Helper()
	engine, err := memory.NewEngine(filepath.Join(t.TempDir(), "rex.db"))
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}
	h.Store = engine
	srv := httptest.NewServer(New("127.0.0.1:0", h).Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = engine.Close()
	})
	return srv, engine
}

func doJSON(t *testing.T, method, url, body string, out any) int {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rdr)
	if err != nil {
		t.Fatalf("NewRequest error: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		data, _ := io.ReadAll(resp.Body)
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("decode %s %s response %q: %v", method, url, data, err)
		}
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	srv, engine := newTestServer(t, Handlers{Token: "secret"})
	if _, err := engine.PutSetting(context.Background(), "personality", "warm"); err != nil {
		t.Fatalf("PutSetting error: %v", err)
	}

	var resp healthResponse
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/health", "", &resp); code != http.StatusOK {
		t.Fatalf("health status = %d", code)
	}
	if resp.Status != "ok" || resp.Stats.Settings != 1 {
		t.Fatalf("health = %+v", resp)
	}
}

func TestAuthMiddleware(t *testing.T) {
	srv, _ := newTestServer(t, Handlers{Token: "secret"})

	if code := doJSON(t, http.MethodGet, srv.URL+"/api/settings", "", nil); code != http.StatusUnauthorized {
		t.Fatalf("no token status = %d, want 401", code)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/settings", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d, want 401", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/api/settings", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("valid token status = %d, want 200", resp.StatusCode)
	}
}

func TestMessagesAndConversations(t *testing.T) {
	srv, _ := newTestServer(t, Handlers{})

	var created memory.Message
	code := doJSON(t, http.MethodPost, srv.URL+"/api/messages", `{"userId":"mo","content":"hello","isFromUser":1}`, &created)
	if code != http.StatusCreated || created.ID == 0 || !created.IsFromUser {
		t.Fatalf("create message = %d %+v", code, created)
	}
	doJSON(t, http.MethodPost, srv.URL+"/api/messages", `{"userId":"mo","content":"hi back","isFromUser":false}`, nil)

	if code := doJSON(t, http.MethodPost, srv.URL+"/api/messages", `{"userId":"mo","content":""}`, nil); code != http.StatusBadRequest {
		t.Fatalf("empty content status = %d, want 400", code)
	}

	var msgs []memory.Message
	doJSON(t, http.MethodGet, srv.URL+"/api/messages/mo", "", &msgs)
	if len(msgs) != 2 || msgs[0].Content != "hello" || msgs[1].IsFromUser {
		t.Fatalf("messages = %+v", msgs)
	}

	var convs []conversationResponse
	doJSON(t, http.MethodGet, srv.URL+"/api/conversations", "", &convs)
	if len(convs) != 1 || convs[0].UserID != "mo" || convs[0].MessageCount != 2 {
		t.Fatalf("conversations = %+v", convs)
	}

	if code := doJSON(t, http.MethodDelete, srv.URL+"/api/conversations/mo", "", nil); code != http.StatusOK {
		t.Fatalf("delete status = %d", code)
	}
	if code := doJSON(t, http.MethodDelete, srv.URL+"/api/conversations/mo", "", nil); code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", code)
	}

	var empty []memory.Message
	doJSON(t, http.MethodGet, srv.URL+"/api/messages/mo", "", &empty)
	if len(empty) != 0 {
		t.Fatalf("messages after delete = %+v", empty)
	}
}

func TestTimeline(t *testing.T) {
	fc := &fakeChat{}
	srv, _ := newTestServer(t, Handlers{Chat: fc})

	var created memory.Message
	doJSON(t, http.MethodPost, srv.URL+"/api/messages", `{"userId":"mo","content":"hello","isFromUser":true}`, &created)
	inflight := conversation.NewPending("are you there?", true, time.Now())
	fc.Timeline(context.Background(), "mo").Apply(inflight)

	var resp timelineResponse
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/conversations/mo/timeline", "", &resp); code != http.StatusOK {
		t.Fatalf("timeline status = %d", code)
	}
	if resp.UserID != "mo" || resp.Pending != 1 || len(resp.Entries) != 2 {
		t.Fatalf("timeline = %+v", resp)
	}
	if resp.Entries[0].State != "confirmed" || resp.Entries[0].Message.ID != created.ID {
		t.Fatalf("first entry = %+v, want the stored message", resp.Entries[0])
	}
	if resp.Entries[1].State != "pending" || resp.Entries[1].LocalID != inflight.LocalID {
		t.Fatalf("second entry = %+v, want the in-flight message", resp.Entries[1])
	}

	if code := doJSON(t, http.MethodDelete, srv.URL+"/api/conversations/mo", "", nil); code != http.StatusOK {
		t.Fatalf("delete status = %d", code)
	}
	fc.mu.Lock()
	forgot := append([]string(nil), fc.forgot...)
	fc.mu.Unlock()
	if len(forgot) != 1 || forgot[0] != "mo" {
		t.Fatalf("forgot = %v, want [mo]", forgot)
	}

	resp = timelineResponse{}
	doJSON(t, http.MethodGet, srv.URL+"/api/conversations/mo/timeline", "", &resp)
	if len(resp.Entries) != 0 || resp.Pending != 0 {
		t.Fatalf("timeline after delete = %+v, want empty", resp)
	}
}

func TestSummary(t *testing.T) {
	srv, engine := newTestServer(t, Handlers{Summarizer: fakeSummarizer{out: "Mo talked about work."}})

	if code := doJSON(t, http.MethodGet, srv.URL+"/api/conversations/mo/summary", "", nil); code != http.StatusNotFound {
		t.Fatalf("summary without messages = %d, want 404", code)
	}

	ctx := context.Background()
	for i, c := range []string{"work is stressful", "tell me more", "work deadlines again"} {
		if _, err := engine.AddMessage(ctx, memory.Message{UserID: "mo", Content: c, IsFromUser: i != 1}); err != nil {
			t.Fatalf("AddMessage error: %v", err)
		}
	}

	var resp summaryResponse
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/conversations/mo/summary", "", &resp); code != http.StatusOK {
		t.Fatalf("summary status = %d", code)
	}
	if resp.Summary != "Mo talked about work." {
		t.Fatalf("summary = %q", resp.Summary)
	}
	if !strings.HasPrefix(resp.Overview, "This conversation has 3 messages (2 from user).") {
		t.Fatalf("overview = %q", resp.Overview)
	}
}

func TestSummary_FallsBackToOverview(t *testing.T) {
	srv, engine := newTestServer(t, Handlers{})
	ctx := context.Background()
	for _, c := range []string{"one", "two", "three"} {
		engine.AddMessage(ctx, memory.Message{UserID: "mo", Content: c, IsFromUser: true})
	}

	var resp summaryResponse
	doJSON(t, http.MethodGet, srv.URL+"/api/conversations/mo/summary", "", &resp)
	if resp.Summary == "" || resp.Summary != resp.Overview {
		t.Fatalf("summary = %+v, want the extractive overview", resp)
	}
}

func TestMemory(t *testing.T) {
	srv, _ := newTestServer(t, Handlers{})

	if code := doJSON(t, http.MethodGet, srv.URL+"/api/memory/mo", "", nil); code != http.StatusNotFound {
		t.Fatalf("missing memory status = %d, want 404", code)
	}

	legacy := `{"userId":"mo","context":{"notes":"likes tea","sentiment":"happy"}}`
	var created memoryResponse
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/memory", legacy, &created); code != http.StatusCreated {
		t.Fatalf("create memory status = %d", code)
	}
	if !bytes.Contains(created.Context, []byte("likes tea")) {
		t.Fatalf("created context = %s", created.Context)
	}

	structured := `{"userId":"mo","context":{"version":1,"userId":"mo","topics":{"tea":{"name":"tea","relevance":0.6,"mentions":2}}}}`
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/memory", structured, nil); code != http.StatusOK {
		t.Fatalf("update memory status = %d, want 200", code)
	}

	var got memoryResponse
	doJSON(t, http.MethodGet, srv.URL+"/api/memory/mo", "", &got)
	mc, err := memory.DecodeContext(got.Context)
	if err != nil {
		t.Fatalf("DecodeContext error: %v", err)
	}
	sm, ok := mc.(*memory.StructuredMemory)
	if !ok || sm.Topics["tea"].Mentions != 2 {
		t.Fatalf("stored memory = %#v", mc)
	}
}

func TestMemory_Invalid(t *testing.T) {
	srv, _ := newTestServer(t, Handlers{})
	bodies := []string{
		`not json`,
		`{"context":{}}`,
		`{"userId":"mo","context":{"version":1,"topics":{"x":{"relevance":1.5}}}}`,
		`{"userId":"mo","context":{"version":1,"interactions":[{},{},{},{},{},{},{},{},{},{},{}]}}`,
	}
	for _, body := range bodies {
		if code := doJSON(t, http.MethodPost, srv.URL+"/api/memory", body, nil); code != http.StatusBadRequest {
			t.Errorf("POST memory %s status = %d, want 400", body, code)
		}
	}
}

func TestSettings(t *testing.T) {
	srv, _ := newTestServer(t, Handlers{})

	var s memory.Setting
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/settings", `{"key":"personality","value":"gentle"}`, &s); code != http.StatusCreated {
		t.Fatalf("create setting status = %d", code)
	}
	if s.ID == 0 || s.Value != "gentle" {
		t.Fatalf("created setting = %+v", s)
	}
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/settings", `{"key":""}`, nil); code != http.StatusBadRequest {
		t.Fatalf("invalid setting status = %d, want 400", code)
	}

	if code := doJSON(t, http.MethodPatch, srv.URL+"/api/settings/personality", `{"value":"playful"}`, &s); code != http.StatusOK || s.Value != "playful" {
		t.Fatalf("patch = %d %+v", code, s)
	}
	if code := doJSON(t, http.MethodPatch, srv.URL+"/api/settings/personality", `{"value":""}`, nil); code != http.StatusBadRequest {
		t.Fatalf("patch empty value status = %d, want 400", code)
	}
	if code := doJSON(t, http.MethodPatch, srv.URL+"/api/settings/missing", `{"value":"x"}`, nil); code != http.StatusNotFound {
		t.Fatalf("patch missing status = %d, want 404", code)
	}

	var list []memory.Setting
	doJSON(t, http.MethodGet, srv.URL+"/api/settings", "", &list)
	if len(list) != 1 || list[0].Key != "personality" {
		t.Fatalf("settings = %+v", list)
	}

	if code := doJSON(t, http.MethodDelete, srv.URL+"/api/settings/personality", "", nil); code != http.StatusOK {
		t.Fatalf("delete status = %d", code)
	}
	if code := doJSON(t, http.MethodDelete, srv.URL+"/api/settings/personality", "", nil); code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", code)
	}
}

func TestContents(t *testing.T) {
	srv, _ := newTestServer(t, Handlers{})

	var item memory.ContentItem
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/contents", `{"type":"poem","content":"the quiet river remembers"}`, &item); code != http.StatusCreated {
		t.Fatalf("create content status = %d", code)
	}
	doJSON(t, http.MethodPost, srv.URL+"/api/contents", `{"type":"quote","content":"keep going"}`, nil)
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/contents", `{"type":"quote"}`, nil); code != http.StatusBadRequest {
		t.Fatalf("invalid content status = %d, want 400", code)
	}

	var all, poems, found []memory.ContentItem
	doJSON(t, http.MethodGet, srv.URL+"/api/contents", "", &all)
	doJSON(t, http.MethodGet, srv.URL+"/api/contents?type=poem", "", &poems)
	doJSON(t, http.MethodGet, srv.URL+"/api/contents?q=river", "", &found)
	if len(all) != 2 || len(poems) != 1 || len(found) != 1 || found[0].ID != item.ID {
		t.Fatalf("all=%d poems=%d found=%+v", len(all), len(poems), found)
	}

	if code := doJSON(t, http.MethodDelete, srv.URL+"/api/contents/abc", "", nil); code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d, want 400", code)
	}
	if code := doJSON(t, http.MethodDelete, srv.URL+fmt.Sprintf("/api/contents/%d", item.ID), "", nil); code != http.StatusOK {
		t.Fatalf("delete status = %d", code)
	}
	if code := doJSON(t, http.MethodDelete, srv.URL+fmt.Sprintf("/api/contents/%d", item.ID), "", nil); code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", code)
	}
}

func TestTriggers(t *testing.T) {
	srv, _ := newTestServer(t, Handlers{})

	var tp memory.TriggerPhrase
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/triggers", `{"phrase":"coach mode","guidelines":"Be direct."}`, &tp); code != http.StatusCreated {
		t.Fatalf("create trigger status = %d", code)
	}
	if tp.ID == 0 || !tp.Active {
		t.Fatalf("trigger = %+v, want active with id", tp)
	}
	doJSON(t, http.MethodPost, srv.URL+"/api/triggers", `{"phrase":"poet mode","guidelines":"Rhyme.","active":false}`, nil)
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/triggers", `{"guidelines":"x"}`, nil); code != http.StatusBadRequest {
		t.Fatalf("invalid trigger status = %d, want 400", code)
	}

	var all, active []memory.TriggerPhrase
	doJSON(t, http.MethodGet, srv.URL+"/api/triggers", "", &all)
	doJSON(t, http.MethodGet, srv.URL+"/api/triggers?active=true", "", &active)
	if len(all) != 2 || len(active) != 1 || active[0].Phrase != "coach mode" {
		t.Fatalf("all=%+v active=%+v", all, active)
	}

	if code := doJSON(t, http.MethodDelete, srv.URL+fmt.Sprintf("/api/triggers/%d", tp.ID), "", nil); code != http.StatusOK {
		t.Fatalf("delete status = %d", code)
	}
}

func TestChat(t *testing.T) {
	fc := &fakeChat{}
	srv, _ := newTestServer(t, Handlers{Chat: fc})

	var resp chatResponse
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/chat", `{"userId":"mo","content":"rough day"}`, &resp); code != http.StatusOK {
		t.Fatalf("chat status = %d", code)
	}
	if resp.Reply.Content != "I hear you." || resp.Tone != "sad" || fc.gotUser != "mo" {
		t.Fatalf("chat = %+v", resp)
	}

	doJSON(t, http.MethodPost, srv.URL+"/api/chat", `{"userId":"mo","content":"push me","trigger":"coach mode"}`, &resp)
	if fc.gotTrigger != "coach mode" || resp.Trigger != "coach mode" {
		t.Fatalf("trigger chat = %+v", resp)
	}

	if code := doJSON(t, http.MethodPost, srv.URL+"/api/chat", `{"userId":"mo"}`, nil); code != http.StatusBadRequest {
		t.Fatalf("invalid chat status = %d, want 400", code)
	}

	fc.err = chat.ErrUnknownTrigger
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/chat", `{"userId":"mo","content":"x","trigger":"nope"}`, nil); code != http.StatusNotFound {
		t.Fatalf("unknown trigger status = %d, want 404", code)
	}
	fc.err = fmt.Errorf("store down")
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/chat", `{"userId":"mo","content":"x"}`, nil); code != http.StatusInternalServerError {
		t.Fatalf("failed chat status = %d, want 500", code)
	}
}

func TestChat_NotConfigured(t *testing.T) {
	srv, _ := newTestServer(t, Handlers{})
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/chat", `{"userId":"mo","content":"x"}`, nil); code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", code)
	}
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/cron/jobs", "", nil); code != http.StatusServiceUnavailable {
		t.Fatalf("jobs status = %d, want 503", code)
	}
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/conversations/mo/timeline", "", nil); code != http.StatusServiceUnavailable {
		t.Fatalf("timeline status = %d, want 503", code)
	}
}

func TestCronJobs(t *testing.T) {
	jobs := &fakeJobs{jobs: []cron.Job{{ID: "j1", Name: "sweep", Enabled: true}}}
	srv, _ := newTestServer(t, Handlers{Jobs: jobs})

	var list []cron.Job
	doJSON(t, http.MethodGet, srv.URL+"/api/cron/jobs", "", &list)
	if len(list) != 1 || list[0].Name != "sweep" {
		t.Fatalf("jobs = %+v", list)
	}

	if code := doJSON(t, http.MethodPost, srv.URL+"/api/cron/jobs/j1/run", "", nil); code != http.StatusAccepted {
		t.Fatalf("run status = %d, want 202", code)
	}
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/cron/jobs/missing/run", "", nil); code != http.StatusNotFound {
		t.Fatalf("run missing status = %d, want 404", code)
	}
	if len(jobs.ran) != 1 || jobs.ran[0] != "j1" {
		t.Fatalf("ran = %v", jobs.ran)
	}
}

func TestStaticFallthrough(t *testing.T) {
	static := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("page"))
	})
	srv, _ := newTestServer(t, Handlers{Static: static, Token: "secret"})

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("GET / error: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "page" {
		t.Fatalf("GET / = %d %q", resp.StatusCode, body)
	}
}
