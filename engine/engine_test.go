package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/codesift/codesift/eventbus"
	"github.com/codesift/codesift/gitprovider"
	"github.com/codesift/codesift/llm"
	"github.com/codesift/codesift/model"
	sqliteStore "github.com/codesift/codesift/store/sqlite"
	"github.com/codesift/codesift/transcript"
)

// --- stubs ---

// stubLLM streams a canned reply line by line.
type stubLLM struct {
	reply string
	err   error
}

func (s *stubLLM) Complete(_ context.Context, _, _ string) (string, error) {
	return s.reply, s.err
}

func (s *stubLLM) Stream(_ context.Context, _ string, _ []llm.Message, onDelta func(string)) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	for _, chunk := range strings.SplitAfter(s.reply, "\n") {
		if chunk != "" && onDelta != nil {
			onDelta(chunk)
		}
	}
	return s.reply, nil
}

type stubGitProvider struct {
	pushedFiles   []gitprovider.File
	pushedBranch  string
	createPRCalls int
}

func (s *stubGitProvider) GetDefaultBranch(_ context.Context, _ string) (string, error) {
	return "main", nil
}

func (s *stubGitProvider) PushFiles(_ context.Context, _, branch, _, _ string, files []gitprovider.File) error {
	s.pushedBranch = branch
	s.pushedFiles = files
	return nil
}

func (s *stubGitProvider) CreatePR(_ context.Context, _ gitprovider.PROptions) (string, int, error) {
	s.createPRCalls++
	return "https://github.com/test/repo/pull/1", 1, nil
}

// --- helpers ---

const directiveReply = "Here you go:\n```\nhello.txt\n<<<<<<< NEW FILE\nhello world\n>>>>>>> NEW FILE\n```\nDone."

func testEngine(t *testing.T, client llm.Client) (*Engine, *stubGitProvider) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := sqliteStore.New(dbPath)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	bus := eventbus.NewInMemoryBus()
	git := &stubGitProvider{}

	eng := New(Config{MaxMessages: 50}, st, bus, client, git)
	return eng, git
}

// --- tests ---

func TestCreateConversation(t *testing.T) {
	eng, _ := testEngine(t, &stubLLM{})

	conv, err := eng.CreateConversation("/tmp/ws", "owner/repo")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if conv.ID == "" {
		t.Fatal("expected non-empty conversation ID")
	}
	if conv.Status != model.StatusIdle {
		t.Fatalf("expected status 'idle', got %q", conv.Status)
	}

	got, err := eng.Store().GetConversation(conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.Workspace != "/tmp/ws" {
		t.Fatalf("expected workspace '/tmp/ws', got %q", got.Workspace)
	}
}

func TestCreateConversationRequiresWorkspace(t *testing.T) {
	eng, _ := testEngine(t, &stubLLM{})
	if _, err := eng.CreateConversation("", ""); err == nil {
		t.Fatal("expected error for empty workspace")
	}
}

func TestSendMessageRunsTurn(t *testing.T) {
	eng, _ := testEngine(t, &stubLLM{reply: directiveReply})

	conv, _ := eng.CreateConversation(t.TempDir(), "")
	msg, err := eng.SendMessage(conv.ID, "create hello.txt")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.ID == 0 {
		t.Fatal("expected message ID to be set")
	}

	// Wait for the background turn to finish.
	time.Sleep(300 * time.Millisecond)

	msgs, _ := eng.Store().GetMessages(conv.ID)
	if len(msgs) != 2 {
		t.Fatalf("expected user + assistant messages, got %d", len(msgs))
	}
	if msgs[1].Role != "assistant" || msgs[1].Content != directiveReply {
		t.Fatalf("unexpected assistant message: %+v", msgs[1])
	}

	got, _ := eng.Store().GetConversation(conv.ID)
	if got.Status != model.StatusIdle {
		t.Fatalf("expected status 'idle' after turn, got %q (%s)", got.Status, got.Error)
	}
	if got.Title != "create hello.txt" {
		t.Fatalf("expected title from first message, got %q", got.Title)
	}
}

// slowLLM delays before streaming so callers can observe mid-turn state.
type slowLLM struct {
	stubLLM
	delay time.Duration
}

func (s *slowLLM) Stream(ctx context.Context, system string, history []llm.Message, onDelta func(string)) (string, error) {
	time.Sleep(s.delay)
	return s.stubLLM.Stream(ctx, system, history, onDelta)
}

func TestSendMessageMarksStreamingBeforeReturn(t *testing.T) {
	eng, _ := testEngine(t, &slowLLM{stubLLM: stubLLM{reply: "ok"}, delay: 200 * time.Millisecond})

	conv, _ := eng.CreateConversation(t.TempDir(), "")
	if _, err := eng.SendMessage(conv.ID, "go"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	got, _ := eng.Store().GetConversation(conv.ID)
	if got.Status != model.StatusStreaming {
		t.Fatalf("expected status 'streaming' immediately after SendMessage, got %q", got.Status)
	}

	// A second message while the turn is in flight is rejected.
	if _, err := eng.SendMessage(conv.ID, "again"); err == nil {
		t.Fatal("expected error while a turn is streaming")
	}

	time.Sleep(500 * time.Millisecond)
	got, _ = eng.Store().GetConversation(conv.ID)
	if got.Status != model.StatusIdle {
		t.Fatalf("expected status 'idle' after the turn, got %q (%s)", got.Status, got.Error)
	}
}

func TestTurnPersistsDirectives(t *testing.T) {
	eng, _ := testEngine(t, &stubLLM{reply: directiveReply})

	conv, _ := eng.CreateConversation(t.TempDir(), "")
	eng.SendMessage(conv.ID, "create hello.txt")
	time.Sleep(300 * time.Millisecond)

	directives, err := eng.Store().GetDirectives(conv.ID)
	if err != nil {
		t.Fatalf("GetDirectives: %v", err)
	}
	if len(directives) != 1 {
		t.Fatalf("expected 1 directive, got %d", len(directives))
	}
	d := directives[0]
	if d.Kind != "new_file" || d.FilePath != "hello.txt" || d.Content != "hello world" {
		t.Fatalf("unexpected directive: %+v", d)
	}
	if d.Applied {
		t.Fatal("expected directive to start unapplied")
	}
}

func TestTurnEmitsDeltaAndDoneEvents(t *testing.T) {
	eng, _ := testEngine(t, &stubLLM{reply: directiveReply})

	conv, _ := eng.CreateConversation(t.TempDir(), "")
	eng.SendMessage(conv.ID, "go")
	time.Sleep(300 * time.Millisecond)

	events, _ := eng.Store().GetEvents(conv.ID, 0)
	deltaFound, doneFound, directiveFound := false, false, false
	for _, e := range events {
		switch e.Type {
		case "delta":
			deltaFound = true
		case "done":
			doneFound = true
		case "directive":
			directiveFound = true
		}
	}
	if !deltaFound {
		t.Fatal("expected delta events")
	}
	if !doneFound {
		t.Fatal("expected done event")
	}
	if !directiveFound {
		t.Fatal("expected directive event")
	}
}

func TestSegmentsEventPublishedPerDelta(t *testing.T) {
	eng, _ := testEngine(t, &stubLLM{reply: directiveReply})

	conv, _ := eng.CreateConversation(t.TempDir(), "")
	ch := eng.Bus().Subscribe(conv.ID)
	defer eng.Bus().Unsubscribe(conv.ID, ch)

	eng.SendMessage(conv.ID, "go")

	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == "segments" {
				if !strings.Contains(e.Data, "\"kind\"") {
					t.Fatalf("expected segment JSON, got %q", e.Data)
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for segments event")
		}
	}
}

func TestSegmentsAfterTurn(t *testing.T) {
	eng, _ := testEngine(t, &stubLLM{reply: directiveReply})

	conv, _ := eng.CreateConversation(t.TempDir(), "")
	eng.SendMessage(conv.ID, "go")
	time.Sleep(300 * time.Millisecond)

	segs, err := eng.Segments(conv.ID)
	if err != nil {
		t.Fatalf("Segments: %v", err)
	}
	if len(segs) != 3 {
		t.Fatalf("expected 3 segments, got %d: %+v", len(segs), segs)
	}
	if segs[1].Kind != transcript.KindNewFile {
		t.Fatalf("expected new_file in the middle, got %q", segs[1].Kind)
	}
}

// capturingLLM records the system prompt it was streamed with.
type capturingLLM struct {
	stubLLM
	system string
}

func (c *capturingLLM) Stream(ctx context.Context, system string, history []llm.Message, onDelta func(string)) (string, error) {
	c.system = system
	return c.stubLLM.Stream(ctx, system, history, onDelta)
}

// stubContext returns a fixed context block and records the query it saw.
type stubContext struct {
	block string
	err   error
	query string
}

func (s *stubContext) Context(_ context.Context, _, query string) (string, error) {
	s.query = query
	return s.block, s.err
}

func TestTurnInjectsWorkspaceContext(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := sqliteStore.New(dbPath)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	client := &capturingLLM{stubLLM: stubLLM{reply: "Sure."}}
	src := &stubContext{block: "## Relevant Code Context\n\nfunc Greet() {}"}
	eng := New(Config{Context: src}, st, eventbus.NewInMemoryBus(), client, nil)

	conv, _ := eng.CreateConversation(t.TempDir(), "")
	eng.SendMessage(conv.ID, "what does Greet do?")
	time.Sleep(300 * time.Millisecond)

	if src.query != "what does Greet do?" {
		t.Fatalf("expected retrieval query from the user message, got %q", src.query)
	}
	if !strings.Contains(client.system, "Relevant Code Context") {
		t.Fatal("expected retrieved context appended to the system prompt")
	}
	if !strings.HasPrefix(client.system, DefaultSystemPrompt) {
		t.Fatal("expected the base system prompt to come first")
	}
}

func TestTurnSurvivesContextFailure(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := sqliteStore.New(dbPath)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	src := &stubContext{err: errors.New("index offline")}
	eng := New(Config{Context: src}, st, eventbus.NewInMemoryBus(), &stubLLM{reply: "Sure."}, nil)

	conv, _ := eng.CreateConversation(t.TempDir(), "")
	eng.SendMessage(conv.ID, "go")
	time.Sleep(300 * time.Millisecond)

	got, _ := eng.Store().GetConversation(conv.ID)
	if got.Status != model.StatusIdle {
		t.Fatalf("expected turn to complete despite retrieval failure, got %q (%s)", got.Status, got.Error)
	}
}

func TestStreamErrorFailsConversation(t *testing.T) {
	eng, _ := testEngine(t, &stubLLM{err: errors.New("boom")})

	conv, _ := eng.CreateConversation(t.TempDir(), "")
	eng.SendMessage(conv.ID, "go")
	time.Sleep(300 * time.Millisecond)

	got, _ := eng.Store().GetConversation(conv.ID)
	if got.Status != model.StatusError {
		t.Fatalf("expected status 'error', got %q", got.Status)
	}
	if !strings.Contains(got.Error, "boom") {
		t.Fatalf("expected provider error recorded, got %q", got.Error)
	}
}

func TestMessageLimit(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := sqliteStore.New(dbPath)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	eng := New(Config{MaxMessages: 1}, st, eventbus.NewInMemoryBus(), &stubLLM{reply: "ok"}, nil)

	conv, _ := eng.CreateConversation(t.TempDir(), "")
	if _, err := eng.SendMessage(conv.ID, "first"); err != nil {
		t.Fatalf("first message: %v", err)
	}
	time.Sleep(300 * time.Millisecond)

	if _, err := eng.SendMessage(conv.ID, "second"); err == nil {
		t.Fatal("expected message limit error")
	}
}

func TestApplyDirective(t *testing.T) {
	eng, _ := testEngine(t, &stubLLM{reply: directiveReply})

	ws := t.TempDir()
	conv, _ := eng.CreateConversation(ws, "")
	eng.SendMessage(conv.ID, "go")
	time.Sleep(300 * time.Millisecond)

	directives, _ := eng.Store().GetDirectives(conv.ID)
	if len(directives) != 1 {
		t.Fatalf("expected 1 directive, got %d", len(directives))
	}

	applied, err := eng.ApplyDirective(directives[0].ID)
	if err != nil {
		t.Fatalf("ApplyDirective: %v", err)
	}
	if !applied.Applied {
		t.Fatal("expected directive marked applied")
	}

	data, err := os.ReadFile(filepath.Join(ws, "hello.txt"))
	if err != nil {
		t.Fatalf("reading applied file: %v", err)
	}
	if string(data) != "hello world\n" {
		t.Fatalf("unexpected file content %q", string(data))
	}

	// Re-applying is rejected.
	if _, err := eng.ApplyDirective(directives[0].ID); err == nil {
		t.Fatal("expected error re-applying a directive")
	}
}

func TestCreatePRFromConversation(t *testing.T) {
	eng, git := testEngine(t, &stubLLM{reply: directiveReply})

	ws := t.TempDir()
	conv, _ := eng.CreateConversation(ws, "owner/repo")
	eng.SendMessage(conv.ID, "create hello.txt")
	time.Sleep(300 * time.Millisecond)

	directives, _ := eng.Store().GetDirectives(conv.ID)
	if _, err := eng.ApplyDirective(directives[0].ID); err != nil {
		t.Fatalf("ApplyDirective: %v", err)
	}

	prURL, prNumber, err := eng.CreatePRFromConversation(conv.ID)
	if err != nil {
		t.Fatalf("CreatePRFromConversation: %v", err)
	}
	if prURL == "" || prNumber != 1 {
		t.Fatalf("unexpected PR result: %q %d", prURL, prNumber)
	}
	if git.createPRCalls != 1 {
		t.Fatalf("expected 1 CreatePR call, got %d", git.createPRCalls)
	}
	if len(git.pushedFiles) != 1 || git.pushedFiles[0].Path != "hello.txt" {
		t.Fatalf("unexpected pushed files: %+v", git.pushedFiles)
	}
	if !strings.HasPrefix(git.pushedBranch, "codesift/") {
		t.Fatalf("expected branch prefix 'codesift/', got %q", git.pushedBranch)
	}
}

func TestCreatePRRequiresRepoAndAppliedDirectives(t *testing.T) {
	eng, _ := testEngine(t, &stubLLM{reply: directiveReply})

	conv, _ := eng.CreateConversation(t.TempDir(), "")
	if _, _, err := eng.CreatePRFromConversation(conv.ID); err == nil {
		t.Fatal("expected error without a repo")
	}

	conv2, _ := eng.CreateConversation(t.TempDir(), "owner/repo")
	if _, _, err := eng.CreatePRFromConversation(conv2.ID); err == nil {
		t.Fatal("expected error without applied directives")
	}
}

func TestEngineStartAndStop(t *testing.T) {
	eng, _ := testEngine(t, &stubLLM{})

	ctx, cancel := context.WithCancel(context.Background())
	eng.Start(ctx)

	cancel()
	eng.Stop()

	// Should not panic or hang.
}
