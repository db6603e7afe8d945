package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/nextlevelbuilder/orchestrator/internal/bus"
	"github.com/nextlevelbuilder/orchestrator/internal/reasonerclient"
	"github.com/nextlevelbuilder/orchestrator/internal/slashcmd"
)

type stubRouter struct{ agentID string }

func (s stubRouter) Resolve(channel, chatID string) (string, bool) {
	if s.agentID == "" {
		return "", false
	}
	return s.agentID, true
}

type stubSupervisor struct {
	running bool
	paused  bool
	rc      *reasonerclient.Client
}

func (s *stubSupervisor) EnsureRunning(ctx context.Context, agentID string) bool { return s.running }
func (s *stubSupervisor) UpdateActivity(agentID string)                         {}
func (s *stubSupervisor) IsPaused(agentID string) bool                          { return s.paused }
func (s *stubSupervisor) MarkPaused(agentID, reason string)                     {}
func (s *stubSupervisor) ReasonerFor(agentID string) (*reasonerclient.Client, bool) {
	if s.rc == nil {
		return nil, false
	}
	return s.rc, true
}

type stubSender struct{ sent []string }

func (s *stubSender) Send(ctx context.Context, channel, chatID, text string) error {
	s.sent = append(s.sent, text)
	return nil
}

func reasonerClientFor(t *testing.T, srv *httptest.Server) *reasonerclient.Client {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse server port: %v", err)
	}
	return reasonerclient.New(port)
}

func TestDispatch_NoAgentResolvedIsANoOp(t *testing.T) {
	sender := &stubSender{}
	p := &Pipeline{
		Supervisor: &stubSupervisor{},
		Router:     stubRouter{},
		Sender:     sender,
		SlashDeps:  slashcmd.Dependencies{},
	}

	p.Dispatch(context.Background(), bus.IncomingMessage{Channel: "telegram", ChatID: "1", Text: "hi"})

	if len(sender.sent) != 0 {
		t.Fatalf("expected no send when no agent resolves, got: %v", sender.sent)
	}
}

func TestDispatch_UnavailableAgentSendsNotice(t *testing.T) {
	sender := &stubSender{}
	p := &Pipeline{
		Supervisor: &stubSupervisor{running: false},
		Router:     stubRouter{agentID: "default"},
		Sender:     sender,
		SlashDeps:  slashcmd.Dependencies{},
	}

	p.Dispatch(context.Background(), bus.IncomingMessage{Channel: "telegram", ChatID: "1", Text: "hi"})

	if len(sender.sent) != 1 || sender.sent[0] != unavailableNotice {
		t.Fatalf("expected unavailable notice, got: %v", sender.sent)
	}
}

func TestDispatch_PausedAgentSendsPausedNotice(t *testing.T) {
	sender := &stubSender{}
	p := &Pipeline{
		Supervisor: &stubSupervisor{running: true, paused: true},
		Router:     stubRouter{agentID: "default"},
		Sender:     sender,
		SlashDeps:  slashcmd.Dependencies{},
	}

	p.Dispatch(context.Background(), bus.IncomingMessage{Channel: "telegram", ChatID: "1", Text: "hi"})

	if len(sender.sent) != 1 || sender.sent[0] != pausedNotice {
		t.Fatalf("expected paused notice, got: %v", sender.sent)
	}
}

func TestDispatch_SuccessfulReplySendsResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"response":"hello back"}`))
	}))
	defer srv.Close()

	sender := &stubSender{}
	p := &Pipeline{
		Supervisor: &stubSupervisor{running: true, rc: reasonerClientFor(t, srv)},
		Router:     stubRouter{agentID: "default"},
		Sender:     sender,
		SlashDeps:  slashcmd.Dependencies{},
	}

	p.Dispatch(context.Background(), bus.IncomingMessage{Channel: "telegram", ChatID: "1", Text: "hi"})

	if len(sender.sent) != 1 || sender.sent[0] != "hello back" {
		t.Fatalf("expected reasoner response to be sent, got: %v", sender.sent)
	}
}

func TestDispatch_SlashCommandBypassesReasoner(t *testing.T) {
	sender := &stubSender{}
	p := &Pipeline{
		Supervisor: &stubSupervisor{running: true},
		Router:     stubRouter{agentID: "default"},
		Sender:     sender,
		SlashDeps: slashcmd.Dependencies{
			AgentStatuses:  func() []slashcmd.AgentStatus { return nil },
			ServerStatuses: func() []slashcmd.ServerStatus { return nil },
		},
	}

	p.Dispatch(context.Background(), bus.IncomingMessage{Channel: "telegram", ChatID: "1", Text: "/status"})

	if len(sender.sent) != 1 {
		t.Fatalf("expected slash command to produce exactly one reply, got: %v", sender.sent)
	}
}
