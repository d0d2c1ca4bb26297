package chat

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestPartition_ReloadReproducesSessions(t *testing.T) {
	ctx := context.Background()
	backend := newMemoryBackend()
	gw := &scriptedGateway{}
	gw.push(&TurnResponse{
		Reply:     "Nice to meet you",
		Type:      "portfolio_preview",
		Data:      []byte(`{"step":1}`),
		Phase:     phasePtr(PhasePortfolio),
		Portfolio: &Portfolio{Headline: "Backend dev", Skills: []string{"Go", "SQL"}},
	}, nil)
	gw.push(&TurnResponse{
		Reply:   "Here are your matches",
		Phase:   phasePtr(PhaseResults),
		Matches: &[]Match{{ID: "m1", Title: "Intern", Company: "Acme", MatchPercentage: 87.5}},
	}, nil)

	store := openTestStore(t, backend, UserStudent)
	svc := NewService(store, gw)

	first, err := store.StartNewSession(ctx, UserStudent)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.SubmitTurn(ctx, first.ID, "hello"); err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if _, err := svc.SubmitTurn(ctx, first.ID, "show matches"); err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	second, err := store.StartNewSession(ctx, UserStudent)
	if err != nil {
		t.Fatalf("start second: %v", err)
	}
	if err := store.RenameSession(ctx, second.ID, "Design roles"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if err := store.LoadSession(ctx, first.ID); err != nil {
		t.Fatalf("load: %v", err)
	}

	reopened := openTestStore(t, backend, UserStudent)

	opts := cmp.Options{cmpopts.EquateEmpty()}
	if diff := cmp.Diff(store.ListSessions(UserStudent), reopened.ListSessions(UserStudent), opts); diff != "" {
		t.Fatalf("sessions differ after reload (-want +got):\n%s", diff)
	}
	if got, want := reopened.ActiveSessionID(UserStudent), first.ID; got != want {
		t.Fatalf("active after reload = %q, want %q", got, want)
	}
	if got := reopened.ListSessions(UserCompany); len(got) != 0 {
		t.Fatalf("company partition should be empty, got %d sessions", len(got))
	}
}

func TestDecodePartition_Invalid(t *testing.T) {
	cases := map[string]string{
		"not json":           `{"sessions": [`,
		"wrong user type":    `{"sessions":[{"id":"a","userType":"company","phase":"intro","messages":[]}],"activeSessionId":"a"}`,
		"duplicate ids":      `{"sessions":[{"id":"a","userType":"student","phase":"intro"},{"id":"a","userType":"student","phase":"intro"}],"activeSessionId":"a"}`,
		"bad phase":          `{"sessions":[{"id":"a","userType":"student","phase":"done"}],"activeSessionId":"a"}`,
		"dangling active":    `{"sessions":[],"activeSessionId":"zzz"}`,
		"bad role":           `{"sessions":[{"id":"a","userType":"student","phase":"intro","messages":[{"id":"m","role":"system","content":"x"}]}],"activeSessionId":"a"}`,
		"match out of range": `{"sessions":[{"id":"a","userType":"student","phase":"results","matches":[{"id":"m","title":"t","company":"c","matchPercentage":140}]}],"activeSessionId":"a"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodePartition([]byte(raw), UserStudent); err == nil {
				t.Fatalf("expected decode error")
			}
		})
	}
}

func TestOpenStore_CorruptPartitionLoadsEmpty(t *testing.T) {
	backend := newMemoryBackend()
	backend.data[PartitionKey{Owner: "owner-1", UserType: UserStudent}.String()] = []byte("{{{")

	store := openTestStore(t, backend, UserStudent)
	if got := store.ListSessions(UserStudent); len(got) != 0 {
		t.Fatalf("expected empty partition, got %d sessions", len(got))
	}
	if id := store.ActiveSessionID(UserStudent); id != "" {
		t.Fatalf("expected no active session, got %q", id)
	}
	if _, err := store.StartNewSession(context.Background(), UserStudent); err != nil {
		t.Fatalf("store should stay usable: %v", err)
	}
}

func TestOpenStore_RepairsMissingActivePointer(t *testing.T) {
	backend := newMemoryBackend()
	raw := `{"sessions":[
		{"id":"old","userType":"student","name":"a","createdAt":"2026-01-01T00:00:00Z","phase":"intro","messages":[]},
		{"id":"new","userType":"student","name":"b","createdAt":"2026-02-01T00:00:00Z","phase":"gathering","messages":[]}
	],"activeSessionId":null}`
	backend.data[PartitionKey{Owner: "owner-1", UserType: UserStudent}.String()] = []byte(raw)

	store := openTestStore(t, backend, UserStudent)
	if got := store.ActiveSessionID(UserStudent); got != "new" {
		t.Fatalf("active = %q, want new", got)
	}
}

func TestPartition_ReloadKeepsGatewayDataVerbatim(t *testing.T) {
	ctx := context.Background()
	backend := newMemoryBackend()

	resp, err := ParseResponse([]byte(`{"reply":"hi","type":"card","data": {"html": "<b>Go</b> & more", "n": 1}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	gw := &scriptedGateway{}
	gw.push(resp, nil)

	store := openTestStore(t, backend, UserStudent)
	svc := NewService(store, gw)
	res, err := svc.SubmitTurn(ctx, "", "show me a card")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := store.AppendMessage(ctx, res.SessionID, Message{
		Role:     RoleAssistant,
		Content:  "appended directly",
		Metadata: &Metadata{Type: "note", Data: []byte("{ \"tag\" : \"<i>\" }")},
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	reopened := openTestStore(t, backend, UserStudent)

	opts := cmp.Options{cmpopts.EquateEmpty()}
	if diff := cmp.Diff(store.ListSessions(UserStudent), reopened.ListSessions(UserStudent), opts); diff != "" {
		t.Fatalf("sessions differ after reload (-want +got):\n%s", diff)
	}
}
