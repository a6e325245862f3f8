package agents

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/carelink/aftercare/internal/gateway"
	"github.com/carelink/aftercare/internal/orchestrator"
)

type fakeHelpCompleter struct {
	response string
	err      error
}

func (f *fakeHelpCompleter) Complete(_ context.Context, _ gateway.Request) (string, error) {
	return f.response, f.err
}

func TestHelpUsesModel(t *testing.T) {
	h := NewHelp(&fakeHelpCompleter{response: "I can help with appointments and medications."}, nil)

	res, err := h.Handle(context.Background(), &orchestrator.Turn{Input: "what can you do?"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.Response != "I can help with appointments and medications." {
		t.Errorf("response = %q", res.Response)
	}
}

func TestHelpFallsBackWhenModelDown(t *testing.T) {
	h := NewHelp(&fakeHelpCompleter{err: errors.New("providers down")}, nil)

	res, err := h.Handle(context.Background(), &orchestrator.Turn{Input: "what can you do?"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !strings.Contains(res.Response, "aftercare assistant") {
		t.Errorf("response = %q, want static fallback", res.Response)
	}
}

func TestHelpNilCompleter(t *testing.T) {
	h := NewHelp(nil, nil)

	res, err := h.Handle(context.Background(), &orchestrator.Turn{Input: "hello"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !strings.Contains(res.Response, "appointments") {
		t.Errorf("response = %q", res.Response)
	}
}
