package orchestrator_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/carelink/aftercare/internal/audit"
	"github.com/carelink/aftercare/internal/orchestrator"
	"github.com/carelink/aftercare/internal/router"
)

type fakeClassifier struct {
	decision router.Decision
}

func (f *fakeClassifier) Classify(_ context.Context, _, _ string) router.Decision {
	return f.decision
}

type fakeHandler struct {
	result orchestrator.Result
	err    error
	calls  int
}

func (f *fakeHandler) Handle(_ context.Context, _ *orchestrator.Turn) (orchestrator.Result, error) {
	f.calls++
	return f.result, f.err
}

type fakeAuditor struct {
	records []audit.Record
}

func (f *fakeAuditor) Append(r audit.Record) error {
	f.records = append(f.records, r)
	return nil
}

func totalHandlers(h orchestrator.Handler) map[router.Intent]orchestrator.Handler {
	return map[router.Intent]orchestrator.Handler{
		router.IntentAppointment: h,
		router.IntentFollowup:    h,
		router.IntentMedication:  h,
		router.IntentCaregiver:   h,
		router.IntentHelp:        h,
	}
}

func TestProcessHappyPath(t *testing.T) {
	handler := &fakeHandler{result: orchestrator.Result{
		Response: "A nurse will call you today.",
		Risk:     "ORANGE",
	}}
	auditor := &fakeAuditor{}
	o, err := orchestrator.New(
		&fakeClassifier{decision: router.Decision{Intent: router.IntentFollowup, PatientID: "10004235"}},
		totalHandlers(handler), auditor, nil,
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	turn := o.Process(context.Background(), orchestrator.Input{Text: "I feel dizzy", SessionID: "sess-1"})
	if turn.State != orchestrator.StateDone {
		t.Errorf("State = %q, want done", turn.State)
	}
	if turn.Response != "A nurse will call you today." {
		t.Errorf("Response = %q", turn.Response)
	}
	if turn.SessionID != "sess-1" {
		t.Errorf("SessionID = %q, want sess-1", turn.SessionID)
	}
	if turn.Risk != "ORANGE" {
		t.Errorf("Risk = %q, want ORANGE", turn.Risk)
	}
	if turn.ID == "" {
		t.Error("turn has no ID")
	}
	if handler.calls != 1 {
		t.Errorf("handler called %d times, want 1", handler.calls)
	}

	if len(auditor.records) != 1 {
		t.Fatalf("got %d audit records, want 1", len(auditor.records))
	}
	rec := auditor.records[0]
	if rec.ID != turn.ID || rec.Agent != "followup" || rec.PatientID != "10004235" {
		t.Errorf("audit record = %+v", rec)
	}
}

func TestProcessHandlerFailureStillLogged(t *testing.T) {
	handler := &fakeHandler{err: errors.New("directory unavailable")}
	auditor := &fakeAuditor{}
	o, err := orchestrator.New(
		&fakeClassifier{decision: router.Decision{Intent: router.IntentAppointment}},
		totalHandlers(handler), auditor, nil,
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	turn := o.Process(context.Background(), orchestrator.Input{Text: "reschedule me"})
	if turn.State != orchestrator.StateDone {
		t.Errorf("State = %q, want done", turn.State)
	}
	if !strings.Contains(turn.Response, "sorry") {
		t.Errorf("Response = %q, want apology", turn.Response)
	}
	if len(auditor.records) != 1 {
		t.Fatalf("got %d audit records, want 1", len(auditor.records))
	}
	if auditor.records[0].Context["handler_error"] == nil {
		t.Error("audit record missing handler_error context")
	}
}

func TestNewRejectsPartialHandlerMap(t *testing.T) {
	handlers := totalHandlers(&fakeHandler{})
	delete(handlers, router.IntentCaregiver)

	_, err := orchestrator.New(&fakeClassifier{}, handlers, &fakeAuditor{}, nil)
	if err == nil {
		t.Fatal("expected error for missing caregiver handler")
	}
	if !strings.Contains(err.Error(), "caregiver") {
		t.Errorf("err = %v", err)
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := orchestrator.New(nil, totalHandlers(&fakeHandler{}), &fakeAuditor{}, nil); err == nil {
		t.Error("expected error for nil classifier")
	}
	if _, err := orchestrator.New(&fakeClassifier{}, totalHandlers(&fakeHandler{}), nil, nil); err == nil {
		t.Error("expected error for nil auditor")
	}
}
