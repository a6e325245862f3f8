package agents

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/carelink/aftercare/internal/directory"
	"github.com/carelink/aftercare/internal/gateway"
	"github.com/carelink/aftercare/internal/orchestrator"
	"github.com/carelink/aftercare/internal/triage"
)

type fakeFollowupStore struct {
	priorCounts map[string]int
	recent      []directory.SymptomReport
	saved       []directory.SymptomReport
}

func (f *fakeFollowupStore) SymptomReportCount(_ context.Context, _, symptom string, _ int) (int, error) {
	return f.priorCounts[symptom], nil
}

func (f *fakeFollowupStore) AddSymptomReport(_ context.Context, r directory.SymptomReport) error {
	f.saved = append(f.saved, r)
	return nil
}

func (f *fakeFollowupStore) RecentSymptoms(_ context.Context, _ string, _ int) ([]directory.SymptomReport, error) {
	return f.recent, nil
}

type fakeSymptomCompleter struct {
	response string
	err      error
}

func (f *fakeSymptomCompleter) Complete(_ context.Context, _ gateway.Request) (string, error) {
	return f.response, f.err
}

func newFollowupAgent(store *fakeFollowupStore) *Followup {
	cls := triage.NewClassifier(triage.DefaultRules(), store, 7)
	return NewFollowup(cls, store, nil, nil)
}

func TestFollowupRedResponse(t *testing.T) {
	f := newFollowupAgent(&fakeFollowupStore{})

	res, err := f.Handle(context.Background(), &orchestrator.Turn{
		Input: "I have chest pain and trouble breathing", PatientID: "10000032",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.Risk != "RED" {
		t.Errorf("Risk = %q, want RED", res.Risk)
	}
	if !strings.Contains(res.Response, "911") {
		t.Errorf("response = %q, want emergency instruction", res.Response)
	}
}

func TestFollowupOrangeResponse(t *testing.T) {
	f := newFollowupAgent(&fakeFollowupStore{})

	res, err := f.Handle(context.Background(), &orchestrator.Turn{
		Input: "my temperature is 100.2 this morning", PatientID: "10000032",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.Risk != "ORANGE" {
		t.Errorf("Risk = %q, want ORANGE", res.Risk)
	}
	if !strings.Contains(res.Response, "nurse") {
		t.Errorf("response = %q, want nurse callback", res.Response)
	}
}

func TestFollowupGreenResponse(t *testing.T) {
	f := newFollowupAgent(&fakeFollowupStore{})

	res, err := f.Handle(context.Background(), &orchestrator.Turn{
		Input: "feeling a little tired but okay overall", PatientID: "10000032",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.Risk != "GREEN" {
		t.Errorf("Risk = %q, want GREEN", res.Risk)
	}
}

func TestFollowupPersistsReportAfterEvaluation(t *testing.T) {
	store := &fakeFollowupStore{}
	f := newFollowupAgent(store)

	_, err := f.Handle(context.Background(), &orchestrator.Turn{
		Input: "I feel dizzy, about 6/10", PatientID: "10004235",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(store.saved) != 1 {
		t.Fatalf("saved %d reports, want 1", len(store.saved))
	}
	r := store.saved[0]
	if r.Symptom != "dizziness" {
		t.Errorf("Symptom = %q, want dizziness", r.Symptom)
	}
	if r.Severity == nil || *r.Severity != 6 {
		t.Errorf("Severity = %v, want 6", r.Severity)
	}
}

func TestFollowupModelSymptomExtraction(t *testing.T) {
	store := &fakeFollowupStore{}
	cls := triage.NewClassifier(triage.DefaultRules(), store, 7)
	fc := &fakeSymptomCompleter{response: `{"symptoms": ["leg tingling", "bruising"]}`}
	f := NewFollowup(cls, store, fc, nil)

	// No phrase from the keyword tables, so only the model names the symptom.
	_, err := f.Handle(context.Background(), &orchestrator.Turn{
		Input: "my leg has been tingling and I noticed some bruising", PatientID: "10004235",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(store.saved) != 1 {
		t.Fatalf("saved %d reports, want 1", len(store.saved))
	}
	if store.saved[0].Symptom != "leg tingling" {
		t.Errorf("Symptom = %q, want leg tingling", store.saved[0].Symptom)
	}
}

func TestFollowupExtractionFallsBackToKeywords(t *testing.T) {
	store := &fakeFollowupStore{}
	cls := triage.NewClassifier(triage.DefaultRules(), store, 7)
	fc := &fakeSymptomCompleter{err: errors.New("providers down")}
	f := NewFollowup(cls, store, fc, nil)

	res, err := f.Handle(context.Background(), &orchestrator.Turn{
		Input: "I feel dizzy, about 6/10", PatientID: "10004235",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.Context["symptom"] != "dizziness" {
		t.Errorf("symptom = %v, want dizziness via keywords", res.Context["symptom"])
	}
	if len(store.saved) != 1 || store.saved[0].Symptom != "dizziness" {
		t.Errorf("saved = %+v, want one dizziness report", store.saved)
	}
}

func TestFollowupRecurrenceEscalates(t *testing.T) {
	store := &fakeFollowupStore{priorCounts: map[string]int{"dizziness": 1}}
	f := newFollowupAgent(store)

	res, err := f.Handle(context.Background(), &orchestrator.Turn{
		Input: "dizzy again today, 7 out of 10", PatientID: "10004235",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	// Moderate severity would be ORANGE; the second report inside the window
	// escalates it to RED.
	if res.Risk != "RED" {
		t.Errorf("Risk = %q, want RED", res.Risk)
	}
	if res.Context["escalated"] != true {
		t.Errorf("escalated = %v, want true", res.Context["escalated"])
	}
}

func TestFollowupMentionsOtherRecentSymptoms(t *testing.T) {
	store := &fakeFollowupStore{recent: []directory.SymptomReport{
		{PatientID: "10000032", Symptom: "headache"},
		{PatientID: "10000032", Symptom: "nausea"},
		{PatientID: "10000032", Symptom: "headache"},
	}}
	f := newFollowupAgent(store)

	res, err := f.Handle(context.Background(), &orchestrator.Turn{
		Input: "feeling a bit dizzy, maybe 3 out of 10", PatientID: "10000032",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !strings.Contains(res.Response, "headache") || !strings.Contains(res.Response, "nausea") {
		t.Errorf("response = %q, want it to mention headache and nausea", res.Response)
	}
	got, ok := res.Context["recent_symptoms"].([]string)
	if !ok || len(got) != 2 {
		t.Errorf("recent_symptoms = %v, want two distinct symptoms", res.Context["recent_symptoms"])
	}
}

func TestFollowupRedSkipsRecentSymptomChatter(t *testing.T) {
	store := &fakeFollowupStore{recent: []directory.SymptomReport{
		{PatientID: "10000032", Symptom: "headache"},
	}}
	f := newFollowupAgent(store)

	res, err := f.Handle(context.Background(), &orchestrator.Turn{
		Input: "I have chest pain", PatientID: "10000032",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if strings.Contains(res.Response, "headache") {
		t.Errorf("RED response should stay on the emergency instruction, got %q", res.Response)
	}
}

func TestFollowupNoPatientIDStillTriages(t *testing.T) {
	store := &fakeFollowupStore{}
	f := newFollowupAgent(store)

	res, err := f.Handle(context.Background(), &orchestrator.Turn{
		Input: "severe pain, 9 out of 10",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.Risk != "RED" {
		t.Errorf("Risk = %q, want RED", res.Risk)
	}
	if len(store.saved) != 0 {
		t.Errorf("saved %d reports without a patient ID, want 0", len(store.saved))
	}
}
