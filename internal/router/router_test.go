package router

import (
	"context"
	"errors"
	"testing"

	"github.com/carelink/aftercare/internal/gateway"
)

type fakeCompleter struct {
	response string
	err      error
	lastReq  gateway.Request
}

func (f *fakeCompleter) Complete(_ context.Context, req gateway.Request) (string, error) {
	f.lastReq = req
	return f.response, f.err
}

func TestClassifyUsesModel(t *testing.T) {
	fc := &fakeCompleter{response: `{"intent": "medication"}`}
	r := New(fc, nil)

	d := r.Classify(context.Background(), "can I take my pill with food?", "")
	if d.Intent != IntentMedication {
		t.Errorf("Intent = %q, want medication", d.Intent)
	}
	if d.Fallback {
		t.Error("Fallback = true, want false")
	}
	if len(fc.lastReq.Messages) != 2 || fc.lastReq.Messages[0].Role != "system" {
		t.Errorf("unexpected request messages: %+v", fc.lastReq.Messages)
	}
}

func TestClassifyFallsBackOnError(t *testing.T) {
	fc := &fakeCompleter{err: errors.New("all providers down")}
	r := New(fc, nil)

	d := r.Classify(context.Background(), "I need to reschedule my appointment", "")
	if d.Intent != IntentAppointment {
		t.Errorf("Intent = %q, want appointment", d.Intent)
	}
	if !d.Fallback {
		t.Error("Fallback = false, want true")
	}
}

func TestClassifyFallsBackOnGarbage(t *testing.T) {
	fc := &fakeCompleter{response: "I think this could be about many things"}
	r := New(fc, nil)

	d := r.Classify(context.Background(), "my incision looks red and swollen", "")
	if d.Intent != IntentFollowup {
		t.Errorf("Intent = %q, want followup", d.Intent)
	}
	if !d.Fallback {
		t.Error("Fallback = false, want true")
	}
}

func TestClassifyModelHelpConsultsKeywords(t *testing.T) {
	fc := &fakeCompleter{response: `{"intent": "help"}`}
	r := New(fc, nil)

	d := r.Classify(context.Background(), "I am patient 10004235, can you check my appointment?", "")
	if d.Intent != IntentAppointment {
		t.Errorf("Intent = %q, want appointment via keyword fallback when model says help", d.Intent)
	}
	if !d.Fallback {
		t.Error("Fallback = false, want true")
	}
	if d.PatientID != "10004235" {
		t.Errorf("PatientID = %q, want 10004235", d.PatientID)
	}
}

func TestClassifyModelHelpKeywordsAgree(t *testing.T) {
	fc := &fakeCompleter{response: `{"intent": "help"}`}
	r := New(fc, nil)

	d := r.Classify(context.Background(), "hi, what can you do?", "")
	if d.Intent != IntentHelp {
		t.Errorf("Intent = %q, want help", d.Intent)
	}
	if !d.Fallback {
		t.Error("Fallback = false, want true")
	}
}

func TestClassifyNilCompleter(t *testing.T) {
	r := New(nil, nil)
	d := r.Classify(context.Background(), "hello there", "")
	if d.Intent != IntentHelp {
		t.Errorf("Intent = %q, want help", d.Intent)
	}
}

func TestPatientIDExtraction(t *testing.T) {
	r := New(nil, nil)

	tests := []struct {
		name    string
		text    string
		known   string
		wantPID string
	}{
		{"extracted from text", "this is patient 10004235, I have a question", "", "10004235"},
		{"extracted wins over known", "patient 10000032 here", "10004235", "10000032"},
		{"known kept when absent", "I have a question", "10004235", "10004235"},
		{"seven digits ignored", "my code is 1234567", "", ""},
		{"nine digits ignored", "call 123456789", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := r.Classify(context.Background(), tt.text, tt.known)
			if d.PatientID != tt.wantPID {
				t.Errorf("PatientID = %q, want %q", d.PatientID, tt.wantPID)
			}
		})
	}
}

func TestKeywordFallbackPerDomain(t *testing.T) {
	tests := []struct {
		text string
		want Intent
	}{
		{"I'd like to book an appointment next week", IntentAppointment},
		{"can you reschedule my visit", IntentAppointment},
		{"I have a fever of 101 and feel dizzy", IntentFollowup},
		{"my wound is bleeding again", IntentFollowup},
		{"I forgot to take my metformin this morning", IntentMedication},
		{"what are the side effects of my prescription", IntentMedication},
		{"I'm calling on behalf of my mother", IntentCaregiver},
		{"checking on my father after his surgery discharge", IntentCaregiver},
		{"hi, what can you do?", IntentHelp},
		{"I need help immediately", IntentHelp},
		{"", IntentHelp},
	}
	for _, tt := range tests {
		if got := classifyByKeywords(tt.text); got != tt.want {
			t.Errorf("classifyByKeywords(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestSymptomsOutrankScheduling(t *testing.T) {
	// Safety redesign: a symptom in the same breath as a scheduling request
	// routes to triage, not the calendar.
	got := classifyByKeywords("I want to cancel my appointment because of chest pain")
	if got != IntentFollowup {
		t.Errorf("got %q, want followup", got)
	}
}

func TestCaregiverSymptomRoutesToTriage(t *testing.T) {
	got := classifyByKeywords("my mother has severe pain since yesterday")
	if got != IntentFollowup {
		t.Errorf("got %q, want followup", got)
	}
}

func TestParseIntent(t *testing.T) {
	tests := []struct {
		raw     string
		want    Intent
		wantErr bool
	}{
		{`{"intent": "appointment"}`, IntentAppointment, false},
		{"```json\n{\"intent\": \"followup\"}\n```", IntentFollowup, false},
		{`caregiver`, IntentCaregiver, false},
		{`"help"`, IntentHelp, false},
		{`MEDICATION`, IntentMedication, false},
		{`{"intent": "billing"}`, "", true},
		{`no idea`, "", true},
	}
	for _, tt := range tests {
		got, err := parseIntent(tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseIntent(%q): expected error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseIntent(%q): %v", tt.raw, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseIntent(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
