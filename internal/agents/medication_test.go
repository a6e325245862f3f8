package agents

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/carelink/aftercare/internal/directory"
	"github.com/carelink/aftercare/internal/gateway"
	"github.com/carelink/aftercare/internal/orchestrator"
)

type fakeMedStore struct {
	drugs         map[string]directory.DrugInfo
	prescriptions map[string][]directory.Prescription
}

func (f *fakeMedStore) Prescriptions(_ context.Context, patientID string) ([]directory.Prescription, error) {
	return f.prescriptions[patientID], nil
}

func (f *fakeMedStore) DrugInfo(_ context.Context, name string) (directory.DrugInfo, error) {
	d, ok := f.drugs[strings.ToLower(name)]
	if !ok {
		return directory.DrugInfo{}, directory.ErrNotFound
	}
	return d, nil
}

func (f *fakeMedStore) ListDrugs(_ context.Context) ([]string, error) {
	names := make([]string, 0, len(f.drugs))
	for name := range f.drugs {
		names = append(names, name)
	}
	return names, nil
}

type fakeMedCompleter struct {
	response string
	err      error
}

func (f *fakeMedCompleter) Complete(_ context.Context, _ gateway.Request) (string, error) {
	return f.response, f.err
}

func testMedStore() *fakeMedStore {
	return &fakeMedStore{
		drugs: map[string]directory.DrugInfo{
			"metformin": {
				Name:              "metformin",
				Class:             "biguanide",
				CommonSideEffects: "nausea, upset stomach",
				MissedDoseAdvice:  "Take it as soon as you remember unless the next dose is close.",
				Interactions:      "contrast dye, excessive alcohol",
				FoodAdvice:        "Take with meals to reduce stomach upset.",
				Contraindications: "severe kidney disease",
			},
		},
		prescriptions: map[string][]directory.Prescription{
			"10000032": {{PatientID: "10000032", DrugName: "metformin", Dosage: "500mg twice daily"}},
		},
	}
}

func TestMedicationDoubleDoseIsRed(t *testing.T) {
	m := NewMedication(testMedStore(), nil, nil)

	res, err := m.Handle(context.Background(), &orchestrator.Turn{
		Input: "I think I took my metformin twice this morning",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.Risk != "RED" {
		t.Errorf("Risk = %q, want RED", res.Risk)
	}
	if !strings.Contains(res.Response, "not take") {
		t.Errorf("response = %q, want do-not-redose instruction", res.Response)
	}
}

func TestMedicationMissedDose(t *testing.T) {
	m := NewMedication(testMedStore(), nil, nil)

	res, err := m.Handle(context.Background(), &orchestrator.Turn{
		Input: "I forgot to take my metformin last night",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.Risk != "ORANGE" {
		t.Errorf("Risk = %q, want ORANGE", res.Risk)
	}
	if !strings.Contains(res.Response, "as soon as you remember") {
		t.Errorf("response = %q, want missed dose advice", res.Response)
	}
}

func TestMedicationWorksWithoutPatientID(t *testing.T) {
	m := NewMedication(testMedStore(), nil, nil)

	res, err := m.Handle(context.Background(), &orchestrator.Turn{
		Input: "what are the side effects of metformin?",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !strings.Contains(res.Response, "nausea") {
		t.Errorf("response = %q, want side effects", res.Response)
	}
	if res.Risk != "" {
		t.Errorf("Risk = %q, want none", res.Risk)
	}
}

func TestMedicationDrugFromSinglePrescription(t *testing.T) {
	m := NewMedication(testMedStore(), nil, nil)

	res, err := m.Handle(context.Background(), &orchestrator.Turn{
		Input:     "should I take my medication with food?",
		PatientID: "10000032",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.Context["drug"] != "metformin" {
		t.Errorf("drug = %v, want metformin", res.Context["drug"])
	}
	if !strings.Contains(res.Response, "with meals") {
		t.Errorf("response = %q, want food advice", res.Response)
	}
}

func TestMedicationUnknownDrugAsksForName(t *testing.T) {
	m := NewMedication(testMedStore(), nil, nil)

	res, err := m.Handle(context.Background(), &orchestrator.Turn{
		Input: "what are the side effects of my medicine?",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !strings.Contains(res.Response, "which medication") {
		t.Errorf("response = %q, want request for drug name", res.Response)
	}
}

func TestMedicationModelClassification(t *testing.T) {
	fc := &fakeMedCompleter{response: `{"kind": "interaction_check"}`}
	m := NewMedication(testMedStore(), fc, nil)

	res, err := m.Handle(context.Background(), &orchestrator.Turn{
		Input: "is metformin okay with my other prescriptions?",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.Context["question_kind"] != "interaction_check" {
		t.Errorf("question_kind = %v", res.Context["question_kind"])
	}
	if res.Risk != "ORANGE" {
		t.Errorf("Risk = %q, want ORANGE", res.Risk)
	}
}

func TestMedicationModelFailureFallsBack(t *testing.T) {
	fc := &fakeMedCompleter{err: errors.New("providers down")}
	m := NewMedication(testMedStore(), fc, nil)

	res, err := m.Handle(context.Background(), &orchestrator.Turn{
		Input: "I skipped my metformin dose yesterday",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.Context["question_kind"] != "missed_dose" {
		t.Errorf("question_kind = %v, want missed_dose", res.Context["question_kind"])
	}
}

func TestClassifyMedKeywords(t *testing.T) {
	tests := []struct {
		text string
		want medIntent
	}{
		{"I took two doses by accident", medDoubleDose},
		{"I missed this morning's pill", medMissedDose},
		{"can I mix this with ibuprofen", medInteractionCheck},
		{"this medicine makes me feel strange", medSideEffect},
		{"is it safe for me if I'm pregnant", medContraindication},
		{"how do I take this", medInstruction},
		{"tell me about my prescription", medGeneral},
	}
	for _, tt := range tests {
		if got := classifyMedKeywords(tt.text); got != tt.want {
			t.Errorf("classifyMedKeywords(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}
