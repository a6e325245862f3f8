package directory

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding the patient directory: patients,
// caregivers, appointments, prescriptions, drug knowledge, and symptom history.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "aftercare.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// --- Patients ---

func (s *Store) GetPatient(ctx context.Context, id string) (Patient, error) {
	var p Patient
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, dob, age, language, chronic_conditions, caregiver_id
		FROM patients WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.DOB, &p.Age, &p.Language, &p.ChronicConditions, &p.CaregiverID)
	if err == sql.ErrNoRows {
		return Patient{}, ErrNotFound
	}
	if err != nil {
		return Patient{}, err
	}
	return p, nil
}

// --- Caregivers ---

func (s *Store) GetCaregiver(ctx context.Context, id string) (Caregiver, error) {
	var c Caregiver
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, relationship, consent_on_file
		FROM caregivers WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.Relationship, &c.ConsentOnFile)
	if err == sql.ErrNoRows {
		return Caregiver{}, ErrNotFound
	}
	if err != nil {
		return Caregiver{}, err
	}
	return c, nil
}

// CaregiverPatients returns the patients that list the given caregiver.
func (s *Store) CaregiverPatients(ctx context.Context, caregiverID string) ([]Patient, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, dob, age, language, chronic_conditions, caregiver_id
		FROM patients WHERE caregiver_id = ? ORDER BY id`, caregiverID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Patient
	for rows.Next() {
		var p Patient
		if err := rows.Scan(&p.ID, &p.Name, &p.DOB, &p.Age, &p.Language, &p.ChronicConditions, &p.CaregiverID); err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

func (s *Store) ListCaregivers(ctx context.Context) ([]Caregiver, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, relationship, consent_on_file FROM caregivers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Caregiver
	for rows.Next() {
		var c Caregiver
		if err := rows.Scan(&c.ID, &c.Name, &c.Relationship, &c.ConsentOnFile); err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// --- Appointments ---

// NextAppointment returns the patient's earliest scheduled appointment.
func (s *Store) NextAppointment(ctx context.Context, patientID string) (Appointment, error) {
	var a Appointment
	var at string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, patient_id, at, type, doctor, status, urgency, can_reschedule, plan_id
		FROM appointments
		WHERE patient_id = ? AND status = 'Scheduled'
		ORDER BY at ASC LIMIT 1`, patientID,
	).Scan(&a.ID, &a.PatientID, &at, &a.Type, &a.Doctor, &a.Status, &a.Urgency, &a.CanReschedule, &a.PlanID)
	if err == sql.ErrNoRows {
		return Appointment{}, ErrNotFound
	}
	if err != nil {
		return Appointment{}, err
	}
	if a.At, err = time.Parse(time.RFC3339, at); err != nil {
		return Appointment{}, fmt.Errorf("parsing appointment time: %w", err)
	}
	return a, nil
}

// AlternativeSlots returns up to limit open slots of the given appointment type,
// earliest first.
func (s *Store) AlternativeSlots(ctx context.Context, apptType string, limit int) ([]Slot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT at, doctor, type, location, modality
		FROM slots WHERE type = ? ORDER BY at ASC LIMIT ?`, apptType, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Slot
	for rows.Next() {
		var sl Slot
		var at string
		if err := rows.Scan(&at, &sl.Doctor, &sl.Type, &sl.Location, &sl.Modality); err != nil {
			return nil, err
		}
		if sl.At, err = time.Parse(time.RFC3339, at); err != nil {
			return nil, fmt.Errorf("parsing slot time: %w", err)
		}
		results = append(results, sl)
	}
	return results, rows.Err()
}

// --- Prescriptions and drug knowledge ---

func (s *Store) Prescriptions(ctx context.Context, patientID string) ([]Prescription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT patient_id, drug_name, condition, dosage
		FROM prescriptions WHERE patient_id = ? ORDER BY drug_name`, patientID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Prescription
	for rows.Next() {
		var p Prescription
		if err := rows.Scan(&p.PatientID, &p.DrugName, &p.Condition, &p.Dosage); err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

func (s *Store) DrugInfo(ctx context.Context, drugName string) (DrugInfo, error) {
	var d DrugInfo
	err := s.db.QueryRowContext(ctx, `
		SELECT drug_name, drug_class, common_side_effects, missed_dose_advice, serious_interactions, food_advice, contraindications
		FROM drug_knowledge WHERE drug_name = ?`, strings.ToLower(drugName),
	).Scan(&d.Name, &d.Class, &d.CommonSideEffects, &d.MissedDoseAdvice, &d.Interactions, &d.FoodAdvice, &d.Contraindications)
	if err == sql.ErrNoRows {
		return DrugInfo{}, ErrNotFound
	}
	if err != nil {
		return DrugInfo{}, err
	}
	return d, nil
}

// ListDrugs returns the names of every drug in the knowledge table.
func (s *Store) ListDrugs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT drug_name FROM drug_knowledge ORDER BY drug_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// --- Symptom history ---

func (s *Store) AddSymptomReport(ctx context.Context, r SymptomReport) error {
	at := r.At
	if at.IsZero() {
		at = time.Now()
	}
	var severity any
	if r.Severity != nil {
		severity = *r.Severity
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO symptom_reports (patient_id, symptom, severity, at)
		VALUES (?, ?, ?, ?)`,
		r.PatientID, strings.ToLower(r.Symptom), severity, at.UTC().Format(time.RFC3339),
	)
	return err
}

// RecentSymptoms returns the patient's symptom reports within the last window days,
// newest first.
func (s *Store) RecentSymptoms(ctx context.Context, patientID string, days int) ([]SymptomReport, error) {
	cutoff := time.Now().AddDate(0, 0, -days).UTC().Format(time.RFC3339)
	rows, err := s.db.QueryContext(ctx, `
		SELECT patient_id, symptom, severity, at
		FROM symptom_reports
		WHERE patient_id = ? AND at >= ?
		ORDER BY at DESC`, patientID, cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SymptomReport
	for rows.Next() {
		var r SymptomReport
		var severity sql.NullInt64
		var at string
		if err := rows.Scan(&r.PatientID, &r.Symptom, &severity, &at); err != nil {
			return nil, err
		}
		if severity.Valid {
			v := int(severity.Int64)
			r.Severity = &v
		}
		if r.At, err = time.Parse(time.RFC3339, at); err != nil {
			return nil, fmt.Errorf("parsing symptom report time: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// SymptomTrends aggregates the patient's reports in the window by symptom.
func (s *Store) SymptomTrends(ctx context.Context, patientID string, days int) ([]SymptomTrend, error) {
	cutoff := time.Now().AddDate(0, 0, -days).UTC().Format(time.RFC3339)
	rows, err := s.db.QueryContext(ctx, `
		SELECT symptom, COUNT(*), AVG(severity)
		FROM symptom_reports
		WHERE patient_id = ? AND at >= ?
		GROUP BY symptom
		ORDER BY COUNT(*) DESC, symptom`, patientID, cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SymptomTrend
	for rows.Next() {
		var t SymptomTrend
		var avg sql.NullFloat64
		if err := rows.Scan(&t.Symptom, &t.Count, &avg); err != nil {
			return nil, err
		}
		t.AvgSeverity = avg.Float64
		results = append(results, t)
	}
	return results, rows.Err()
}

// SymptomReportCount counts the patient's reports of a symptom within the last
// window days.
func (s *Store) SymptomReportCount(ctx context.Context, patientID, symptom string, days int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -days).UTC().Format(time.RFC3339)
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM symptom_reports
		WHERE patient_id = ? AND symptom = ? AND at >= ?`,
		patientID, strings.ToLower(symptom), cutoff,
	).Scan(&count)
	return count, err
}

// --- Medication adherence ---

func (s *Store) MedicationAdherence(ctx context.Context, patientID string, days int) (Adherence, error) {
	cutoff := time.Now().AddDate(0, 0, -days).UTC().Format(time.RFC3339)
	var a Adherence
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'taken' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'missed' THEN 1 ELSE 0 END), 0)
		FROM med_logs WHERE patient_id = ? AND at >= ?`, patientID, cutoff,
	).Scan(&a.Taken, &a.Missed)
	return a, err
}
