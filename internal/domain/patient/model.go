package patient

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/backlinemd/backlinemd/internal/domain/workflow"
)

// ErrNotFound is returned when a patient id or MRN does not exist.
var ErrNotFound = errors.New("patient not found")

// Patient maps to the patients table.
type Patient struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	MRN               string     `db:"mrn" json:"mrn"`
	FirstName         string     `db:"first_name" json:"first_name"`
	LastName          string     `db:"last_name" json:"last_name"`
	DOB               *time.Time `db:"dob" json:"dob,omitempty"`
	Gender            *string    `db:"gender" json:"gender,omitempty"`
	Email             *string    `db:"email" json:"email,omitempty"`
	Phone             *string    `db:"phone" json:"phone,omitempty"`
	AddressLine       *string    `db:"address_line" json:"address_line,omitempty"`
	City              *string    `db:"city" json:"city,omitempty"`
	State             *string    `db:"state" json:"state,omitempty"`
	PostalCode        *string    `db:"postal_code" json:"postal_code,omitempty"`
	Preconditions     []string   `db:"preconditions" json:"preconditions"`
	Flags             []string   `db:"flags" json:"flags"`
	LatestVitals      *Vitals    `db:"latest_vitals" json:"latest_vitals,omitempty"`
	Insurance         *Insurance `db:"insurance" json:"insurance,omitempty"`
	ProfileImageURL   *string    `db:"profile_image_url" json:"profile_image_url,omitempty"`
	Status            string     `db:"status" json:"status"`
	TasksCount        int        `db:"tasks_count" json:"tasks_count"`
	AppointmentsCount int        `db:"appointments_count" json:"appointments_count"`
	FlaggedCount      int        `db:"flagged_count" json:"flagged_count"`
	SearchNgrams      []string   `db:"search_ngrams" json:"-"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// Vitals is the most recent set of measurements, stored as JSONB.
type Vitals struct {
	BloodPressure string `json:"blood_pressure,omitempty"`
	HeartRate     int    `json:"heart_rate,omitempty"`
	Temperature   string `json:"temperature,omitempty"`
	Weight        string `json:"weight,omitempty"`
}

// Insurance is the patient's coverage, stored as JSONB.
type Insurance struct {
	Provider      string `json:"provider"`
	PolicyNumber  string `json:"policy_number,omitempty"`
	GroupNumber   string `json:"group_number,omitempty"`
	EffectiveDate string `json:"effective_date,omitempty"`
	ExpiryDate    string `json:"expiry_date,omitempty"`
}

// Note is a free-text clinical note attached to a patient.
type Note struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PatientID uuid.UUID `db:"patient_id" json:"patient_id"`
	Content   string    `db:"content" json:"content"`
	Author    string    `db:"author" json:"author"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Activity is one entry in a patient's recent-activity feed, assembled
// from tasks, appointments, documents, notes, and claims.
type Activity struct {
	Type    string    `json:"type"`
	Title   string    `json:"title"`
	At      time.Time `json:"at"`
	TimeAgo string    `json:"time_ago"`
	RefID   string    `json:"ref_id"`
}

func (p *Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// NewMRN produces a medical record number like MRN483920.
func NewMRN() string {
	return fmt.Sprintf("MRN%06d", 100000+rand.Intn(900000))
}

// Ngrams lowercases s and returns its character trigrams, used for
// fuzzy name search.
func Ngrams(s string) []string {
	s = strings.ToLower(strings.TrimSpace(s))
	runes := []rune(s)
	if len(runes) < 3 {
		if len(runes) == 0 {
			return nil
		}
		return []string{string(runes)}
	}

	seen := make(map[string]struct{})
	var grams []string
	for i := 0; i+3 <= len(runes); i++ {
		g := string(runes[i : i+3])
		if _, dup := seen[g]; dup {
			continue
		}
		seen[g] = struct{}{}
		grams = append(grams, g)
	}
	return grams
}

// TimeAgo renders a timestamp as a coarse human distance ("2h ago").
func TimeAgo(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 30*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return t.Format("Jan 2, 2006")
	}
}

// DefaultStatus is where every new patient starts.
var DefaultStatus = string(workflow.StatusIntakeInProgress)
