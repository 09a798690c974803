package model

import "time"

// CandidateProfile holds the fields collected over the conversation. The
// engine's completeness gate checks the core subset before letting a flow
// finish.
type CandidateProfile struct {
	ID                string    `db:"id" json:"id"`
	UserID            string    `db:"user_id" json:"userId"`
	BusinessUnitID    string    `db:"business_unit_id" json:"businessUnitId"`
	Name              string    `db:"name" json:"name"`
	LastName          string    `db:"last_name" json:"lastName"`
	Email             string    `db:"email" json:"email"`
	DateOfBirth       string    `db:"date_of_birth" json:"dateOfBirth"`
	Nationality       string    `db:"nationality" json:"nationality"`
	WorkPermit        string    `db:"work_permit" json:"workPermit"`
	NationalID        string    `db:"national_id" json:"nationalId"`
	Location          string    `db:"location" json:"location"`
	Experience        string    `db:"experience" json:"experience"`
	SalaryExpectation string    `db:"salary_expectation" json:"salaryExpectation"`
	Skills            string    `db:"skills" json:"skills"`
	CreatedAt         time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time `db:"updated_at" json:"updatedAt"`
}

// MissingCoreFields returns the names of required profile fields that are
// still empty: name, last name, skills, location, email.
func (p *CandidateProfile) MissingCoreFields() []string {
	var missing []string
	if p.Name == "" {
		missing = append(missing, "nombre")
	}
	if p.LastName == "" {
		missing = append(missing, "apellido")
	}
	if p.Skills == "" {
		missing = append(missing, "habilidades")
	}
	if p.Location == "" {
		missing = append(missing, "ubicación")
	}
	if p.Email == "" {
		missing = append(missing, "email")
	}
	return missing
}

// CorrectableFields maps the natural-language field names a candidate can
// name during recap correction to profile attributes.
var CorrectableFields = map[string]string{
	"nombre":       "name",
	"apellido":     "last_name",
	"apellidos":    "last_name",
	"email":        "email",
	"correo":       "email",
	"nacimiento":   "date_of_birth",
	"fecha":        "date_of_birth",
	"nacionalidad": "nationality",
	"permiso":      "work_permit",
	"documento":    "national_id",
	"ubicación":    "location",
	"ubicacion":    "location",
	"experiencia":  "experience",
	"salario":      "salary_expectation",
	"sueldo":       "salary_expectation",
	"habilidades":  "skills",
}
