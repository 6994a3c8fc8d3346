package users

import "time"

// Preferences drive how prompts are enriched for the user.
type Preferences struct {
	Currency           string `json:"currency,omitempty"`
	DateFormat         string `json:"dateFormat,omitempty"`
	Language           string `json:"language,omitempty"`
	Industry           string `json:"industry,omitempty"`
	BusinessType       string `json:"businessType,omitempty"`
	FinancialYearStart string `json:"financialYearStart,omitempty"`
	ReportingPeriod    string `json:"reportingPeriod,omitempty"`
	CompanySize        string `json:"companySize,omitempty"`
	AnalysisPreference string `json:"analysisPreference,omitempty"`
}

// Field is one labelled preference value.
type Field struct {
	Label string
	Value string
}

// Fields returns the non-empty preferences in a stable order.
func (p Preferences) Fields() []Field {
	all := []Field{
		{"Currency", p.Currency},
		{"Date format", p.DateFormat},
		{"Language", p.Language},
		{"Industry", p.Industry},
		{"Business type", p.BusinessType},
		{"Financial year start", p.FinancialYearStart},
		{"Reporting period", p.ReportingPeriod},
		{"Company size", p.CompanySize},
		{"Analysis preference", p.AnalysisPreference},
	}
	out := make([]Field, 0, len(all))
	for _, f := range all {
		if f.Value != "" {
			out = append(out, f)
		}
	}
	return out
}

type User struct {
	ID          string      `json:"id"`
	Email       string      `json:"email"`
	FullName    string      `json:"fullName,omitempty"`
	TeamID      string      `json:"teamId,omitempty"`
	Plan        string      `json:"plan,omitempty"`
	PlanStatus  string      `json:"planStatus,omitempty"`
	Preferences Preferences `json:"preferences"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}
