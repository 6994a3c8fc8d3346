package teams

import "time"

// Team is the shared business context a group of users works under.
type Team struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	OwnerID     string            `json:"ownerId"`
	Business    string            `json:"business,omitempty"`
	Industry    string            `json:"industry,omitempty"`
	Preferences map[string]string `json:"preferences,omitempty"`
	Members     []string          `json:"members"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// IsMember reports whether userID belongs to the team.
func (t Team) IsMember(userID string) bool {
	for _, m := range t.Members {
		if m == userID {
			return true
		}
	}
	return false
}
