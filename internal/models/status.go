package models

// Status values shared by exercise rounds, categories and learning objects.
const (
	StatusReady       = "ready"
	StatusHidden      = "hidden"
	StatusMaintenance = "maintenance"
	StatusUnlisted    = "unlisted"
)

// ValidStatus reports whether value is one of the known visibility statuses.
func ValidStatus(value string) bool {
	switch value {
	case StatusReady, StatusHidden, StatusMaintenance, StatusUnlisted:
		return true
	default:
		return false
	}
}
