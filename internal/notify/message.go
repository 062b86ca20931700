package notify

import (
	"fmt"
	"strings"

	"incarceration-bot/internal/models"
)

// BuildNotification renders a match event for its monitor's recipient
func BuildNotification(e models.MatchEvent) models.Notification {
	n := models.Notification{
		RecipientAddress: e.Monitor.Notification.Address,
		RecipientMethod:  e.Monitor.Notification.Method,
		Attachment:       e.Inmate.Mugshot,
	}
	if n.Attachment == "" {
		n.Attachment = e.Monitor.Mugshot
	}

	name := e.Monitor.DisplayName
	switch e.Type {
	case models.EventArrested:
		n.Title = fmt.Sprintf("%s has been arrested", name)
	case models.EventReleased:
		n.Title = fmt.Sprintf("%s has been released", name)
	default:
		n.Title = fmt.Sprintf("%s is still incarcerated", name)
	}

	var lines []string
	if e.Partial {
		lines = append(lines, fmt.Sprintf("Roster name: %s (partial match)", e.Inmate.Name))
	}
	if d := models.FormatDate(e.Inmate.ArrestDate); d != "" {
		lines = append(lines, "Arrest date: "+d)
	}
	if e.Type == models.EventReleased && e.Inmate.ReleaseDate != "" {
		lines = append(lines, "Release date: "+e.Inmate.ReleaseDate)
	}
	if e.Inmate.BookingCharges != "" {
		lines = append(lines, "Charges: "+e.Inmate.BookingCharges)
	}
	if e.Inmate.HeldForAgency != "" {
		lines = append(lines, "Held for: "+e.Inmate.HeldForAgency)
	}
	if e.Monitor.JailName != "" {
		lines = append(lines, "Jail: "+e.Monitor.JailName)
	}
	n.Body = strings.Join(lines, "\n")

	return n
}
