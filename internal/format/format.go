// Package format renders messages for the terminal inbox.
package format

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"whatsapp-inbox/internal/models"
)

// TypeLabel returns the display label of a message type.
func TypeLabel(t models.MessageType) string {
	switch t {
	case models.MessageTypeClient:
		return "Cliente"
	case models.MessageTypeAI:
		return "IA"
	case models.MessageTypeAdmin:
		return "Atendente"
	case models.MessageTypeAudio:
		return "Áudio"
	}
	return string(t)
}

// DayLabel names the day of ts relative to now: "Hoje", "Ontem" or dd/mm/yyyy.
func DayLabel(ts, now time.Time) string {
	ts = ts.In(now.Location())
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, now.Location())

	switch {
	case day.Equal(today):
		return "Hoje"
	case day.Equal(today.AddDate(0, 0, -1)):
		return "Ontem"
	}
	return ts.Format("02/01/2006")
}

// Clock renders the local time of day as HH:MM.
func Clock(ts time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return ts.In(loc).Format("15:04")
}

// AudioDuration renders the content of an audio message. Content is either
// seconds ("42") or already m:ss; anything else is returned unchanged.
func AudioDuration(content string) string {
	content = strings.TrimSpace(content)
	secs, err := strconv.Atoi(content)
	if err != nil || secs < 0 {
		return content
	}
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

// Body is the text shown for a message.
func Body(m models.Message) string {
	if m.Type == models.MessageTypeAudio {
		return "🎤 " + AudioDuration(m.Content)
	}
	return m.Content
}

// Line renders a single message as "HH:MM [Label] body".
func Line(m models.Message, loc *time.Location) string {
	return fmt.Sprintf("%s [%s] %s", Clock(m.CreatedAt, loc), TypeLabel(m.Type), Body(m))
}

// DayGroup is a run of messages sharing one day label.
type DayGroup struct {
	Label    string
	Messages []models.Message
}

// GroupByDay splits msgs into consecutive runs by day label, keeping order.
func GroupByDay(msgs []models.Message, now time.Time) []DayGroup {
	var groups []DayGroup
	for _, m := range msgs {
		label := DayLabel(m.CreatedAt, now)
		if n := len(groups); n > 0 && groups[n-1].Label == label {
			groups[n-1].Messages = append(groups[n-1].Messages, m)
			continue
		}
		groups = append(groups, DayGroup{Label: label, Messages: []models.Message{m}})
	}
	return groups
}
