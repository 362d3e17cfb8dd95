package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const exportTimeFormat = "2006-01-02 15:04:05"

// ExportMarkdown renders rooms as a markdown table.
func ExportMarkdown(rooms []Room) string {
	var b strings.Builder

	b.WriteString("# Rooms\n\n")
	if len(rooms) == 0 {
		b.WriteString("_No rooms._\n")
		return b.String()
	}

	b.WriteString("| Room | Created | Last joined | Joins |\n")
	b.WriteString("|------|---------|-------------|-------|\n")
	for _, r := range rooms {
		b.WriteString(fmt.Sprintf("| `%s` | %s | %s | %d |\n",
			r.ID, formatTime(r.CreatedAt), formatTime(r.LastJoinedAt), r.Joins))
	}
	return b.String()
}

// ExportJSON renders rooms as formatted JSON.
func ExportJSON(rooms []Room) ([]byte, error) {
	if rooms == nil {
		rooms = []Room{}
	}
	export := struct {
		ExportedAt time.Time `json:"exported_at"`
		Rooms      []Room    `json:"rooms"`
	}{
		ExportedAt: time.Now().UTC(),
		Rooms:      rooms,
	}
	return json.MarshalIndent(export, "", "  ")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(exportTimeFormat)
}
