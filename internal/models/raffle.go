package models

import "time"

// Participant represents a person entering the raffle.
// Name is what duplicate detection compares; ID is the identity.
type Participant struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Location string   `json:"location,omitempty"`
	CSVData  []string `json:"csvData,omitempty"` // all columns of the source line
}

// Location is a prize slot a winner is assigned to.
type Location struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Award links one winner to one location.
type Award struct {
	Winner   Participant `json:"winner"`
	Location Location    `json:"location"`
}

// Raffle is a completed draw as kept in history.
// Locations holds only user-supplied locations; it is empty when the draw
// used placeholder slots.
type Raffle struct {
	ID                   string        `json:"id"`
	Title                string        `json:"title"`
	Date                 time.Time     `json:"date"`
	Participants         []Participant `json:"participants"`
	Locations            []Location    `json:"locations"`
	Awards               []Award       `json:"awards"`
	Waitlist             []Participant `json:"waitlist,omitempty"`
	ParticipantCSVHeader []string      `json:"participantCsvHeader,omitempty"`
}

// UnassignedLocations returns the supplied locations no award points at,
// in their original order.
func (r *Raffle) UnassignedLocations() []Location {
	if len(r.Locations) == 0 {
		return nil
	}
	assigned := make(map[string]bool, len(r.Awards))
	for _, a := range r.Awards {
		assigned[a.Location.ID] = true
	}
	var out []Location
	for _, l := range r.Locations {
		if !assigned[l.ID] {
			out = append(out, l)
		}
	}
	return out
}
