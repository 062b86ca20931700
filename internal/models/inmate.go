package models

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the storage format for date-only string columns (release_date, last_arrest_date)
const DateLayout = "2006-01-02"

// RawInmate is one roster row as a scraper produced it, before normalization.
// Every field is the source's text; Charges may carry several entries.
type RawInmate struct {
	Name          string
	Race          string
	Sex           string
	DateOfBirth   string
	CellBlock     string
	ArrestDate    string
	HeldForAgency string
	Charges       []string
	IsJuvenile    string
	ReleaseDate   string
	Mugshot       string // base64, may be empty
	MugshotURL    string // fetched later by the scraper when Mugshot is empty
}

// InmateRecord one custody episode of one person at one jail
type InmateRecord struct {
	ID             int64
	JailID         string
	Name           string
	Race           string
	Sex            string
	DateOfBirth    string
	CellBlock      string
	ArrestDate     time.Time // date only; zero means absent
	HeldForAgency  string
	BookingCharges string
	IsJuvenile     bool
	ReleaseDate    string // "" means in custody
	InCustodyDate  time.Time
	LastSeen       *time.Time
	Hidden         bool
	Mugshot        string
}

// IdentityKey natural key of an episode. Field order follows the storage
// unique index (jail first, most selective).
type IdentityKey struct {
	JailID      string
	ArrestDate  string
	Name        string
	DateOfBirth string
	Sex         string
	Race        string
}

// String renders the key for logs and failed-row reporting
func (k IdentityKey) String() string {
	return strings.Join([]string{k.JailID, k.ArrestDate, k.Name, k.DateOfBirth, k.Sex, k.Race}, "|")
}

// Key returns the identity key of the record
func (r *InmateRecord) Key() IdentityKey {
	return IdentityKey{
		JailID:      r.JailID,
		ArrestDate:  FormatDate(r.ArrestDate),
		Name:        r.Name,
		DateOfBirth: r.DateOfBirth,
		Sex:         r.Sex,
		Race:        r.Race,
	}
}

// Status exposes release_date as a CustodyStatus
func (r *InmateRecord) Status() CustodyStatus {
	return ParseCustodyStatus(r.ReleaseDate)
}

// IsOpen reports whether the episode is still in custody
func (r *InmateRecord) IsOpen() bool {
	return r.ReleaseDate == ""
}

// SameDisplay reports whether the mutable display fields match
func (r *InmateRecord) SameDisplay(o *InmateRecord) bool {
	return r.CellBlock == o.CellBlock &&
		r.HeldForAgency == o.HeldForAgency &&
		r.BookingCharges == o.BookingCharges &&
		r.Mugshot == o.Mugshot &&
		r.IsJuvenile == o.IsJuvenile
}

// FormatDate renders a date column, "" for the zero time
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

// DateOnly truncates t to midnight in its own location
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Jail a roster source
type Jail struct {
	ID                   string
	Name                 string
	Kind                 string // "zuercher" or a bespoke scraper name
	ScrapeURL            string
	Active               bool
	LastSuccessfulScrape *time.Time
}

func (j Jail) String() string {
	return fmt.Sprintf("%s (%s)", j.Name, j.ID)
}
