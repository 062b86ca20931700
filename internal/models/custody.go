package models

import "time"

// CustodyState discriminates CustodyStatus
type CustodyState int

const (
	InCustody CustodyState = iota
	Released
	Unknown
)

func (s CustodyState) String() string {
	switch s {
	case InCustody:
		return "in_custody"
	case Released:
		return "released"
	default:
		return "unknown"
	}
}

// CustodyStatus replaces the "" / "<date>" encoding of release_date.
// Date is set only for Released; Raw keeps unparseable source text for Unknown.
type CustodyStatus struct {
	State CustodyState
	Date  time.Time
	Raw   string
}

// ParseCustodyStatus reads a release_date column value.
// "" is InCustody, a YYYY-MM-DD value is Released, anything else is Unknown.
func ParseCustodyStatus(releaseDate string) CustodyStatus {
	if releaseDate == "" {
		return CustodyStatus{State: InCustody}
	}
	d, err := time.Parse(DateLayout, releaseDate)
	if err != nil {
		return CustodyStatus{State: Unknown, Raw: releaseDate}
	}
	return CustodyStatus{State: Released, Date: d}
}

// ReleaseDateString is the inverse of ParseCustodyStatus
func (c CustodyStatus) ReleaseDateString() string {
	switch c.State {
	case InCustody:
		return ""
	case Released:
		return c.Date.Format(DateLayout)
	default:
		return c.Raw
	}
}
