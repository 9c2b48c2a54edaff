package objstore

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Stamp is the identity line of an author, committer or tagger:
// "Name <email> <unix seconds> <zone>".
//
// Zone keeps the offset exactly as written (for example "+0200") so that a
// parsed object re-serializes byte for byte.
type Stamp struct {
	Name  string
	Email string
	When  int64
	Zone  string
}

// NewStamp builds a Stamp for t, rendering its zone the way Git does.
func NewStamp(name, email string, t time.Time) Stamp {
	_, off := t.Zone()
	sign := '+'
	if off < 0 {
		sign, off = '-', -off
	}
	return Stamp{
		Name:  name,
		Email: email,
		When:  t.Unix(),
		Zone:  fmt.Sprintf("%c%02d%02d", sign, off/3600, off%3600/60),
	}
}

// parseStamp decodes the value of an author, committer or tagger header.
func parseStamp(s string) (Stamp, error) {
	lt := strings.LastIndexByte(s, '<')
	gt := strings.LastIndexByte(s, '>')
	if lt < 0 || gt < lt {
		return Stamp{}, corruptf("identity %q has no email", s)
	}
	st := Stamp{
		Name:  strings.TrimSuffix(s[:lt], " "),
		Email: s[lt+1 : gt],
	}
	rest := strings.TrimPrefix(s[gt+1:], " ")
	when, zone, ok := strings.Cut(rest, " ")
	if !ok || zone == "" {
		return Stamp{}, corruptf("identity %q has no timestamp", s)
	}
	sec, err := strconv.ParseInt(when, 10, 64)
	if err != nil {
		return Stamp{}, corruptf("identity %q: bad timestamp", s)
	}
	st.When, st.Zone = sec, zone
	return st, nil
}

// String renders the stamp in header form.
func (s Stamp) String() string {
	var b strings.Builder
	if s.Name != "" {
		b.WriteString(s.Name)
		b.WriteByte(' ')
	}
	b.WriteByte('<')
	b.WriteString(s.Email)
	b.WriteString("> ")
	b.WriteString(strconv.FormatInt(s.When, 10))
	b.WriteByte(' ')
	b.WriteString(s.Zone)
	return b.String()
}

// Time returns the instant in the recorded zone. An unparseable zone yields
// UTC.
func (s Stamp) Time() time.Time {
	t := time.Unix(s.When, 0)
	if len(s.Zone) != 5 || (s.Zone[0] != '+' && s.Zone[0] != '-') {
		return t.UTC()
	}
	hh, err1 := strconv.Atoi(s.Zone[1:3])
	mm, err2 := strconv.Atoi(s.Zone[3:5])
	if err1 != nil || err2 != nil {
		return t.UTC()
	}
	off := hh*3600 + mm*60
	if s.Zone[0] == '-' {
		off = -off
	}
	return t.In(time.FixedZone(s.Zone, off))
}
