// Package survey holds the cabildo survey domain: participant profiles,
// the fixed conversational script and the option matcher used by every
// question prompt.
package survey

import (
	"sort"
)

// DemographicKey identifies one demographic question.
type DemographicKey string

const (
	KeyGender        DemographicKey = "gender"
	KeyAge           DemographicKey = "age"
	KeyPopulation    DemographicKey = "population"
	KeyEthnicity     DemographicKey = "ethnicity"
	KeyOccupation    DemographicKey = "occupation"
	KeyEducation     DemographicKey = "education"
	KeyOriginRegion  DemographicKey = "originRegion"
	KeyCabildoRegion DemographicKey = "cabildoRegion"
)

// DemographicKeys lists every key in questionnaire order.
var DemographicKeys = []DemographicKey{
	KeyGender,
	KeyAge,
	KeyPopulation,
	KeyEthnicity,
	KeyOccupation,
	KeyEducation,
	KeyOriginRegion,
	KeyCabildoRegion,
}

// Stations are the free-form segments of the cabildo, in order.
var Stations = []int{1, 2, 3}

// Consent is the recorded consent outcome.
type Consent string

const (
	ConsentYes Consent = "yes"
	ConsentNo  Consent = "no"
)

// Demographics maps each question key to its answer. A nil value means the
// question is unanswered.
type Demographics map[DemographicKey]*string

// Answer returns the answer for key, if any.
func (d Demographics) Answer(key DemographicKey) (string, bool) {
	v, ok := d[key]
	if !ok || v == nil || *v == "" {
		return "", false
	}
	return *v, true
}

// Profile is the durable record of one participant's survey progress.
//
// JSON field names match the records written by the previous deployment so
// existing profiles load without migration.
type Profile struct {
	ID                    string       `json:"waId"`
	Demographics          Demographics `json:"demographics"`
	DemographicsCompleted bool         `json:"demographicsCompleted"`
	CabildoCompleted      bool         `json:"cabildoCompleted"`
	Consent               Consent      `json:"consent,omitempty"`
	FinalWord             string       `json:"finalWord,omitempty"`
	LastCabildoName       string       `json:"lastCabildoName,omitempty"`
	StationsDone          []int        `json:"stationsDone"`
	ExternalLinkToken     string       `json:"webCookie,omitempty"`
}

// NewProfile returns the default profile created on first contact.
func NewProfile(id string) *Profile {
	p := &Profile{
		ID:           id,
		Demographics: make(Demographics, len(DemographicKeys)),
		StationsDone: []int{},
	}
	for _, k := range DemographicKeys {
		p.Demographics[k] = nil
	}
	return p
}

// Normalize fills in missing fields and re-establishes the profile
// invariants: every current demographic key is present, stationsDone is a
// sorted deduplicated subset of Stations, and DemographicsCompleted agrees
// with the answers actually stored.
func (p *Profile) Normalize(id string) {
	if p.ID == "" {
		p.ID = id
	}
	if p.Demographics == nil {
		p.Demographics = make(Demographics, len(DemographicKeys))
	}
	for _, k := range DemographicKeys {
		if _, ok := p.Demographics[k]; !ok {
			p.Demographics[k] = nil
		}
	}
	p.StationsDone = normalizeStations(p.StationsDone)
	p.DemographicsCompleted = p.allAnswered()
}

// Clone returns a deep copy.
func (p *Profile) Clone() *Profile {
	c := *p
	c.Demographics = make(Demographics, len(p.Demographics))
	for k, v := range p.Demographics {
		if v == nil {
			c.Demographics[k] = nil
			continue
		}
		s := *v
		c.Demographics[k] = &s
	}
	c.StationsDone = append([]int{}, p.StationsDone...)
	return &c
}

// FirstPendingDemographic returns the index of the first unanswered
// question, or false when every question has an answer.
func (p *Profile) FirstPendingDemographic() (int, bool) {
	for i, k := range DemographicKeys {
		if _, ok := p.Demographics.Answer(k); !ok {
			return i, true
		}
	}
	return 0, false
}

// RemainingStations returns the stations not completed according to the
// profile or the extra locally known set.
func (p *Profile) RemainingStations(extra []int) []int {
	done := make(map[int]bool, len(p.StationsDone)+len(extra))
	for _, n := range p.StationsDone {
		done[n] = true
	}
	for _, n := range extra {
		done[n] = true
	}
	var remaining []int
	for _, n := range Stations {
		if !done[n] {
			remaining = append(remaining, n)
		}
	}
	return remaining
}

// DemographicValues flattens the answers into plain strings, using "" for
// unanswered keys.
func (p *Profile) DemographicValues() map[string]string {
	out := make(map[string]string, len(DemographicKeys))
	for _, k := range DemographicKeys {
		v, _ := p.Demographics.Answer(k)
		out[string(k)] = v
	}
	return out
}

func (p *Profile) allAnswered() bool {
	_, pending := p.FirstPendingDemographic()
	return !pending
}

// UnionStations merges two station sets into a sorted deduplicated slice.
func UnionStations(a, b []int) []int {
	return normalizeStations(append(append([]int{}, a...), b...))
}

func normalizeStations(in []int) []int {
	seen := make(map[int]bool, len(in))
	out := make([]int, 0, len(in))
	for _, n := range in {
		if !isStation(n) || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

func isStation(n int) bool {
	for _, s := range Stations {
		if s == n {
			return true
		}
	}
	return false
}
