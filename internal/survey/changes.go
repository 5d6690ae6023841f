package survey

import "fmt"

// Change is a named field-level mutation applied inside a profile
// read-modify-write.
type Change interface {
	Name() string
	Apply(p *Profile)
}

// SetCabildoName records the group session the participant is attending.
type SetCabildoName struct {
	CabildoName string
}

func (c SetCabildoName) Name() string { return "set_cabildo_name" }

func (c SetCabildoName) Apply(p *Profile) {
	p.LastCabildoName = c.CabildoName
}

// AnswerDemographic stores one questionnaire answer and refreshes
// DemographicsCompleted.
type AnswerDemographic struct {
	Key    DemographicKey
	Answer string
}

func (c AnswerDemographic) Name() string { return fmt.Sprintf("answer_demographic:%s", c.Key) }

func (c AnswerDemographic) Apply(p *Profile) {
	if p.Demographics == nil {
		p.Demographics = make(Demographics, len(DemographicKeys))
	}
	v := c.Answer
	p.Demographics[c.Key] = &v
	p.DemographicsCompleted = p.allAnswered()
}

// CompleteStation adds a station to the completed set.
type CompleteStation struct {
	Station int
}

func (c CompleteStation) Name() string { return fmt.Sprintf("complete_station:%d", c.Station) }

func (c CompleteStation) Apply(p *Profile) {
	p.StationsDone = UnionStations(p.StationsDone, []int{c.Station})
}

// SetFinalWord records the closing phrase.
type SetFinalWord struct {
	Word string
}

func (c SetFinalWord) Name() string { return "set_final_word" }

func (c SetFinalWord) Apply(p *Profile) {
	p.FinalWord = c.Word
}

// GiveConsent records consent and marks the cabildo as completed.
type GiveConsent struct {
	Consent Consent
}

func (c GiveConsent) Name() string { return fmt.Sprintf("give_consent:%s", c.Consent) }

func (c GiveConsent) Apply(p *Profile) {
	p.Consent = c.Consent
	p.CabildoCompleted = true
}

// SetLinkToken stores the credential returned by the survey web app.
type SetLinkToken struct {
	Token string
}

func (c SetLinkToken) Name() string { return "set_link_token" }

func (c SetLinkToken) Apply(p *Profile) {
	p.ExternalLinkToken = c.Token
}
