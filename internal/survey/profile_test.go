package survey

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func answerAll(p *Profile) {
	for i, k := range DemographicKeys {
		AnswerDemographic{Key: k, Answer: Questions[i].Options[0]}.Apply(p)
	}
}

func TestNewProfile_Defaults(t *testing.T) {
	p := NewProfile("51999")

	assert.Equal(t, "51999", p.ID)
	assert.Len(t, p.Demographics, len(DemographicKeys))
	assert.False(t, p.DemographicsCompleted)
	assert.Empty(t, p.StationsDone)

	idx, pending := p.FirstPendingDemographic()
	require.True(t, pending)
	assert.Equal(t, 0, idx)
}

func TestAnswerDemographic_CompletesOnlyWhenAllAnswered(t *testing.T) {
	p := NewProfile("x")
	for i, k := range DemographicKeys[:len(DemographicKeys)-1] {
		AnswerDemographic{Key: k, Answer: Questions[i].Options[0]}.Apply(p)
		assert.False(t, p.DemographicsCompleted)
	}
	last := len(DemographicKeys) - 1
	AnswerDemographic{Key: DemographicKeys[last], Answer: "Puno"}.Apply(p)
	assert.True(t, p.DemographicsCompleted)
}

func TestCompleteStation_Deduplicates(t *testing.T) {
	p := NewProfile("x")
	for _, n := range []int{3, 1, 3, 3, 7} {
		CompleteStation{Station: n}.Apply(p)
	}
	assert.Equal(t, []int{1, 3}, p.StationsDone)
	assert.Equal(t, []int{2}, p.RemainingStations(nil))
	assert.Empty(t, p.RemainingStations([]int{2}))
}

func TestGiveConsent_CompletesCabildo(t *testing.T) {
	p := NewProfile("x")
	GiveConsent{Consent: ConsentYes}.Apply(p)
	assert.True(t, p.CabildoCompleted)
	assert.Equal(t, ConsentYes, p.Consent)
}

func TestNormalize_BackfillsMissingKeys(t *testing.T) {
	// A record written before the region questions existed.
	raw := `{"waId":"x","demographics":{"gender":"Otro","age":"16-29","population":"Ninguna de las anteriores",
		"ethnicity":"Mestizo","occupation":"Estudiante","education":"Secundaria"},
		"demographicsCompleted":true,"stationsDone":[2,2,1]}`

	var p Profile
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	p.Normalize("x")

	assert.False(t, p.DemographicsCompleted, "new keys are unanswered, so the flag is recomputed")
	idx, pending := p.FirstPendingDemographic()
	require.True(t, pending)
	assert.Equal(t, KeyOriginRegion, DemographicKeys[idx])
	assert.Equal(t, []int{1, 2}, p.StationsDone)
}

func TestClone_IsDeep(t *testing.T) {
	p := NewProfile("x")
	answerAll(p)
	c := p.Clone()

	AnswerDemographic{Key: KeyGender, Answer: "Otro"}.Apply(c)
	CompleteStation{Station: 1}.Apply(c)

	v, _ := p.Demographics.Answer(KeyGender)
	assert.Equal(t, "Masculino", v)
	assert.Empty(t, p.StationsDone)
}

func TestStationMenu(t *testing.T) {
	first := StationMenu([]int{1, 2, 3})
	assert.Contains(t, first[0], "empecemos")
	assert.Len(t, first, 5)

	later := StationMenu([]int{2})
	assert.Equal(t, "¡Perfecto, seguimos!", later[0])
	assert.Equal(t, "2. Estación 2: Desde nuestras circunstancias y diferencias", later[2])
}
