package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/exposure/pkg/screening"
)

func record(id, name string, alts ...string) screening.RestrictedEntityRecord {
	return screening.RestrictedEntityRecord{
		ID:             id,
		CanonicalName:  name,
		AlternateNames: alts,
		Citation:       "85 FR 51596",
	}
}

func TestMatchExact(t *testing.T) {
	rec := record("EL-1", "Huawei Technologies Co., Ltd.")

	for _, q := range []string{"Huawei Technologies", "HUAWEI TECHNOLOGIES", "Huawei Tech Co Ltd", "huawei technologies co ltd"} {
		t.Run(q, func(t *testing.T) {
			res, ok := Match(q, rec)
			require.True(t, ok)
			assert.Equal(t, screening.MatchDirect, res.MatchType)
			assert.Equal(t, 1.0, res.Confidence)
			assert.Equal(t, "EL-1", res.Record.ID)
			require.Len(t, res.Evidence, 2)
			assert.Contains(t, res.Evidence[1], "85 FR 51596")
		})
	}
}

func TestMatchAlternate(t *testing.T) {
	rec := record("EL-2", "Hangzhou Hikvision Digital Technology Co., Ltd.", "Hikvision")
	res, ok := Match("HIKVISION", rec)
	require.True(t, ok)
	assert.Equal(t, screening.MatchAlternateName, res.MatchType)
	assert.Equal(t, AlternateConfidence, res.Confidence)
	assert.Contains(t, res.Evidence[0], `"Hikvision"`)
}

func TestMatchFuzzy(t *testing.T) {
	rec := record("EL-3", "Dahua Technology Co., Ltd.")
	res, ok := Match("Dahau Technology", rec)
	require.True(t, ok)
	assert.Equal(t, screening.MatchFuzzy, res.MatchType)
	assert.Greater(t, res.Confidence, Floor)
	assert.Less(t, res.Confidence, 1.0)
}

func TestMatchContainment(t *testing.T) {
	self, ok := Match("ABC", record("EL-4", "ABC"))
	require.True(t, ok)
	assert.Equal(t, 1.0, self.Confidence)

	// Short contained names stay under the floor.
	_, ok = Match("ABC Semiconductor", record("EL-4", "ABC"))
	assert.False(t, ok)

	c := Containment("abc semiconductor", "abc")
	assert.Greater(t, c, 0.0)
	assert.Less(t, c, self.Confidence)
	assert.LessOrEqual(t, c, ContainmentWeight)
	assert.Equal(t, c, Containment("abc", "abc semiconductor"))

	res, ok := Match("Sugon Information Industry Ltd", record("EL-5", "Sugon Information Industry Beijing"))
	require.True(t, ok)
	assert.Contains(t, []screening.MatchType{screening.MatchContainment, screening.MatchFuzzy}, res.MatchType)
	assert.LessOrEqual(t, res.Confidence, 1.0)
}

func TestMatchSimilarityVersusContainment(t *testing.T) {
	// similarity ~0.44 and containment ~0.38 both miss the floor.
	_, ok := Match("inspur group", record("EL-6", "Inspur Group Beijing Branch"))
	assert.False(t, ok)

	res, ok := Match("Chengdu Aircraft Industry", record("EL-7", "Chengdu Aircraft Industry Group"))
	require.True(t, ok)
	// similarity 1-6/31 ~ 0.806; containment 25/31*0.85 ~ 0.685: similarity wins.
	assert.Equal(t, screening.MatchFuzzy, res.MatchType)
	assert.InDelta(t, 1-6.0/31.0, res.Confidence, 1e-9)
}

func TestMatchNoMatch(t *testing.T) {
	_, ok := Match("Acme Widgets", record("EL-1", "Huawei Technologies Co., Ltd."))
	assert.False(t, ok)

	_, ok = Match("   ", record("EL-1", "Huawei"))
	assert.False(t, ok)

	_, ok = Match("Huawei", record("EL-1", ""))
	assert.False(t, ok)
}

func TestLeadingLegalWordsAreKept(t *testing.T) {
	res, ok := Match("Limited Brands", record("EL-8", "Brands Co"))
	if ok {
		assert.NotEqual(t, screening.MatchDirect, res.MatchType)
		assert.Less(t, res.Confidence, ExactConfidence)
	}

	res, ok = Match("Co-operative Bank", record("EL-9", "Operative Bank"))
	if ok {
		assert.NotEqual(t, screening.MatchDirect, res.MatchType)
		assert.Less(t, res.Confidence, ExactConfidence)
	}

	res, ok = Match("Limited Brands Inc.", record("EL-10", "Limited Brands"))
	require.True(t, ok)
	assert.Equal(t, screening.MatchDirect, res.MatchType)
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("zte", "zte"))
	assert.Equal(t, 0.0, Similarity("", ""))
	assert.InDelta(t, 0.75, Similarity("abcd", "abce"), 1e-9)
	// rune based, not byte based
	assert.InDelta(t, 0.75, Similarity("żółw", "żółx"), 1e-9)
}

func TestIndexScan(t *testing.T) {
	idx := NewIndex([]screening.RestrictedEntityRecord{
		record("EL-1", "Huawei Technologies Co., Ltd."),
		record("EL-2", "Huawei Device Co., Ltd.", "Huawei Technologies"),
		record("EL-3", "ZTE Corporation"),
	})
	require.Equal(t, 3, idx.Len())

	results := idx.Scan("Huawei Technologies Co Ltd")
	require.Len(t, results, 2)
	assert.Equal(t, "EL-1", results[0].Record.ID)
	assert.Equal(t, screening.MatchDirect, results[0].MatchType)
	assert.Equal(t, "EL-2", results[1].Record.ID)
	assert.Equal(t, screening.MatchAlternateName, results[1].MatchType)

	assert.Empty(t, idx.Scan(""))

	var nilIdx *Index
	assert.Empty(t, nilIdx.Scan("Huawei"))
	assert.Equal(t, 0, nilIdx.Len())
}

func TestIndexExactCanonical(t *testing.T) {
	idx := NewIndex([]screening.RestrictedEntityRecord{
		record("EL-3", "ZTE Corporation", "Zhongxing Telecommunication Equipment"),
	})
	got := idx.ExactCanonical("ZTE Corp.")
	require.Len(t, got, 1)
	assert.Equal(t, "EL-3", got[0].ID)

	assert.Empty(t, idx.ExactCanonical("Zhongxing Telecommunication Equipment"))
	assert.Empty(t, idx.ExactCanonical("ZTE Kangxun"))
}
