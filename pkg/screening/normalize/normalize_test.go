package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompany(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Huawei Technologies Co., Ltd.", "huawei tech"},
		{"Huawei Tech Co Ltd", "huawei tech"},
		{"HUAWEI TECHNOLOGIES", "huawei tech"},
		{"ZTE Corporation", "zte"},
		{"Generic Parts Inc", "generic parts"},
		{"  Acme   Widgets,  LLC ", "acme widgets"},
		{"Huawei Technologies Co.,Ltd.", "huawei tech"},
		{"Procter & Gamble", "procter and gamble"},
		{"Société Générale S.A.", "societe generale sa"},
		{"Rosoboronexport JSC", "rosoboronexport"},
		{"U.S. Steel Corp.", "us steel"},
		{"Company Limited", "co ltd"},
		{"Limited Brands", "ltd brands"},
		{"Co-operative Bank", "co operative bank"},
		{"Alpha Inc Beta Holdings", "alpha inc beta holdings"},
		{"Sugon Information Industry Co Ltd Beijing", "sugon information industry co ltd beijing"},
		{"Acme Co. Ltd. GmbH", "acme"},
		{"", ""},
		{"   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Company(tt.in))
		})
	}
}

func TestCompanyIdempotent(t *testing.T) {
	for _, name := range []string{
		"Huawei Technologies Co., Ltd.",
		"Beijing Institute of Technology",
		"Société Générale S.A.",
		"Company Limited",
		"Limited Brands",
		"Co-operative Bank",
	} {
		once := Company(name)
		assert.Equal(t, once, Company(once), name)
	}
}

func TestTokens(t *testing.T) {
	assert.Equal(t, []string{"hangzhou", "hikvision", "digital", "tech"},
		Tokens("Hangzhou Hikvision Digital Technology Co., Ltd."))
	assert.Nil(t, Tokens(" ,. "))
}

func TestIsLegalSuffix(t *testing.T) {
	assert.True(t, IsLegalSuffix("gmbh"))
	assert.False(t, IsLegalSuffix("tech"))
}
