package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `
forms:
  - key: patient
    title: Patient
    pages:
      - key: identity
        filename: pages/identity.js
    forms:
      - key: visit
        multi: true
        pages:
          - key: vitals
            filename: pages/vitals.js
        forms:
          - key: sample
            pages:
              - key: tube
      - key: consent
        pages:
          - key: signature
            filename: pages/identity.js
  - key: site
    pages:
      - key: site_info
`

func mustParse(t *testing.T) *Application {
	t.Helper()
	app, err := Parse([]byte(testSchema))
	require.NoError(t, err)
	return app
}

func keys(forms []*Form) []string {
	out := []string{}
	for _, f := range forms {
		out = append(out, f.Key)
	}
	return out
}

func TestParseBuildsChains(t *testing.T) {
	app := mustParse(t)

	sample := app.Form("sample")
	require.NotNil(t, sample)
	assert.Equal(t, []string{"patient", "visit", "sample"}, keys(sample.Chain))
	assert.Equal(t, "visit", sample.Parent.Key)
	assert.True(t, app.Form("visit").Multi)
	assert.True(t, app.Form("patient").IsRoot())
	assert.Equal(t, "Patient", app.Form("patient").Title)
	assert.Nil(t, app.Form("site_info"))
	assert.Equal(t, "site", app.Page("site_info").Form.Key)

	p := app.Page("vitals")
	require.NotNil(t, p)
	assert.Equal(t, app.Form("visit"), p.Form)
	assert.Equal(t, p, app.Form("visit").Page("vitals"))

	assert.Equal(t, []string{"patient", "visit", "sample", "consent", "site"}, keys(app.Forms()))
	assert.Equal(t, []string{"pages/identity.js", "pages/vitals.js"}, app.Files())
}

func TestParseRejectsDuplicates(t *testing.T) {
	_, err := Parse([]byte(`
forms:
  - key: a
    forms:
      - key: a
`))
	assert.Error(t, err)

	_, err = Parse([]byte(`
forms:
  - key: a
    pages: [{key: p}]
  - key: b
    pages: [{key: p}]
`))
	assert.Error(t, err)

	_, err = Parse([]byte(`forms: []`))
	assert.Error(t, err)
}

func TestComputePath(t *testing.T) {
	app := mustParse(t)
	f := app.Form

	tests := []struct {
		name     string
		from, to string
		ok       bool
		up, down []string
	}{
		{"descend", "patient", "sample", true, []string{}, []string{"visit", "sample"}},
		{"ascend", "sample", "patient", true, []string{"visit", "patient"}, []string{}},
		{"sideways", "sample", "consent", true, []string{"visit", "patient"}, []string{"consent"}},
		{"sibling", "visit", "consent", true, []string{"patient"}, []string{"consent"}},
		{"other tree", "visit", "site", false, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := ComputePath(f(tt.from), f(tt.to))
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.up, keys(p.Up))
			assert.Equal(t, tt.down, keys(p.Down))
		})
	}
}
