package helpers

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type testRow struct {
	Name  string `header:"NAME" json:"name" yaml:"name"`
	Value int    `header:"VALUE" json:"value" yaml:"value"`
	Note  string `header:"NOTE" json:"note" yaml:"note"`
	Extra string `json:"-" yaml:"-"`
}

func TestNewFormatter(t *testing.T) {
	for _, f := range Formats {
		got, err := NewFormatter(f)
		require.NoError(t, err, f)
		assert.NotNil(t, got)
	}

	_, err := NewFormatter("csv")
	assert.Error(t, err)
}

func TestTableFormatter(t *testing.T) {
	rows := []testRow{
		{Name: "perf_system", Value: 1, Note: "ok", Extra: "hidden"},
		{Name: "iostat", Value: 22},
	}

	var buf bytes.Buffer
	require.NoError(t, (&TableFormatter{}).Format(rows, &buf))

	assert.Equal(t,
		"NAME          VALUE   NOTE\n"+
			"perf_system   1       ok\n"+
			"iostat        22      -\n",
		buf.String())
	assert.NotContains(t, buf.String(), "hidden")

	buf.Reset()
	require.NoError(t, (&TableFormatter{}).Format([]testRow{}, &buf))
	assert.Empty(t, buf.String())

	assert.Error(t, (&TableFormatter{}).Format(testRow{}, &buf))
}

func TestStructuredFormatters(t *testing.T) {
	rows := []testRow{{Name: "turbostat", Value: 3}}

	var buf bytes.Buffer
	require.NoError(t, (&JSONFormatter{}).Format(rows, &buf))
	var fromJSON []testRow
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fromJSON))
	assert.Equal(t, rows, fromJSON)

	buf.Reset()
	require.NoError(t, (&YAMLFormatter{}).Format(rows, &buf))
	var fromYAML []testRow
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &fromYAML))
	assert.Equal(t, rows, fromYAML)
}

func TestValidateFormat(t *testing.T) {
	assert.NoError(t, ValidateFormat("yaml"))
	assert.Error(t, ValidateFormat("xml"))
}
