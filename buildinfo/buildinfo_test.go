package buildinfo

import (
	"strings"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleBuildInfo = `Branch!STRING:0|Active!DEC:1|Build Key!HEX:16|CDN Key!HEX:16|Version!STRING:0
wow|1|aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa|bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb|1.0.0
wowt|0|cccccccccccccccccccccccccccccccc|dddddddddddddddddddddddddddddddd|1.0.1
`

func TestParseBuildInfo(t *testing.T) {
	columns, rows, err := ParseBuildInfo(strings.NewReader(sampleBuildInfo))
	require.NoError(t, err)
	require.Len(t, columns, 5)
	assert.Equal(t, "Branch", columns[0].Name)
	assert.Equal(t, ColumnString, columns[0].Type)
	assert.Equal(t, "Active", columns[1].Name)
	assert.Equal(t, ColumnDec, columns[1].Type)
	assert.Equal(t, 16, columns[2].Len)

	require.Len(t, rows, 2)
	assert.Equal(t, "wow", rows[0]["Branch"])
	assert.Equal(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", rows[0]["Build Key"])
}

func TestActiveRowPicksActiveFlag(t *testing.T) {
	_, rows, err := ParseBuildInfo(strings.NewReader(sampleBuildInfo))
	require.NoError(t, err)

	row, err := ActiveRow(rows)
	require.NoError(t, err)
	assert.Equal(t, "wow", row["Branch"])
}

func TestActiveRowFirstOfMultipleActiveWins(t *testing.T) {
	doc := `Branch!STRING:0|Active!DEC:1
a|1
b|1
`
	_, rows, err := ParseBuildInfo(strings.NewReader(doc))
	require.NoError(t, err)

	row, err := ActiveRow(rows)
	require.NoError(t, err)
	assert.Equal(t, "a", row["Branch"])
}

func TestParseBuildInfoRowCellMismatch(t *testing.T) {
	doc := "A!STRING:0|B!STRING:0\nonly-one-cell\n"
	_, _, err := ParseBuildInfo(strings.NewReader(doc))
	require.Error(t, err)
	var pe *ParserError
	assert.ErrorAs(t, err, &pe)
}

const sampleConfig = `# comment
root = abcdef0123456789

encoding = 1111111111111111 2222222222222222
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader(sampleConfig))
	require.NoError(t, err)

	root, ok := cfg.Get("root")
	require.True(t, ok)
	assert.Equal(t, "abcdef0123456789", root)

	values, ok := cfg.Values("encoding")
	require.True(t, ok)
	assert.Equal(t, []string{"1111111111111111", "2222222222222222"}, values)
}

func TestParseConfigMissingEquals(t *testing.T) {
	_, err := ParseConfig(strings.NewReader("not-a-key-value-line"))
	require.Error(t, err)
	var pe *ParserError
	assert.ErrorAs(t, err, &pe)
}

// Reparsing the same document twice must yield identical Row maps. The dumps
// are taken with sorted map keys, so equal maps always dump identically.
func TestParseBuildInfoIsDeterministic(t *testing.T) {
	_, rowsA, err := ParseBuildInfo(strings.NewReader(sampleBuildInfo))
	require.NoError(t, err)
	_, rowsB, err := ParseBuildInfo(strings.NewReader(sampleBuildInfo))
	require.NoError(t, err)

	dump := spew.ConfigState{Indent: " ", SortKeys: true}
	require.Equal(t, dump.Sdump(rowsA), dump.Sdump(rowsB))
}
