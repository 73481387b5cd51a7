package sqllint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = "package q\n\n" +
	"const QGood = `--sql 6b5d9d99-b288-4f31-a307-1d50270e56a6\nselect 1;`\n\n" +
	"const QMissing = `select id from upscale_jobs;`\n\n" +
	"const QDup = `--sql 6b5d9d99-b288-4f31-a307-1d50270e56a6\ndelete from upscale_jobs;`\n\n" +
	"const Label = \"not a query\"\n"

func TestFileReportsMissingAndDuplicateMarkers(t *testing.T) {
	vs, err := New().File("q.go", sample)
	require.NoError(t, err)
	require.Len(t, vs, 2)
	assert.Equal(t, "QMissing", vs[0].Name)
	assert.Equal(t, 6, vs[0].Line)
	assert.Equal(t, "QDup", vs[1].Name)
	assert.Contains(t, vs[1].Message, "QGood")
}

func TestRepositoryQueriesAreMarked(t *testing.T) {
	vs, err := New().Paths("../../sqlinline")
	require.NoError(t, err)
	assert.Empty(t, vs)
}
