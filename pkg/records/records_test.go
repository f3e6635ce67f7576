package records

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord(caseID string, page, row int) Record {
	return Record{
		Group:    "G1",
		Gush:     "6638",
		Chelka:   "224",
		CaseID:   caseID,
		Page:     page,
		Row:      row,
		Date:     "01/02/2020",
		Type:     "היתר",
		Size:     "2.5MB",
		Document: filepath.Join(caseID, "doc.pdf"),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), CaseFileName("0104"))

	store := NewStore(path)
	store.Append(sampleRecord("0104", 1, 0))
	store.Append(sampleRecord("0104", 1, 1))
	require.NoError(t, store.Save())

	loaded, err := LoadTable(path)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "0104", loaded[0].CaseID)
	assert.Equal(t, 1, loaded[0].Page)
	assert.Equal(t, 1, loaded[1].Row)
	assert.Equal(t, "היתר", loaded[0].Type)
}

func TestLoadTableMissingFileIsEmpty(t *testing.T) {
	recs, err := LoadTable(filepath.Join(t.TempDir(), "absent.csv"))
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestLoadTableFailsFastOnMissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("group,gush\nG1,1\n"), 0o644))

	_, err := LoadTable(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chelka")
}

func TestLoadTableFailsFastOnMalformedInteger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	content := "group,gush,chelka,multi_parcel,address,case_id,page,row,date,type,request,permit,size,document\n" +
		"G1,6638,224,,,0104,one,0,,,,,0.5MB,0104/a.pdf\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := LoadTable(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page")
	assert.Contains(t, err.Error(), "one")
}

func TestMergeGroup(t *testing.T) {
	groupDir := t.TempDir()

	for _, caseID := range []string{"0104", "0105"} {
		caseDir := filepath.Join(groupDir, caseID)
		require.NoError(t, os.MkdirAll(caseDir, 0o755))

		store := NewStore(filepath.Join(caseDir, CaseFileName(caseID)))
		store.Append(sampleRecord(caseID, 1, 0))
		require.NoError(t, store.Save())
	}

	merged, err := MergeGroup(groupDir)
	require.NoError(t, err)
	assert.Len(t, merged, 2)

	loaded, err := LoadTable(filepath.Join(groupDir, DocumentsFileName))
	require.NoError(t, err)
	assert.Len(t, loaded, 2)
}

func TestMergeGroupWithoutCases(t *testing.T) {
	groupDir := t.TempDir()

	merged, err := MergeGroup(groupDir)
	require.NoError(t, err)
	assert.Empty(t, merged)

	// The merged table is still written so reconciliation has a file to read
	_, err = os.Stat(filepath.Join(groupDir, DocumentsFileName))
	assert.NoError(t, err)
}

func TestIsToolFile(t *testing.T) {
	assert.True(t, IsToolFile("crawl_status.csv"))
	assert.True(t, IsToolFile("/out/G1/0104/crawl_case_0104.csv"))
	assert.False(t, IsToolFile("permit.pdf"))
	assert.False(t, IsToolFile("/out/G1/0104/plan.pdf"))
}
