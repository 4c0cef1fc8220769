package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "companies.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadCompaniesCSV(t *testing.T) {
	path := writeCSV(t, `id,legal_name,aka,website,status
chapul,Chapul LLC,Chapul,https://chapul.com,active
,Dude Wipes Inc,,https://dudewipes.com,
`)

	companies, err := readCompaniesCSV(path)
	require.NoError(t, err)
	require.Len(t, companies, 2)

	assert.Equal(t, "chapul", companies[0].ID)
	assert.Equal(t, "Chapul LLC", companies[0].LegalName)
	assert.Equal(t, "https://chapul.com", companies[0].Website)
	assert.Equal(t, "active", companies[0].Status)

	// Missing id is slugged from the legal name; missing status defaults.
	assert.Equal(t, "dude-wipes-inc", companies[1].ID)
	assert.Equal(t, "active", companies[1].Status)
}

func TestReadCompaniesCSV_MissingLegalName(t *testing.T) {
	path := writeCSV(t, `id,legal_name
x,
`)

	_, err := readCompaniesCSV(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "legal_name")
}

func TestReadCompaniesCSV_MissingFile(t *testing.T) {
	_, err := readCompaniesCSV(filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
}
