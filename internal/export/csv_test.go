package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/sweetspot/internal/domain"
)

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, []domain.ProductRecord{
		{UniqueID: 7, SKU: "12345", ArticleDescriptionBatch: "Milk, 1L", ExpiryDate: "01.02.2031"},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "UniqueID,ProductID,SKU,Article Description Batch,Expiry Date,EAN Serial No,Remark,Order QTY,Ship QTY,UOM,PDF Source", lines[0])
	assert.Equal(t, `7,,12345,"Milk, 1L",01.02.2031,,,,,,`, lines[1])
}

func TestWrite_EmptyHasHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, nil))
	assert.True(t, strings.HasPrefix(buf.String(), "UniqueID,ProductID"))
}

func TestRead(t *testing.T) {
	in := "SKU,Article Description Batch,Expiry Date,Notes\n" +
		"12345, Butter ,01.02.2031,ignored\n" +
		"67890,Cream,,\n"

	recs, err := Read(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "Butter", recs[0].ArticleDescriptionBatch)
	assert.Equal(t, "12345", recs[0].SKU)
	assert.Zero(t, recs[0].UniqueID)
	assert.Equal(t, "", recs[1].ExpiryDate)
}

func TestRead_Errors(t *testing.T) {
	_, err := Read(strings.NewReader(""))
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))

	_, err = Read(strings.NewReader("SKU,Expiry Date\n12345,01.01.2030\n"))
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
}

func TestRoundTrip(t *testing.T) {
	want := []domain.ProductRecord{
		{UniqueID: 1, ProductID: "12", SKU: "11111", ArticleDescriptionBatch: "A", ExpiryDate: "01.01.2030", UOM: "CS", PDFSource: "slip.pdf (Page 1)"},
		{UniqueID: 2, SKU: "22222", ArticleDescriptionBatch: "B \"quoted\"", ShipQTY: "3"},
	}
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, want))
	got, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
