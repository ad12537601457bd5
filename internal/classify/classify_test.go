package classify

import (
	"testing"

	"remessa-import/internal/model"
	"remessa-import/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_SupportedExtensions(t *testing.T) {
	tests := []struct {
		name string
		file string
		want model.FileKind
	}{
		{"rem", "remessa_001.rem", model.FileKindStructuredLedger},
		{"txt", "remessa.txt", model.FileKindStructuredLedger},
		{"cnab", "CB040512.cnab", model.FileKindStructuredLedger},
		{"xml", "notas.xml", model.FileKindXML},
		{"zip", "lote.zip", model.FileKindArchive},
		{"xlsx", "titulos.xlsx", model.FileKindSpreadsheet},
		{"uppercase extension", "REMESSA.REM", model.FileKindStructuredLedger},
		{"mixed case", "Titulos.XlsX", model.FileKindSpreadsheet},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, err := Classify(tt.file, 1024)
			require.NoError(t, err)
			assert.Equal(t, tt.want, kind)
		})
	}
}

func TestClassify_UnsupportedExtension(t *testing.T) {
	tests := []string{"virus.exe", "dados.csv", "arquivo.pdf", "sem_extensao", "arquivo."}

	for _, file := range tests {
		t.Run(file, func(t *testing.T) {
			_, err := Classify(file, 1024)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrUnsupportedExtension)
		})
	}
}

func TestClassify_SizeCeiling(t *testing.T) {
	// Exactly at the ceiling is still accepted.
	kind, err := Classify("remessa.rem", MaxFileSize)
	require.NoError(t, err)
	assert.Equal(t, model.FileKindStructuredLedger, kind)

	// One byte over is rejected.
	_, err = Classify("remessa.rem", MaxFileSize+1)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrFileTooLarge)
}

func TestClassify_ExtensionCheckedBeforeSize(t *testing.T) {
	// An oversized unsupported file reports the extension problem.
	_, err := Classify("dados.csv", MaxFileSize+1)
	assert.ErrorIs(t, err, errors.ErrUnsupportedExtension)
}

func TestIsSupported(t *testing.T) {
	assert.True(t, IsSupported("remessa.rem"))
	assert.True(t, IsSupported("TITULOS.XLSX"))
	assert.False(t, IsSupported("dados.csv"))
	assert.False(t, IsSupported("arquivo"))
}
