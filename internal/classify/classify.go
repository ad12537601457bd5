package classify

import (
	"path/filepath"
	"strings"

	"remessa-import/internal/model"
	"remessa-import/pkg/errors"
)

// MaxFileSize is the submission ceiling. A file of exactly this size is
// still accepted.
const MaxFileSize = 20 << 20 // 20 MiB

var kindByExtension = map[string]model.FileKind{
	".rem":  model.FileKindStructuredLedger,
	".txt":  model.FileKindStructuredLedger,
	".cnab": model.FileKindStructuredLedger,
	".xml":  model.FileKindXML,
	".zip":  model.FileKindArchive,
	".xlsx": model.FileKindSpreadsheet,
}

// Classify decides the submission path for a candidate file from its name
// and byte size. It rejects unsupported extensions and oversized files
// before any network call is made. Pure; no side effects.
func Classify(name string, size int64) (model.FileKind, error) {
	ext := strings.ToLower(filepath.Ext(name))

	kind, ok := kindByExtension[ext]
	if !ok {
		return "", errors.ValidationError{
			Field:   "arquivo",
			Value:   name,
			Message: "extension is not accepted for import",
			Err:     errors.ErrUnsupportedExtension,
		}
	}

	if size > MaxFileSize {
		return "", errors.ValidationError{
			Field:   "arquivo",
			Value:   size,
			Message: "file exceeds the 20 MiB ceiling",
			Err:     errors.ErrFileTooLarge,
		}
	}

	return kind, nil
}

// IsSupported reports whether the extension alone is acceptable.
func IsSupported(name string) bool {
	_, ok := kindByExtension[strings.ToLower(filepath.Ext(name))]
	return ok
}
