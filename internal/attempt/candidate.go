package attempt

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"

	"github.com/stemsi/exstem-client/internal/model"
)

// NewCandidateFile wraps an in-memory answer file, sniffing its type from
// the content rather than trusting the file name.
func NewCandidateFile(questionID, fileName string, blob []byte) *model.CandidateFile {
	return &model.CandidateFile{
		QuestionID: questionID,
		FileName:   fileName,
		Blob:       blob,
		SizeBytes:  int64(len(blob)),
		MimeType:   mimetype.Detect(blob).String(),
	}
}

// ReadCandidateFile loads an answer file from disk. Files larger than
// maxBytes are rejected before being read into memory.
func ReadCandidateFile(questionID, path string, maxBytes int64) (*model.CandidateFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat answer file: %w", err)
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return nil, &ValidationError{
			QuestionID: questionID,
			Err:        ErrFileTooLarge,
			Detail:     fmt.Sprintf("%d bytes (max: %d)", info.Size(), maxBytes),
		}
	}

	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read answer file: %w", err)
	}
	return NewCandidateFile(questionID, filepath.Base(path), blob), nil
}

// validateCandidate checks type and size the way the backend will. A
// declared size smaller than the blob is not trusted.
func validateCandidate(questionID string, f *model.CandidateFile, maxBytes int64) error {
	size := candidateSize(f)

	switch {
	case size <= 0:
		return &ValidationError{QuestionID: questionID, Err: ErrEmptyFile}
	case f.MimeType != model.MimePDF:
		return &ValidationError{QuestionID: questionID, Err: ErrNotPDF, Detail: f.MimeType}
	case size > maxBytes:
		return &ValidationError{
			QuestionID: questionID,
			Err:        ErrFileTooLarge,
			Detail:     fmt.Sprintf("%d bytes (max: %d)", size, maxBytes),
		}
	}
	return nil
}

func candidateSize(f *model.CandidateFile) int64 {
	return max(f.SizeBytes, int64(len(f.Blob)))
}
