package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/credit-batch/internal/api/storage"
)

var errInvalidCursor = errors.New("invalid cursor")

// cursorToken is the JSON inside a page cursor. The pair matches the
// (created_at DESC, job_id DESC) ordering of the job listing.
type cursorToken struct {
	CreatedAt int64  `json:"t"`
	JobID     string `json:"id"`
}

// DecodeJobCursor parses an opaque page cursor. An empty string means the first page.
func DecodeJobCursor(s string) (*storage.JobCursor, error) {
	if s == "" {
		return nil, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidCursor, err)
	}

	var tok cursorToken
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidCursor, err)
	}
	if tok.CreatedAt <= 0 {
		return nil, fmt.Errorf("%w: missing position", errInvalidCursor)
	}
	if _, err := uuid.Parse(tok.JobID); err != nil {
		return nil, fmt.Errorf("%w: bad job id", errInvalidCursor)
	}

	return &storage.JobCursor{
		CreatedAt: time.Unix(0, tok.CreatedAt).UTC(),
		JobID:     tok.JobID,
	}, nil
}

// EncodeJobCursor renders the position after cursor
func EncodeJobCursor(cursor *storage.JobCursor) string {
	raw, _ := json.Marshal(cursorToken{
		CreatedAt: cursor.CreatedAt.UnixNano(),
		JobID:     cursor.JobID,
	})
	return base64.RawURLEncoding.EncodeToString(raw)
}
