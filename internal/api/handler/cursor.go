package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/platecompiler/internal/api/storage"
	"github.com/google/uuid"
)

// DecodePlateCursor parses a cursor produced by EncodePlateCursor. An empty
// string means the first page.
func DecodePlateCursor(cursorStr string) (*storage.PlateCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	createdPart, plateID, ok := strings.Cut(string(decoded), "|")
	if !ok {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var createdAt int64
	if _, err := fmt.Sscanf(createdPart, "%d", &createdAt); err != nil {
		return nil, fmt.Errorf("invalid createdAt in cursor: %w", err)
	}

	if _, err := uuid.Parse(plateID); err != nil {
		return nil, fmt.Errorf("invalid plate id in cursor: %w", err)
	}

	return &storage.PlateCursor{
		CreatedAt: time.Unix(0, createdAt).UTC(),
		PlateID:   plateID,
	}, nil
}

func EncodePlateCursor(cursor *storage.PlateCursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.CreatedAt.UnixNano(), cursor.PlateID)
	return base64.RawURLEncoding.EncodeToString([]byte(cs))
}
