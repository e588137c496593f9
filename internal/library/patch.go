package library

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	// ErrUnsupportedFields is returned for patch keys outside the editable set.
	ErrUnsupportedFields = errors.New("unsupported fields")
	// ErrInvalidLastRead is returned for a malformed last_read_location.
	ErrInvalidLastRead = errors.New("invalid last_read_location")
	// ErrInvalidPatch is returned when a patch is not a JSON object of the
	// expected value types.
	ErrInvalidPatch = errors.New("invalid patch")
)

const (
	fieldTitle    = "title"
	fieldAuthor   = "author"
	fieldCover    = "cover"
	fieldLastRead = "last_read_location"
)

var editableFields = []string{fieldAuthor, fieldCover, fieldLastRead, fieldTitle}

// Patch is a validated partial update of a book record. Title and Author are
// applied only when set; Cover and LastReadLocation are applied whenever they
// were present in the request, including as null.
type Patch struct {
	Title            *string
	Author           *string
	Cover            *string
	LastReadLocation *LastReadLocation
	SetCover         bool
	SetLastRead      bool
}

// ParsePatch decodes and validates a JSON patch document.
func ParsePatch(data []byte) (Patch, error) {
	var (
		fields map[string]json.RawMessage
		patch  Patch
	)

	err := json.Unmarshal(data, &fields)
	if err != nil || fields == nil {
		return patch, fmt.Errorf("%w: body must be a JSON object", ErrInvalidPatch)
	}

	var unknown []string

	for key := range fields {
		if !slices.Contains(editableFields, key) {
			unknown = append(unknown, key)
		}
	}

	if len(unknown) > 0 {
		slices.Sort(unknown)

		return patch, fmt.Errorf("%w: %s", ErrUnsupportedFields, strings.Join(unknown, ", "))
	}

	patch.Title, err = optionalString(fields, fieldTitle)
	if err != nil {
		return patch, err
	}

	patch.Author, err = optionalString(fields, fieldAuthor)
	if err != nil {
		return patch, err
	}

	if _, ok := fields[fieldCover]; ok {
		patch.SetCover = true

		patch.Cover, err = optionalString(fields, fieldCover)
		if err != nil {
			return patch, err
		}
	}

	if raw, ok := fields[fieldLastRead]; ok {
		patch.SetLastRead = true

		patch.LastReadLocation, err = parseLastRead(raw)
		if err != nil {
			return patch, err
		}
	}

	return patch, nil
}

func (p Patch) apply(book *Book) {
	if p.Title != nil {
		book.Title = *p.Title
	}

	if p.Author != nil {
		book.Author = p.Author
	}

	if p.SetCover {
		book.Cover = p.Cover
	}

	if p.SetLastRead {
		book.LastReadLocation = p.LastReadLocation
	}
}

func optionalString(fields map[string]json.RawMessage, key string) (*string, error) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return nil, nil
	}

	var value string

	err := json.Unmarshal(raw, &value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a string", ErrInvalidPatch, key)
	}

	return &value, nil
}

func parseLastRead(raw json.RawMessage) (*LastReadLocation, error) {
	if isNull(raw) {
		return nil, nil
	}

	var object map[string]json.RawMessage

	err := json.Unmarshal(raw, &object)
	if err != nil {
		return nil, fmt.Errorf("%w: must be an object", ErrInvalidLastRead)
	}

	para, err := nonNegativeInt(object, "para")
	if err != nil {
		return nil, err
	}

	chars, err := nonNegativeInt(object, "chars")
	if err != nil {
		return nil, err
	}

	return &LastReadLocation{Para: para, Chars: chars}, nil
}

func nonNegativeInt(object map[string]json.RawMessage, key string) (int, error) {
	invalid := fmt.Errorf("%w: %s must be a non-negative integer", ErrInvalidLastRead, key)

	raw, ok := object[key]
	if !ok {
		return 0, invalid
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var value any

	err := decoder.Decode(&value)
	if err != nil {
		return 0, invalid
	}

	number, ok := value.(json.Number)
	if !ok {
		return 0, invalid
	}

	parsed, err := number.Int64()
	if err != nil || parsed < 0 {
		return 0, invalid
	}

	return int(parsed), nil
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}
