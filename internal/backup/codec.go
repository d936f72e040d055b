// Package backup converts place snapshots to and from portable zip archives.
//
// An archive holds one JSON manifest plus one entry per binary memory. Binary
// payloads are moved out of the manifest and replaced by a reference path, so
// the manifest stays small and readable.
package backup

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/travelmaps/internal/places"
)

const (
	// ManifestName is the archive entry holding the JSON manifest.
	ManifestName = "travelmaps_backup.json"
	// FormatVersion is written to every manifest.
	FormatVersion = 1

	binaryDirectory      = "photos"
	binaryExtension      = ".jpg"
	defaultContentHeader = "data:image/jpeg;base64"
	fileNameDateLayout   = "2006-01-02"
)

var (
	// ErrInvalidArchive indicates that the archive or its manifest cannot be read.
	ErrInvalidArchive = errors.New("backup: invalid archive")
	// ErrMissingBinaryEntry indicates that a manifest reference has no matching entry.
	ErrMissingBinaryEntry = errors.New("backup: missing binary entry")
)

type manifest struct {
	Version    int             `json:"version"`
	ExportDate string          `json:"exportDate"`
	Username   string          `json:"username"`
	Categories []string        `json:"categories,omitempty"`
	Places     []manifestPlace `json:"places"`
}

type manifestPlace struct {
	places.Place
	Memories []manifestMemory `json:"memories"`
}

type manifestMemory struct {
	ID            string            `json:"id"`
	Type          places.MemoryType `json:"type"`
	Content       string            `json:"content,omitempty"`
	Text          string            `json:"text,omitempty"`
	FileName      string            `json:"fileName,omitempty"`
	Date          string            `json:"date,omitempty"`
	PhotoFile     string            `json:"photoFile,omitempty"`
	ContentHeader string            `json:"contentHeader,omitempty"`
}

// Decoding reads places and memories through their own JSON decoders (which
// understand the legacy photo/data fields) and the references separately.
type rawManifest struct {
	Version    int               `json:"version"`
	ExportDate string            `json:"exportDate"`
	Username   string            `json:"username"`
	Categories []string          `json:"categories"`
	Places     []json.RawMessage `json:"places"`
}

type placeReferences struct {
	Memories []memoryReference `json:"memories"`
}

type memoryReference struct {
	PhotoFile     string `json:"photoFile"`
	ContentHeader string `json:"contentHeader"`
}

// Codec implements places.ArchiveCodec with zip archives.
type Codec struct{}

// NewCodec constructs a Codec.
func NewCodec() *Codec {
	return &Codec{}
}

// FileName returns the download name of an archive exported at the given time.
func FileName(exportedAt time.Time) string {
	return fmt.Sprintf("TravelMaps_Backup_%s.zip", exportedAt.UTC().Format(fileNameDateLayout))
}

// EntryPath returns the archive path of a memory's binary payload.
func EntryPath(placeID, memoryID string) string {
	return fmt.Sprintf("%s/%s_%s%s", binaryDirectory, sanitizeSegment(placeID), sanitizeSegment(memoryID), binaryExtension)
}

func sanitizeSegment(value string) string {
	return strings.NewReplacer("/", "_", "\\", "_").Replace(value)
}

type binaryEntry struct {
	path    string
	payload []byte
}

// Encode writes the manifest and one entry per memory carrying a base64 data URL.
func (c *Codec) Encode(archive places.Archive) ([]byte, error) {
	document := manifest{
		Version:    FormatVersion,
		ExportDate: archive.ExportDate,
		Username:   archive.Username,
		Categories: archive.Categories,
		Places:     make([]manifestPlace, 0, len(archive.Places)),
	}
	var entries []binaryEntry

	for _, place := range archive.Places {
		memories := make([]manifestMemory, 0, len(place.Memories))
		for _, memory := range place.Memories {
			encoded := manifestMemory{
				ID:       memory.ID,
				Type:     memory.Type,
				Content:  memory.Content,
				Text:     memory.Text,
				FileName: memory.FileName,
				Date:     memory.Date,
			}
			if header, payload, ok := places.SplitDataURL(memory.Content); ok {
				raw, err := base64.StdEncoding.DecodeString(payload)
				if err == nil {
					encoded.Content = ""
					encoded.ContentHeader = header
					encoded.PhotoFile = EntryPath(place.ID, memory.ID)
					entries = append(entries, binaryEntry{path: encoded.PhotoFile, payload: raw})
				}
			}
			memories = append(memories, encoded)
		}
		document.Places = append(document.Places, manifestPlace{Place: place, Memories: memories})
	}

	manifestJSON, err := json.MarshalIndent(document, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("backup: encode manifest: %w", err)
	}

	modified := parseExportDate(archive.ExportDate)
	var buffer bytes.Buffer
	writer := zip.NewWriter(&buffer)
	if err := writeEntry(writer, ManifestName, manifestJSON, modified); err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if err := writeEntry(writer, entry.path, entry.payload, modified); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("backup: finalize archive: %w", err)
	}
	return buffer.Bytes(), nil
}

func writeEntry(writer *zip.Writer, name string, payload []byte, modified time.Time) error {
	entryWriter, err := writer.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: modified,
	})
	if err != nil {
		return fmt.Errorf("backup: create entry %s: %w", name, err)
	}
	if _, err := entryWriter.Write(payload); err != nil {
		return fmt.Errorf("backup: write entry %s: %w", name, err)
	}
	return nil
}

func parseExportDate(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Unix(0, 0).UTC()
	}
	return parsed
}

// Decode reads an archive produced by Encode (or by the original web client)
// and reinlines every referenced binary entry as a data URL. Memories whose
// entry is missing come back without payload and are listed in MissingEntries.
func (c *Codec) Decode(data []byte) (places.Archive, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return places.Archive{}, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}

	files := make(map[string]*zip.File, len(reader.File))
	for _, file := range reader.File {
		files[file.Name] = file
	}

	manifestFile, ok := files[ManifestName]
	if !ok {
		return places.Archive{}, fmt.Errorf("%w: missing %s", ErrInvalidArchive, ManifestName)
	}
	manifestJSON, err := readEntry(manifestFile)
	if err != nil {
		return places.Archive{}, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}

	var document rawManifest
	if err := json.Unmarshal(manifestJSON, &document); err != nil {
		return places.Archive{}, fmt.Errorf("%w: manifest: %v", ErrInvalidArchive, err)
	}

	archive := places.Archive{
		Version:    document.Version,
		ExportDate: document.ExportDate,
		Username:   document.Username,
		Categories: document.Categories,
		Places:     make([]places.Place, 0, len(document.Places)),
	}

	for _, rawPlace := range document.Places {
		var place places.Place
		if err := json.Unmarshal(rawPlace, &place); err != nil {
			return places.Archive{}, fmt.Errorf("%w: place: %v", ErrInvalidArchive, err)
		}
		var references placeReferences
		if err := json.Unmarshal(rawPlace, &references); err != nil {
			return places.Archive{}, fmt.Errorf("%w: place references: %v", ErrInvalidArchive, err)
		}

		for index := range place.Memories {
			if index >= len(references.Memories) {
				break
			}
			reference := references.Memories[index]
			if reference.PhotoFile == "" {
				continue
			}
			content, err := inlineEntry(files, reference)
			if err != nil {
				archive.MissingEntries = append(archive.MissingEntries, reference.PhotoFile)
				continue
			}
			place.Memories[index].Content = content
		}
		archive.Places = append(archive.Places, place)
	}
	return archive, nil
}

func inlineEntry(files map[string]*zip.File, reference memoryReference) (string, error) {
	file, ok := files[reference.PhotoFile]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingBinaryEntry, reference.PhotoFile)
	}
	payload, err := readEntry(file)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrMissingBinaryEntry, reference.PhotoFile, err)
	}
	header := reference.ContentHeader
	if header == "" {
		header = defaultContentHeader
	}
	return header + "," + base64.StdEncoding.EncodeToString(payload), nil
}

func readEntry(file *zip.File) ([]byte, error) {
	handle, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer handle.Close()
	return io.ReadAll(handle)
}
