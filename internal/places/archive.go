package places

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	// BackupExport labels export operations reported to the Observer.
	BackupExport = "export"
	// BackupImport labels import operations reported to the Observer.
	BackupImport = "import"
)

// Archive is the decoded content of a backup archive.
type Archive struct {
	Version    int
	ExportDate string
	Username   string
	Categories []string
	Places     []Place
	// MissingEntries lists binary entries the manifest referenced but the
	// archive did not contain; the affected memories were restored without payload.
	MissingEntries []string
}

// ArchiveCodec converts between an Archive and its portable byte form.
type ArchiveCodec interface {
	Encode(archive Archive) ([]byte, error)
	Decode(data []byte) (Archive, error)
}

// ExportBackup encodes every place and category of the session into an archive.
func (s *Store) ExportBackup(ctx context.Context, username string) ([]byte, error) {
	if s.codec == nil {
		return nil, newServiceError(opExportBackup, "missing_codec", errMissingCodec)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	archive := Archive{
		ExportDate: s.clock().UTC().Format(time.RFC3339Nano),
		Username:   username,
		Categories: append([]string(nil), s.categories...),
		Places:     clonePlaces(s.places),
	}
	s.mu.Unlock()

	data, err := s.codec.Encode(archive)
	s.observer.BackupCompleted(BackupExport, err)
	if err != nil {
		s.logError(opExportBackup, "encode_failed", err)
		return nil, newServiceError(opExportBackup, "encode_failed", err)
	}
	s.logger.Info("backup exported",
		zap.String("user_key", s.UserKey().String()),
		zap.Int("places", len(archive.Places)),
		zap.Int("bytes", len(data)))
	return data, nil
}

// ImportBackup decodes an archive and replaces the session state with it. A
// failed decode leaves the state untouched.
func (s *Store) ImportBackup(ctx context.Context, data []byte) (Archive, error) {
	if s.codec == nil {
		return Archive{}, newServiceError(opImportBackup, "missing_codec", errMissingCodec)
	}

	archive, err := s.codec.Decode(data)
	s.observer.BackupCompleted(BackupImport, err)
	if err != nil {
		s.logError(opImportBackup, "decode_failed", err)
		return Archive{}, newServiceError(opImportBackup, "decode_failed", err)
	}
	if err := ctx.Err(); err != nil {
		return Archive{}, err
	}

	s.RestoreData(archive.Places, archive.Categories)
	if len(archive.MissingEntries) > 0 {
		s.logger.Warn("backup restored with missing attachments",
			zap.Strings("entries", archive.MissingEntries))
	}
	s.logger.Info("backup imported",
		zap.String("user_key", s.UserKey().String()),
		zap.String("username", archive.Username),
		zap.Int("places", len(archive.Places)))
	return archive, nil
}
