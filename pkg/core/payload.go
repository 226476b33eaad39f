package core

import (
	"encoding/json"
	"fmt"
)

// SavePayload describes uploading save data from the user's machine to the
// remote store. Paths lists the local source paths; multi-path saves become
// one operation per path sharing a batch.
type SavePayload struct {
	GameID     string `json:"game_id"`
	FolderName string `json:"folder_name"`
	Path       string `json:"path"`
}

// LoadPayload describes restoring an archived save onto the user's machine.
type LoadPayload struct {
	GameID      string `json:"game_id"`
	FolderID    string `json:"folder_id"`
	ArchivePath string `json:"archive_path"`
	TargetPath  string `json:"target_path,omitempty"`
}

// DeletePayload describes removing a stored save folder (or a whole game
// directory) from the remote store. Used by delete_folder, delete_all
// siblings and delete_game_directory operations.
type DeletePayload struct {
	GameID     string `json:"game_id"`
	FolderID   string `json:"folder_id,omitempty"`
	RemotePath string `json:"remote_path"`
}

// OpenLocationPayload describes revealing a local path in the user's file
// manager.
type OpenLocationPayload struct {
	Path string `json:"path"`
}

// DecodePayload validates and decodes a raw payload against the kind's
// payload variant. It is called at the boundary before an operation enters
// the core.
func DecodePayload(kind OperationKind, raw json.RawMessage) (any, error) {
	if !kind.Valid() {
		return nil, ErrUnknownKind
	}

	switch kind {
	case KindSave:
		var p SavePayload
		if err := decodeStrict(raw, &p); err != nil {
			return nil, err
		}
		if p.GameID == "" || p.Path == "" {
			return nil, fmt.Errorf("%w: save requires game_id and path", ErrInvalidPayload)
		}
		return p, nil
	case KindLoad:
		var p LoadPayload
		if err := decodeStrict(raw, &p); err != nil {
			return nil, err
		}
		if p.GameID == "" || p.ArchivePath == "" {
			return nil, fmt.Errorf("%w: load requires game_id and archive_path", ErrInvalidPayload)
		}
		return p, nil
	case KindDeleteFolder, KindDeleteAll, KindDeleteGameDirectory:
		var p DeletePayload
		if err := decodeStrict(raw, &p); err != nil {
			return nil, err
		}
		if p.GameID == "" || p.RemotePath == "" {
			return nil, fmt.Errorf("%w: delete requires game_id and remote_path", ErrInvalidPayload)
		}
		return p, nil
	case KindOpenLocation:
		var p OpenLocationPayload
		if err := decodeStrict(raw, &p); err != nil {
			return nil, err
		}
		if p.Path == "" {
			return nil, fmt.Errorf("%w: open_location requires path", ErrInvalidPayload)
		}
		return p, nil
	}
	return nil, ErrUnknownKind
}

func decodeStrict(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
