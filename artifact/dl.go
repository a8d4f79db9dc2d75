package artifact

import (
	"path/filepath"
)

// DLMetadataFile is written by neural runs in addition to metadata.json.
const DLMetadataFile = "dl_metadata.json"

// DLMetadata describes the network input of a neural run.
type DLMetadata struct {
	Target    string   `json:"target"`
	DropCols  []string `json:"drop_cols"`
	Classes   []string `json:"classes"`
	ModelKind string   `json:"model_kind"`
	InputDim  int      `json:"input_dim"`
}

// SaveDLMetadata writes dl_metadata.json.
func SaveDLMetadata(dir string, meta DLMetadata) error {
	if meta.DropCols == nil {
		meta.DropCols = []string{}
	}
	return WriteJSON(filepath.Join(dir, DLMetadataFile), meta)
}

// LoadDLMetadata reads dl_metadata.json.
func LoadDLMetadata(dir string) (DLMetadata, error) {
	var meta DLMetadata
	err := ReadJSON(filepath.Join(dir, DLMetadataFile), &meta)
	return meta, err
}
