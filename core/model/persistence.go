package model

import (
	"encoding/gob"
	"io"
	"os"

	"github.com/cockroachdb/errors"
)

// RegisterGob registers concrete types that travel behind interface fields
// (a Classifier inside a pipeline, a base estimator inside a stack).
// Packages call it from init.
func RegisterGob(values ...interface{}) {
	for _, v := range values {
		gob.Register(v)
	}
}

// SaveModel はモデルをファイルに保存する
//
// 使用例:
//
//	err := model.SaveModel(pipe, filepath.Join(dir, "pipeline.gob"))
func SaveModel(m interface{}, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return errors.Wrap(err, "failed to create file")
	}
	defer file.Close()

	if err := SaveModelToWriter(m, file); err != nil {
		return err
	}
	return errors.Wrap(file.Sync(), "failed to sync model file")
}

// LoadModel はファイルからモデルを読み込む (m はポインタ)
func LoadModel(m interface{}, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return errors.Wrap(err, "failed to open file")
	}
	defer file.Close()

	return LoadModelFromReader(m, file)
}

// SaveModelToWriter はモデルをio.Writerに保存する
func SaveModelToWriter(m interface{}, w io.Writer) error {
	if err := gob.NewEncoder(w).Encode(m); err != nil {
		return errors.Wrap(err, "failed to encode model")
	}
	return nil
}

// LoadModelFromReader はio.Readerからモデルを読み込む
func LoadModelFromReader(m interface{}, r io.Reader) error {
	if err := gob.NewDecoder(r).Decode(m); err != nil {
		return errors.Wrap(err, "failed to decode model")
	}
	return nil
}
