// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package persist

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"

	"github.com/al-berger/regd/lib/storage"
)

// zstd encoders and decoders are safe for concurrent use and costly
// to create.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("persist: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("persist: zstd decoder initialization failed: " + err.Error())
	}
}

// sideDirectory is the directory holding the side files of the bound
// file at path.
func sideDirectory(path string) string {
	return path + ".d"
}

// sideFileName returns the name of the side file for a payload,
// relative to the directory of the bound file.
func sideFileName(boundFile string, payload []byte, compression string) string {
	sum := blake3.Sum256(payload)
	name := hex.EncodeToString(sum[:16])
	switch compression {
	case "zstd":
		name += ".zst"
	case "lz4":
		name += ".lz4"
	}
	return filepath.Join(filepath.Base(sideDirectory(boundFile)), name)
}

func compress(payload []byte, compression string) ([]byte, error) {
	switch compression {
	case "", "none":
		return payload, nil
	case "zstd":
		return zstdEncoder.EncodeAll(payload, nil), nil
	case "lz4":
		var buffer bytes.Buffer
		writer := lz4.NewWriter(&buffer)
		if _, err := writer.Write(payload); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		return buffer.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown compression %q", compression)
	}
}

func decompress(stored []byte, compression string) ([]byte, error) {
	switch compression {
	case "", "none":
		return stored, nil
	case "zstd":
		payload, err := zstdDecoder.DecodeAll(stored, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return payload, nil
	case "lz4":
		payload, err := io.ReadAll(lz4.NewReader(bytes.NewReader(stored)))
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		return payload, nil
	default:
		return nil, fmt.Errorf("unknown compression %q", compression)
	}
}

// writeSideFile stores a binary value next to boundFile and returns
// its relative name. Content-addressed names make rewriting an
// unchanged value a no-op.
func writeSideFile(boundFile string, value *storage.Node) (string, error) {
	compression, _ := value.Attr(storage.AttrCompression)
	name := sideFileName(boundFile, value.Bytes(), compression)
	path := filepath.Join(filepath.Dir(boundFile), name)
	if _, err := os.Stat(path); err == nil {
		return name, nil
	}
	stored, err := compress(value.Bytes(), compression)
	if err != nil {
		return "", err
	}
	if err := writeFileAtomic(path, stored); err != nil {
		return "", err
	}
	return name, nil
}

func readSideFile(directory string, attrs map[string]string) ([]byte, error) {
	name := attrs[storage.AttrPersist]
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(directory, name)
	}
	stored, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading binary value: %w", err)
	}
	return decompress(stored, attrs[storage.AttrCompression])
}

// pruneSideFiles removes side files of boundFile that the last write
// no longer references.
func pruneSideFiles(boundFile string, referenced map[string]bool) {
	directory := sideDirectory(boundFile)
	entries, err := os.ReadDir(directory)
	if err != nil {
		return
	}
	prefix := filepath.Base(directory)
	for _, entry := range entries {
		if !referenced[filepath.Join(prefix, entry.Name())] {
			os.Remove(filepath.Join(directory, entry.Name()))
		}
	}
}
