package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"mercator-hq/sieve/pkg/filter"
	"mercator-hq/sieve/pkg/noscript"
	"mercator-hq/sieve/pkg/predicate"
	"mercator-hq/sieve/pkg/record"
)

// ModuleFile is a module file read from disk.
type ModuleFile struct {
	// Name is the file stem.
	Name string
	Path string

	// Module holds the bytes handed to the loader. For envelopes this is
	// the decoded payload, not the file.
	Module []byte

	// Script is set for .json noscript envelopes.
	Script *noscript.Script

	// Digest is the hex SHA-256 of the file content.
	Digest string
}

// NameOf returns the module name for path: its base name without extension.
func NameOf(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// Prefilter returns the envelope's prefilter when the file is a noscript
// filter script with filter tags, and nil otherwise.
func (mf *ModuleFile) Prefilter() *filter.Filter {
	if mf.Script == nil || !mf.Script.IsFilter || mf.Script.Filter.IsEmpty() {
		return nil
	}
	return mf.Script.Filter
}

// ReadModuleFile reads path, rejecting files over maxSize bytes when
// maxSize is positive, and unwraps noscript envelopes.
func ReadModuleFile(path string, maxSize int64) (*ModuleFile, error) {
	data, err := readFile(path, maxSize)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(data)
	mf := &ModuleFile{
		Name:   NameOf(path),
		Path:   path,
		Module: data,
		Digest: hex.EncodeToString(sum[:]),
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		script, err := decodeEnvelope(data)
		if err != nil {
			return nil, err
		}
		mf.Script = script
		mf.Module = script.Module
	}
	return mf, nil
}

func readFile(path string, maxSize int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if maxSize <= 0 {
		return io.ReadAll(f)
	}
	data, err := io.ReadAll(io.LimitReader(f, maxSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%w: over %d bytes", ErrModuleTooLarge, maxSize)
	}
	return data, nil
}

// decodeEnvelope accepts an envelope record in either dialect.
func decodeEnvelope(data []byte) (*noscript.Script, error) {
	rec, err := record.Decode(data, record.DialectBoundary)
	if err != nil {
		var nostrErr error
		if rec, nostrErr = record.Decode(data, record.DialectNostr); nostrErr != nil {
			return nil, fmt.Errorf("%w: %w", predicate.ErrMalformedModule, err)
		}
	}
	script, err := noscript.Decode(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", predicate.ErrMalformedModule, err)
	}
	return script, nil
}

// ScanDir returns the module files under dir, sorted. Only regular files
// with one of extensions are returned; with skipHidden, dot files and dot
// directories below dir are ignored.
func ScanDir(dir string, extensions []string, skipHidden bool) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		hidden := skipHidden && path != dir && strings.HasPrefix(d.Name(), ".")
		if d.IsDir() {
			if hidden {
				return filepath.SkipDir
			}
			return nil
		}
		if hidden || !d.Type().IsRegular() || !hasExtension(path, extensions) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(files)
	return files, nil
}
