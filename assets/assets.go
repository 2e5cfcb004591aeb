// Package assets reads named resources, such as compiled shaders, from a
// file system or a packr box.
package assets

//go:generate mockgen -source=assets.go -destination=mock_assets.go -package=assets

import (
	"io/fs"

	"github.com/cockroachdb/errors"
	"github.com/gobuffalo/packr"

	"github.com/vkngwrapper/videosink/gpuerr"
)

// Reader returns the bytes of a named asset. A missing asset fails with an
// error marked gpuerr.ErrAssetMissing.
type Reader interface {
	ReadFile(name string) ([]byte, error)
}

type FSReader struct {
	fsys fs.FS
}

func NewFSReader(fsys fs.FS) *FSReader {
	return &FSReader{fsys: fsys}
}

func (r *FSReader) ReadFile(name string) ([]byte, error) {
	data, err := fs.ReadFile(r.fsys, name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, gpuerr.AssetMissing(name, err)
	} else if err != nil {
		return nil, errors.Wrapf(err, "read asset %q", name)
	}
	return data, nil
}

// BoxReader reads assets packed with packr.
type BoxReader struct {
	box packr.Box
}

func NewBoxReader(box packr.Box) *BoxReader {
	return &BoxReader{box: box}
}

func (r *BoxReader) ReadFile(name string) ([]byte, error) {
	if !r.box.Has(name) {
		return nil, gpuerr.AssetMissing(name, nil)
	}
	data, err := r.box.Find(name)
	if err != nil {
		return nil, errors.Wrapf(err, "read asset %q", name)
	}
	return data, nil
}
