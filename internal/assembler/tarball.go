package assembler

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/portelect/portelect/internal/domain"
)

// buildTarball writes the staged root into a compressed tar, every
// entry prefixed with the package name so the archive unpacks into a
// single directory. Pure Go, no external tools.
func (a *Assembler) buildTarball(stagedRoot string, spec domain.PackageSpec) (string, error) {
	pkgPath := filepath.Join(a.packageDir, spec.FileName())

	f, err := os.Create(pkgPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var compressor io.WriteCloser
	switch spec.Kind {
	case domain.KindTarZst:
		compressor, err = zstd.NewWriter(f)
	case domain.KindTarXz:
		compressor, err = xz.NewWriter(f)
	default:
		err = fmt.Errorf("kind %q is not a tarball", spec.Kind)
	}
	if err != nil {
		return "", err
	}

	tw := tar.NewWriter(compressor)
	if err := writeTarTree(tw, stagedRoot, spec.Name); err != nil {
		tw.Close()
		compressor.Close()
		return "", domain.NewStageError("assemble", domain.ErrPackaging, "", err)
	}

	if err := tw.Close(); err != nil {
		return "", err
	}
	if err := compressor.Close(); err != nil {
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	return pkgPath, nil
}

func writeTarTree(tw *tar.Writer, root, prefix string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}

		var link string
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(filepath.Join(prefix, relPath))
		if info.IsDir() {
			hdr.Name += "/"
		}

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		if !info.Mode().IsRegular() {
			return nil
		}

		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()

		_, err = io.Copy(tw, src)
		return err
	})
}
