package backup

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"dbvault/internal/schedule"
)

// formatOrDefault falls back to zip when a compressed schedule names no format
func formatOrDefault(format schedule.CompressionFormat) schedule.CompressionFormat {
	if format == "" {
		return schedule.CompressionZip
	}
	return format
}

// archiveDirectory packs every regular file under srcDir into dest. The
// entries are named relative to srcDir's parent so the archive holds one
// top-level directory. A partially written dest is removed on failure.
func archiveDirectory(srcDir, dest string, format schedule.CompressionFormat) (err error) {
	defer func() {
		if err != nil {
			os.Remove(dest)
		}
	}()

	switch formatOrDefault(format) {
	case schedule.CompressionZip:
		return writeZip(srcDir, dest)
	case schedule.CompressionTarGz:
		return writeTarGz(srcDir, dest)
	case schedule.CompressionTarZst:
		return writeCompressedTar(srcDir, dest, func(w io.Writer) (io.WriteCloser, error) {
			return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		})
	case schedule.CompressionTarLz4:
		return writeCompressedTar(srcDir, dest, func(w io.Writer) (io.WriteCloser, error) {
			zw := lz4.NewWriter(w)
			if err := zw.Apply(lz4.CompressionLevelOption(lz4.Fast)); err != nil {
				return nil, err
			}
			return zw, nil
		})
	}
	return fmt.Errorf("unsupported compression format: %s", format)
}

type archiveFile struct {
	path string
	name string
	info os.FileInfo
}

func collectFiles(srcDir string) ([]archiveFile, error) {
	base := filepath.Dir(srcDir)
	var files []archiveFile
	err := filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		files = append(files, archiveFile{path: path, name: filepath.ToSlash(rel), info: info})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("nothing to archive in %s", srcDir)
	}
	return files, nil
}

func copyFileTo(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

func writeZip(srcDir, dest string) error {
	files, err := collectFiles(srcDir)
	if err != nil {
		return err
	}

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for _, file := range files {
		header, err := zip.FileInfoHeader(file.info)
		if err != nil {
			return err
		}
		header.Name = file.name
		header.Method = zip.Deflate

		w, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}
		if err := copyFileTo(w, file.path); err != nil {
			return fmt.Errorf("failed to add %s to zip: %w", file.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return err
	}
	if err := out.Sync(); err != nil {
		return err
	}
	return out.Close()
}

func writeTar(w io.Writer, files []archiveFile) error {
	tw := tar.NewWriter(w)
	for _, file := range files {
		header, err := tar.FileInfoHeader(file.info, "")
		if err != nil {
			return err
		}
		header.Name = file.name
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if err := copyFileTo(tw, file.path); err != nil {
			return fmt.Errorf("failed to add %s to tar: %w", file.name, err)
		}
	}
	return tw.Close()
}

// writeTarGz is two-phase: a plain tar next to dest, then gzip of that tar.
// The intermediate tar is always deleted.
func writeTarGz(srcDir, dest string) error {
	files, err := collectFiles(srcDir)
	if err != nil {
		return err
	}

	tarPath := srcDir + ".tar"
	defer os.Remove(tarPath)

	tf, err := os.Create(tarPath)
	if err != nil {
		return err
	}
	if err := writeTar(tf, files); err != nil {
		tf.Close()
		return err
	}
	if err := tf.Close(); err != nil {
		return err
	}

	in, err := os.Open(tarPath)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	gw, err := gzip.NewWriterLevel(out, gzip.DefaultCompression)
	if err != nil {
		return err
	}
	gw.Name = filepath.Base(tarPath)
	if _, err := io.Copy(gw, in); err != nil {
		gw.Close()
		return err
	}
	if err := gw.Close(); err != nil {
		return err
	}
	if err := out.Sync(); err != nil {
		return err
	}
	return out.Close()
}

// writeCompressedTar streams the tar straight into the compressor
func writeCompressedTar(srcDir, dest string, compressor func(io.Writer) (io.WriteCloser, error)) error {
	files, err := collectFiles(srcDir)
	if err != nil {
		return err
	}

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	cw, err := compressor(out)
	if err != nil {
		return err
	}
	if err := writeTar(cw, files); err != nil {
		cw.Close()
		return err
	}
	if err := cw.Close(); err != nil {
		return err
	}
	if err := out.Sync(); err != nil {
		return err
	}
	return out.Close()
}
