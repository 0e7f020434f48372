package pipeline

import (
	"os"
	"path/filepath"
	"strings"
)

// Source represents a discovered image file.
type Source struct {
	// AbsPath is the absolute path to the file on disk.
	AbsPath string
	// RelPath is the path relative to the input directory, with forward
	// slashes. It is the manifest key.
	RelPath string
	// Format is the source format (png, jpeg, gif, bmp, tiff, avif, heic).
	Format string
	// Size is the file size in bytes.
	Size int64
}

// OutputRel is where the WebP for s goes, relative to the output
// directory. The source extension is kept so a.png and a.jpg do not
// collide.
func (s Source) OutputRel() string {
	return s.RelPath + ".webp"
}

// imageExtensions lists recognized source extensions. WebP files are not
// sources: they are what we produce.
var imageExtensions = map[string]string{
	".png":  "png",
	".jpg":  "jpeg",
	".jpeg": "jpeg",
	".gif":  "gif",
	".bmp":  "bmp",
	".tiff": "tiff",
	".tif":  "tiff",
	".avif": "avif",
	".heic": "heic",
}

// IsImage reports whether path has a recognized source extension.
func IsImage(path string) bool {
	_, ok := imageExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// ScanImages walks the input directory and returns all image sources.
// Hidden files and directories are skipped, which also skips the staging
// files converters write.
func ScanImages(inputDir string) ([]Source, error) {
	var sources []Source

	err := filepath.Walk(inputDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		hidden := strings.HasPrefix(info.Name(), ".") && path != inputDir
		if info.IsDir() {
			if hidden {
				return filepath.SkipDir
			}
			return nil
		}
		if hidden || !info.Mode().IsRegular() {
			return nil
		}

		src, ok, err := sourceFor(inputDir, path, info)
		if err != nil || !ok {
			return err
		}
		sources = append(sources, src)
		return nil
	})

	return sources, err
}

func sourceFor(inputDir, path string, info os.FileInfo) (Source, bool, error) {
	format, ok := imageExtensions[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return Source{}, false, nil
	}
	relPath, err := filepath.Rel(inputDir, path)
	if err != nil {
		return Source{}, false, err
	}
	return Source{
		AbsPath: path,
		RelPath: filepath.ToSlash(relPath),
		Format:  format,
		Size:    info.Size(),
	}, true, nil
}
