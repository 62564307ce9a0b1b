package images

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gobwas/glob"
)

// vectorImages matches SVG files inside any images directory, at any depth.
var vectorImages = glob.MustCompile("{"+DirName+"/*.svg,**/"+DirName+"/*.svg}", '/')

// CleanupVectorImages removes previously downloaded SVG files under root and
// returns how many were deleted. A missing root is not an error.
func CleanupVectorImages(root string) (int, error) {
	removed := 0
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == root {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if !vectorImages.Match(filepath.ToSlash(rel)) {
			return nil
		}
		if err := os.Remove(p); err != nil {
			return fmt.Errorf("removing %s: %w", p, err)
		}
		removed++
		return nil
	})
	return removed, err
}
