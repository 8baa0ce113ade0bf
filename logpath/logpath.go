// Package logpath names the log files of a field session:
//
//	<root>/<YYYYMMDD>_<trial>_<content>/<YYYYMMDD>_<trial>_<content>_<NNN><ext>
package logpath

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const dateFmt = "20060102"

// Folder creates, if needed, the folder for one trial and content type on
// the day of now and returns its path.
func Folder(root, trial, content string, now time.Time) (string, error) {
	dir := filepath.Join(root, fmt.Sprintf("%s_%s_%s", now.Format(dateFmt), trial, content))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("unable to create log folder: %w", err)
	}
	return dir, nil
}

// Next returns the path of the next numbered file with extension ext in
// folder, one above the highest existing number. The folder itself is not
// changed.
func Next(folder, ext string) (string, error) {
	base := filepath.Base(folder)
	entries, err := os.ReadDir(folder)
	if err != nil {
		return "", err
	}
	highest := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, base+"_") || !strings.HasSuffix(name, ext) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, base+"_"), ext))
		if err != nil || n < 0 {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	return filepath.Join(folder, fmt.Sprintf("%s_%03d%s", base, highest+1, ext)), nil
}

// Path combines Folder and Next.
func Path(root, trial, content, ext string, now time.Time) (string, error) {
	dir, err := Folder(root, trial, content, now)
	if err != nil {
		return "", err
	}
	return Next(dir, ext)
}
