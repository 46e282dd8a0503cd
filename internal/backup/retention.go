package backup

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"dbvault/internal/logging"
)

var artifactSuffixes = []string{".sql", ".zip", ".tar.gz", ".tar.zst", ".tar.lz4"}

// stagingDirPattern matches the <db>_<yyyyMMdd_HHmmss_mmm> directories
// compressed runs stage their dump in
var stagingDirPattern = regexp.MustCompile(`_\d{8}_\d{6}_\d{3}$`)

// RetentionCandidate is one artifact found in a schedule's output root
type RetentionCandidate struct {
	Path    string
	Name    string
	ModTime time.Time
}

func isArtifact(name string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range artifactSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

// listArtifacts returns the artifacts in root, newest first. Ties on
// modification time are broken by name, descending.
func listArtifacts(root string) ([]RetentionCandidate, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var candidates []RetentionCandidate
	for _, entry := range entries {
		if entry.IsDir() || !isArtifact(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, RetentionCandidate{
			Path:    filepath.Join(root, entry.Name()),
			Name:    entry.Name(),
			ModTime: info.ModTime(),
		})
	}

	sortNewestFirst(candidates)
	return candidates, nil
}

// listStagingDirs returns the staging directories in root, newest first
func listStagingDirs(root string) ([]RetentionCandidate, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var dirs []RetentionCandidate
	for _, entry := range entries {
		if !entry.IsDir() || !stagingDirPattern.MatchString(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		dirs = append(dirs, RetentionCandidate{
			Path:    filepath.Join(root, entry.Name()),
			Name:    entry.Name(),
			ModTime: info.ModTime(),
		})
	}
	sortNewestFirst(dirs)
	return dirs, nil
}

func sortNewestFirst(candidates []RetentionCandidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].ModTime.Equal(candidates[j].ModTime) {
			return candidates[i].ModTime.After(candidates[j].ModTime)
		}
		return candidates[i].Name > candidates[j].Name
	})
}

// applyRetention keeps the newest keep artifacts in root and removes the
// rest. A staging directory left by a failed or canceled compressed run is
// removed once keep artifacts are newer than it. keep <= 0 keeps everything.
// Failures are logged and otherwise ignored.
func applyRetention(root string, keep int, logger *logging.Logger) []string {
	if keep <= 0 {
		return nil
	}

	candidates, err := listArtifacts(root)
	if err != nil {
		logger.Debugf("retention: cannot list %s: %v", root, err)
		return nil
	}
	if len(candidates) < keep {
		return nil
	}

	doomed := candidates[keep:]
	cutoff := candidates[keep-1].ModTime
	staging, err := listStagingDirs(root)
	if err != nil {
		logger.Debugf("retention: cannot list staging directories in %s: %v", root, err)
	}
	for _, dir := range staging {
		if dir.ModTime.Before(cutoff) {
			doomed = append(doomed, dir)
		}
	}

	var removed []string
	for _, c := range doomed {
		if err := os.RemoveAll(c.Path); err != nil {
			logger.Debugf("retention: failed to remove %s: %v", c.Path, err)
			continue
		}
		removed = append(removed, c.Path)
	}
	if len(removed) > 0 {
		logger.WithFields(map[string]interface{}{
			"root":    root,
			"kept":    keep,
			"removed": len(removed),
		}).Info("Retention applied")
	}
	return removed
}
