package normalizer

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// KeyLayout orders artifact keys chronologically as plain strings.
const KeyLayout = "20060102T150405.000000000"

// Artifact is one file deposited by an acquisition collaborator.
type Artifact struct {
	Source  string
	Path    string
	Name    string
	Size    int64
	ModTime time.Time
	Key     string
}

func ArtifactKey(modTime time.Time, name string) string {
	return modTime.UTC().Format(KeyLayout) + "|" + name
}

var partialSuffixes = []string{".part", ".tmp", ".crdownload", ".partial", ".download"}

// ScanResult lists the artifacts ready for processing, oldest first.
type ScanResult struct {
	Artifacts []Artifact
	// Skipped counts files left alone: empty, hidden, partial or unsettled.
	Skipped int
}

// Scan lists the files of dir. Files modified within settle of now are
// still being written and are left for a later run.
func Scan(dir, source string, settle time.Duration, now time.Time) (ScanResult, error) {
	var res ScanResult
	entries, err := os.ReadDir(dir)
	if err != nil {
		return res, fmt.Errorf("reading artifact directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			continue
		}
		if strings.HasPrefix(name, ".") || hasPartialSuffix(name) {
			res.Skipped++
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.Mode().IsRegular() {
			res.Skipped++
			continue
		}
		if info.Size() == 0 {
			res.Skipped++
			continue
		}
		if settle > 0 && now.Sub(info.ModTime()) < settle {
			res.Skipped++
			continue
		}
		res.Artifacts = append(res.Artifacts, Artifact{
			Source:  source,
			Path:    filepath.Join(dir, name),
			Name:    name,
			Size:    info.Size(),
			ModTime: info.ModTime().UTC(),
			Key:     ArtifactKey(info.ModTime(), name),
		})
	}

	sort.Slice(res.Artifacts, func(i, j int) bool {
		return res.Artifacts[i].Key < res.Artifacts[j].Key
	})
	return res, nil
}

func hasPartialSuffix(name string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range partialSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

// After keeps the artifacts whose key sorts after cursor.
func After(artifacts []Artifact, cursor string) []Artifact {
	if cursor == "" {
		return artifacts
	}
	idx := sort.Search(len(artifacts), func(i int) bool {
		return artifacts[i].Key > cursor
	})
	return artifacts[idx:]
}

var (
	reNameISO      = regexp.MustCompile(`(\d{4})[-_.]?(\d{2})[-_.]?(\d{2})`)
	reNameDayFirst = regexp.MustCompile(`(\d{2})[-_.](\d{2})[-_.](\d{4})`)
)

// DateFromName finds a calendar date embedded in a file name, such as
// dof_2025-02-18_mat.txt, 20250218.json or export_18-02-2025.csv.
func DateFromName(name string, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if m := reNameDayFirst.FindStringSubmatch(base); m != nil {
		d, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		y, _ := strconv.Atoi(m[3])
		if validDate(y, time.Month(mo), d) {
			return time.Date(y, time.Month(mo), d, 0, 0, 0, 0, loc), true
		}
	}
	for _, m := range reNameISO.FindAllStringSubmatch(base, -1) {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		if validDate(y, time.Month(mo), d) {
			return time.Date(y, time.Month(mo), d, 0, 0, 0, 0, loc), true
		}
	}
	return time.Time{}, false
}

// Date is the artifact's publication date: from its name when present,
// otherwise its modification time.
func (a Artifact) Date(loc *time.Location) time.Time {
	if d, ok := DateFromName(a.Name, loc); ok {
		return d
	}
	if loc == nil {
		loc = time.UTC
	}
	mt := a.ModTime.In(loc)
	return time.Date(mt.Year(), mt.Month(), mt.Day(), 0, 0, 0, 0, loc)
}
