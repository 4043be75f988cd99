package mirror

import (
	"path"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/diskmirror/internal/config"
	"github.com/openmined/diskmirror/internal/remote"
	"github.com/openmined/diskmirror/internal/utils"
)

// UploadReason tells why a file is in Plan.ToUpload.
type UploadReason string

const (
	ReasonMissing UploadReason = "missing"
	ReasonChanged UploadReason = "changed"
)

// PlannedUpload is a local file that must be written to RemotePath.
type PlannedUpload struct {
	File       *LocalFile
	RemotePath string
	Reason     UploadReason
}

// Plan is the full set of actions for one pass. It is computed before any mutating call.
type Plan struct {
	ToUpload []*PlannedUpload
	UpToDate []*LocalFile
	ToDelete []*remote.Entry
	// Skipped local files could not be read; their remote counterparts are kept.
	Skipped []*SkippedFile
	// Ignored counts local and remote paths left alone by ignore rules.
	Ignored int
}

func (p *Plan) HasChanges() bool {
	return len(p.ToUpload) > 0 || len(p.ToDelete) > 0
}

// UploadBytes is the total size of the planned uploads.
func (p *Plan) UploadBytes() int64 {
	var total int64
	for _, u := range p.ToUpload {
		total += u.File.Size
	}
	return total
}

// planner compares a local scan with a remote listing.
type planner struct {
	remoteDir string
	match     string
	ignore    *IgnoreList
}

func (pl *planner) key(relPath string) string {
	if pl.match == config.MatchName {
		return path.Base(relPath)
	}
	return relPath
}

func (pl *planner) remoteKey(e *remote.Entry) string {
	if pl.match == config.MatchName {
		return e.Name
	}
	if e.RelPath != "" {
		return e.RelPath
	}
	return e.Name
}

func (pl *planner) build(scan *ScanResult, listing []*remote.Entry) *Plan {
	plan := &Plan{
		Skipped: scan.Skipped,
		Ignored: len(scan.Ignored),
	}

	remoteFiles := make(map[string]*remote.Entry, len(listing))
	for _, e := range listing {
		if !e.IsFile() {
			continue
		}
		remoteFiles[pl.remoteKey(e)] = e
	}

	seen := mapset.NewThreadUnsafeSet[string]()
	for _, f := range scan.Files {
		key := pl.key(f.RelPath)
		seen.Add(key)

		r, ok := remoteFiles[key]
		switch {
		case ok && r.Hash != "" && r.Hash == f.Hash:
			plan.UpToDate = append(plan.UpToDate, f)
		case ok:
			plan.ToUpload = append(plan.ToUpload, &PlannedUpload{File: f, RemotePath: utils.JoinRemote(pl.remoteDir, f.RelPath), Reason: ReasonChanged})
		default:
			plan.ToUpload = append(plan.ToUpload, &PlannedUpload{File: f, RemotePath: utils.JoinRemote(pl.remoteDir, f.RelPath), Reason: ReasonMissing})
		}
	}

	var protectedDirs []string
	blockDeletes := false
	for _, s := range scan.Skipped {
		if !s.Dir {
			seen.Add(pl.key(s.RelPath))
			continue
		}
		if pl.match == config.MatchName {
			// names under an unreadable directory are unknown
			blockDeletes = true
			continue
		}
		protectedDirs = append(protectedDirs, s.RelPath+"/")
	}

	if blockDeletes {
		return plan
	}

	for key, e := range remoteFiles {
		if seen.Contains(key) {
			continue
		}
		if pl.ignore.ShouldIgnore(key) || underAny(key, protectedDirs) {
			plan.Ignored++
			continue
		}
		plan.ToDelete = append(plan.ToDelete, e)
	}
	sort.Slice(plan.ToDelete, func(i, j int) bool { return plan.ToDelete[i].Path < plan.ToDelete[j].Path })

	return plan
}

func underAny(key string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}
