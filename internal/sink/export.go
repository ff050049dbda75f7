package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"blastbot/internal/target"
)

// Artifacts are the files produced by exporting one run.
type Artifacts struct {
	SuccessPath string
	FailedPath  string
	LogPath     string

	Sent    int
	Failed  int
	Skipped int
}

// Export writes a run's three result artifacts under dir: the
// successful-target list, the failed-target list (with reasons), and the
// full per-attempt log as JSON Lines. It works from the durable log only,
// so a failed run still exports whatever completed before the fatal error.
func Export(ctx context.Context, st Store, runID, dir string) (Artifacts, error) {
	if strings.TrimSpace(dir) == "" {
		dir = "./export"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Artifacts{}, err
	}

	recs, err := st.Replay(ctx, runID)
	if err != nil {
		return Artifacts{}, err
	}
	states, err := Recover(ctx, st, runID)
	if err != nil {
		return Artifacts{}, err
	}

	var success, failed []string
	a := Artifacts{
		SuccessPath: filepath.Join(dir, runID+".success.txt"),
		FailedPath:  filepath.Join(dir, runID+".failed.txt"),
		LogPath:     filepath.Join(dir, runID+".log.jsonl"),
	}
	for key, rec := range states {
		switch rec.State {
		case target.StateSent:
			success = append(success, key)
			a.Sent++
		case target.StateFailed:
			line := key
			if rec.Error != "" {
				line += "\t" + rec.Error
			}
			failed = append(failed, line)
			a.Failed++
		case target.StateSkippedDuplicate, target.StateSkippedInvalid:
			a.Skipped++
		}
	}
	sort.Strings(success)
	sort.Strings(failed)

	if err := writeLines(a.SuccessPath, success); err != nil {
		return Artifacts{}, err
	}
	if err := writeLines(a.FailedPath, failed); err != nil {
		return Artifacts{}, err
	}

	f, err := os.OpenFile(a.LogPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return Artifacts{}, err
	}
	enc := json.NewEncoder(f)
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			_ = f.Close()
			return Artifacts{}, fmt.Errorf("export log: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return Artifacts{}, err
	}
	return a, nil
}

func writeLines(path string, lines []string) error {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
