package pipeline

import (
	"os"
	"path/filepath"

	"github.com/reelhouse/reelhouse-api/chunks"
	"github.com/reelhouse/reelhouse-api/log"
	"github.com/reelhouse/reelhouse-api/video"
)

// cleanupScratch removes every local artifact a job may have left behind:
// the chunk folder, the combined source, rung MP4s, variant directories and
// stray segment scratch. Best effort and idempotent, so it runs on every
// terminal state including cancellation.
func (c *Coordinator) cleanupScratch(jobID, fileName string) {
	baseName := chunks.BaseName(fileName)
	root := c.Chunks.Root

	c.Chunks.DiscardSet(fileName)
	removeFile(jobID, c.Chunks.CombinedPath(fileName))

	for _, rung := range video.DefaultLadder {
		removeFile(jobID, filepath.Join(root, rung.Label+"_"+baseName+".mp4"))
		removeDir(jobID, filepath.Join(root, "hls_"+rung.Label+"_"+baseName))
	}

	matches, err := filepath.Glob(filepath.Join(root, "segments_"+baseName+"*"))
	if err == nil {
		for _, m := range matches {
			removeDir(jobID, m)
		}
	}
	log.Log(jobID, "local scratch cleaned", "base_name", baseName)
}

func removeFile(jobID, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Log(jobID, "failed to remove scratch file", "path", path, "err", err)
	}
}

func removeDir(jobID, path string) {
	if err := os.RemoveAll(path); err != nil {
		log.Log(jobID, "failed to remove scratch dir", "path", path, "err", err)
	}
}
