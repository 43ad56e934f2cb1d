package indexer

import "time"

// Stats is a point-in-time snapshot of indexing progress.
type Stats struct {
	State            State   `json:"state"`
	FilesIndexed     int64   `json:"files_indexed"`
	FilesPending     int64   `json:"files_pending"`
	FilesSkipped     int64   `json:"files_skipped"`
	TotalBytes       int64   `json:"total_bytes"`
	Progress         float64 `json:"progress"`
	ElapsedSeconds   float64 `json:"elapsed_seconds"`
	AvgTimePerFileMs float64 `json:"avg_time_per_file_ms"`
}

// Stats assembles a snapshot from the worker's counters.
func (idx *Indexer) Stats() Stats {
	s := Stats{
		State:        idx.State(),
		FilesIndexed: idx.indexed.Load(),
		FilesPending: idx.pending.Load(),
		FilesSkipped: idx.skipped.Load(),
		TotalBytes:   idx.bytes.Load(),
	}
	if total := s.FilesIndexed + s.FilesPending; total > 0 {
		s.Progress = float64(s.FilesIndexed) / float64(total)
	} else {
		s.Progress = 1.0
	}
	if start := idx.startTime.Load(); start > 0 {
		s.ElapsedSeconds = time.Since(time.Unix(0, start)).Seconds()
	}
	if s.FilesIndexed > 0 {
		s.AvgTimePerFileMs = s.ElapsedSeconds * 1000 / float64(s.FilesIndexed)
	}
	return s
}
