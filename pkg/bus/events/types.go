// Package events defines the events published while archives are ingested.
package events

import (
	"fmt"
	"time"
)

const archiveTopic = "event.archive"

// TopicArchive is the topic for progress of archives in bucket.
func TopicArchive(bucket string) string {
	return fmt.Sprintf("%s:%s", archiveTopic, bucket)
}

type ArchiveState string

const (
	Indexing ArchiveState = "Indexing"
	Indexed  ArchiveState = "Indexed"
	Written  ArchiveState = "Written"
	Failed   ArchiveState = "Failed"
)

// ArchiveView describes the progress of one archive through the pipeline.
type ArchiveView struct {
	Bucket  string
	Key     string
	State   ArchiveState
	Blocks  int
	Records int
	Elapsed time.Duration
	Err     error
}
