package model

import "fmt"

const (
	KindVideo    = "video"
	KindChannel  = "channel"
	KindPlaylist = "playlist"
	KindUser     = "user"
)

const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
	JobCancelled  = "cancelled"
)

const (
	VideoPending  = "pending"
	VideoFetching = "fetching"
	VideoDone     = "done"
	VideoFailed   = "failed"
)

// Job statuses move forward only. The single backward edge, processing ->
// pending, exists for the reaper requeueing jobs whose worker died mid-run.
var allowedJobTransitions = map[string]map[string]bool{
	JobPending: {
		JobProcessing: true,
		JobCancelled:  true,
	},
	JobProcessing: {
		JobCompleted: true,
		JobFailed:    true,
		JobCancelled: true,
		JobPending:   true, // reaper requeue of a stuck job
	},
	JobCompleted: {},
	JobFailed:    {},
	JobCancelled: {},
}

// Video statuses move forward only. failed -> pending is the explicit
// operator retry; fetching -> pending is the recovery reset applied when a
// stuck job is reaped.
var allowedVideoTransitions = map[string]map[string]bool{
	VideoPending: {
		VideoFetching: true,
	},
	VideoFetching: {
		VideoDone:    true,
		VideoFailed:  true,
		VideoPending: true,
	},
	VideoFailed: {
		VideoPending: true,
	},
	VideoDone: {},
}

func IsKnownJobStatus(status string) bool {
	_, ok := allowedJobTransitions[status]
	return ok
}

func IsKnownVideoStatus(status string) bool {
	_, ok := allowedVideoTransitions[status]
	return ok
}

func IsKnownURLKind(kind string) bool {
	switch kind {
	case KindVideo, KindChannel, KindPlaylist, KindUser:
		return true
	default:
		return false
	}
}

func JobStatusTerminal(status string) bool {
	switch status {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

func VideoStatusTerminal(status string) bool {
	return status == VideoDone
}

func CanTransitionJob(from, to string) bool {
	next, ok := allowedJobTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

func CanTransitionVideo(from, to string) bool {
	next, ok := allowedVideoTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// InvalidTransitionError signals a status write that the state machine
// forbids. It usually means another worker changed the row first; callers
// abort the operation and never retry it.
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s status transition: %q -> %q (id=%s)", e.Entity, e.From, e.To, e.ID)
}

func TransitionJob(job *ScrapingJob, toStatus string) error {
	if !CanTransitionJob(job.Status, toStatus) {
		return &InvalidTransitionError{Entity: "job", ID: job.ID, From: job.Status, To: toStatus}
	}
	job.Status = toStatus
	return nil
}

func TransitionVideo(video *Video, toStatus string) error {
	if !CanTransitionVideo(video.Status, toStatus) {
		return &InvalidTransitionError{Entity: "video", ID: video.ID, From: video.Status, To: toStatus}
	}
	video.Status = toStatus
	return nil
}
