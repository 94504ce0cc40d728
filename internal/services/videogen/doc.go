// Package videogen submits dream video jobs to an external rendering service
// and polls them until the hosted video is ready.
//
// The service accepts POST {base}/jobs with the transcript and ordered
// segments and answers with a job id; GET {base}/jobs/{id} reports
// queued, processing, completed (with video_url) or failed (with error).
package videogen
