package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a RenderJob
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusGenerating JobStatus = "generating"
	StatusDownloaded JobStatus = "downloaded"
)

// ErrInvalidTransition is returned when a job is moved out of lifecycle order
var ErrInvalidTransition = errors.New("invalid job status transition")

// RenderJob represents one image queued for remote rendering.
//
// SlotPosition is the 1-based index of the job in the remote feed while it
// is generating. Zero means the job holds no slot.
type RenderJob struct {
	ID               string    `json:"id"`
	Number           int       `json:"number"`
	SourceImage      string    `json:"source_image"`
	OutputPath       string    `json:"output_path"`
	PromptRaw        string    `json:"prompt_raw"`
	PromptNormalized string    `json:"prompt_normalized"`
	Status           JobStatus `json:"status"`
	SlotPosition     int       `json:"slot_position,omitempty"`
	QueuedAt         time.Time `json:"queued_at,omitempty"`
}

// NewRenderJob creates a pending job, or a downloaded one when its output
// already exists.
func NewRenderJob(number int, image, output, promptRaw, promptNormalized string, alreadyDownloaded bool) *RenderJob {
	status := StatusPending
	if alreadyDownloaded {
		status = StatusDownloaded
	}
	return &RenderJob{
		ID:               uuid.NewString(),
		Number:           number,
		SourceImage:      image,
		OutputPath:       output,
		PromptRaw:        promptRaw,
		PromptNormalized: promptNormalized,
		Status:           status,
	}
}

// HasSlot reports whether the job currently maps to a remote slot
func (j *RenderJob) HasSlot() bool {
	return j.SlotPosition > 0
}

// MarkGenerating moves a pending job to generating
func (j *RenderJob) MarkGenerating(now time.Time) error {
	if j.Status != StatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, StatusGenerating)
	}
	j.Status = StatusGenerating
	j.QueuedAt = now
	return nil
}

// MarkDownloaded moves a generating job to its terminal state and releases its slot
func (j *RenderJob) MarkDownloaded() error {
	if j.Status != StatusGenerating {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, StatusDownloaded)
	}
	j.Status = StatusDownloaded
	j.SlotPosition = 0
	return nil
}

// FolderBatch is the ordered job list built from one input folder.
// Membership is fixed once built; jobs mutate in place.
type FolderBatch struct {
	Name string       `json:"name"`
	Dir  string       `json:"dir"`
	Jobs []*RenderJob `json:"jobs"`
}

// Total returns the number of jobs in the batch
func (b *FolderBatch) Total() int {
	return len(b.Jobs)
}

// Downloaded returns the number of jobs in the terminal state
func (b *FolderBatch) Downloaded() int {
	count := 0
	for _, job := range b.Jobs {
		if job.Status == StatusDownloaded {
			count++
		}
	}
	return count
}

// Remaining returns the number of jobs that still need a download
func (b *FolderBatch) Remaining() int {
	return b.Total() - b.Downloaded()
}

// Complete reports whether every job has been downloaded
func (b *FolderBatch) Complete() bool {
	return b.Remaining() == 0
}

// Pending returns the pending jobs in batch order
func (b *FolderBatch) Pending() []*RenderJob {
	return b.filter(StatusPending)
}

// Generating returns the generating jobs in batch order
func (b *FolderBatch) Generating() []*RenderJob {
	return b.filter(StatusGenerating)
}

// JobAt returns the generating job mapped to the given slot, if any
func (b *FolderBatch) JobAt(position int) *RenderJob {
	if position <= 0 {
		return nil
	}
	for _, job := range b.Jobs {
		if job.Status == StatusGenerating && job.SlotPosition == position {
			return job
		}
	}
	return nil
}

// Submit records that job was just sent to the remote service.
//
// The remote feed is newest-first: the new job takes slot 1 and every other
// generating job moves one slot further back.
func (b *FolderBatch) Submit(job *RenderJob, now time.Time) error {
	if err := job.MarkGenerating(now); err != nil {
		return err
	}
	for _, other := range b.Jobs {
		if other != job && other.Status == StatusGenerating && other.HasSlot() {
			other.SlotPosition++
		}
	}
	job.SlotPosition = 1
	return nil
}

func (b *FolderBatch) filter(status JobStatus) []*RenderJob {
	var jobs []*RenderJob
	for _, job := range b.Jobs {
		if job.Status == status {
			jobs = append(jobs, job)
		}
	}
	return jobs
}
