package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CampaignJob asks the worker to dispatch a running campaign
type CampaignJob struct {
	JobID       string    `json:"job_id"`
	CampaignID  int       `json:"campaign_id"`
	PublishedAt time.Time `json:"published_at"`
}

// NewCampaignJob creates a job with a fresh id
func NewCampaignJob(campaignID int) CampaignJob {
	return CampaignJob{
		JobID:       uuid.NewString(),
		CampaignID:  campaignID,
		PublishedAt: time.Now().UTC(),
	}
}

func encodeJob(job CampaignJob) ([]byte, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal campaign job: %w", err)
	}
	return body, nil
}

func decodeJob(body []byte) (*CampaignJob, error) {
	var job CampaignJob
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal campaign job: %w", err)
	}
	if job.CampaignID <= 0 {
		return nil, errors.New("campaign job has no campaign id")
	}
	return &job, nil
}
