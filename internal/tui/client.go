package tui

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Marksio90/narraforge/internal/models"
)

// Client is the monitor's JSON client for the daemon API.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the given API address.
func NewClient(base string) *Client {
	return &Client{
		base: base,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// ListJobs fetches all jobs.
func (c *Client) ListJobs() ([]models.Job, error) {
	resp, err := c.http.Get(c.base + "/jobs")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("list jobs: %s: %s", resp.Status, data)
	}
	var jobs []models.Job
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// CancelJob requests cancellation of a job.
func (c *Client) CancelJob(jobID string) error {
	resp, err := c.http.Post(c.base+"/jobs/"+jobID+"/cancel", "application/json", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// ResumeJob requeues a failed job.
func (c *Client) ResumeJob(jobID string) error {
	resp, err := c.http.Post(c.base+"/jobs/"+jobID+"/resume", "application/json", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
