package main

import (
	"fmt"
	"strings"

	"github.com/Marksio90/narraforge/internal/models"
	"github.com/spf13/cobra"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Manage production jobs",
}

var (
	jobKind        string
	jobGenre       string
	jobInspiration string
	jobLength      int
	jobScope       string
	jobListStatus  string
)

var jobSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a production brief",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(apiAddr)
		brief := models.Brief{
			Kind:         jobKind,
			Genre:        jobGenre,
			Inspiration:  jobInspiration,
			TargetLength: jobLength,
			ScopeID:      jobScope,
		}
		var job models.Job
		if err := client.post("/jobs", brief, &job); err != nil {
			return err
		}
		fmt.Printf("Submitted job %s (%s)\n", job.ID, job.Status)
		return nil
	},
}

var jobStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show job status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(apiAddr)
		var job models.Job
		if err := client.get("/jobs/"+args[0], &job); err != nil {
			return err
		}
		printJob(&job)
		return nil
	},
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(apiAddr)
		path := "/jobs"
		if jobListStatus != "" {
			path += "?status=" + jobListStatus
		}
		var jobs []models.Job
		if err := client.get(path, &jobs); err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("No jobs")
			return nil
		}
		for _, j := range jobs {
			fmt.Printf("%s  %-10s %2d/10 stages  $%.4f  %s/%s\n",
				j.ID, j.Status, len(j.CompletedStages), j.CostUSD, j.Brief.Kind, j.Brief.Genre)
		}
		return nil
	},
}

var jobCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(apiAddr)
		var job models.Job
		if err := client.post("/jobs/"+args[0]+"/cancel", nil, &job); err != nil {
			return err
		}
		fmt.Printf("Job %s is %s\n", job.ID, job.Status)
		return nil
	},
}

var jobResumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Resume a failed job from its last checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(apiAddr)
		var job models.Job
		if err := client.post("/jobs/"+args[0]+"/resume", nil, &job); err != nil {
			return err
		}
		fmt.Printf("Job %s requeued (%d stages already checkpointed)\n", job.ID, len(job.CompletedStages))
		return nil
	},
}

var jobCheckpointsCmd = &cobra.Command{
	Use:   "checkpoints <job-id>",
	Short: "List a job's checkpoints in persistence order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(apiAddr)
		var cps []models.Checkpoint
		if err := client.get("/jobs/"+args[0]+"/checkpoints", &cps); err != nil {
			return err
		}
		if len(cps) == 0 {
			fmt.Println("No checkpoints")
			return nil
		}
		for i, cp := range cps {
			fmt.Printf("%2d. %-20s attempts=%d cost=$%.4f cumulative=$%.4f tokens=%d\n",
				i+1, cp.Stage, cp.Meta.Attempts, cp.Meta.CostUSD, cp.Meta.CumulativeCost, cp.Meta.CumulativeTokens)
		}
		return nil
	},
}

var jobPurgeCmd = &cobra.Command{
	Use:   "purge <job-id>",
	Short: "Delete a terminal job and its checkpoints (retention cleanup)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(apiAddr)
		if err := client.delete("/jobs/" + args[0]); err != nil {
			return err
		}
		fmt.Printf("Job %s purged\n", args[0])
		return nil
	},
}

func printJob(j *models.Job) {
	fmt.Printf("Job:        %s\n", j.ID)
	fmt.Printf("Status:     %s\n", j.Status)
	fmt.Printf("Brief:      %s / %s\n", j.Brief.Kind, j.Brief.Genre)
	fmt.Printf("Stages:     %d/10", len(j.CompletedStages))
	if len(j.CompletedStages) > 0 {
		fmt.Printf("  (%s)", strings.Join(j.CompletedStages, ", "))
	}
	fmt.Println()
	if j.CurrentStage != "" {
		fmt.Printf("Current:    %s\n", j.CurrentStage)
	}
	fmt.Printf("Spend:      $%.4f / %d tokens\n", j.CostUSD, j.TokensUsed)
	for _, w := range j.Warnings {
		fmt.Printf("Warning:    %s\n", w)
	}
	if j.LastError != "" {
		fmt.Printf("Error:      %s (resumable=%v)\n", j.LastError, j.Resumable)
	}
}

func init() {
	jobSubmitCmd.Flags().StringVar(&jobKind, "kind", "short", "Production kind (short, novella, serial)")
	jobSubmitCmd.Flags().StringVar(&jobGenre, "genre", "", "Genre")
	jobSubmitCmd.Flags().StringVar(&jobInspiration, "inspiration", "", "Free-text inspiration")
	jobSubmitCmd.Flags().IntVar(&jobLength, "length", 0, "Target length in words")
	jobSubmitCmd.Flags().StringVar(&jobScope, "scope", "", "Existing structural scope to continue")
	jobListCmd.Flags().StringVar(&jobListStatus, "status", "", "Filter by status")

	jobCmd.AddCommand(jobSubmitCmd)
	jobCmd.AddCommand(jobStatusCmd)
	jobCmd.AddCommand(jobListCmd)
	jobCmd.AddCommand(jobCancelCmd)
	jobCmd.AddCommand(jobResumeCmd)
	jobCmd.AddCommand(jobCheckpointsCmd)
	jobCmd.AddCommand(jobPurgeCmd)
}
