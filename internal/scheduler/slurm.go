// Copyright 2026 Howard Hughes Medical Institute.
// Licensed under the AGPLv3, see LICENCE file for details.

package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
)

// slurmBackend drives Slurm through squeue, sbatch, scontrol and scancel.
// The job comment plays the part of the LSF job description.
type slurmBackend struct {
	user string
}

func (slurmBackend) Name() string {
	return Slurm
}

func (slurmBackend) JobIDEnvVar() string {
	return "SLURM_JOB_ID"
}

func (slurmBackend) UnsetMarkers() []string {
	return []string{"(null)", "n/a", "N/A"}
}

func (b slurmBackend) ListCommand(jobName string) []string {
	return []string{
		"squeue", "--noheader",
		"--user", b.user,
		"--name", jobName,
		"--format", "%B" + FieldDelimiter + "%k",
	}
}

func (slurmBackend) NoJobs(string) bool {
	return false
}

func (slurmBackend) SubmitCommand(p SubmitParams) []string {
	argv := []string{
		"sbatch",
		"--job-name", p.JobName,
		"--ntasks", fmt.Sprint(p.Slots),
	}
	if p.Project != "" {
		argv = append(argv, "--account", p.Project)
	}
	if p.Queue != "" {
		argv = append(argv, "--partition", p.Queue)
	}
	return append(argv,
		"--time", slurmWallTime(p.WallTime),
		"--wrap", wrapCommand(p.Command),
	)
}

func (slurmBackend) SetDescriptionCommand(jobID, description string) []string {
	return []string{"scontrol", "update", "JobId=" + jobID, "Comment=" + description}
}

func (b slurmBackend) KillCommand(jobName string) []string {
	return []string{"scancel", "--user", b.user, "--name", jobName}
}

func (slurmBackend) NothingToKill(output string) bool {
	return strings.Contains(output, "Invalid job id specified")
}

// slurmWallTime formats d as hours:minutes:seconds, rounding up to the
// next minute.
func slurmWallTime(d time.Duration) string {
	minutes := int((d + time.Minute - 1) / time.Minute)
	return fmt.Sprintf("%d:%02d:00", minutes/60, minutes%60)
}

// wrapCommand builds the script line for sbatch --wrap. The executable is
// kept verbatim, see SubmitParams.Command.
func wrapCommand(command []string) string {
	if len(command) == 1 {
		return command[0]
	}
	return command[0] + " " + shellquote.Join(command[1:]...)
}
