// Copyright 2026 Howard Hughes Medical Institute.
// Licensed under the AGPLv3, see LICENCE file for details.

package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// lsfBackend drives IBM Spectrum LSF through bjobs, bsub, bmod and bkill.
type lsfBackend struct{}

func (lsfBackend) Name() string {
	return LSF
}

func (lsfBackend) JobIDEnvVar() string {
	return "LSB_JOBID"
}

func (lsfBackend) UnsetMarkers() []string {
	return []string{"-"}
}

func (lsfBackend) ListCommand(jobName string) []string {
	return []string{
		"bjobs", "-noheader",
		"-J", jobName,
		"-o", fmt.Sprintf("exec_host description delimiter=%q", FieldDelimiter),
	}
}

func (lsfBackend) NoJobs(output string) bool {
	return strings.Contains(output, "is not found") ||
		strings.Contains(output, "No unfinished job found")
}

func (lsfBackend) SubmitCommand(p SubmitParams) []string {
	argv := []string{"bsub", "-n", fmt.Sprint(p.Slots)}
	if p.Project != "" {
		argv = append(argv, "-P", p.Project)
	}
	argv = append(argv, "-J", p.JobName)
	if p.Queue != "" {
		argv = append(argv, "-q", p.Queue)
	}
	argv = append(argv, "-W", lsfWallTime(p.WallTime))
	return append(argv, p.Command...)
}

func (lsfBackend) SetDescriptionCommand(jobID, description string) []string {
	return []string{"bmod", "-Jd", description, jobID}
}

func (lsfBackend) KillCommand(jobName string) []string {
	return []string{"bkill", "-J", jobName}
}

func (lsfBackend) NothingToKill(output string) bool {
	return strings.Contains(output, "No matching job found") ||
		strings.Contains(output, "No unfinished job found")
}

// lsfWallTime formats d as the [hours:]minutes run limit taken by bsub -W,
// rounding up to the next minute.
func lsfWallTime(d time.Duration) string {
	minutes := int((d + time.Minute - 1) / time.Minute)
	return fmt.Sprintf("%d:%02d", minutes/60, minutes%60)
}
