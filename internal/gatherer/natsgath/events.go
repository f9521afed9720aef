package natsgath

import (
	"github.com/fitchfork/grader/api"
	"github.com/fitchfork/grader/internal/faults"
)

// Feedback strings are clipped before publishing so a pathological diff
// cannot blow up the message bus.
const (
	maxFeedbackHeight = 20
	maxFeedbackWidth  = 200
)

func (s *natsGatherer) StartGrading(job *api.GradeJob) {
	s.send(startGradingMsg{
		JobID:        s.jobID,
		MsgType:      msgTypeStartGrading,
		SubmissionID: job.SubmissionID,
		TaskCount:    len(job.Tasks),
	})
}

func (s *natsGatherer) StartTask(taskNumber int, name string) {
	s.send(startTaskMsg{
		JobID:      s.jobID,
		MsgType:    msgTypeStartTask,
		TaskNumber: taskNumber,
		TaskName:   name,
	})
}

func (s *natsGatherer) FinishTask(taskNumber int, status string, report *api.TaskReport) {
	msg := finishTaskMsg{
		JobID:      s.jobID,
		MsgType:    msgTypeFinishTask,
		TaskNumber: taskNumber,
		Status:     status,
	}
	if report != nil {
		for _, sub := range report.Subsections {
			msg.Earned += sub.Earned
			msg.Possible += sub.Possible
			if sub.Feedback != "" {
				msg.Feedback = append(msg.Feedback,
					trimStrToRect(sub.Feedback, maxFeedbackHeight, maxFeedbackWidth))
			}
		}
		msg.Flags = report.ComplexityFlags
	}
	s.send(msg)
}

func (s *natsGatherer) FinishGrading(report *api.SubmissionReport, err error) {
	s.send(buildFinishGrading(s.jobID, report, err))
}

// buildFinishGrading renders the terminal event. Error carries the trimmed
// operator detail; Reason is the catalogued student-visible message.
func buildFinishGrading(jobID string, report *api.SubmissionReport, err error) finishGradingMsg {
	msg := finishGradingMsg{
		JobID:   jobID,
		MsgType: msgTypeFinishGrading,
	}
	if err != nil {
		errStr := trimStrToRect(err.Error(), maxFeedbackHeight, maxFeedbackWidth)
		msg.Error = &errStr
		msg.Reason = faults.StudentMessage(faults.KindOf(err))
	}
	if report != nil {
		earned, total := report.Mark.Earned, report.Mark.Total
		msg.Earned = &earned
		msg.Total = &total
	}
	return msg
}
