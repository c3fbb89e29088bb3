package lab

import "time"

// Messages reported in Result.ErrorMessage. Internal details never reach
// the caller; they are logged instead.
const (
	MsgLabNotFound   = "Lab not found"
	MsgTimedOut      = "Test execution timed out"
	MsgCancelled     = "Test execution was cancelled"
	MsgLaunchFailed  = "Test runner could not be started"
	MsgBundleFailed  = "Lab bundle could not be prepared"
	MsgInternalError = "An error occurred while running the lab"
)

// Result is the scored outcome of one lab attempt.
type Result struct {
	Success       bool          `json:"success"`
	Score         int           `json:"score"`
	Output        string        `json:"output"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	TestResults   string        `json:"test_results,omitempty"`
	TimedOut      bool          `json:"timed_out"`
	ExecutionTime time.Duration `json:"-"`
	SubmissionID  int64         `json:"submission_id,omitempty"`
}

func failure(msg string) Result {
	return Result{ErrorMessage: msg}
}
