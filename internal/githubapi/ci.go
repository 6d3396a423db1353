package githubapi

import "strings"

type CIConclusion string

const (
	CIPending CIConclusion = "pending"
	CISuccess CIConclusion = "success"
	CIFailure CIConclusion = "failure"
	CINeutral CIConclusion = "neutral"
)

// CheckRun is a single check of the pull request head commit.
type CheckRun struct {
	Name       string
	Status     string
	Conclusion string
	DetailsURL string
}

func (r CheckRun) completed() bool {
	return r.Status == "completed"
}

type CIStatus struct {
	Conclusion CIConclusion
	HeadSHA    string
	Runs       []CheckRun
}

func (s CIStatus) Passed() bool {
	return s.Conclusion == CISuccess
}

// SuitePassed reports whether every completed run whose name contains keyword succeeded.
// With no matching run it falls back to the overall conclusion.
func (s CIStatus) SuitePassed(keyword string) bool {
	keyword = strings.ToLower(keyword)
	matched := false
	for _, run := range s.Runs {
		if !strings.Contains(strings.ToLower(run.Name), keyword) {
			continue
		}
		matched = true
		if !run.completed() || run.Conclusion != "success" {
			return false
		}
	}
	if !matched {
		return s.Passed()
	}
	return true
}

// AggregateConclusion folds check runs into one conclusion:
// pending if any run is not completed, success if all succeeded,
// failure if any failed, neutral otherwise. No runs at all is neutral.
func AggregateConclusion(runs []CheckRun) CIConclusion {
	if len(runs) == 0 {
		return CINeutral
	}

	for _, run := range runs {
		if !run.completed() {
			return CIPending
		}
	}

	allSuccess := true
	anyFailure := false
	for _, run := range runs {
		if run.Conclusion != "success" {
			allSuccess = false
		}
		if run.Conclusion == "failure" {
			anyFailure = true
		}
	}

	switch {
	case allSuccess:
		return CISuccess
	case anyFailure:
		return CIFailure
	default:
		return CINeutral
	}
}
