package githubapi

import (
	"context"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"
)

const perPage = 100

type PRInfo struct {
	Number       int
	Title        string
	Description  string
	State        string
	Merged       bool
	Mergeable    *bool
	HTMLURL      string
	HeadBranch   string
	BaseBranch   string
	HeadSHA      string
	ForkURL      string
	Author       string
	BaseOwner    string
	BaseRepo     string
	HeadRepoID   int64
	BaseRepoID   int64
	Additions    int
	Deletions    int
	ChangedFiles int
	CreatedAt    time.Time
	UpdatedAt    time.Time
	MergedAt     *time.Time
	ClosedAt     *time.Time
}

func (p PRInfo) IsOpen() bool {
	return p.State == "open"
}

func (p PRInfo) Targets(owner, repo string) bool {
	return strings.EqualFold(p.BaseOwner, owner) && strings.EqualFold(p.BaseRepo, repo)
}

func (p PRInfo) FromFork() bool {
	return p.HeadRepoID != p.BaseRepoID
}

type FileChange struct {
	Filename  string
	Status    string
	Additions int
	Deletions int
	Changes   int
	Patch     string
}

type PRDiff struct {
	Additions    int
	Deletions    int
	ChangedFiles int
	Files        []FileChange
}

func (v *Verifier) VerifyPR(ctx context.Context, prURL string) (PRInfo, error) {
	ref, err := ParsePRURL(prURL)
	if err != nil {
		return PRInfo{}, err
	}
	pr, err := v.getPullRequest(ctx, ref)
	if err != nil {
		return PRInfo{}, err
	}
	return toPRInfo(pr), nil
}

func (v *Verifier) getPullRequest(ctx context.Context, ref PRRef) (*github.PullRequest, error) {
	var pr *github.PullRequest
	err := v.call(ctx, "get pull request", func(ctx context.Context) (*github.Response, error) {
		var (
			resp *github.Response
			err  error
		)
		pr, resp, err = v.client.PullRequests.Get(ctx, ref.Owner, ref.Repo, ref.Number)
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	return pr, nil
}

// CheckCIStatus aggregates every check run of the pull request head commit.
func (v *Verifier) CheckCIStatus(ctx context.Context, prURL string) (CIStatus, error) {
	ref, err := ParsePRURL(prURL)
	if err != nil {
		return CIStatus{}, err
	}
	pr, err := v.getPullRequest(ctx, ref)
	if err != nil {
		return CIStatus{}, err
	}
	sha := pr.GetHead().GetSHA()

	var runs []CheckRun
	opts := &github.ListCheckRunsOptions{ListOptions: github.ListOptions{PerPage: perPage}}
	for {
		var (
			page *github.ListCheckRunsResults
			next int
		)
		err := v.call(ctx, "list check runs", func(ctx context.Context) (*github.Response, error) {
			result, resp, err := v.client.Checks.ListCheckRunsForRef(ctx, ref.Owner, ref.Repo, sha, opts)
			if err != nil {
				return resp, err
			}
			page = result
			next = resp.NextPage
			return resp, nil
		})
		if err != nil {
			return CIStatus{}, err
		}

		for _, run := range page.CheckRuns {
			runs = append(runs, CheckRun{
				Name:       run.GetName(),
				Status:     run.GetStatus(),
				Conclusion: run.GetConclusion(),
				DetailsURL: run.GetDetailsURL(),
			})
		}

		if next == 0 {
			break
		}
		opts.Page = next
	}

	return CIStatus{
		Conclusion: AggregateConclusion(runs),
		HeadSHA:    sha,
		Runs:       runs,
	}, nil
}

func (v *Verifier) GetPRDiff(ctx context.Context, prURL string) (PRDiff, error) {
	ref, err := ParsePRURL(prURL)
	if err != nil {
		return PRDiff{}, err
	}

	var diff PRDiff
	opts := &github.ListOptions{PerPage: perPage}
	for {
		var (
			files []*github.CommitFile
			next  int
		)
		err := v.call(ctx, "list pull request files", func(ctx context.Context) (*github.Response, error) {
			result, resp, err := v.client.PullRequests.ListFiles(ctx, ref.Owner, ref.Repo, ref.Number, opts)
			if err != nil {
				return resp, err
			}
			files = result
			next = resp.NextPage
			return resp, nil
		})
		if err != nil {
			return PRDiff{}, err
		}

		for _, f := range files {
			diff.Files = append(diff.Files, FileChange{
				Filename:  f.GetFilename(),
				Status:    f.GetStatus(),
				Additions: f.GetAdditions(),
				Deletions: f.GetDeletions(),
				Changes:   f.GetChanges(),
				Patch:     f.GetPatch(),
			})
			diff.Additions += f.GetAdditions()
			diff.Deletions += f.GetDeletions()
		}

		if next == 0 {
			break
		}
		opts.Page = next
	}
	diff.ChangedFiles = len(diff.Files)

	return diff, nil
}

func (v *Verifier) AddPRComment(ctx context.Context, prURL, message string) error {
	ref, err := ParsePRURL(prURL)
	if err != nil {
		return err
	}

	return v.call(ctx, "create comment", func(ctx context.Context) (*github.Response, error) {
		_, resp, err := v.client.Issues.CreateComment(ctx, ref.Owner, ref.Repo, ref.Number, &github.IssueComment{
			Body: github.String(message),
		})
		return resp, err
	})
}

// VerifyPRTarget reports whether the pull request is opened against owner/repo, ignoring case.
func (v *Verifier) VerifyPRTarget(ctx context.Context, prURL, owner, repo string) (bool, error) {
	info, err := v.VerifyPR(ctx, prURL)
	if err != nil {
		return false, err
	}
	return info.Targets(owner, repo), nil
}

func (v *Verifier) IsPRFromFork(ctx context.Context, prURL string) (bool, error) {
	info, err := v.VerifyPR(ctx, prURL)
	if err != nil {
		return false, err
	}
	return info.FromFork(), nil
}

func (v *Verifier) AuthenticatedUser(ctx context.Context) (string, error) {
	var login string
	err := v.call(ctx, "get authenticated user", func(ctx context.Context) (*github.Response, error) {
		user, resp, err := v.client.Users.Get(ctx, "")
		if err != nil {
			return resp, err
		}
		login = user.GetLogin()
		return resp, nil
	})
	return login, err
}

func toPRInfo(pr *github.PullRequest) PRInfo {
	head := pr.GetHead()
	base := pr.GetBase()

	info := PRInfo{
		Number:       pr.GetNumber(),
		Title:        pr.GetTitle(),
		Description:  pr.GetBody(),
		State:        pr.GetState(),
		Merged:       pr.GetMerged(),
		Mergeable:    pr.Mergeable,
		HTMLURL:      pr.GetHTMLURL(),
		HeadBranch:   head.GetRef(),
		BaseBranch:   base.GetRef(),
		HeadSHA:      head.GetSHA(),
		ForkURL:      head.GetRepo().GetHTMLURL(),
		Author:       pr.GetUser().GetLogin(),
		BaseOwner:    base.GetRepo().GetOwner().GetLogin(),
		BaseRepo:     base.GetRepo().GetName(),
		HeadRepoID:   head.GetRepo().GetID(),
		BaseRepoID:   base.GetRepo().GetID(),
		Additions:    pr.GetAdditions(),
		Deletions:    pr.GetDeletions(),
		ChangedFiles: pr.GetChangedFiles(),
		CreatedAt:    pr.GetCreatedAt().Time,
		UpdatedAt:    pr.GetUpdatedAt().Time,
	}
	if pr.MergedAt != nil {
		t := pr.MergedAt.Time
		info.MergedAt = &t
	}
	if pr.ClosedAt != nil {
		t := pr.ClosedAt.Time
		info.ClosedAt = &t
	}

	return info
}
