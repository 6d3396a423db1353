package githubapi

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/vibedtocracked/contribution-review/internal/domain"
)

var prURLPattern = regexp.MustCompile(`^(?:https?://)?(?:www\.)?github\.com/([A-Za-z0-9_.-]+)/([A-Za-z0-9_.-]+)/pull/(\d+)/?$`)

// PRRef identifies a pull request on github.com.
type PRRef struct {
	Owner  string
	Repo   string
	Number int
}

func (r PRRef) String() string {
	return fmt.Sprintf("%s/%s#%d", r.Owner, r.Repo, r.Number)
}

func (r PRRef) URL() string {
	return fmt.Sprintf("https://github.com/%s/%s/pull/%d", r.Owner, r.Repo, r.Number)
}

// ParsePRURL extracts owner, repository and number from a pull request URL.
// The protocol is optional; any other shape fails with domain.ErrInvalidURLFormat.
func ParsePRURL(raw string) (PRRef, error) {
	m := prURLPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return PRRef{}, fmt.Errorf("%w: %q", domain.ErrInvalidURLFormat, raw)
	}

	number, err := strconv.Atoi(m[3])
	if err != nil || number <= 0 {
		return PRRef{}, fmt.Errorf("%w: %q", domain.ErrInvalidURLFormat, raw)
	}

	return PRRef{Owner: m[1], Repo: m[2], Number: number}, nil
}
