package exerciseservice

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// URLParams are the grader protocol query parameters.
type URLParams struct {
	ServiceURL    string
	SubmissionURL string
	PostURL       string
	MaxPoints     int
	UserIDs       []uint
	Ordinal       int
	Language      string
}

// BuildServiceURL composes the exercise service URL with the grader protocol query string.
func (c *Client) BuildServiceURL(params URLParams) (string, error) {
	base, err := url.Parse(strings.TrimSpace(params.ServiceURL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("invalid service url %q", params.ServiceURL)
	}

	submissionURL := params.SubmissionURL
	if c.overrideHost != "" && submissionURL != "" {
		submissionURL, err = OverrideHost(submissionURL, c.overrideHost)
		if err != nil {
			return "", err
		}
	}

	uids := make([]string, 0, len(params.UserIDs))
	for _, id := range params.UserIDs {
		uids = append(uids, strconv.FormatUint(uint64(id), 10))
	}

	query := base.Query()
	query.Set("submission_url", submissionURL)
	query.Set("post_url", params.PostURL)
	query.Set("max_points", strconv.Itoa(params.MaxPoints))
	query.Set("uid", strings.Join(uids, "-"))
	query.Set("ordinal_number", strconv.Itoa(params.Ordinal))
	query.Set("lang", params.Language)
	base.RawQuery = query.Encode()

	return base.String(), nil
}

// OverrideHost replaces scheme and host of rawURL with host, keeping path, query and fragment.
func OverrideHost(rawURL, host string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid submission url %q: %w", rawURL, err)
	}

	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}

	var b strings.Builder
	b.WriteString(strings.TrimRight(host, "/"))
	b.WriteString(path)
	if parsed.RawQuery != "" {
		b.WriteString("?")
		b.WriteString(parsed.RawQuery)
	}
	if parsed.Fragment != "" {
		b.WriteString("#")
		b.WriteString(parsed.EscapedFragment())
	}
	return b.String(), nil
}
