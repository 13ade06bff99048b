// Package update checks GitHub for a newer hrm release.
package update

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"hrm/internal/logging"
)

// DefaultURL is the latest-release endpoint of the hrm repository.
const DefaultURL = "https://api.github.com/repos/wontaeyang/hrm/releases/latest"

// DefaultTimeout bounds a single check.
const DefaultTimeout = 10 * time.Second

// ErrNoRelease is returned when the response has no usable tag.
var ErrNoRelease = errors.New("update: no release tag")

// Checker fetches the latest release and compares it to the running version.
type Checker struct {
	URL     string
	Current string
	Client  *http.Client
	Logger  *logging.Logger
}

// NewChecker creates a checker against the default endpoint.
func NewChecker(current string) *Checker {
	return &Checker{
		URL:     DefaultURL,
		Current: current,
		Client:  &http.Client{Timeout: DefaultTimeout},
		Logger:  logging.Default().WithComponent("update"),
	}
}

type release struct {
	TagName string `json:"tag_name"`
}

// Latest returns the newest published version without a leading "v".
func (c *Checker) Latest(ctx context.Context) (string, error) {
	url := c.URL
	if url == "" {
		url = DefaultURL
	}
	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch latest release: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch latest release: %s returned %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return "", fmt.Errorf("read release: %w", err)
	}

	var rel release
	if err := json.Unmarshal(body, &rel); err != nil {
		return "", fmt.Errorf("decode release: %w", err)
	}
	tag := trimVersion(rel.TagName)
	if tag == "" {
		return "", ErrNoRelease
	}
	return tag, nil
}

// Check returns the newer version if one exists, or "" when the running
// version is current or the check failed. Failures are only logged.
func (c *Checker) Check(ctx context.Context) string {
	latest, err := c.Latest(ctx)
	if err != nil {
		if c.Logger != nil {
			c.Logger.Debug("update check failed", "error", err)
		}
		return ""
	}
	if CompareVersions(latest, c.Current) > 0 {
		if c.Logger != nil {
			c.Logger.Info("update available", "current", trimVersion(c.Current), "latest", latest)
		}
		return latest
	}
	return ""
}

// CompareVersions compares dotted numeric versions, ignoring a leading "v".
// Missing parts count as zero and non-numeric parts as zero. The result is
// -1, 0 or 1.
func CompareVersions(a, b string) int {
	pa := versionParts(a)
	pb := versionParts(b)
	n := len(pa)
	if len(pb) > n {
		n = len(pb)
	}
	for i := 0; i < n; i++ {
		var x, y int
		if i < len(pa) {
			x = pa[i]
		}
		if i < len(pb) {
			y = pb[i]
		}
		switch {
		case x > y:
			return 1
		case x < y:
			return -1
		}
	}
	return 0
}

func trimVersion(v string) string {
	return strings.TrimLeft(strings.TrimSpace(v), "vV")
}

func versionParts(v string) []int {
	v = trimVersion(v)
	if v == "" {
		return nil
	}
	fields := strings.Split(v, ".")
	parts := make([]int, len(fields))
	for i, f := range fields {
		parts[i], _ = strconv.Atoi(f)
	}
	return parts
}
