// Package publish confirms that a released version is visible on the JSR
// registry.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/lyndonlyu/releasekit/internal/retry"
)

const DefaultRegistryURL = "https://jsr.io"

var ErrBadPackage = errors.New("publish: package must look like @scope/name")

// Result reports one verification.
type Result struct {
	Success  bool
	Package  string
	Version  string
	URL      string
	Attempts int
	Elapsed  time.Duration
	Error    string
}

// Coordinate renders "@scope/name@version".
func (r Result) Coordinate() string { return r.Package + "@" + r.Version }

type Options struct {
	RegistryURL  string
	MaxAttempts  int
	PollInterval time.Duration
	Timeout      time.Duration
	HTTPClient   *http.Client
	Logger       *log.Logger
}

// Verifier polls the registry's package metadata until the version appears.
type Verifier struct {
	opts Options
}

func NewVerifier(opts Options) *Verifier {
	if opts.RegistryURL == "" {
		opts.RegistryURL = DefaultRegistryURL
	}
	opts.RegistryURL = strings.TrimRight(opts.RegistryURL, "/")
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	return &Verifier{opts: opts}
}

type meta struct {
	Versions map[string]json.RawMessage `json:"versions"`
}

// Verify polls until pkg@version is listed, the attempts are used up, or the
// timeout expires.
func (v *Verifier) Verify(ctx context.Context, pkg, version string) Result {
	res := Result{Package: pkg, Version: version}
	if !validPackage(pkg) {
		res.Error = fmt.Sprintf("%s: %v", res.Coordinate(), ErrBadPackage)
		return res
	}
	res.URL = fmt.Sprintf("%s/%s@%s", v.opts.RegistryURL, pkg, version)

	poll := retry.Poll(ctx, retry.PollOptions{
		Interval:    v.opts.PollInterval,
		Timeout:     v.opts.Timeout,
		MaxAttempts: v.opts.MaxAttempts,
	}, func(ctx context.Context, attempt int) (bool, error) {
		found, err := v.listed(ctx, pkg, version)
		v.opts.Logger.Debug("registry poll", "package", pkg, "version", version, "attempt", attempt, "found", found, "err", err)
		return found, err
	})

	res.Attempts = poll.Attempts
	res.Elapsed = poll.Elapsed
	res.Success = poll.Done
	if !poll.Done {
		msg := fmt.Sprintf("%s not found on %s after %d attempts: %v", res.Coordinate(), v.opts.RegistryURL, poll.Attempts, poll.Err)
		if poll.LastErr != nil {
			msg += fmt.Sprintf(" (last error: %v)", poll.LastErr)
		}
		res.Error = msg
	}
	return res
}

func (v *Verifier) listed(ctx context.Context, pkg, version string) (bool, error) {
	url := fmt.Sprintf("%s/%s/meta.json", v.opts.RegistryURL, pkg)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := v.opts.HTTPClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("registry status %d", resp.StatusCode)
	}
	var m meta
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return false, fmt.Errorf("parse meta.json: %w", err)
	}
	_, ok := m.Versions[version]
	return ok, nil
}

func validPackage(pkg string) bool {
	scope, name, ok := strings.Cut(strings.TrimPrefix(pkg, "@"), "/")
	return ok && strings.HasPrefix(pkg, "@") && scope != "" && name != "" && !strings.Contains(name, "/")
}
