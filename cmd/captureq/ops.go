package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/briandowns/spinner"
	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/osvaldoandrade/captureq/internal/middleware"
	"github.com/osvaldoandrade/captureq/pkg/domain"
)

type opsClient struct {
	baseURL    string
	token      string
	secret     string
	httpClient *http.Client
}

type reconcileReport struct {
	Scanned     int  `json:"scanned"`
	Candidates  int  `json:"candidates"`
	Resubmitted int  `json:"resubmitted"`
	Aborted     bool `json:"aborted"`
}

func (c *opsClient) request(method, path string, admin bool) (int, []byte, error) {
	req, err := http.NewRequest(method, c.baseURL+path, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if admin {
		tok, err := c.adminBearer()
		if err != nil {
			return 0, nil, err
		}
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out, nil
}

// adminBearer prefers an explicit token and otherwise mints a short-lived one
// from the shared secret. Neither set means the server runs without admin auth.
func (c *opsClient) adminBearer() (string, error) {
	if c.token != "" {
		return c.token, nil
	}
	if c.secret == "" {
		return "", nil
	}
	return mintAdminToken(c.secret, time.Now())
}

func mintAdminToken(secret string, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub":   "captureq-cli",
		"scope": middleware.AdminScope,
		"iat":   now.Unix(),
		"exp":   now.Add(5 * time.Minute).Unix(),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", errors.Wrap(err, "sign admin token")
	}
	return tok, nil
}

func withSpinner[T any](suffix string, fn func() (T, error)) (T, error) {
	spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
	spin.Suffix = suffix
	spin.Start()
	defer spin.Stop()
	return fn()
}

type httpReply struct {
	status int
	body   []byte
}

func (c *opsClient) call(method, path string, admin bool, suffix string) (httpReply, error) {
	return withSpinner(suffix, func() (httpReply, error) {
		status, body, err := c.request(method, path, admin)
		return httpReply{status, body}, err
	})
}

func statusCmd(g *globals, ui *ui) *cobra.Command {
	return &cobra.Command{
		Use:     "status <uuid>",
		Short:   "Show where a capture is",
		Example: "captureq status 6f1c2a8e-3d3b-4c1e-9d2a-0b7f5e4c1a11",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newOpsClient(g)
			rep, err := c.call(http.MethodGet, "/v1/captureq/captures/"+url.PathEscape(args[0]), false, " Fetching status...")
			if err != nil {
				return err
			}
			if rep.status >= 300 && rep.status != http.StatusNotFound {
				return fmt.Errorf("error (%d): %s", rep.status, string(rep.body))
			}
			var st domain.CaptureStatus
			if err := json.Unmarshal(rep.body, &st); err != nil {
				fmt.Println(string(rep.body))
				return nil
			}
			fmt.Println(formatStatus(ui, st))
			return nil
		},
	}
}

func formatStatus(ui *ui, st domain.CaptureStatus) string {
	switch st.State {
	case domain.StateDone:
		return fmt.Sprintf("%s %s %s", ui.ok(string(st.State)), st.UUID, ui.dim(st.Directory))
	case domain.StateError:
		return fmt.Sprintf("%s %s %s", ui.err(string(st.State)), st.UUID, st.Error)
	case domain.StatePending, domain.StateOngoing:
		return fmt.Sprintf("%s %s", ui.info(string(st.State)), st.UUID)
	default:
		return fmt.Sprintf("%s %s", ui.warn(string(st.State)), st.UUID)
	}
}

func queuesCmd(g *globals, ui *ui) *cobra.Command {
	return &cobra.Command{
		Use:   "queues",
		Short: "Show pending and ongoing counts per producer bucket",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newOpsClient(g)
			rep, err := c.call(http.MethodGet, "/v1/captureq/admin/queues", true, " Inspecting queues...")
			if err != nil {
				return err
			}
			if rep.status >= 300 {
				return fmt.Errorf("error (%d): %s", rep.status, string(rep.body))
			}
			var stats domain.QueueStats
			if err := json.Unmarshal(rep.body, &stats); err != nil {
				fmt.Println(string(rep.body))
				return nil
			}
			fmt.Printf("%s: %d | %s: %d\n", ui.info("PENDING"), stats.Pending, ui.warn("ONGOING"), stats.Ongoing)
			names := make([]string, 0, len(stats.Buckets))
			for name := range stats.Buckets {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Printf("  %-24s %d\n", name, stats.Buckets[name])
			}
			return nil
		},
	}
}

func reconcileCmd(g *globals, ui *ui) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass on the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newOpsClient(g)
			rep, err := c.call(http.MethodPost, "/v1/captureq/admin/reconcile", true, " Reconciling...")
			if err != nil {
				return err
			}
			if rep.status >= 300 {
				return fmt.Errorf("error (%d): %s", rep.status, string(rep.body))
			}
			var out reconcileReport
			if err := json.Unmarshal(rep.body, &out); err != nil {
				fmt.Println(string(rep.body))
				return nil
			}
			tag := ui.ok("[OK]")
			if out.Aborted {
				tag = ui.warn("[WARN]")
			}
			fmt.Printf("%s scanned %d, lost %d, resubmitted %d\n", tag, out.Scanned, out.Candidates, out.Resubmitted)
			if out.Aborted {
				fmt.Println(ui.dim("  pass stopped early; remaining captures are retried on the next pass"))
			}
			return nil
		},
	}
}
