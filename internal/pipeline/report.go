package pipeline

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/jobs"
)

// Report summarizes one run.
type Report struct {
	RunID      string          `json:"run_id"`
	Target     string          `json:"target"`
	DryRun     bool            `json:"dry_run"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Accounts   []AccountReport `json:"accounts"`
}

// AccountReport is one account's outcome.
type AccountReport struct {
	AccountID    string         `json:"account_id"`
	Name         string         `json:"name,omitempty"`
	Service      string         `json:"service,omitempty"`
	Status       Status         `json:"status"`
	Stage        Stage          `json:"stage,omitempty"`
	ErrorKind    string         `json:"error_kind,omitempty"`
	Error        string         `json:"error,omitempty"`
	Fetched      int            `json:"fetched"`
	Issues       int            `json:"issues"`
	Categorized  int            `json:"categorized"`
	Appended     int            `json:"appended"`
	Existing     int            `json:"existing"`
	CursorBefore *domain.Cursor `json:"cursor_before"`
	CursorAfter  *domain.Cursor `json:"cursor_after"`
	Regressed    bool           `json:"regressed,omitempty"`
	FetchTime    time.Duration  `json:"fetch_time_ns"`
	FetchJob     jobs.Status    `json:"fetch_job,omitempty"`

	Err error `json:"-"`
}

func newAccountReport(st *AccountState) AccountReport {
	r := AccountReport{
		AccountID:    st.Account.AccountID,
		Name:         st.Account.Name,
		Service:      st.Account.Service,
		Status:       st.Status,
		Stage:        st.Stage,
		CursorBefore: st.Since,
		CursorAfter:  st.Cursor,
		Regressed:    st.Regressed,
		Categorized:  st.Categorized,
		FetchTime:    st.FetchTime,
		FetchJob:     st.FetchJob,
		Err:          st.Err,
	}
	if st.Status == StatusSkipped {
		r.Stage = ""
	}
	if st.Err != nil {
		r.Error = st.Err.Error()
		r.ErrorKind = domain.KindOf(st.Err)
		if isCancellation(st.Err) {
			r.ErrorKind = "Cancelled"
		}
	}
	if st.Result != nil {
		r.Fetched = len(st.Result.Transactions)
		r.Issues = len(st.Result.Issues)
	}
	if st.Write != nil {
		r.Appended = st.Write.Appended
		r.Existing = st.Write.Existing
	}
	return r
}

// Count returns how many accounts ended with status.
func (r *Report) Count(status Status) int {
	n := 0
	for _, a := range r.Accounts {
		if a.Status == status {
			n++
		}
	}
	return n
}

// Succeeded returns the number of accounts that completed.
func (r *Report) Succeeded() int { return r.Count(StatusDone) }

// Failed reports whether any account did not complete.
func (r *Report) Failed() bool {
	return r.Succeeded() != len(r.Accounts)
}

// Account returns the report entry for id, or nil.
func (r *Report) Account(id string) *AccountReport {
	for i := range r.Accounts {
		if r.Accounts[i].AccountID == id {
			return &r.Accounts[i]
		}
	}
	return nil
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	failedStyle = cellStyle.Foreground(lipgloss.Color("9"))
)

// Render writes the report as a table followed by a totals line.
func (r *Report) Render(w io.Writer) error {
	mode := "sync"
	if r.DryRun {
		mode = "dry run"
	}
	if _, err := fmt.Fprintf(w, "Run %s (%s to %s)\n", r.RunID, mode, r.Target); err != nil {
		return err
	}

	rows := make([][]string, 0, len(r.Accounts))
	for _, a := range r.Accounts {
		rows = append(rows, []string{
			a.AccountID,
			a.Service,
			string(a.Status),
			string(a.Stage),
			a.ErrorKind,
			strconv.Itoa(a.Fetched),
			strconv.Itoa(a.Appended),
			strconv.Itoa(a.Issues),
			a.FetchTime.Round(time.Millisecond).String(),
			cursorText(a.CursorAfter),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ACCOUNT", "SERVICE", "STATUS", "STAGE", "ERROR", "FETCHED", "APPENDED", "ISSUES", "FETCH", "CURSOR").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if row >= 0 && row < len(r.Accounts) && r.Accounts[row].Status != StatusDone {
				return failedStyle
			}
			return cellStyle
		})
	if _, err := fmt.Fprintln(w, t.String()); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "%d succeeded, %d failed, %d skipped in %s\n",
		r.Succeeded(), r.Count(StatusFailed), r.Count(StatusSkipped),
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	return err
}

func cursorText(c *domain.Cursor) string {
	if c == nil {
		return "-"
	}
	s := string(*c)
	if len(s) > 16 {
		return s[:13] + "..."
	}
	return s
}
